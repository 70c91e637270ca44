package sup

import (
	"io"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	. "github.com/thediveo/fdooze"
)

// tableSupervisor builds a bare supervisor suitable for exercising the
// worker table without a listener or any real subprocesses.
func tableSupervisor() *Supervisor {
	return &Supervisor{
		mproc: 1024,
		pfds:  make([]unix.PollFd, 1, 3),
		out:   io.Discard,
		errw:  io.Discard,
	}
}

// fakeWorker installs a table entry whose poll slot is a real pipe read
// end, so removal has a descriptor to close.
func fakeWorker(s *Supervisor, pid int) (writeEnd int) {
	var fd [2]int
	Expect(unix.Pipe(fd[:])).To(Succeed())
	Expect(s.ensureCapacity()).To(Succeed())
	s.appendWorker(pid, fd[0], "")
	return fd[1]
}

func livePids(s *Supervisor) []int {
	pids := make([]int, 0, len(s.workers))
	for i := range s.workers {
		pids = append(pids, s.workers[i].pid)
	}
	sort.Ints(pids)
	return pids
}

var _ = Describe("the worker table", func() {

	BeforeEach(func() {
		goodfds := Filedescriptors()
		DeferCleanup(func() {
			Eventually(Filedescriptors).Within(2 * time.Second).ProbeEvery(100 * time.Millisecond).
				ShouldNot(HaveLeakedFds(goodfds))
		})
	})

	It("grows from one and doubles, keeping poll headroom", func() {
		s := tableSupervisor()
		writeEnds := []int{}
		DeferCleanup(func() {
			for len(s.workers) > 0 {
				s.removeWorker(0)
			}
			for _, w := range writeEnds {
				_ = unix.Close(w)
			}
		})

		for pid := 1; pid <= 9; pid++ {
			writeEnds = append(writeEnds, fakeWorker(s, pid))
			Expect(cap(s.pfds)).To(Equal(cap(s.workers)+2),
				"poll vector must keep the listener slot plus the wake spare")
			Expect(len(s.pfds)).To(Equal(len(s.workers) + 1))
		}
		Expect(cap(s.workers)).To(Equal(16))
	})

	It("keeps poll slots index-aligned with records", func() {
		s := tableSupervisor()
		w1 := fakeWorker(s, 101)
		w2 := fakeWorker(s, 102)
		DeferCleanup(func() {
			for len(s.workers) > 0 {
				s.removeWorker(0)
			}
			_ = unix.Close(w1)
			_ = unix.Close(w2)
		})

		Expect(s.pfds).To(HaveLen(3))
		for i := range s.workers {
			Expect(s.pfds[i+1].Events).To(Equal(int16(unix.POLLIN)))
		}
	})

	It("preserves the multiset of live workers across swap-with-last removal", func() {
		s := tableSupervisor()
		writeEnds := []int{}
		for pid := 1; pid <= 5; pid++ {
			writeEnds = append(writeEnds, fakeWorker(s, pid))
		}
		DeferCleanup(func() {
			for len(s.workers) > 0 {
				s.removeWorker(0)
			}
			for _, w := range writeEnds {
				_ = unix.Close(w)
			}
		})

		s.removeWorker(1) // pid 2 leaves, pid 5 takes its slot
		Expect(livePids(s)).To(Equal([]int{1, 3, 4, 5}))
		Expect(s.pfds).To(HaveLen(5))

		s.removeWorker(3) // the last one, no swap needed
		Expect(livePids(s)).To(Equal([]int{1, 3, 5}))
	})

	It("returns to a consistent empty state after growing and shrinking", func() {
		s := tableSupervisor()
		writeEnds := []int{}
		for pid := 1; pid <= 8; pid++ {
			writeEnds = append(writeEnds, fakeWorker(s, pid))
		}
		for len(s.workers) > 0 {
			s.removeWorker(0)
		}
		for _, w := range writeEnds {
			_ = unix.Close(w)
		}

		Expect(s.workers).To(BeEmpty())
		Expect(s.pfds).To(HaveLen(1))
	})

})
