package sup

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/serveutil/serve/lib"
)

// worker is one spawned subprocess: its pid and the line buffer holding
// unterminated stderr bytes. The pipe read end lives in the poll slot
// aligned with the record, which is the only reference between the two
// vectors; swap-with-last removal depends on that.
type worker struct {
	pid   int
	ebuf  []byte // buffer storage; the first nebuf bytes are valid
	nebuf int
}

// ensureCapacity grows the worker and poll vectors in lockstep, doubling
// from one. The poll vector keeps two slots beyond the worker capacity: the
// listener at slot 0 and one spare so Resume can append the wake descriptor
// without reallocating.
func (s *Supervisor) ensureCapacity() error {
	if len(s.workers) < cap(s.workers) {
		return nil
	}
	ns := 1
	if c := cap(s.workers); c > 0 {
		ns = 2 * c
		if ns <= c {
			return unix.ENOMEM
		}
	}
	workers := make([]worker, len(s.workers), ns)
	copy(workers, s.workers)
	pfds := make([]unix.PollFd, len(s.pfds), ns+2)
	copy(pfds, s.pfds)
	s.workers, s.pfds = workers, pfds
	return nil
}

// addWorker spawns a worker for an accepted connection. On any failure the
// connection and both pipe ends are closed and the originating error is
// returned untouched. On success the parent keeps only the pipe read end:
// the connection and the write end live on in the child as fds 0, 1, 2.
func (s *Supervisor) addWorker(conn int, remote string) error {
	rp, wp, err := lib.NBPipe()
	if err != nil {
		unix.Close(conn)
		return fmt.Errorf("could not create stderr pipe: %w", err)
	}
	if err := s.ensureCapacity(); err != nil {
		unix.Close(rp)
		unix.Close(wp)
		unix.Close(conn)
		return err
	}
	sock := os.NewFile(uintptr(conn), "connection")
	stderr := os.NewFile(uintptr(wp), "worker stderr")
	pid, err := s.launcher.Spawn(sock, stderr, remote)
	sock.Close()
	stderr.Close()
	if err != nil {
		unix.Close(rp)
		return fmt.Errorf("could not start worker: %w", err)
	}
	s.appendWorker(pid, rp, remote)
	return nil
}

// appendWorker installs a record with an empty buffer and a poll slot for
// the pipe read end. The caller has already ensured capacity.
func (s *Supervisor) appendWorker(pid, pipeRead int, remote string) {
	s.workers = append(s.workers, worker{pid: pid})
	s.pfds = append(s.pfds, unix.PollFd{Fd: int32(pipeRead), Events: unix.POLLIN})
	fmt.Fprintf(s.out, "Process %d created (%s)\n", pid, remote)
}

// removeWorker closes the pipe read end and compacts both vectors with a
// swap-with-last. Order across workers carries no meaning.
func (s *Supervisor) removeWorker(p int) {
	n := len(s.workers)
	unix.Close(int(s.pfds[p+1].Fd))
	s.workers[p] = s.workers[n-1]
	s.pfds[p+1] = s.pfds[n]
	s.workers[n-1] = worker{}
	s.workers = s.workers[:n-1]
	s.pfds = s.pfds[:n]
}
