// Package sup implements the supervisor event loop: a single-threaded,
// readiness-driven multiplexer that accepts connections, spawns one worker
// per connection, relays line-framed worker stderr, and reaps exited
// workers, all without blocking on any single worker.
package sup

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/serveutil/serve/lib"
)

// Supervisor owns the worker table, the poll vector, and the wake pipe. All
// fields are mutated only between suspension points of Resume; there is no
// locking because there is no second thread touching them.
type Supervisor struct {
	listener *lib.Listener
	launcher *lib.Launcher
	mproc    int

	workers []worker
	// pfds[0] is the listener; pfds[p+1] is the stderr pipe read end of
	// workers[p]. The two vectors grow and shrink in lockstep.
	pfds []unix.PollFd

	// wake pipe: Shutdown writes a byte, Resume polls the read end in a
	// trailing slot so a blocked poll returns at the next signal.
	wakeR, wakeW int

	out  io.Writer // lifecycle messages and relayed worker lines
	errw io.Writer // residual flushes and per-worker diagnostics
}

// New builds a supervisor over a listening socket and a command launcher.
// maxWorkers bounds concurrent workers; zero, or anything above the
// open-file limit, is clamped to RLIMIT_NOFILE minus two so the listener
// and one stderr pipe per worker always fit.
func New(listener *lib.Listener, launcher *lib.Launcher, maxWorkers int) (*Supervisor, error) {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
		return nil, fmt.Errorf("could not read the open-file limit: %w", err)
	}
	limit := rl.Cur
	if limit > 1<<31 {
		limit = 1 << 31
	}
	mproc := int(limit) - 2
	if maxWorkers > 0 && maxWorkers < mproc {
		mproc = maxWorkers
	}

	var wake [2]int
	if err := unix.Pipe2(wake[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, fmt.Errorf("could not create wake pipe: %w", err)
	}

	s := &Supervisor{
		listener: listener,
		launcher: launcher,
		mproc:    mproc,
		pfds:     make([]unix.PollFd, 1, 3),
		wakeR:    wake[0],
		wakeW:    wake[1],
		out:      os.Stdout,
		errw:     os.Stderr,
	}
	s.pfds[0] = unix.PollFd{Fd: int32(listener.Fd()), Events: unix.POLLIN}
	return s, nil
}

// Resume runs one supervisor iteration: reap, poll, admit, forward. It
// reports whether any unit of progress happened (a connection accepted, a
// worker reaped, a line relayed); an idle iteration lets the driver yield
// the scheduler. An error is fatal to this iteration only.
func (s *Supervisor) Resume() (progressed bool, err error) {
	if s.reapSweep() > 0 {
		progressed = true
	}

	// Below the cap the whole vector is watched without a timeout. At the
	// cap the listener is skipped so the kernel's accept backlog throttles
	// clients, and the short timeout re-evaluates admission as workers
	// exit.
	nworkers := len(s.workers)
	admitting := nworkers < s.mproc
	polled := s.pfds[:nworkers+1]
	timeout := -1
	if !admitting {
		polled = s.pfds[1 : nworkers+1]
		timeout = 50
	}
	// The spare capacity slot kept by ensureCapacity guarantees this
	// append stays in the backing array, so revents land where passIO
	// reads them.
	polled = append(polled, unix.PollFd{Fd: int32(s.wakeR), Events: unix.POLLIN})
	if _, err := unix.Poll(polled, timeout); err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("could not poll descriptors: %w", err)
	}
	if polled[len(polled)-1].Revents&unix.POLLIN != 0 {
		s.drainWake()
	}

	if admitting && s.pfds[0].Revents&unix.POLLIN != 0 {
		conn, remote, aerr := s.listener.AcceptRemote()
		if aerr != nil {
			if propagateAcceptFailure(aerr) {
				return false, fmt.Errorf("could not accept connection: %w", aerr)
			}
			// Transient accept failure: credit progress so the driver
			// does not sleep while the backlog may still hold clients.
			progressed = true
		} else {
			if werr := s.addWorker(conn, remote); werr != nil {
				return false, werr
			}
			progressed = true
		}
	}

	for p := 0; p < nworkers; p++ {
		if s.passIO(p) > 0 {
			progressed = true
		}
	}
	return progressed, nil
}

// propagateAcceptFailure classifies accept errnos: connection aborts,
// interrupts, and descriptor exhaustion are survivable, everything else
// fails the iteration.
func propagateAcceptFailure(err error) bool {
	return !errors.Is(err, unix.ECONNABORTED) &&
		!errors.Is(err, unix.EINTR) &&
		!errors.Is(err, unix.EMFILE)
}

// Shutdown wakes a Resume call blocked in poll. It is the only method safe
// to call from another goroutine.
func (s *Supervisor) Shutdown() {
	_, _ = unix.Write(s.wakeW, []byte{1})
}

func (s *Supervisor) drainWake() {
	var buf [16]byte
	for {
		n, err := unix.Read(s.wakeR, buf[:])
		if err != nil || n < len(buf) {
			return
		}
	}
}

// Close releases every descriptor the supervisor owns: one pipe read end
// per live worker plus the wake pipe. The listener belongs to the driver.
func (s *Supervisor) Close() {
	for p := range s.workers {
		unix.Close(int(s.pfds[p+1].Fd))
		s.workers[p] = worker{}
	}
	s.workers = s.workers[:0]
	s.pfds = s.pfds[:1]
	unix.Close(s.wakeR)
	unix.Close(s.wakeW)
}
