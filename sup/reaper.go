package sup

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// reapSweep removes every terminated worker and reports how many. Removal
// swaps a different worker into the freed slot, so the index is re-examined
// before advancing.
func (s *Supervisor) reapSweep() (reaped int) {
	for p := 0; p < len(s.workers); {
		if s.tryRemoveWorker(p) {
			reaped++
		} else {
			p++
		}
	}
	return reaped
}

// tryRemoveWorker reaps worker p if it has terminated. Residual stderr that
// never saw its newline is flushed to supervisor stderr, the exit is
// reported on stdout with the raw wait status, and the record is removed.
func (s *Supervisor) tryRemoveWorker(p int) bool {
	w := &s.workers[p]
	var status unix.WaitStatus
	pid, err := unix.Wait4(w.pid, &status, unix.WNOHANG, nil)
	if err != nil || pid <= 0 {
		return false
	}
	if w.nebuf > 0 {
		fmt.Fprintf(s.errw, "%d: %s\n", w.pid, w.ebuf[:w.nebuf])
		w.nebuf = 0
	}
	fmt.Fprintf(s.out, "Process %d exited (%d)\n", pid, status)
	s.removeWorker(p)
	return true
}
