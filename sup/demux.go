package sup

import (
	"bytes"
	"fmt"

	"golang.org/x/sys/unix"
)

// maxEbuf bounds a worker's line buffer. A single stderr line longer than
// this fails that worker's forwarding for the iteration; the worker itself
// is left alone and reaped when it exits.
const maxEbuf = 65534

// readChunk is how much stderr is consumed per readable event.
const readChunk = 128

// passError drains one chunk from worker p's stderr pipe and emits every
// complete line as "<pid>: <line>" on supervisor stdout. Bytes after the
// last newline stay buffered across calls; the reaper flushes them at exit.
// Returns how many lines were emitted.
func (s *Supervisor) passError(p int) (lines int, err error) {
	w := &s.workers[p]
	if w.nebuf+readChunk > len(w.ebuf) {
		if w.nebuf > maxEbuf-readChunk {
			return 0, unix.ENOMEM
		}
		ebuf := make([]byte, w.nebuf+readChunk)
		copy(ebuf, w.ebuf[:w.nebuf])
		w.ebuf = ebuf
	}
	n, err := unix.Read(int(s.pfds[p+1].Fd), w.ebuf[w.nebuf:w.nebuf+readChunk])
	if err != nil {
		return 0, err
	}
	// n == 0 is EOF: whatever is buffered stays for the reaper.
	w.nebuf += n
	// The buffer never holds a newline outside the freshly read chunk, so
	// rescanning from the front after each shift stays linear.
	for {
		lf := bytes.IndexByte(w.ebuf[:w.nebuf], '\n')
		if lf < 0 {
			return lines, nil
		}
		fmt.Fprintf(s.out, "%d: %s\n", w.pid, w.ebuf[:lf])
		w.nebuf = copy(w.ebuf, w.ebuf[lf+1:w.nebuf])
		lines++
	}
}

// passIO forwards pending stderr for worker p according to its poll result.
// Pipe errors and forwarding failures are per-worker diagnostics, never
// fatal to the loop.
func (s *Supervisor) passIO(p int) (lines int) {
	revents := s.pfds[p+1].Revents
	if revents&unix.POLLERR != 0 {
		fmt.Fprintf(s.errw, "Process %d has a pipe error\n", s.workers[p].pid)
		return 0
	}
	if revents&unix.POLLIN == 0 {
		return 0
	}
	lines, err := s.passError(p)
	if err != nil {
		fmt.Fprintf(s.errw, "Could not forward I/O for process %d: %v\n",
			s.workers[p].pid, err)
	}
	return lines
}
