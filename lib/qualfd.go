package lib

import (
	"golang.org/x/sys/unix"
)

// MkNonblocking sets O_NONBLOCK on fildes, keeping its other status flags.
func MkNonblocking(fildes int) error {
	flags, err := unix.FcntlInt(uintptr(fildes), unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	_, err = unix.FcntlInt(uintptr(fildes), unix.F_SETFL, flags|unix.O_NONBLOCK)
	return err
}

// NBPipe creates a half-nonblocking pipe: the write end is nonblocking, the
// read end stays blocking. The read end is only ever touched after poll
// reports it readable; the write end becomes a worker's stderr, which must
// never block the worker on a slow supervisor. Pipe2 with O_NONBLOCK would
// make both ends nonblocking and is therefore wrong here.
//
// Both ends are close-on-exec so workers inherit no pipe of any sibling.
func NBPipe() (r, w int, err error) {
	var fd [2]int
	if err := unix.Pipe2(fd[:], unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	if err := MkNonblocking(fd[1]); err != nil {
		unix.Close(fd[0])
		unix.Close(fd[1])
		return -1, -1, err
	}
	return fd[0], fd[1], nil
}

// QualSocket creates a socket that is both nonblocking and close-on-exec,
// using the atomic type flag bits.
func QualSocket(domain, typ, protocol int) (int, error) {
	return unix.Socket(domain, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, protocol)
}
