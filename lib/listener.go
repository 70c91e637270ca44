package lib

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Listener wraps a bound, listening socket that is nonblocking and
// close-on-exec. The supervisor polls its descriptor directly.
type Listener struct {
	fd int
}

// NewListener binds addr and marks the socket as accepting connections with
// the given backlog.
func NewListener(addr *Address, typ, backlog int) (*Listener, error) {
	fd, err := QualSocket(addr.Family, typ, 0)
	if err != nil {
		return nil, fmt.Errorf("could not create listener socket: %w", err)
	}
	if err := unix.Bind(fd, addr.Sockaddr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("could not assign address to listener socket: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("could not mark listener as accepting connections: %w", err)
	}
	return &Listener{fd: fd}, nil
}

// Fd returns the listener descriptor for the poll set.
func (l *Listener) Fd() int {
	return l.fd
}

// AcceptRemote accepts one connection and serializes the peer address in the
// -a grammar of its family. The connection stays blocking; it becomes a
// worker's stdin and stdout. If the peer family cannot be serialized, the
// connection is closed and the originating error returned.
func (l *Listener) AcceptRemote() (conn int, remote string, err error) {
	conn, sa, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, "", err
	}
	// x/sys renders a peer without any path bytes (an unbound client) as
	// "@"; such a peer has no path to report.
	if u, ok := sa.(*unix.SockaddrUnix); ok && u.Name == "@" {
		u.Name = ""
	}
	remote, err = SerializeSockaddr(sa)
	if err != nil {
		unix.Close(conn)
		return -1, "", err
	}
	return conn, remote, nil
}

func (l *Listener) Close() error {
	return unix.Close(l.fd)
}
