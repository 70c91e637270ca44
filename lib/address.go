package lib

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// DefaultPort is used when -a is absent or an inet family omits the port.
const DefaultPort = 4869

// DefaultUnixPath is used when the unix domain tag carries no path token.
const DefaultUnixPath = "serve.sock"

// sunPathLen is the sun_path capacity of sockaddr_un on Linux.
const sunPathLen = 108

// Address is a parsed listening address: the address family plus the
// sockaddr to bind.
type Address struct {
	Family   int
	Sockaddr unix.Sockaddr
}

// domains must stay sorted lexicographically; getDomain binary-searches it.
var domains = []struct {
	tag    string
	family int
}{
	{"inet", unix.AF_INET},
	{"inet6", unix.AF_INET6},
	{"unix", unix.AF_UNIX},
	{"vsock", unix.AF_VSOCK},
	{"x25", unix.AF_X25},
}

// getDomain resolves the leading domain tag of an address string and returns
// the address family together with the remainder after the separating space.
func getDomain(s string) (family int, rem string, err error) {
	tag, rem, _ := strings.Cut(s, " ")
	i := sort.Search(len(domains), func(i int) bool {
		return domains[i].tag >= tag
	})
	if i == len(domains) || domains[i].tag != tag {
		return 0, "", fmt.Errorf("unknown address domain %q: %w", tag, unix.ENOTSUP)
	}
	return domains[i].family, rem, nil
}

// DefaultAddress is the listening address used when -a is absent:
// inet 0.0.0.0 4869.
func DefaultAddress() *Address {
	return &Address{
		Family:   unix.AF_INET,
		Sockaddr: &unix.SockaddrInet4{Port: DefaultPort},
	}
}

// ParseAddress parses the -a grammar: a domain tag followed by
// family-specific tokens separated by single spaces.
func ParseAddress(s string) (*Address, error) {
	family, rem, err := getDomain(s)
	if err != nil {
		return nil, err
	}
	switch family {
	case unix.AF_INET:
		return parseInet(rem)
	case unix.AF_INET6:
		return parseInet6(rem)
	case unix.AF_UNIX:
		return parseUnix(rem)
	case unix.AF_VSOCK:
		return parseVsock(rem)
	default:
		return parseX25(rem)
	}
}

func parsePort(s string) (int, error) {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("port contains non-digit character")
		}
	}
	p, err := strconv.ParseUint(s, 10, 32)
	if err != nil || p > 65535 {
		return 0, fmt.Errorf("port number exceeds 65535")
	}
	return int(p), nil
}

func parseInet(rem string) (*Address, error) {
	sa := &unix.SockaddrInet4{Port: DefaultPort}
	if rem != "" {
		addrstr, portstr, ok := strings.Cut(rem, " ")
		if !ok {
			return nil, fmt.Errorf("invalid inet address %q", rem)
		}
		ip := net.ParseIP(addrstr)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("invalid inet address %q", rem)
		}
		port, err := parsePort(portstr)
		if err != nil {
			return nil, err
		}
		copy(sa.Addr[:], ip.To4())
		sa.Port = port
	}
	return &Address{Family: unix.AF_INET, Sockaddr: sa}, nil
}

func parseInet6(rem string) (*Address, error) {
	sa := &unix.SockaddrInet6{Port: DefaultPort}
	if rem != "" {
		addrstr, portstr, ok := strings.Cut(rem, " ")
		if !ok || len(addrstr) > 45 {
			return nil, fmt.Errorf("invalid inet6 address %q", rem)
		}
		ip := net.ParseIP(addrstr)
		if ip == nil || ip.To16() == nil {
			return nil, fmt.Errorf("invalid inet6 address %q", rem)
		}
		port, err := parsePort(portstr)
		if err != nil {
			return nil, err
		}
		copy(sa.Addr[:], ip.To16())
		sa.Port = port
	}
	return &Address{Family: unix.AF_INET6, Sockaddr: sa}, nil
}

func parseUnix(rem string) (*Address, error) {
	path := rem
	if path == "" {
		path = DefaultUnixPath
	}
	if len(path) >= sunPathLen {
		return nil, fmt.Errorf("unix socket path %q is too long", path)
	}
	return &Address{
		Family:   unix.AF_UNIX,
		Sockaddr: &unix.SockaddrUnix{Name: path},
	}, nil
}

func parseVsock(rem string) (*Address, error) {
	fields := strings.Fields(rem)
	if len(fields) == 0 {
		return nil, fmt.Errorf("VSOCK address string has no data")
	}
	port, err := strconv.ParseUint(fields[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("could not parse VSOCK address port number")
	}
	if len(fields) < 2 {
		return nil, fmt.Errorf("could not parse VSOCK context identifier")
	}
	cid, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("could not parse VSOCK context identifier")
	}
	return &Address{
		Family:   unix.AF_VSOCK,
		Sockaddr: &unix.SockaddrVM{CID: uint32(cid), Port: uint32(port)},
	}, nil
}

func parseX25(rem string) (*Address, error) {
	if len(rem) > 15 {
		return nil, fmt.Errorf("X25 address %q is too long", rem)
	}
	for i := 0; i < len(rem); i++ {
		if rem[i] < '0' || rem[i] > '9' {
			return nil, fmt.Errorf("X25 address %q has forbidden characters", rem)
		}
	}
	// x/sys/unix carries no sockaddr for AF_X25, so the family parses but
	// cannot be bound, like on builds of the kernel without X.25.
	return nil, fmt.Errorf("X25 sockets are not supported: %w", unix.ENOTSUP)
}

// SerializeSockaddr renders a peer sockaddr in the -a grammar of its family.
// The result is what workers see in $REMOTE.
func SerializeSockaddr(sa unix.Sockaddr) (string, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return fmt.Sprintf("%s %d", net.IP(sa.Addr[:]).String(), sa.Port), nil
	case *unix.SockaddrInet6:
		return fmt.Sprintf("%s %d", net.IP(sa.Addr[:]).String(), sa.Port), nil
	case *unix.SockaddrUnix:
		return sa.Name, nil
	case *unix.SockaddrVM:
		return fmt.Sprintf("%d %d", sa.Port, sa.CID), nil
	default:
		return "", unix.ENOTSUP
	}
}
