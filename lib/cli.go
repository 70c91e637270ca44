package lib

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"
)

// ErrUsage marks command-line errors. The driver exits with status 2 when it
// sees one; usage has already been printed.
var ErrUsage = errors.New("usage error")

// Config is everything the driver needs to build the listener and the
// supervisor. It is immutable once parsing succeeds.
type Config struct {
	Address    *Address
	Type       int
	Backlog    int
	MaxWorkers int
	Command    string
}

// socktypes must stay sorted lexicographically; getType binary-searches it.
var socktypes = []struct {
	name string
	typ  int
}{
	{"dgram", unix.SOCK_DGRAM},
	{"seqpacket", unix.SOCK_SEQPACKET},
	{"stream", unix.SOCK_STREAM},
}

func getType(name string) (int, error) {
	i := sort.Search(len(socktypes), func(i int) bool {
		return socktypes[i].name >= name
	})
	if i == len(socktypes) || socktypes[i].name != name {
		return 0, fmt.Errorf("unsupported socket type %q", name)
	}
	return socktypes[i].typ, nil
}

func usage(w io.Writer, cmd string) {
	fmt.Fprintf(w,
		"usage: %s [-a address] [-b backlog] [-t type] [-p protocol] [-m max] command\n",
		cmd)
}

// ParseArgs parses the serve command line. args is the full argument vector
// including the program name. Diagnostics go to stderr.
func ParseArgs(args []string, stderr io.Writer) (*Config, error) {
	name := "serve"
	if len(args) > 0 {
		name = args[0]
	}
	if len(args) < 2 {
		fmt.Fprintln(stderr, "Missing operand")
		usage(stderr, name)
		return nil, ErrUsage
	}

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { usage(stderr, name) }
	address := fs.StringP("address", "a", "", "listening address (domain tag plus tokens)")
	backlog := fs.IntP("backlog", "b", unix.SOMAXCONN, "listen backlog")
	typname := fs.StringP("type", "t", "stream", "socket type (stream, dgram, seqpacket)")
	protocol := fs.StringP("protocol", "p", "", "socket protocol")
	maxw := fs.IntP("max-workers", "m", 0, "bound on concurrent workers (0: open-file limit)")

	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintln(stderr, err)
		usage(stderr, name)
		return nil, ErrUsage
	}

	cfg := &Config{Backlog: *backlog, MaxWorkers: *maxw}

	if *address == "" {
		cfg.Address = DefaultAddress()
	} else {
		addr, err := ParseAddress(*address)
		if err != nil {
			fmt.Fprintf(stderr, "Could not set listening address: %v\n", err)
			usage(stderr, name)
			return nil, ErrUsage
		}
		cfg.Address = addr
	}

	typ, err := getType(*typname)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		usage(stderr, name)
		return nil, ErrUsage
	}
	cfg.Type = typ

	if *protocol != "" {
		fmt.Fprintln(stderr, "Protocol specification unimplemented; using stream")
	}

	if cfg.Backlog < 0 {
		cfg.Backlog = 0
	} else if cfg.Backlog > unix.SOMAXCONN {
		cfg.Backlog = unix.SOMAXCONN
	}

	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, "Missing operand")
		usage(stderr, name)
		return nil, ErrUsage
	}
	cfg.Command = fs.Arg(0)
	return cfg, nil
}
