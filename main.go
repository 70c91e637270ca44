// Command serve turns any shell command into a network service: one worker
// subprocess per accepted connection, stdin/stdout bound to the socket,
// stderr line-framed and relayed with the worker's pid.
package main

import (
	"errors"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/serveutil/serve/lib"
	"github.com/serveutil/serve/sup"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := lib.ParseArgs(os.Args, os.Stderr)
	if err != nil {
		if errors.Is(err, lib.ErrUsage) {
			return 2
		}
		return 1
	}

	listener, err := lib.NewListener(cfg.Address, cfg.Type, cfg.Backlog)
	if err != nil {
		lib.LogError("%v", err)
		return 1
	}
	defer listener.Close()

	s, err := sup.New(listener, &lib.Launcher{Command: cfg.Command}, cfg.MaxWorkers)
	if err != nil {
		lib.LogError("%v", err)
		return 1
	}
	defer s.Close()

	done := confsig(s)

	for !done.Load() {
		progressed, err := s.Resume()
		if err != nil {
			lib.LogError("Internal error while running the executor: %v", err)
		}
		if !progressed {
			runtime.Gosched()
		}
	}
	return 0
}

// confsig installs the one-shot interrupt handler: the first SIGINT flags
// shutdown after the current iteration and restores the default disposition,
// so a second SIGINT terminates the process immediately. Workers are not
// signaled; their lifetime is their own.
func confsig(s *sup.Supervisor) *atomic.Bool {
	done := &atomic.Bool{}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT)
	go func() {
		<-sigs
		done.Store(true)
		signal.Reset(unix.SIGINT)
		s.Shutdown()
		lib.LogInfo("Interrupt received; finishing the current iteration")
	}()
	return done
}
