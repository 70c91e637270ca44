package lib

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

const (
	ansiReset = "\033[0m"
	ansiRed   = "\033[31m"
	ansiCyan  = "\033[36m"
)

// colorize is decided once: diagnostics are colored only when stderr is a
// terminal, never when redirected to a file or pipe.
var colorize = term.IsTerminal(int(os.Stderr.Fd()))

func prefix(color, tag string) string {
	if colorize {
		return color + tag + ansiReset
	}
	return tag
}

func LogInfo(format string, a ...any) {
	fmt.Fprintf(os.Stderr, "%s %s\n", prefix(ansiCyan, "INFO:"), fmt.Sprintf(format, a...))
}

func LogError(format string, a ...any) error {
	msg := fmt.Sprintf(format, a...)
	fmt.Fprintf(os.Stderr, "%s %s\n", prefix(ansiRed, "ERROR:"), msg)
	return fmt.Errorf("%s", msg)
}
