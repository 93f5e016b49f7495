// Package terminal detects whether paneld is talking to a person or to a
// supervisor. Daemons run detached with stdio redirected, so most of the
// time the answer is "not a TTY" and output stays plain.
package terminal

import (
	"os"

	"golang.org/x/term"
)

// Info holds terminal capability information.
type Info struct {
	IsTTY     bool
	NoColor   bool
	ForceFlag bool // Set when --no-color flag is used
}

// Detect returns terminal information for stdout.
func Detect() *Info {
	isTTY := term.IsTerminal(int(os.Stdout.Fd()))

	// NO_COLOR (https://no-color.org/) and TERM=dumb both disable color.
	_, noColor := os.LookupEnv("NO_COLOR")
	if os.Getenv("TERM") == "dumb" {
		noColor = true
	}

	return &Info{
		IsTTY:   isTTY,
		NoColor: noColor,
	}
}

// ColorEnabled returns true if colored output should be used.
func (t *Info) ColorEnabled() bool {
	if t.ForceFlag {
		return false
	}

	return t.IsTTY && !t.NoColor
}

// SpinnersEnabled returns true if spinners should be used.
func (t *Info) SpinnersEnabled() bool {
	return t.IsTTY && !t.NoColor
}
