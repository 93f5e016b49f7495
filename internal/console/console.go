// Package console implements the panel's serial console protocol.
//
// The console is a stateful text interface that is either streaming log
// lines or sitting at an interactive debug prompt. This package classifies
// console lines, tracks and switches the console mode, extracts the panel
// identity at startup, and relays console output to a log sink.
//
// All functions here expect to be the only user of the transport they are
// given; the serial handle is owned by a single goroutine for the life of
// the process.
package console

import (
	"errors"
	"strings"
)

// Console commands. Each is written as one CRLF-terminated line.
const (
	CmdWake          = ""
	CmdEnterDebug    = "`"
	CmdExitDebug     = "quit"
	CmdEnableLogging = "quasar"
	CmdIdentity      = "ip"
)

// Substrings that only appear while the console is at its debug shell.
var debugMarkers = []string{
	"DEBUG>",
	"Error: No such command",
	"Enter 'help'",
}

var (
	// ErrParse is the class of identity response parse failures.
	ErrParse = errors.New("parse identity response")
	// ErrMarkerNotFound means the line has no identity marker.
	ErrMarkerNotFound = errors.New("identity marker not found")
	// ErrDelimiterNotFound means nothing terminates the token after the marker.
	ErrDelimiterNotFound = errors.New("identity delimiter not found")
	// ErrEmptyIdentity means the marker is immediately followed by the delimiter.
	ErrEmptyIdentity = errors.New("identity token is empty")
	// ErrNoIdentity means the console never answered the identity request.
	ErrNoIdentity = errors.New("no identity response from console")
	// ErrInterrupted means shutdown was requested before the protocol finished.
	ErrInterrupted = errors.New("interrupted by shutdown")
	// ErrTransport wraps transport failures seen by the protocol.
	ErrTransport = errors.New("console transport")
)

// LineWriter writes one command line to the console.
type LineWriter interface {
	WriteLine(s string) error
}

// Transport is a line-oriented console connection. ReadLine returns an empty
// string when its read timeout expires without data.
type Transport interface {
	LineWriter
	ReadLine() (string, error)
}

// StopFlag reports whether the process has been asked to terminate.
type StopFlag interface {
	Requested() bool
}

// IsDebugPrompt reports whether line shows the console at its interactive
// debug shell.
func IsDebugPrompt(line string) bool {
	for _, marker := range debugMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}

	return false
}
