// Package serialport provides the line transport used to talk to the panel's
// serial debug console.
//
// A Transport owns one serial handle. It writes commands as CRLF-terminated
// lines and reads one line at a time with a bounded timeout. A timeout is not
// an error: ReadLine returns an empty string so callers can treat "no data"
// as an ordinary outcome.
package serialport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.bug.st/serial"
)

// LineTerminator ends every command written to the console.
const LineTerminator = "\r\n"

// Defaults for the panel console.
const (
	DefaultBaud        = 115200
	DefaultReadTimeout = 5 * time.Second
)

var (
	// ErrOpen is returned when the serial device cannot be opened.
	ErrOpen = errors.New("open serial device")
	// ErrIO is returned when reading from or writing to an open device fails.
	ErrIO = errors.New("serial i/o")
)

// Port is the subset of a serial port the transport needs. go.bug.st/serial
// ports satisfy it.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	Drain() error
}

// Clock is the time source for read deadlines. Production code uses
// RealClock; tests substitute a fake to expire deadlines without waiting.
type Clock interface {
	Now() time.Time
}

// RealClock reads the wall clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// Config describes how to open the console device.
type Config struct {
	Device      string
	Baud        int
	ReadTimeout time.Duration
}

// Transport is a line-oriented view of a serial port. It is not safe for
// concurrent use; exactly one goroutine may own it.
type Transport struct {
	port    Port
	timeout time.Duration
	buf     []byte
	chunk   []byte
	clock   Clock
}

// Open opens the device described by cfg in 8N1 mode.
func Open(cfg Config) (*Transport, error) {
	baud := cfg.Baud
	if baud <= 0 {
		baud = DefaultBaud
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrOpen, cfg.Device, err)
	}

	return New(port, cfg.ReadTimeout), nil
}

// New wraps an already open port.
func New(port Port, readTimeout time.Duration) *Transport {
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}

	return &Transport{
		port:    port,
		timeout: readTimeout,
		chunk:   make([]byte, 256),
		clock:   RealClock{},
	}
}

// ReadTimeout returns the per-line read budget.
func (t *Transport) ReadTimeout() time.Duration {
	return t.timeout
}

// WriteLine writes s followed by CRLF and waits for the output to drain.
func (t *Transport) WriteLine(s string) error {
	if _, err := io.WriteString(t.port, s+LineTerminator); err != nil {
		return fmt.Errorf("%w: write %q: %w", ErrIO, s, err)
	}

	if err := t.port.Drain(); err != nil {
		return fmt.Errorf("%w: drain: %w", ErrIO, err)
	}

	return nil
}

// ReadLine returns the next console line with its CRLF stripped. It blocks
// for at most the configured read timeout; if no complete line arrives in
// time it returns whatever partial data was received, which is empty when
// the console was silent.
func (t *Transport) ReadLine() (string, error) {
	deadline := t.clock.Now().Add(t.timeout)

	for {
		if i := bytes.IndexByte(t.buf, '\n'); i >= 0 {
			line := decode(t.buf[:i+1])
			t.buf = append(t.buf[:0], t.buf[i+1:]...)

			return line, nil
		}

		remaining := deadline.Sub(t.clock.Now())
		if remaining <= 0 {
			return t.takePartial(), nil
		}

		if err := t.port.SetReadTimeout(remaining); err != nil {
			return "", fmt.Errorf("%w: set read timeout: %w", ErrIO, err)
		}

		n, err := t.port.Read(t.chunk)
		if n > 0 {
			t.buf = append(t.buf, t.chunk[:n]...)
		}

		if err != nil {
			return "", fmt.Errorf("%w: read: %w", ErrIO, err)
		}

		if n == 0 {
			return t.takePartial(), nil
		}
	}
}

// Close releases the serial handle.
func (t *Transport) Close() error {
	return t.port.Close()
}

func (t *Transport) takePartial() string {
	line := decode(t.buf)
	t.buf = t.buf[:0]

	return line
}

func decode(raw []byte) string {
	line := strings.TrimRight(string(raw), "\r\n")
	return strings.ToValidUTF8(line, "�")
}
