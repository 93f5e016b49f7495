package console

import (
	"fmt"
	"log/slog"
)

// Mode is the controller's belief about the console's presentation state.
type Mode int

const (
	// ModeUnknown is the initial state before any evidence is seen.
	ModeUnknown Mode = iota
	// ModeStreaming means the console is emitting log lines.
	ModeStreaming
	// ModeDebug means the console is waiting for interactive commands.
	ModeDebug
)

// String returns the lowercase mode name.
func (m Mode) String() string {
	switch m {
	case ModeStreaming:
		return "streaming"
	case ModeDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// Controller switches the console between streaming and debug mode. Its
// belief may lag the real console by one read; every observed line is
// re-classified, so a wrong belief heals on the next line.
type Controller struct {
	w      LineWriter
	mode   Mode
	logger *slog.Logger
}

// NewController returns a controller in ModeUnknown. A nil logger discards.
func NewController(w LineWriter, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Controller{w: w, logger: logger}
}

// Mode returns the current belief.
func (c *Controller) Mode() Mode {
	return c.mode
}

// Observe reconciles the belief with one console line. A debug prompt is
// treated as an unexpected debug-mode entry: the controller sends the exit
// command and optimistically assumes streaming again. It reports whether
// the line was a debug prompt.
func (c *Controller) Observe(line string) (bool, error) {
	if IsDebugPrompt(line) {
		c.setMode(ModeDebug)

		if err := c.ExitDebug(); err != nil {
			return true, err
		}

		return true, nil
	}

	if line != "" && c.mode != ModeDebug {
		c.setMode(ModeStreaming)
	}

	return false, nil
}

// EnterDebug sends the debug-entry command. No acknowledgement is awaited;
// the caller confirms arrival by issuing a request and reading the answer.
func (c *Controller) EnterDebug() error {
	if err := c.send(CmdEnterDebug); err != nil {
		return err
	}

	c.setMode(ModeDebug)

	return nil
}

// ExitDebug sends the exit command and assumes the console resumes streaming.
func (c *Controller) ExitDebug() error {
	if err := c.send(CmdExitDebug); err != nil {
		return err
	}

	c.setMode(ModeStreaming)

	return nil
}

// EnableLogging asks a silent console to start streaming log output.
func (c *Controller) EnableLogging() error {
	return c.send(CmdEnableLogging)
}

func (c *Controller) send(cmd string) error {
	if err := c.w.WriteLine(cmd); err != nil {
		return fmt.Errorf("%w: send %q: %w", ErrTransport, cmd, err)
	}

	return nil
}

func (c *Controller) setMode(m Mode) {
	if c.mode == m {
		return
	}

	c.logger.Debug("console mode changed",
		slog.String("event.type", "console.mode"),
		slog.String("console.mode.from", c.mode.String()),
		slog.String("console.mode.to", m.String()),
	)

	c.mode = m
}
