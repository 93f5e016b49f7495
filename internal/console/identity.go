package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/quasar-panel/paneld/internal/observability"
)

const (
	// IdentityMarker precedes the identity token in the console's reply.
	IdentityMarker = "IP: "
	// IdentityDelimiter terminates the identity token.
	IdentityDelimiter = ' '
	// DefaultMaxResponseLines bounds how many lines are read while waiting
	// for the identity reply.
	DefaultMaxResponseLines = 64
)

// ParseIdentity extracts the identity token from a console line of the form
// "... IP: <token> ...". The token runs from the end of the marker up to the
// next space.
func ParseIdentity(line string) (string, error) {
	start := strings.Index(line, IdentityMarker)
	if start < 0 {
		return "", fmt.Errorf("%w: %w in %q", ErrParse, ErrMarkerNotFound, line)
	}

	rest := line[start+len(IdentityMarker):]

	end := strings.IndexByte(rest, IdentityDelimiter)
	if end < 0 {
		return "", fmt.Errorf("%w: %w in %q", ErrParse, ErrDelimiterNotFound, line)
	}

	if end == 0 {
		return "", fmt.Errorf("%w: %w in %q", ErrParse, ErrEmptyIdentity, line)
	}

	return rest[:end], nil
}

// AcquireOptions tunes identity acquisition.
type AcquireOptions struct {
	// MaxResponseLines bounds the lines read after the identity request.
	// Zero means DefaultMaxResponseLines.
	MaxResponseLines int
	Logger           *slog.Logger
}

// Acquire runs the startup identity protocol against the console: wake it,
// make sure it is at the debug shell, ask for the identity, parse the reply,
// and put the console back into streaming mode.
func Acquire(ctx context.Context, t Transport, ctrl *Controller, stop StopFlag, opts AcquireOptions) (id string, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	maxLines := opts.MaxResponseLines
	if maxLines <= 0 {
		maxLines = DefaultMaxResponseLines
	}

	_, span := observability.Tracer("paneld/console").Start(ctx, "console.acquire_identity")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("panel.id", id))
		}

		span.End()
	}()

	line, err := wake(t)
	if err != nil {
		return "", err
	}

	if line == "" {
		logger.Warn("console silent, requesting log output",
			slog.String("event.type", "console.identity.silent"),
		)

		if err := ctrl.EnableLogging(); err != nil {
			return "", err
		}

		if line, err = wake(t); err != nil {
			return "", err
		}
	}

	if IsDebugPrompt(line) {
		ctrl.setMode(ModeDebug)
	} else if err := ctrl.EnterDebug(); err != nil {
		return "", err
	}

	// Leave debug mode on every path once it has been entered.
	defer func() {
		if exitErr := ctrl.ExitDebug(); exitErr != nil && err == nil {
			id, err = "", exitErr
		}
	}()

	if err := send(t, CmdIdentity); err != nil {
		return "", err
	}

	for read := 0; read < maxLines; read++ {
		reply, readErr := t.ReadLine()
		if readErr != nil {
			return "", fmt.Errorf("%w: %w", ErrTransport, readErr)
		}

		if stop.Requested() {
			return "", ErrInterrupted
		}

		if !strings.Contains(reply, IdentityMarker) {
			logger.Debug("awaiting identity reply",
				slog.String("event.type", "console.identity.skip"),
				slog.String("console.line", reply),
			)

			continue
		}

		parsed, parseErr := ParseIdentity(reply)
		if parseErr != nil {
			return "", parseErr
		}

		logger.Info("panel identity acquired",
			slog.String("event.type", "console.identity.acquired"),
			slog.String("panel.id", parsed),
		)

		return parsed, nil
	}

	if stop.Requested() {
		return "", ErrInterrupted
	}

	return "", fmt.Errorf("%w after %d lines", ErrNoIdentity, maxLines)
}

// wake writes a blank line and reads the console's answer.
func wake(t Transport) (string, error) {
	if err := send(t, CmdWake); err != nil {
		return "", err
	}

	line, err := t.ReadLine()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTransport, err)
	}

	return line, nil
}

func send(t LineWriter, cmd string) error {
	if err := t.WriteLine(cmd); err != nil {
		return fmt.Errorf("%w: send %q: %w", ErrTransport, cmd, err)
	}

	return nil
}

// IsProtocolError reports whether err means the console answered but the
// identity could not be obtained from it.
func IsProtocolError(err error) bool {
	return errors.Is(err, ErrParse) || errors.Is(err, ErrNoIdentity)
}
