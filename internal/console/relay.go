package console

import (
	"fmt"
	"log/slog"
)

// Relay messages written to the sink besides forwarded console lines.
const (
	MsgReadTimeout  = "timeout reading console data"
	MsgRelayStopped = "console relay stopped"
)

// Relay forwards console lines to sink until stop is requested. A line is
// written at info level and a read timeout as one warning, in read order.
// Debug prompts are not forwarded; the controller sends the console back to
// streaming mode instead. A transport error ends the relay and is returned.
func Relay(t Transport, ctrl *Controller, stop StopFlag, sink *slog.Logger) error {
	for !stop.Requested() {
		line, err := t.ReadLine()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}

		prompt, err := ctrl.Observe(line)
		if err != nil {
			return err
		}

		switch {
		case prompt:
			continue
		case line != "":
			sink.Info(line)
		default:
			sink.Warn(MsgReadTimeout)
		}
	}

	sink.Info(MsgRelayStopped)

	return nil
}
