package mqttbridge

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/quasar-panel/paneld/internal/observability"
)

// maxLoggedPayload caps how much of a payload reaches the debug log.
const maxLoggedPayload = 256

// Handler executes one command.
type Handler func(ctx context.Context, msg Message) error

// Routes maps a command name to its handler.
type Routes map[string]Handler

// Dispatcher routes inbound messages to command handlers.
type Dispatcher struct {
	prefix string
	routes Routes
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher for panelID.
func NewDispatcher(panelID string, routes Routes, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Dispatcher{
		prefix: commandPrefix(panelID),
		routes: routes,
		logger: logger,
	}
}

// Dispatch runs the handler for msg's command. Unknown topics and handler
// failures are logged; the caller never sees an error because the broker
// has no one to report it to.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	payload := msg.Payload
	if len(payload) > maxLoggedPayload {
		payload = payload[:maxLoggedPayload]
	}

	d.logger.Debug("mqtt message",
		slog.String("topic", msg.Topic),
		slog.String("payload", string(payload)),
	)

	command, ok := strings.CutPrefix(msg.Topic, d.prefix)
	if !ok || command == "" || strings.Contains(command, "/") {
		d.logger.Debug("unhandled topic", slog.String("topic", msg.Topic))
		return
	}

	handler, ok := d.routes[command]
	if !ok {
		d.logger.Debug("unknown command", slog.String("command", command))
		return
	}

	ctx, span := observability.Tracer("paneld/mqttbridge").Start(ctx, "mqtt.dispatch")
	defer span.End()

	span.SetAttributes(attribute.String("mqtt.command", command))

	if err := handler(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("command failed",
			slog.String("command", command),
			slog.String("error", err.Error()),
		)

		return
	}

	d.logger.Info("command handled", slog.String("command", command))
}
