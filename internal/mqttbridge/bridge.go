// Package mqttbridge connects a panel to the remote command broker.
//
// The panel announces itself on from_panel/<id>/status (retained "online",
// with a retained "offline" last will) and listens on to_panel/<id>/#.
// Commands arrive on to_panel/<id>/cmds/<command> and are routed through a
// Routes table.
package mqttbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Commands understood by the default routes.
const (
	CmdPushLog = "push_log"
	CmdOpenVPN = "open_vpn"
)

// Status payloads published on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// DefaultConnectTimeout bounds the initial broker handshake.
const DefaultConnectTimeout = 30 * time.Second

// ErrConnect is returned when the broker cannot be reached.
var ErrConnect = errors.New("broker connect failed")

// StatusTopic is where the panel publishes its presence.
func StatusTopic(panelID string) string {
	return "from_panel/" + panelID + "/status"
}

// SubscribeTopic covers everything addressed to the panel.
func SubscribeTopic(panelID string) string {
	return "to_panel/" + panelID + "/#"
}

// CommandTopic is the topic a command is delivered on.
func CommandTopic(panelID, command string) string {
	return commandPrefix(panelID) + command
}

func commandPrefix(panelID string) string {
	return "to_panel/" + panelID + "/cmds/"
}

// Message is an inbound publication.
type Message struct {
	Topic   string
	Payload []byte
}

// Broker is the subset of an MQTT client the bridge needs.
type Broker interface {
	// Connect dials the broker. onConnect runs after every successful
	// connection, including automatic reconnects.
	Connect(ctx context.Context, onConnect func()) error
	Subscribe(topic string, handler func(Message)) error
	Publish(topic string, payload []byte, retained bool) error
	Disconnect()
}

// Config holds broker settings.
type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	PanelID        string
	ConnectTimeout time.Duration
}

// Address returns the broker URL.
func (c Config) Address() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// Bridge keeps a panel announced on the broker and dispatches its commands.
type Bridge struct {
	panelID    string
	broker     Broker
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// New creates a Bridge for panelID.
func New(panelID string, broker Broker, routes Routes, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Bridge{
		panelID:    panelID,
		broker:     broker,
		dispatcher: NewDispatcher(panelID, routes, logger),
		logger:     logger,
	}
}

// Run connects, announces the panel, and serves commands until ctx is
// cancelled. On the way out it publishes "offline" and disconnects.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.broker.Connect(ctx, func() { b.announce(ctx) }); err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}

	b.logger.Info("mqtt bridge running", slog.String("panel.id", b.panelID))

	<-ctx.Done()

	if err := b.broker.Publish(StatusTopic(b.panelID), []byte(StatusOffline), true); err != nil {
		b.logger.Warn("publish offline status failed", slog.String("error", err.Error()))
	}

	b.broker.Disconnect()
	b.logger.Info("mqtt bridge stopped")

	return nil
}

// announce subscribes and publishes "online". A clean session loses its
// subscriptions on reconnect, so this runs on every connection.
func (b *Bridge) announce(ctx context.Context) {
	err := b.broker.Subscribe(SubscribeTopic(b.panelID), func(msg Message) {
		b.dispatcher.Dispatch(ctx, msg)
	})
	if err != nil {
		b.logger.Error("subscribe failed",
			slog.String("topic", SubscribeTopic(b.panelID)),
			slog.String("error", err.Error()),
		)
	}

	if err := b.broker.Publish(StatusTopic(b.panelID), []byte(StatusOnline), true); err != nil {
		b.logger.Error("publish online status failed", slog.String("error", err.Error()))
		return
	}

	b.logger.Debug("mqtt connected", slog.String("event.type", "mqtt.connected"))
}
