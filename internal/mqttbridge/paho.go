package mqttbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	qos             byte = 1
	operationWait        = 10 * time.Second
	disconnectQuiet uint = 250
)

// PahoBroker adapts the Eclipse Paho client to Broker.
type PahoBroker struct {
	opts    *mqtt.ClientOptions
	logger  *slog.Logger
	timeout time.Duration

	mu        sync.Mutex
	client    mqtt.Client
	onConnect func()
}

// NewPahoBroker configures a clean-session client whose client id is the
// panel id and whose last will marks the panel offline.
func NewPahoBroker(cfg Config, logger *slog.Logger) *PahoBroker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	b := &PahoBroker{logger: logger, timeout: timeout}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Address()).
		SetClientID(cfg.PanelID).
		SetCleanSession(true).
		SetUsername(cfg.User).
		SetPassword(cfg.Password).
		SetWill(StatusTopic(cfg.PanelID), StatusOffline, qos, true).
		SetAutoReconnect(true).
		SetConnectTimeout(timeout).
		SetOnConnectHandler(func(mqtt.Client) {
			b.mu.Lock()
			fn := b.onConnect
			b.mu.Unlock()

			if fn != nil {
				fn()
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("mqtt connection lost, reconnecting", slog.String("error", err.Error()))
		})

	b.opts = opts

	mqtt.ERROR = slog.NewLogLogger(logger.Handler(), slog.LevelError)
	mqtt.CRITICAL = slog.NewLogLogger(logger.Handler(), slog.LevelError)
	mqtt.WARN = slog.NewLogLogger(logger.Handler(), slog.LevelWarn)

	return b
}

// Connect dials the broker and waits for the handshake or ctx.
func (b *PahoBroker) Connect(ctx context.Context, onConnect func()) error {
	b.mu.Lock()
	b.onConnect = onConnect
	b.client = mqtt.NewClient(b.opts)
	client := b.client
	b.mu.Unlock()

	token := client.Connect()

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	}
}

// Subscribe registers handler for topic.
func (b *PahoBroker) Subscribe(topic string, handler func(Message)) error {
	client, err := b.connected()
	if err != nil {
		return err
	}

	token := client.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		handler(Message{Topic: m.Topic(), Payload: m.Payload()})
	})

	return wait(token, "subscribe "+topic)
}

// Publish sends payload to topic.
func (b *PahoBroker) Publish(topic string, payload []byte, retained bool) error {
	client, err := b.connected()
	if err != nil {
		return err
	}

	return wait(client.Publish(topic, qos, retained, payload), "publish "+topic)
}

// Disconnect closes the connection after a short quiesce.
func (b *PahoBroker) Disconnect() {
	client, err := b.connected()
	if err != nil {
		return
	}

	client.Disconnect(disconnectQuiet)
}

func (b *PahoBroker) connected() (mqtt.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil, errors.New("mqtt client not connected")
	}

	return b.client, nil
}

func wait(token mqtt.Token, op string) error {
	if !token.WaitTimeout(operationWait) {
		return fmt.Errorf("%s: timed out after %s", op, operationWait)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
