package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/api"
	"github.com/muurk/lumen/internal/device"
	"github.com/muurk/lumen/internal/indicator"
	"github.com/muurk/lumen/internal/logging"
)

// commandTimeout bounds one LED command on the owner loop.
const commandTimeout = 5 * time.Second

// Device is the part of the owner loop the bridge uses.
type Device interface {
	SetLED(ctx context.Context, change device.LEDChange) (indicator.State, error)
	Events() *device.Bus
}

// Bridge forwards device events to the broker and broker commands to the
// device.
type Bridge struct {
	conn   Conn
	dev    Device
	prefix string
	id     string
	logger *zap.Logger
}

// NewBridge creates a bridge for the fixture id. An empty prefix uses
// DefaultPrefix.
func NewBridge(conn Conn, dev Device, prefix, id string) *Bridge {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Bridge{
		conn:   conn,
		dev:    dev,
		prefix: strings.Trim(prefix, "/"),
		id:     strings.ToLower(id),
		logger: logging.Named("mqtt"),
	}
}

// Topic returns the topic for the given suffix parts.
func (b *Bridge) Topic(parts ...string) string {
	return strings.Join(append([]string{b.prefix, b.id}, parts...), "/")
}

// AvailabilityTopic is where online and offline are announced.
func AvailabilityTopic(prefix, id string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return strings.Trim(prefix, "/") + "/" + strings.ToLower(id) + "/availability"
}

// Run forwards events until ctx ends.
func (b *Bridge) Run(ctx context.Context) error {
	events, unsubscribe := b.dev.Events().Subscribe(32)
	defer unsubscribe()

	setTopic := b.Topic("led", "set")
	if err := b.conn.Subscribe(setTopic, func(m Message) { b.handleLEDSet(ctx, m) }); err != nil {
		return fmt.Errorf("subscribe %s: %w", setTopic, err)
	}
	b.logger.Info("MQTT bridge running", zap.String("topic", b.Topic()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if err := b.forward(e); err != nil {
				b.logger.Warn("Failed to publish event", zap.String("type", string(e.Type)), zap.Error(err))
			}
		}
	}
}

// Close announces offline and disconnects from the broker.
func (b *Bridge) Close() { b.conn.Close() }

func (b *Bridge) forward(e device.Event) error {
	var topic string
	retained := false

	switch e.Type {
	case device.EventState:
		topic, retained = b.Topic("state"), true
	case device.EventLED:
		topic, retained = b.Topic("led"), true
	case device.EventUpdate:
		topic = b.Topic("update")
	case device.EventButton:
		topic = b.Topic("button")
	default:
		return nil
	}

	payload, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Type, err)
	}
	return b.conn.Publish(topic, retained, payload)
}

func (b *Bridge) handleLEDSet(ctx context.Context, m Message) {
	// A retained command would replay on every reconnect.
	if m.Retained {
		return
	}

	var req api.LEDRequest
	if err := json.Unmarshal(m.Payload, &req); err != nil {
		b.logger.Warn("Ignoring malformed LED command", zap.String("topic", m.Topic), zap.Error(err))
		return
	}
	change, err := device.ParseLEDRequest(req)
	if err != nil {
		b.logger.Warn("Ignoring invalid LED command", zap.String("topic", m.Topic), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	if _, err := b.dev.SetLED(ctx, change); err != nil {
		b.logger.Warn("LED command failed", zap.Error(err))
	}
}
