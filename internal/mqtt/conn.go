package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/muurk/lumen/internal/logging"
)

// Availability payloads.
const (
	Online  = "online"
	Offline = "offline"
)

// Config holds the broker settings.
type Config struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Prefix         string
	QoS            byte
	ConnectTimeout time.Duration
}

// DefaultPrefix is the topic root when none is configured.
const DefaultPrefix = "lumen"

// Message is one inbound publish.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// Conn is a broker connection.
type Conn interface {
	Publish(topic string, retained bool, payload []byte) error
	Subscribe(topic string, handler func(Message)) error
	Close()
}

var errTimeout = errors.New("timed out waiting for broker")

type pahoConn struct {
	client       paho.Client
	qos          byte
	availability string
	logger       *zap.Logger

	mu   sync.Mutex
	subs map[string]func(Message)
}

// Dial connects to the broker. The connection announces itself on
// availability, leaves a retained offline will, and replays
// subscriptions after every reconnect.
func Dial(cfg Config, availability string) (Conn, error) {
	if cfg.Broker == "" {
		return nil, errors.New("no MQTT broker configured")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	c := &pahoConn{
		qos:          cfg.QoS,
		availability: availability,
		logger:       logging.Named("mqtt"),
		subs:         make(map[string]func(Message)),
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetWill(availability, Offline, cfg.QoS, true)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.logger.Warn("Lost connection to broker", zap.Error(err))
	})

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, errTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, err)
	}
	return c, nil
}

func (c *pahoConn) onConnect(client paho.Client) {
	c.logger.Info("Connected to broker")
	client.Publish(c.availability, c.qos, true, Online)

	c.mu.Lock()
	subs := make(map[string]func(Message), len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.Unlock()

	for topic, h := range subs {
		client.Subscribe(topic, c.qos, wrap(h))
	}
}

func wrap(h func(Message)) paho.MessageHandler {
	return func(_ paho.Client, m paho.Message) {
		h(Message{Topic: m.Topic(), Payload: m.Payload(), Retained: m.Retained()})
	}
}

func (c *pahoConn) wait(token paho.Token) error {
	if !token.WaitTimeout(5 * time.Second) {
		return errTimeout
	}
	return token.Error()
}

func (c *pahoConn) Publish(topic string, retained bool, payload []byte) error {
	return c.wait(c.client.Publish(topic, c.qos, retained, payload))
}

func (c *pahoConn) Subscribe(topic string, handler func(Message)) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()
	return c.wait(c.client.Subscribe(topic, c.qos, wrap(handler)))
}

// Close marks the fixture offline and disconnects.
func (c *pahoConn) Close() {
	if c.client.IsConnected() {
		_ = c.wait(c.client.Publish(c.availability, c.qos, true, Offline))
	}
	c.client.Disconnect(250)
}
