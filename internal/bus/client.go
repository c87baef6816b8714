// Package bus wraps the MQTT transport behind a small client interface so the
// rest of the system can publish and subscribe without depending on the
// underlying library, and so tests can run against a mock.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MessageHandler is called for every inbound message on a subscribed topic.
type MessageHandler func(topic string, payload []byte)

// Will describes the last-will message announced if the process dies uncleanly.
type Will struct {
	Topic   string
	Payload string
	QoS     byte
	Retain  bool
}

// Client defines the transport operations the application needs.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
	Subscribe(topic string, handler MessageHandler) error
}

// connectTimeout bounds how long startup waits for the broker.
const connectTimeout = 30 * time.Second

// publishTimeout bounds individual publish acknowledgements.
const publishTimeout = 10 * time.Second

// PahoClient implements Client on top of the Eclipse Paho MQTT library.
type PahoClient struct {
	logger *zap.Logger
	client mqtt.Client

	mu   sync.Mutex
	subs map[string]MessageHandler
}

// NewPahoClient creates an MQTT client for the given broker address
// (tcp://host:port). The will, if non-nil, is registered with the broker at
// connect time.
func NewPahoClient(addr, clientID string, will *Will, logger *zap.Logger) *PahoClient {
	c := &PahoClient{
		logger: logger.Named("bus"),
		subs:   make(map[string]MessageHandler),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(addr).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.logger.Warn("Connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			c.logger.Info("Connected to MQTT broker")
			c.resubscribe()
		})

	if will != nil {
		opts = opts.SetWill(will.Topic, will.Payload, will.QoS, will.Retain)
	}

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect establishes the broker connection, waiting up to the connect
// timeout or until ctx is cancelled.
func (c *PahoClient) Connect(ctx context.Context) error {
	token := c.client.Connect()

	deadline := connectTimeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining < deadline {
			deadline = remaining
		}
	}

	if !token.WaitTimeout(deadline) {
		return fmt.Errorf("timed out connecting to MQTT broker after %s", deadline)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Disconnect closes the broker connection, allowing a short drain window.
func (c *PahoClient) Disconnect() {
	c.client.Disconnect(250)
	c.logger.Info("Disconnected from MQTT broker")
}

// IsConnected reports whether the client currently has a broker connection.
func (c *PahoClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Publish sends a message and waits for the broker acknowledgement.
func (c *PahoClient) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if !c.client.IsConnectionOpen() {
		return fmt.Errorf("not connected")
	}

	token := c.client.Publish(topic, qos, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a handler for a topic filter. The subscription is
// replayed automatically after a reconnect.
func (c *PahoClient) Subscribe(topic string, handler MessageHandler) error {
	c.mu.Lock()
	c.subs[topic] = handler
	c.mu.Unlock()

	return c.subscribe(topic, handler)
}

func (c *PahoClient) subscribe(topic string, handler MessageHandler) error {
	token := c.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("timed out subscribing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return nil
}

// resubscribe re-establishes all known subscriptions after a reconnect.
func (c *PahoClient) resubscribe() {
	c.mu.Lock()
	subs := make(map[string]MessageHandler, len(c.subs))
	for topic, handler := range c.subs {
		subs[topic] = handler
	}
	c.mu.Unlock()

	for topic, handler := range subs {
		if err := c.subscribe(topic, handler); err != nil {
			c.logger.Warn("Failed to restore subscription",
				zap.String("topic", topic),
				zap.Error(err))
		}
	}
}
