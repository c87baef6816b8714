package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// PublishedMessage records a publish call for testing
type PublishedMessage struct {
	Topic   string
	Payload string
	QoS     byte
	Retain  bool
	Time    time.Time
}

// MockClient implements Client for testing
type MockClient struct {
	mu        sync.Mutex
	connected bool
	published []PublishedMessage
	subs      map[string]MessageHandler

	// FailPublish makes every Publish call return an error when set
	FailPublish bool
}

// NewMockClient creates a new mock transport client
func NewMockClient() *MockClient {
	return &MockClient{
		subs: make(map[string]MessageHandler),
	}
}

// Connect simulates a successful broker connection
func (m *MockClient) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

// Disconnect simulates disconnecting
func (m *MockClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// IsConnected returns the simulated connection status
func (m *MockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Publish records the message
func (m *MockClient) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailPublish {
		return fmt.Errorf("publish failed (mock)")
	}

	m.published = append(m.published, PublishedMessage{
		Topic:   topic,
		Payload: string(payload),
		QoS:     qos,
		Retain:  retain,
		Time:    time.Now(),
	})
	return nil
}

// Subscribe registers a handler for a topic filter
func (m *MockClient) Subscribe(topic string, handler MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[topic] = handler
	return nil
}

// Inject delivers an inbound message to any matching subscription handler
func (m *MockClient) Inject(topic, payload string) {
	m.mu.Lock()
	var handlers []MessageHandler
	for filter, handler := range m.subs {
		if topicMatches(filter, topic) {
			handlers = append(handlers, handler)
		}
	}
	m.mu.Unlock()

	for _, handler := range handlers {
		handler(topic, []byte(payload))
	}
}

// Published returns a copy of all recorded publishes
func (m *MockClient) Published() []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]PublishedMessage, len(m.published))
	copy(out, m.published)
	return out
}

// PublishedTo returns the payloads published to an exact topic, in order
func (m *MockClient) PublishedTo(topic string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, p.Payload)
		}
	}
	return out
}

// LastPayload returns the most recent payload published to a topic, if any
func (m *MockClient) LastPayload(topic string) (string, bool) {
	payloads := m.PublishedTo(topic)
	if len(payloads) == 0 {
		return "", false
	}
	return payloads[len(payloads)-1], true
}

// ClearPublished clears the recorded publish history
func (m *MockClient) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// topicMatches implements single-level (+) and multi-level (#) MQTT wildcards
func topicMatches(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")

	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
