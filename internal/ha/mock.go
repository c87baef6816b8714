package ha

import (
	"context"
	"strings"
	"sync"
)

// MockService records every control-surface call for assertion in tests.
type MockService struct {
	mu sync.Mutex

	// Setup registrations, in call order, as "<kind>:<unique_id>".
	Registered []string

	// SwitchStates tracks the last state published per switch id.
	SwitchStates map[string]string

	// BinaryStates tracks the last state published per binary sensor id.
	BinaryStates map[string]string

	// Progress tracks the last percentage per "<plugin>_<sensor>".
	Progress map[string]int

	// Activities tracks the last activity string per "<plugin>_<sensor>".
	Activities map[string]string

	// Logs accumulates feedback and log-sensor lines per "<plugin>_<sensor>".
	Logs map[string][]string

	// ResetSensors lists every "<plugin>_<sensor>" reset, in call order.
	ResetSensors []string

	// Images tracks published image payloads per topic.
	Images map[string][]byte

	// Err, when set, is returned by every call.
	Err error
}

// NewMockService creates an empty mock.
func NewMockService() *MockService {
	return &MockService{
		SwitchStates: make(map[string]string),
		BinaryStates: make(map[string]string),
		Progress:     make(map[string]int),
		Activities:   make(map[string]string),
		Logs:         make(map[string][]string),
		Images:       make(map[string][]byte),
	}
}

func (m *MockService) register(kind, uniqueID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Registered = append(m.Registered, kind+":"+uniqueID)
	return nil
}

func (m *MockService) SetupSwitch(_ context.Context, switchID, _ string) error {
	return m.register("switch", switchID)
}

func (m *MockService) SetupSensor(_ context.Context, pluginID, sensorID, _ string) error {
	return m.register("sensor", pluginID+"_"+sensorID)
}

func (m *MockService) SetupProgress(_ context.Context, pluginID, sensorID, _ string) error {
	return m.register("progress", pluginID+"_"+sensorID)
}

func (m *MockService) SetupNumber(_ context.Context, pluginID, numberID, _ string, _, _, _, _ float64, _ string) error {
	return m.register("number", pluginID+"_"+numberID)
}

func (m *MockService) SetupText(_ context.Context, pluginID, textID, _, _ string, _ int) error {
	return m.register("text", pluginID+"_"+textID)
}

func (m *MockService) SetupButton(_ context.Context, pluginID, buttonID, _ string) error {
	return m.register("button", pluginID+"_"+buttonID)
}

func (m *MockService) SetupImage(_ context.Context, pluginID, imageID, _ string) error {
	return m.register("image", pluginID+"_"+imageID)
}

func (m *MockService) SetupServiceStatus(_ context.Context, sensorID, _ string) error {
	return m.register("binary_sensor", AppID+"_"+sensorID)
}

func (m *MockService) SetSwitchState(_ context.Context, switchID, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SwitchStates[switchID] = state
	return nil
}

func (m *MockService) SetBinarySensorState(_ context.Context, sensorID, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.BinaryStates[sensorID] = state
	return nil
}

func (m *MockService) UpdateProgress(_ context.Context, pluginID, sensorID string, percentage int, activity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	key := pluginID + "_" + sensorID
	m.Progress[key] = percentage
	m.Activities[key] = activity
	return nil
}

func (m *MockService) ResetSensor(_ context.Context, pluginID, sensorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	key := pluginID + "_" + sensorID
	m.ResetSensors = append(m.ResetSensors, key)
	m.Logs[key] = nil
	return nil
}

func (m *MockService) PublishImage(_ context.Context, topic string, payload []byte, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Images[topic] = payload
	return nil
}

func (m *MockService) Log(_ context.Context, pluginID, sensorID, message string, reset bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	key := pluginID + "_" + sensorID
	if reset {
		m.Logs[key] = nil
	}
	m.Logs[key] = append(m.Logs[key], message)
	return nil
}

func (m *MockService) Info(ctx context.Context, pluginID, message string) error {
	return m.Log(ctx, pluginID, "feedback", message, false)
}

func (m *MockService) Warning(ctx context.Context, pluginID, message string) error {
	return m.Log(ctx, pluginID, "feedback", "WARNING: "+message, false)
}

func (m *MockService) Error(ctx context.Context, pluginID, message string) error {
	return m.Log(ctx, pluginID, "feedback", "ERROR: "+message, false)
}

func (m *MockService) Success(ctx context.Context, pluginID, message string) error {
	return m.Log(ctx, pluginID, "feedback", "OK: "+message, false)
}

// SwitchState returns the last published state for a switch id.
func (m *MockService) SwitchState(switchID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.SwitchStates[switchID]
}

// BinaryState returns the last published state for a binary sensor id.
func (m *MockService) BinaryState(sensorID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.BinaryStates[sensorID]
}

// ProgressValue returns the last progress percentage and activity published
// for "<plugin>_<sensor>".
func (m *MockService) ProgressValue(key string) (int, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Progress[key], m.Activities[key]
}

// WasReset reports whether the "<plugin>_<sensor>" key was ever reset.
func (m *MockService) WasReset(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range m.ResetSensors {
		if k == key {
			return true
		}
	}
	return false
}

// FeedbackContains reports whether any feedback line for the plugin contains
// the substring.
func (m *MockService) FeedbackContains(pluginID, substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range m.Logs[pluginID+"_feedback"] {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
