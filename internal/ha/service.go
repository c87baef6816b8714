// Package ha publishes Home Assistant MQTT discovery configuration and entity
// state for the control surface every plugin declares, and routes per-plugin
// feedback messages into log sensors.
package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"mealiemate/internal/bus"
)

// ServiceName is the container key for the Home Assistant service.
const ServiceName = "ha.Service"

// AppID identifies the application itself on the control surface.
const AppID = "mealiemate"

// PayloadPress is the sentinel payload Home Assistant sends for button presses.
const PayloadPress = "PRESS"

// Switch state payloads.
const (
	StateOn  = "ON"
	StateOff = "OFF"
)

// Service is the control-surface interface used by the core subsystem.
// Registration calls publish retained discovery payloads; state calls publish
// entity state. Failures are returned for the caller to log and tolerate.
type Service interface {
	SetupSwitch(ctx context.Context, switchID, name string) error
	SetupSensor(ctx context.Context, pluginID, sensorID, name string) error
	SetupProgress(ctx context.Context, pluginID, sensorID, name string) error
	SetupNumber(ctx context.Context, pluginID, numberID, name string, value, min, max, step float64, unit string) error
	SetupText(ctx context.Context, pluginID, textID, name, value string, maxLength int) error
	SetupButton(ctx context.Context, pluginID, buttonID, name string) error
	SetupImage(ctx context.Context, pluginID, imageID, name string) error
	SetupServiceStatus(ctx context.Context, sensorID, name string) error

	SetSwitchState(ctx context.Context, switchID, state string) error
	SetBinarySensorState(ctx context.Context, sensorID, state string) error
	UpdateProgress(ctx context.Context, pluginID, sensorID string, percentage int, activity string) error
	ResetSensor(ctx context.Context, pluginID, sensorID string) error
	PublishImage(ctx context.Context, topic string, payload []byte, retain bool) error

	Log(ctx context.Context, pluginID, sensorID, message string, reset bool) error
	Info(ctx context.Context, pluginID, message string) error
	Warning(ctx context.Context, pluginID, message string) error
	Error(ctx context.Context, pluginID, message string) error
	Success(ctx context.Context, pluginID, message string) error
}

// MQTTService implements Service over the bus client.
type MQTTService struct {
	client bus.Client
	prefix string
	logger *zap.Logger

	// Per-(plugin, sensor) feedback text, mirrored into sensor attributes.
	buffersMu sync.Mutex
	buffers   map[string]string
}

// NewMQTTService creates the Home Assistant service with the given discovery
// prefix (normally "homeassistant").
func NewMQTTService(client bus.Client, prefix string, logger *zap.Logger) *MQTTService {
	return &MQTTService{
		client:  client,
		prefix:  prefix,
		logger:  logger.Named("ha"),
		buffers: make(map[string]string),
	}
}

// deviceInfo groups every entity under one MealieMate device in Home Assistant.
func deviceInfo() Device {
	return Device{
		Identifiers:  []string{AppID},
		Name:         "MealieMate",
		Manufacturer: "MealieMate",
		Model:        "MealieMate",
		SWVersion:    "1.0",
	}
}

func (s *MQTTService) topic(domain, uniqueID, role string) string {
	return fmt.Sprintf("%s/%s/%s/%s", s.prefix, domain, uniqueID, role)
}

// StatusStateTopic returns the topic carrying the application liveness state.
// The application uses it for the connection last-will.
func StatusStateTopic(prefix string) string {
	return fmt.Sprintf("%s/binary_sensor/%s_status/state", prefix, AppID)
}

func (s *MQTTService) publishJSON(ctx context.Context, topic string, payload any, retain bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}
	return s.client.Publish(ctx, topic, data, 1, retain)
}

// SetupSwitch registers a switch entity. The switchID is the full unique id
// (plugin id, or plugin id + aux switch id).
func (s *MQTTService) SetupSwitch(ctx context.Context, switchID, name string) error {
	payload := switchDiscovery{
		Name:         name,
		CommandTopic: s.topic("switch", switchID, "set"),
		StateTopic:   s.topic("switch", switchID, "state"),
		UniqueID:     switchID,
		Device:       deviceInfo(),
		PayloadOn:    StateOn,
		PayloadOff:   StateOff,
		Icon:         "mdi:script-text-outline",
	}

	if err := s.publishJSON(ctx, s.topic("switch", switchID, "config"), payload, true); err != nil {
		return err
	}
	s.logger.Debug("Registered switch", zap.String("switch_id", switchID))
	return nil
}

// SetupSensor registers a timestamp log sensor and initializes its buffer.
func (s *MQTTService) SetupSensor(ctx context.Context, pluginID, sensorID, name string) error {
	uniqueID := pluginID + "_" + sensorID
	payload := sensorDiscovery{
		Name:            name,
		StateTopic:      s.topic("sensor", uniqueID, "state"),
		AttributesTopic: s.topic("sensor", uniqueID, "attributes"),
		UniqueID:        uniqueID,
		DeviceClass:     "timestamp",
		Icon:            "mdi:clipboard-text",
		Device:          deviceInfo(),
	}

	if err := s.publishJSON(ctx, s.topic("sensor", uniqueID, "config"), payload, true); err != nil {
		return err
	}

	s.buffersMu.Lock()
	s.buffers[uniqueID] = ""
	s.buffersMu.Unlock()

	s.logger.Debug("Registered sensor", zap.String("unique_id", uniqueID))
	return nil
}

// SetupProgress registers a percentage progress sensor.
func (s *MQTTService) SetupProgress(ctx context.Context, pluginID, sensorID, name string) error {
	uniqueID := pluginID + "_" + sensorID
	payload := progressDiscovery{
		Name:            name,
		StateTopic:      s.topic("sensor", uniqueID, "state"),
		AttributesTopic: s.topic("sensor", uniqueID, "attributes"),
		UniqueID:        uniqueID,
		UnitOfMeasure:   "%",
		Icon:            "mdi:progress-clock",
		Device:          deviceInfo(),
	}

	if err := s.publishJSON(ctx, s.topic("sensor", uniqueID, "config"), payload, true); err != nil {
		return err
	}
	s.logger.Debug("Registered progress sensor", zap.String("unique_id", uniqueID))
	return nil
}

// SetupNumber registers a number input with bounds and publishes its default.
func (s *MQTTService) SetupNumber(ctx context.Context, pluginID, numberID, name string, value, min, max, step float64, unit string) error {
	uniqueID := pluginID + "_" + numberID
	payload := numberDiscovery{
		Name:          name,
		StateTopic:    s.topic("number", uniqueID, "state"),
		CommandTopic:  s.topic("number", uniqueID, "set"),
		UniqueID:      uniqueID,
		Min:           min,
		Max:           max,
		Step:          step,
		Mode:          "box",
		UnitOfMeasure: unit,
		Retain:        true,
		Icon:          "mdi:numeric",
		Device:        deviceInfo(),
	}

	if err := s.publishJSON(ctx, s.topic("number", uniqueID, "config"), payload, true); err != nil {
		return err
	}
	state := strconv.FormatFloat(value, 'f', -1, 64)
	if err := s.client.Publish(ctx, s.topic("number", uniqueID, "state"), []byte(state), 1, true); err != nil {
		return err
	}
	s.logger.Debug("Registered number", zap.String("unique_id", uniqueID), zap.Float64("value", value))
	return nil
}

// SetupText registers a text input and publishes its default value.
func (s *MQTTService) SetupText(ctx context.Context, pluginID, textID, name, value string, maxLength int) error {
	uniqueID := pluginID + "_" + textID
	if maxLength <= 0 {
		maxLength = 255
	}
	payload := textDiscovery{
		Name:         name,
		StateTopic:   s.topic("text", uniqueID, "state"),
		CommandTopic: s.topic("text", uniqueID, "set"),
		UniqueID:     uniqueID,
		Mode:         "text",
		Max:          maxLength,
		Retain:       true,
		Icon:         "mdi:form-textbox",
		Device:       deviceInfo(),
	}

	if err := s.publishJSON(ctx, s.topic("text", uniqueID, "config"), payload, true); err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.topic("text", uniqueID, "state"), []byte(value), 1, true); err != nil {
		return err
	}
	s.logger.Debug("Registered text", zap.String("unique_id", uniqueID))
	return nil
}

// SetupButton registers a button entity.
func (s *MQTTService) SetupButton(ctx context.Context, pluginID, buttonID, name string) error {
	uniqueID := pluginID + "_" + buttonID
	payload := buttonDiscovery{
		Name:         name,
		CommandTopic: s.topic("button", uniqueID, "command"),
		UniqueID:     uniqueID,
		PayloadPress: PayloadPress,
		Icon:         "mdi:gesture-tap-button",
		Device:       deviceInfo(),
	}

	if err := s.publishJSON(ctx, s.topic("button", uniqueID, "config"), payload, true); err != nil {
		return err
	}
	s.logger.Debug("Registered button", zap.String("unique_id", uniqueID))
	return nil
}

// SetupImage registers an image entity whose bytes are published separately.
func (s *MQTTService) SetupImage(ctx context.Context, pluginID, imageID, name string) error {
	uniqueID := pluginID + "_" + imageID
	payload := imageDiscovery{
		Name:        name,
		ImageTopic:  s.topic("image", uniqueID, "state"),
		UniqueID:    uniqueID,
		ContentType: "image/png",
		Icon:        "mdi:image",
		Device:      deviceInfo(),
	}

	if err := s.publishJSON(ctx, s.topic("image", uniqueID, "config"), payload, true); err != nil {
		return err
	}
	s.logger.Debug("Registered image", zap.String("unique_id", uniqueID))
	return nil
}

// SetupServiceStatus registers the application-level liveness binary sensor.
func (s *MQTTService) SetupServiceStatus(ctx context.Context, sensorID, name string) error {
	uniqueID := AppID + "_" + sensorID
	payload := binarySensorDiscovery{
		Name:        name,
		StateTopic:  s.topic("binary_sensor", uniqueID, "state"),
		UniqueID:    uniqueID,
		PayloadOn:   StateOn,
		PayloadOff:  StateOff,
		DeviceClass: "running",
		Icon:        "mdi:check-circle-outline",
		Device:      deviceInfo(),
	}

	if err := s.publishJSON(ctx, s.topic("binary_sensor", uniqueID, "config"), payload, true); err != nil {
		return err
	}
	s.logger.Debug("Registered service status", zap.String("unique_id", uniqueID))
	return nil
}

// SetSwitchState publishes a switch state (ON/OFF).
func (s *MQTTService) SetSwitchState(ctx context.Context, switchID, state string) error {
	return s.client.Publish(ctx, s.topic("switch", switchID, "state"), []byte(state), 1, true)
}

// SetBinarySensorState publishes a binary sensor state (ON/OFF).
func (s *MQTTService) SetBinarySensorState(ctx context.Context, sensorID, state string) error {
	return s.client.Publish(ctx, s.topic("binary_sensor", sensorID, "state"), []byte(state), 1, true)
}

// UpdateProgress publishes a progress percentage and current activity.
func (s *MQTTService) UpdateProgress(ctx context.Context, pluginID, sensorID string, percentage int, activity string) error {
	uniqueID := pluginID + "_" + sensorID
	state := strconv.Itoa(percentage)
	if err := s.client.Publish(ctx, s.topic("sensor", uniqueID, "state"), []byte(state), 1, true); err != nil {
		return err
	}
	return s.publishJSON(ctx, s.topic("sensor", uniqueID, "attributes"), progressAttributes{Activity: activity}, true)
}

// ResetSensor clears a log sensor's buffer and attribute text.
func (s *MQTTService) ResetSensor(ctx context.Context, pluginID, sensorID string) error {
	uniqueID := pluginID + "_" + sensorID

	s.buffersMu.Lock()
	s.buffers[uniqueID] = ""
	s.buffersMu.Unlock()

	return s.publishJSON(ctx, s.topic("sensor", uniqueID, "attributes"), sensorAttributes{FullText: ""}, true)
}

// PublishImage publishes raw image bytes to an image entity topic.
func (s *MQTTService) PublishImage(ctx context.Context, topic string, payload []byte, retain bool) error {
	return s.client.Publish(ctx, topic, payload, 0, retain)
}

// Log appends a message to a plugin's log sensor. The sensor state is the
// publication timestamp and the accumulated text rides in an attribute.
func (s *MQTTService) Log(ctx context.Context, pluginID, sensorID, message string, reset bool) error {
	uniqueID := pluginID + "_" + sensorID

	s.buffersMu.Lock()
	buf, ok := s.buffers[uniqueID]
	if !ok {
		s.buffersMu.Unlock()
		s.logger.Warn("Attempted to log to uninitialized sensor", zap.String("unique_id", uniqueID))
		return fmt.Errorf("sensor %s not initialized", uniqueID)
	}
	if reset {
		buf = ""
	}
	buf += message + "\n"
	s.buffers[uniqueID] = buf
	s.buffersMu.Unlock()

	state := time.Now().UTC().Format(time.RFC3339)
	if err := s.client.Publish(ctx, s.topic("sensor", uniqueID, "state"), []byte(state), 1, true); err != nil {
		return err
	}
	return s.publishJSON(ctx, s.topic("sensor", uniqueID, "attributes"), sensorAttributes{FullText: buf}, true)
}

// feedback writes to the plugin's feedback sensor, falling back to local
// logging when the sensor is not registered.
func (s *MQTTService) feedback(ctx context.Context, pluginID, prefix, message string) error {
	s.logger.Info(message, zap.String("plugin_id", pluginID))
	if err := s.Log(ctx, pluginID, "feedback", prefix+message, false); err != nil {
		return err
	}
	return nil
}

// Info reports an informational message on the plugin's feedback sensor.
func (s *MQTTService) Info(ctx context.Context, pluginID, message string) error {
	return s.feedback(ctx, pluginID, "", message)
}

// Warning reports a warning on the plugin's feedback sensor.
func (s *MQTTService) Warning(ctx context.Context, pluginID, message string) error {
	s.logger.Warn(message, zap.String("plugin_id", pluginID))
	return s.Log(ctx, pluginID, "feedback", "WARNING: "+message, false)
}

// Error reports an error on the plugin's feedback sensor.
func (s *MQTTService) Error(ctx context.Context, pluginID, message string) error {
	s.logger.Error(message, zap.String("plugin_id", pluginID))
	return s.Log(ctx, pluginID, "feedback", "ERROR: "+message, false)
}

// Success reports successful completion on the plugin's feedback sensor.
func (s *MQTTService) Success(ctx context.Context, pluginID, message string) error {
	return s.feedback(ctx, pluginID, "OK: ", message)
}
