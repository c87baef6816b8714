package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"mealiemate/internal/container"
	"mealiemate/internal/ha"
	"mealiemate/internal/plugin"
)

// Dispatcher decodes inbound control messages and routes them to the plugin
// manager (start/stop, configuration updates) or to a running plugin's
// decision gate (button presses). It never raises to its caller: every branch
// ends in a side effect or a logged warning.
type Dispatcher struct {
	registry  *plugin.Registry
	container *container.Container
	manager   *plugin.Manager
	status    ha.Service
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(registry *plugin.Registry, c *container.Container, manager *plugin.Manager, status ha.Service, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		registry:  registry,
		container: c,
		manager:   manager,
		status:    status,
		logger:    logger.Named("dispatch"),
	}
}

// resolve finds which plugin a raw identifier targets. Plugin ids are matched
// as prefixes in registry order; when one registered id is a prefix of
// another, the first-registered one wins. The remainder after the id and its
// separator is the entity id; empty means the plugin's main switch.
func (d *Dispatcher) resolve(rawID string) (pluginID, entityID string, ok bool) {
	for _, candidate := range d.registry.IDs() {
		if !hasPrefix(rawID, candidate) {
			continue
		}
		entityID = ""
		if len(rawID) > len(candidate)+1 {
			entityID = rawID[len(candidate)+1:]
		}
		return candidate, entityID, true
	}
	return "", "", false
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// ProcessMessage handles one inbound control message. Errors are contained:
// unknown targets and bad payloads are reported and dropped, never propagated.
func (d *Dispatcher) ProcessMessage(ctx context.Context, topic, payload string) {
	ref, err := ParseTopic(topic)
	if err != nil {
		d.logger.Warn("Ignoring unparseable control topic",
			zap.String("topic", topic),
			zap.Error(err))
		return
	}

	pluginID, entityID, ok := d.resolve(ref.RawID)
	if !ok {
		d.logger.Warn("Unknown plugin id in control message", zap.String("raw_id", ref.RawID))
		d.report(d.status.Warning(ctx, ha.AppID, "Unknown plugin ID in message: "+ref.RawID))
		return
	}

	switch ref.Domain {
	case DomainSwitch:
		d.handleSwitch(ctx, pluginID, entityID, payload)
	case DomainNumber:
		d.handleNumber(ctx, pluginID, entityID, payload)
	case DomainText:
		d.handleText(ctx, pluginID, entityID, payload)
	case DomainButton:
		if payload == ha.PayloadPress {
			d.handleButton(ctx, pluginID, entityID)
		} else {
			d.report(d.status.Warning(ctx, pluginID, "Unknown command: "+payload))
		}
	}
}

// handleSwitch starts or stops the plugin for its main switch, or persists an
// auxiliary configuration switch.
func (d *Dispatcher) handleSwitch(ctx context.Context, pluginID, entityID, payload string) {
	if entityID == "" {
		switch payload {
		case ha.StateOn:
			d.manager.StartPlugin(ctx, pluginID)
		case ha.StateOff:
			d.manager.StopPlugin(ctx, pluginID)
		default:
			d.report(d.status.Warning(ctx, pluginID, "Unknown switch payload: "+payload))
		}
		return
	}

	instance, err := d.registry.Build(pluginID, d.container)
	if err != nil {
		d.logger.Error("Failed to build plugin for switch update",
			zap.String("plugin_id", pluginID),
			zap.Error(err))
		d.report(d.status.Error(ctx, pluginID, fmt.Sprintf("Error handling switch command: %v", err)))
		return
	}

	for switchID := range instance.Entities().Switches {
		if switchID != entityID {
			continue
		}
		value := payload == ha.StateOn
		d.manager.StoreConfig(pluginID, switchID, value)
		d.report(d.status.SetSwitchState(ctx, pluginID+"_"+entityID, payload))
		d.report(d.status.Info(ctx, pluginID, fmt.Sprintf("Updated switch %s to %s", entityID, payload)))
		return
	}

	d.report(d.status.Warning(ctx, pluginID, "Unknown switch: "+entityID))
}

// handleNumber parses the payload according to the declared number type and
// persists it. Parse failures are reported but never fatal.
func (d *Dispatcher) handleNumber(ctx context.Context, pluginID, entityID, payload string) {
	instance, err := d.registry.Build(pluginID, d.container)
	if err != nil {
		d.logger.Error("Failed to build plugin for number update",
			zap.String("plugin_id", pluginID),
			zap.Error(err))
		d.report(d.status.Error(ctx, pluginID, fmt.Sprintf("Error handling number update: %v", err)))
		return
	}

	number, ok := instance.Entities().Numbers[entityID]
	if !ok {
		d.logger.Warn("Unknown number entity",
			zap.String("plugin_id", pluginID),
			zap.String("entity_id", entityID))
		d.report(d.status.Warning(ctx, pluginID, "Unknown number entity: "+entityID))
		return
	}

	var value any
	if number.Float {
		f, err := strconv.ParseFloat(payload, 64)
		if err != nil {
			d.report(d.status.Error(ctx, pluginID, "Invalid number value received: "+payload))
			return
		}
		value = f
	} else {
		n, err := strconv.Atoi(payload)
		if err != nil {
			d.report(d.status.Error(ctx, pluginID, "Invalid number value received: "+payload))
			return
		}
		value = n
	}

	d.manager.StoreConfig(pluginID, entityID, value)
	d.report(d.status.Info(ctx, pluginID, fmt.Sprintf("Updated number %s to %v", entityID, value)))
}

// handleText persists the raw payload. Only the log echo is truncated; the
// stored value is kept whole.
func (d *Dispatcher) handleText(ctx context.Context, pluginID, entityID, payload string) {
	instance, err := d.registry.Build(pluginID, d.container)
	if err != nil {
		d.logger.Error("Failed to build plugin for text update",
			zap.String("plugin_id", pluginID),
			zap.Error(err))
		d.report(d.status.Error(ctx, pluginID, fmt.Sprintf("Error handling text update: %v", err)))
		return
	}

	if _, ok := instance.Entities().Texts[entityID]; !ok {
		d.logger.Warn("Unknown text entity",
			zap.String("plugin_id", pluginID),
			zap.String("entity_id", entityID))
		d.report(d.status.Warning(ctx, pluginID, "Unknown text entity: "+entityID))
		return
	}

	d.manager.StoreConfig(pluginID, entityID, payload)

	echo := payload
	if len(echo) > 30 {
		echo = echo[:30] + "..."
	}
	d.report(d.status.Info(ctx, pluginID, fmt.Sprintf("Updated text %s to: %s", entityID, echo)))
}

// handleButton routes a press to the RUNNING instance's decision gate.
// Presses against a stopped plugin are a no-op, not an error.
func (d *Dispatcher) handleButton(ctx context.Context, pluginID, entityID string) {
	d.logger.Info("Button press received",
		zap.String("plugin_id", pluginID),
		zap.String("entity_id", entityID))
	d.report(d.status.Info(ctx, pluginID, fmt.Sprintf("Button %s pressed", entityID)))

	running := d.manager.GetRunningPluginInstance(pluginID)
	if running == nil {
		d.logger.Warn("Button press for plugin that is not running",
			zap.String("plugin_id", pluginID),
			zap.String("entity_id", entityID))
		return
	}

	button, ok := running.Entities().Buttons[entityID]
	if !ok {
		d.report(d.status.Warning(ctx, pluginID, "Unknown button: "+entityID))
		return
	}

	receiver, ok := running.(plugin.DecisionReceiver)
	if !ok {
		d.logger.Warn("Plugin declares buttons but accepts no decisions",
			zap.String("plugin_id", pluginID))
		return
	}

	if !receiver.Decisions().Submit(plugin.Decision{Accepted: button.Accept}) {
		d.logger.Warn("No pending decision for button press",
			zap.String("plugin_id", pluginID),
			zap.String("entity_id", entityID))
	}
}

func (d *Dispatcher) report(err error) {
	if err != nil {
		d.logger.Warn("Control surface update failed", zap.Error(err))
	}
}
