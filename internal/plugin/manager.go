package plugin

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mealiemate/internal/container"
	"mealiemate/internal/ha"
)

// defaultStopTimeout is how long StopPlugin waits for a cancelled run to
// unwind cooperatively before abandoning it.
const defaultStopTimeout = time.Second

// run tracks one supervised plugin execution.
type run struct {
	id       string
	instance Plugin
	cancel   context.CancelFunc
	done     chan struct{}
}

// Manager owns plugin lifecycle: at most one live run per plugin id, plus the
// per-plugin configuration map persisted across start/stop cycles.
type Manager struct {
	registry  *Registry
	container *container.Container
	status    ha.Service
	logger    *zap.Logger
	store     ConfigStore

	stopTimeout time.Duration

	// eventHook, when set, observes lifecycle transitions. Invoked outside
	// the manager lock; hooks must not call back into the manager.
	eventHook func(event, pluginID string)

	mu        sync.Mutex
	tasks     map[string]*run
	instances map[string]Plugin
	configs   map[string]map[string]any
}

// NewManager creates a plugin manager. The store is optional; nil keeps
// configuration in process memory only.
func NewManager(registry *Registry, c *container.Container, status ha.Service, store ConfigStore, logger *zap.Logger) *Manager {
	m := &Manager{
		registry:    registry,
		container:   c,
		status:      status,
		logger:      logger.Named("manager"),
		store:       store,
		stopTimeout: defaultStopTimeout,
		tasks:       make(map[string]*run),
		instances:   make(map[string]Plugin),
		configs:     make(map[string]map[string]any),
	}

	if store != nil {
		configs, err := store.Load()
		if err != nil {
			m.logger.Warn("Failed to load stored plugin configuration", zap.Error(err))
		} else {
			m.configs = configs
		}
	}
	return m
}

// SetStopTimeout overrides the cooperative-shutdown wait, mainly for tests.
func (m *Manager) SetStopTimeout(d time.Duration) {
	m.stopTimeout = d
}

// SetEventHook installs an observer for lifecycle transitions
// (started, stopped, completed, failed). Call before the first start.
func (m *Manager) SetEventHook(hook func(event, pluginID string)) {
	m.eventHook = hook
}

func (m *Manager) emit(event, pluginID string) {
	if m.eventHook != nil {
		m.eventHook(event, pluginID)
	}
}

// StartPlugin constructs and starts a plugin. Returns false when the plugin
// is already running, unknown, or fails to construct; only the last two are
// reported as errors.
func (m *Manager) StartPlugin(ctx context.Context, pluginID string) bool {
	if m.IsPluginRunning(pluginID) {
		m.logger.Info("Plugin is already running", zap.String("plugin_id", pluginID))
		m.report(ctx, m.status.Info(ctx, pluginID, "Plugin is already running"))
		return false
	}

	m.report(ctx, m.status.Info(ctx, pluginID, "Starting plugin"))

	instance, err := m.registry.Build(pluginID, m.container)
	if err != nil {
		m.logger.Error("Failed to create plugin instance",
			zap.String("plugin_id", pluginID),
			zap.Error(err))
		m.report(ctx, m.status.Error(ctx, pluginID, fmt.Sprintf("Error creating plugin instance: %v", err)))
		return false
	}

	m.ApplyConfig(instance)
	m.resetDeclaredSensors(ctx, instance)

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:       uuid.NewString(),
		instance: instance,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	m.mu.Lock()
	if _, exists := m.tasks[pluginID]; exists {
		// Lost the race against a concurrent start; keep the first run.
		m.mu.Unlock()
		cancel()
		m.logger.Info("Plugin is already running", zap.String("plugin_id", pluginID))
		return false
	}
	m.tasks[pluginID] = r
	m.instances[pluginID] = instance
	m.mu.Unlock()

	m.logger.Debug("Scheduling plugin run",
		zap.String("plugin_id", pluginID),
		zap.String("run_id", r.id))

	go m.supervise(runCtx, pluginID, r)

	m.report(ctx, m.status.SetSwitchState(ctx, pluginID, ha.StateOn))
	m.emit("started", pluginID)
	return true
}

// StopPlugin cancels a running plugin and waits a bounded time for it to
// unwind. Timeout and cancellation both count as a successful stop; the
// running maps are cleaned up regardless.
func (m *Manager) StopPlugin(ctx context.Context, pluginID string) bool {
	m.mu.Lock()
	r, ok := m.tasks[pluginID]
	m.mu.Unlock()

	if !ok {
		m.logger.Info("Plugin is not running", zap.String("plugin_id", pluginID))
		m.report(ctx, m.status.Info(ctx, pluginID, "Plugin is not running"))
		return false
	}

	m.report(ctx, m.status.Info(ctx, pluginID, "Stopping plugin"))

	// The UI must reflect stop intent even before the task unwinds.
	m.report(ctx, m.status.SetSwitchState(ctx, pluginID, ha.StateOff))

	r.cancel()
	select {
	case <-r.done:
	case <-time.After(m.stopTimeout):
		m.report(ctx, m.status.Info(ctx, pluginID, "Plugin timed out during shutdown"))
	}

	// A fresh instance is built solely to read the sensor declarations; the
	// running instance may still be unwinding.
	if instance, err := m.registry.Build(pluginID, m.container); err == nil {
		if instance.Entities().HasProgressSensor() {
			m.report(ctx, m.status.UpdateProgress(ctx, pluginID, ProgressSensorID, 0, "Stopped"))
		}
		m.resetDeclaredSensors(ctx, instance)
	}

	m.remove(pluginID, r)
	m.emit("stopped", pluginID)
	return true
}

// supervise drives the run state machine: it awaits Execute and reports
// completion, cancellation, failure, or panic back over the control surface.
// The deferred cleanup removes the run from both maps in every outcome; that
// is the invariant the whole manager rests on.
func (m *Manager) supervise(runCtx context.Context, pluginID string, r *run) {
	defer close(r.done)

	ctx := context.Background()

	defer func() {
		rec := recover()
		m.remove(pluginID, r)
		if rec != nil {
			m.logger.Error("Plugin panicked",
				zap.String("plugin_id", pluginID),
				zap.String("run_id", r.id),
				zap.Any("panic", rec),
				zap.String("stack", string(debug.Stack())))
			m.report(ctx, m.status.Error(ctx, pluginID, fmt.Sprintf("Error: %v", rec)))
			m.report(ctx, m.status.SetSwitchState(ctx, pluginID, ha.StateOff))
			m.emit("failed", pluginID)
		}
	}()

	err := r.instance.Execute(runCtx)

	switch {
	case err == nil:
		m.report(ctx, m.status.Success(ctx, pluginID, "Plugin completed successfully"))
		m.emit("completed", pluginID)
	case errors.Is(err, context.Canceled):
		m.report(ctx, m.status.Info(ctx, pluginID, "Plugin stopped manually"))
	default:
		m.emit("failed", pluginID)
		m.logger.Error("Plugin failed",
			zap.String("plugin_id", pluginID),
			zap.String("run_id", r.id),
			zap.Error(err))
		m.report(ctx, m.status.Error(ctx, pluginID, fmt.Sprintf("Error: %v", err)))
	}

	m.report(ctx, m.status.SetSwitchState(ctx, pluginID, ha.StateOff))
}

// remove deletes the run from both maps, but only while it is still the
// current run for that id, so a lingering goroutine from an abandoned stop
// can never clobber a later start.
func (m *Manager) remove(pluginID string, r *run) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.tasks[pluginID]; ok && cur == r {
		delete(m.tasks, pluginID)
		delete(m.instances, pluginID)
	}
}

// resetDeclaredSensors invokes the plugin's sensor-reset hook, if declared.
func (m *Manager) resetDeclaredSensors(ctx context.Context, p Plugin) {
	resetter, ok := p.(SensorResetter)
	if !ok {
		return
	}
	for _, sensorID := range resetter.ResetSensorIDs() {
		m.logger.Debug("Resetting sensor",
			zap.String("plugin_id", p.ID()),
			zap.String("sensor_id", sensorID))
		m.report(ctx, m.status.ResetSensor(ctx, p.ID(), sensorID))
	}
}

// StoreConfig writes a setting into the persisted configuration map and, when
// the plugin is running, mutates the live instance so in-flight execution
// observes the new value without a restart.
func (m *Manager) StoreConfig(pluginID, name string, value any) {
	m.mu.Lock()
	cfg, ok := m.configs[pluginID]
	if !ok {
		cfg = make(map[string]any)
		m.configs[pluginID] = cfg
	}
	cfg[name] = value

	var snapshot map[string]map[string]any
	if m.store != nil {
		snapshot = m.snapshotLocked()
	}
	live := m.instances[pluginID]
	m.mu.Unlock()

	m.logger.Debug("Stored plugin config",
		zap.String("plugin_id", pluginID),
		zap.String("setting", name),
		zap.Any("value", value))

	if live != nil {
		m.applySetting(live, pluginID, name, value)
	}

	if m.store != nil {
		if err := m.store.Save(snapshot); err != nil {
			m.logger.Warn("Failed to persist plugin configuration", zap.Error(err))
		}
	}
}

// ApplyConfig replays all stored settings for the plugin onto a freshly
// constructed instance. Unknown settings are warned and skipped; a stored
// setting must never prevent a start.
func (m *Manager) ApplyConfig(p Plugin) {
	m.mu.Lock()
	stored := make(map[string]any, len(m.configs[p.ID()]))
	for k, v := range m.configs[p.ID()] {
		stored[k] = v
	}
	m.mu.Unlock()

	for name, value := range stored {
		m.applySetting(p, p.ID(), name, value)
	}
}

func (m *Manager) applySetting(p Plugin, pluginID, name string, value any) {
	configurable, ok := p.(Configurable)
	if !ok {
		m.logger.Warn("Plugin does not accept settings",
			zap.String("plugin_id", pluginID),
			zap.String("setting", name))
		return
	}

	if err := configurable.ApplySetting(name, value); err != nil {
		if errors.Is(err, ErrUnknownSetting) {
			m.logger.Warn("Plugin has no such setting",
				zap.String("plugin_id", pluginID),
				zap.String("setting", name))
			return
		}
		m.logger.Warn("Failed to apply setting",
			zap.String("plugin_id", pluginID),
			zap.String("setting", name),
			zap.Error(err))
	}
}

// IsPluginRunning reports whether the plugin currently has a live run.
func (m *Manager) IsPluginRunning(pluginID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[pluginID]
	return ok
}

// GetRunningPlugins returns the ids of all currently running plugins.
func (m *Manager) GetRunningPlugins() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		out = append(out, id)
	}
	return out
}

// GetRunningPluginInstance returns the live instance for a plugin id, or nil.
func (m *Manager) GetRunningPluginInstance(pluginID string) Plugin {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instances[pluginID]
}

// GetPluginConfig returns one stored setting, or nil when absent.
func (m *Manager) GetPluginConfig(pluginID, name string) any {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg, ok := m.configs[pluginID]; ok {
		return cfg[name]
	}
	return nil
}

// GetPluginConfigs returns a copy of all stored settings for a plugin.
func (m *Manager) GetPluginConfigs(pluginID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]any, len(m.configs[pluginID]))
	for k, v := range m.configs[pluginID] {
		out[k] = v
	}
	return out
}

func (m *Manager) snapshotLocked() map[string]map[string]any {
	snapshot := make(map[string]map[string]any, len(m.configs))
	for id, cfg := range m.configs {
		copied := make(map[string]any, len(cfg))
		for k, v := range cfg {
			copied[k] = v
		}
		snapshot[id] = copied
	}
	return snapshot
}

// report logs control-surface publish failures; callers degrade gracefully
// rather than propagate them.
func (m *Manager) report(_ context.Context, err error) {
	if err != nil {
		m.logger.Warn("Control surface update failed", zap.Error(err))
	}
}
