// Package system owns cross-cutting lifecycle tasks: entity registration for
// every plugin's control surface, transient sensor resets, the liveness
// heartbeat, and the daily midnight reset sweep.
package system

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mealiemate/internal/clock"
	"mealiemate/internal/container"
	"mealiemate/internal/ha"
	"mealiemate/internal/plugin"
)

// Sensors holding transient per-run output that should not survive into the
// next day or the next run.
var specialSensorIDs = []string{"feedback", "dough_recipe", "current_suggestion"}

const (
	heartbeatInterval = time.Hour
	midnightPoll      = time.Minute
	errorBackoff      = time.Minute
)

// Service performs system-level tasks on behalf of all plugins.
type Service struct {
	registry  *plugin.Registry
	container *container.Container
	manager   *plugin.Manager
	status    ha.Service
	clock     clock.Clock
	logger    *zap.Logger

	mu      sync.Mutex
	cancels []context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates the system service. A nil clk defaults to the real clock.
func NewService(registry *plugin.Registry, c *container.Container, manager *plugin.Manager, status ha.Service, clk clock.Clock, logger *zap.Logger) *Service {
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return &Service{
		registry:  registry,
		container: c,
		manager:   manager,
		status:    status,
		clock:     clk,
		logger:    logger.Named("system"),
	}
}

// SetupEntities registers the full declared control surface of every plugin
// with the discovery layer, in registry order, then the global service status
// indicator. Stored configuration is applied to each transient instance first
// so the published defaults reflect the latest known values after a restart.
// A failure for one plugin never aborts setup for the others.
func (s *Service) SetupEntities(ctx context.Context) error {
	s.logger.Info("Setting up Home Assistant entities")

	for _, pluginID := range s.registry.IDs() {
		if err := s.setupPluginEntities(ctx, pluginID); err != nil {
			s.logger.Error("Failed to set up entities for plugin",
				zap.String("plugin_id", pluginID),
				zap.Error(err))
		}
	}

	// The application reports its own startup, shutdown, and unknown-command
	// feedback on a log sensor of its own.
	if err := s.status.SetupSensor(ctx, ha.AppID, "feedback", "MealieMate Feedback"); err != nil {
		s.logger.Error("Failed to set up service feedback sensor", zap.Error(err))
	}

	if err := s.status.SetupServiceStatus(ctx, "status", "MealieMate Status"); err != nil {
		s.logger.Error("Failed to set up service status entity", zap.Error(err))
	}

	s.logger.Info("Entity setup complete")
	return nil
}

func (s *Service) setupPluginEntities(ctx context.Context, pluginID string) error {
	instance, err := s.registry.Build(pluginID, s.container)
	if err != nil {
		return err
	}

	// Stored settings shape the defaults published below.
	s.manager.ApplyConfig(instance)

	entities := instance.Entities()

	if entities.Switch {
		s.report(s.status.SetupSwitch(ctx, instance.ID(), instance.Name()))
	}

	for sensorID, sensor := range entities.Sensors {
		if sensorID == plugin.ProgressSensorID {
			s.report(s.status.SetupProgress(ctx, instance.ID(), sensor.ID, sensor.Name))
			s.report(s.status.UpdateProgress(ctx, instance.ID(), sensor.ID, 0, ""))
			continue
		}
		s.report(s.status.SetupSensor(ctx, instance.ID(), sensor.ID, sensor.Name))
	}

	for _, number := range entities.Numbers {
		s.report(s.status.SetupNumber(ctx, instance.ID(), number.ID, number.Name,
			number.Value, number.Min, number.Max, number.Step, number.Unit))
	}

	for _, text := range entities.Texts {
		s.report(s.status.SetupText(ctx, instance.ID(), text.ID, text.Name, text.Text, 0))
	}

	for _, button := range entities.Buttons {
		s.report(s.status.SetupButton(ctx, instance.ID(), button.ID, button.Name))
	}

	for _, aux := range entities.Switches {
		s.report(s.status.SetupSwitch(ctx, instance.ID()+"_"+aux.ID, aux.Name))
	}

	for _, image := range entities.Images {
		s.report(s.status.SetupImage(ctx, instance.ID(), image.ID, image.Name))
	}

	s.logger.Debug("Set up entities for plugin", zap.String("plugin_id", pluginID))
	return nil
}

// ResetSpecialSensors clears transient display sensors for every plugin that
// declares one. Progress sensors are left alone.
func (s *Service) ResetSpecialSensors(ctx context.Context) {
	for _, pluginID := range s.registry.IDs() {
		instance, err := s.registry.Build(pluginID, s.container)
		if err != nil {
			s.logger.Error("Failed to build plugin for sensor reset",
				zap.String("plugin_id", pluginID),
				zap.Error(err))
			continue
		}

		entities := instance.Entities()
		for _, sensorID := range specialSensorIDs {
			if _, ok := entities.Sensors[sensorID]; ok {
				s.logger.Debug("Resetting sensor",
					zap.String("plugin_id", pluginID),
					zap.String("sensor_id", sensorID))
				s.report(s.status.ResetSensor(ctx, pluginID, sensorID))
			}
		}
	}
}

// StartHeartbeat launches the hourly liveness heartbeat. Errors back off and
// retry; the heartbeat only terminates on cancellation.
func (s *Service) StartHeartbeat(ctx context.Context) {
	s.launch(ctx, s.runHeartbeat)
}

func (s *Service) runHeartbeat(ctx context.Context) {
	for {
		interval := heartbeatInterval
		if err := s.status.SetBinarySensorState(ctx, ha.AppID+"_status", ha.StateOn); err != nil {
			s.logger.Error("Failed to send status heartbeat", zap.Error(err))
			interval = errorBackoff
		} else {
			s.logger.Debug("Sent status heartbeat")
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Heartbeat task cancelled")
			return
		case <-s.clock.After(interval):
		}
	}
}

// StartMidnightReset launches the daily reset sweep. The wall clock is polled
// once per minute; when the calendar day rolls over, special sensors are
// reset. Errors back off and continue.
func (s *Service) StartMidnightReset(ctx context.Context) {
	s.launch(ctx, s.runMidnightReset)
}

func (s *Service) runMidnightReset(ctx context.Context) {
	lastResetDay := s.clock.Now().Day()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Midnight reset task cancelled")
			return
		case <-s.clock.After(midnightPoll):
		}

		now := s.clock.Now()
		if now.Day() == lastResetDay {
			continue
		}

		s.logger.Info("Midnight detected, resetting special sensors")
		s.report(s.status.Info(ctx, ha.AppID, "Midnight detected, resetting special sensors"))
		s.ResetSpecialSensors(ctx)
		lastResetDay = now.Day()
	}
}

// launch runs fn as a tracked background task cancellable via StopAll.
func (s *Service) launch(ctx context.Context, fn func(context.Context)) {
	taskCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(taskCtx)
	}()
}

// StopAll cancels and awaits every background task this service started.
func (s *Service) StopAll() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.wg.Wait()
}

func (s *Service) report(err error) {
	if err != nil {
		s.logger.Warn("Control surface update failed", zap.Error(err))
	}
}
