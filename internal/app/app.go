// Package app is the composition root: it wires the container, registry,
// manager, dispatcher, and system service together, owns the MQTT connection
// lifecycle, and runs the single-threaded control message loop.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mealiemate/internal/api"
	"mealiemate/internal/bus"
	"mealiemate/internal/clock"
	"mealiemate/internal/config"
	"mealiemate/internal/container"
	"mealiemate/internal/dispatch"
	"mealiemate/internal/ha"
	"mealiemate/internal/plugin"
	"mealiemate/internal/plugins/ingredientmerger"
	"mealiemate/internal/plugins/mealplanner"
	"mealiemate/internal/plugins/pizza"
	"mealiemate/internal/plugins/recipetagger"
	"mealiemate/internal/plugins/shoppinglist"
	"mealiemate/internal/system"
)

// queueCapacity bounds the inbound control message queue. The dispatcher is
// fast; a burst beyond this means something is replaying a topic tree at us.
const queueCapacity = 64

// drainCap hard-limits how many retained messages the startup drain will
// process even if the broker keeps delivering.
const drainCap = 200

// drainInactivity is how long the startup drain waits for another retained
// message before declaring the backlog empty.
const drainInactivity = 5 * time.Second

// message is one inbound control message.
type message struct {
	topic   string
	payload string
}

// Application owns the wired system and its run loop.
type Application struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  clock.Clock

	bus        bus.Client
	status     ha.Service
	container  *container.Container
	registry   *plugin.Registry
	manager    *plugin.Manager
	system     *system.Service
	dispatcher *dispatch.Dispatcher
	api        *api.Server

	queue chan message
}

// BuiltinFactories lists the plugins shipped with the application, in the
// order they register (which is also entity-setup and dispatch-match order).
func BuiltinFactories() []plugin.NamedFactory {
	return []plugin.NamedFactory{
		{ID: pizza.PluginID, Factory: pizza.Factory},
		{ID: recipetagger.PluginID, Factory: recipetagger.Factory},
		{ID: mealplanner.PluginID, Factory: mealplanner.Factory},
		{ID: shoppinglist.PluginID, Factory: shoppinglist.Factory},
		{ID: ingredientmerger.PluginID, Factory: ingredientmerger.Factory},
	}
}

// New wires a production application from configuration.
func New(cfg *config.Config, logger *zap.Logger) *Application {
	will := &bus.Will{
		Topic:   ha.StatusStateTopic(cfg.DiscoveryPrefix),
		Payload: ha.StateOff,
		QoS:     1,
		Retain:  true,
	}
	busClient := bus.NewPahoClient(cfg.BrokerAddr(), ha.AppID, will, logger)

	var store plugin.ConfigStore
	if cfg.ConfigFile != "" {
		store = plugin.NewFileStore(cfg.ConfigFile)
	}

	return newApplication(cfg, logger, clock.NewRealClock(), busClient, store, nil)
}

// newApplication finishes wiring around an injectable transport and clock so
// tests can run the whole application against the mock bus.
func newApplication(cfg *config.Config, logger *zap.Logger, clk clock.Clock, busClient bus.Client, store plugin.ConfigStore, services map[string]any) *Application {
	a := &Application{
		cfg:    cfg,
		logger: logger.Named("app"),
		clock:  clk,
		bus:    busClient,
		queue:  make(chan message, queueCapacity),
	}

	a.status = ha.NewMQTTService(busClient, cfg.DiscoveryPrefix, logger)

	a.container = container.New(logger)
	a.container.Register(container.LoggerName, logger)
	a.container.Register(container.ClockName, clk)
	a.container.Register(ha.ServiceName, a.status)
	for name, svc := range services {
		a.container.Register(name, svc)
	}

	a.registry = plugin.NewRegistry(logger)
	a.registry.Discover(BuiltinFactories())

	a.manager = plugin.NewManager(a.registry, a.container, a.status, store, logger)
	a.system = system.NewService(a.registry, a.container, a.manager, a.status, clk, logger)
	a.dispatcher = dispatch.NewDispatcher(a.registry, a.container, a.manager, a.status, logger)

	if cfg.APIPort > 0 {
		a.api = api.NewServer(a.registry, a.container, a.manager, logger, cfg.APIPort)
		a.manager.SetEventHook(a.api.Publish)
	}

	return a
}

// RegisterService adds an external service implementation to the container.
// Call before Run.
func (a *Application) RegisterService(name string, svc any) {
	a.container.Register(name, svc)
}

// Run starts the application and blocks until ctx is cancelled, then performs
// the graceful shutdown sequence. A failed broker connection is fatal.
func (a *Application) Run(ctx context.Context) error {
	a.logger.Info("Starting MealieMate")

	if err := a.bus.Connect(ctx); err != nil {
		return fmt.Errorf("broker connection failed: %w", err)
	}

	// Announce liveness first so the binary sensor flips even if the rest of
	// startup fails.
	if err := a.status.SetBinarySensorState(ctx, ha.AppID+"_status", ha.StateOn); err != nil {
		a.logger.Warn("Failed to publish online status", zap.Error(err))
	}

	if err := a.subscribeControlTopics(); err != nil {
		return err
	}

	// Retained control messages carry the user's persisted choices. They must
	// be replayed before entity setup so the defaults published there do not
	// overwrite them.
	a.drainRetained(ctx)

	if err := a.system.SetupEntities(ctx); err != nil {
		return fmt.Errorf("entity setup failed: %w", err)
	}

	a.logger.Debug("Resetting special sensors on service startup")
	a.system.ResetSpecialSensors(ctx)

	go a.processMessages(ctx)
	a.system.StartHeartbeat(ctx)
	a.system.StartMidnightReset(ctx)

	if a.api != nil {
		if err := a.api.Start(); err != nil {
			a.logger.Warn("Failed to start API server", zap.Error(err))
		}
	}

	if err := a.status.Success(ctx, ha.AppID, "MealieMate service started successfully"); err != nil {
		a.logger.Warn("Failed to report startup", zap.Error(err))
	}
	a.logger.Info("MealieMate started")

	<-ctx.Done()
	a.shutdown()
	return nil
}

// subscribeControlTopics registers the four command topic filters. The
// handler only enqueues; all processing happens on the processor goroutine so
// messages are handled strictly one at a time.
func (a *Application) subscribeControlTopics() error {
	filters := []string{
		a.cfg.DiscoveryPrefix + "/switch/+/set",
		a.cfg.DiscoveryPrefix + "/number/+/set",
		a.cfg.DiscoveryPrefix + "/text/+/set",
		a.cfg.DiscoveryPrefix + "/button/+/command",
	}

	for _, filter := range filters {
		if err := a.bus.Subscribe(filter, a.enqueue); err != nil {
			return fmt.Errorf("subscribe %s: %w", filter, err)
		}
	}
	return nil
}

func (a *Application) enqueue(topic string, payload []byte) {
	select {
	case a.queue <- message{topic: topic, payload: string(payload)}:
	default:
		a.logger.Warn("Control message queue full, dropping message",
			zap.String("topic", topic))
	}
}

// drainRetained replays retained control messages through the dispatcher
// until the broker goes quiet for the inactivity window or the hard cap is
// reached.
func (a *Application) drainRetained(ctx context.Context) {
	drained := 0
	for drained < drainCap {
		select {
		case <-ctx.Done():
			return
		case msg := <-a.queue:
			a.dispatcher.ProcessMessage(ctx, msg.topic, msg.payload)
			drained++
		case <-a.clock.After(drainInactivity):
			a.logger.Info("Retained message drain complete", zap.Int("drained", drained))
			return
		}
	}
	a.logger.Warn("Retained message drain hit hard cap", zap.Int("drained", drained))
}

// processMessages is the single consumer of the control queue.
func (a *Application) processMessages(ctx context.Context) {
	a.logger.Info("Control message processor started")
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Control message processor stopped")
			return
		case msg := <-a.queue:
			a.dispatcher.ProcessMessage(ctx, msg.topic, msg.payload)
		}
	}
}

// shutdown stops running plugins, announces offline, and tears down the
// background loops and connections.
func (a *Application) shutdown() {
	a.logger.Info("Starting graceful shutdown")
	ctx := context.Background()

	if err := a.status.Info(ctx, ha.AppID, "Starting graceful shutdown"); err != nil {
		a.logger.Warn("Failed to report shutdown", zap.Error(err))
	}

	for _, pluginID := range a.manager.GetRunningPlugins() {
		a.logger.Info("Stopping running plugin", zap.String("plugin_id", pluginID))
		a.manager.StopPlugin(ctx, pluginID)
	}

	a.system.StopAll()

	if err := a.status.SetBinarySensorState(ctx, ha.AppID+"_status", ha.StateOff); err != nil {
		a.logger.Warn("Failed to publish offline status", zap.Error(err))
	}

	if a.api != nil {
		if err := a.api.Stop(); err != nil {
			a.logger.Warn("Failed to stop API server", zap.Error(err))
		}
	}

	a.bus.Disconnect()
	a.logger.Info("Shutdown complete")
}
