package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mealiemate/internal/container"
	"mealiemate/internal/ha"
)

// testBehavior is shared across every instance the factory builds, so the
// test can observe settings applied to fresh instances and control Execute.
type testBehavior struct {
	mu       sync.Mutex
	settings map[string]any
	execute  func(ctx context.Context) error
	entities Entities
	resetIDs []string
}

func newTestBehavior() *testBehavior {
	return &testBehavior{
		settings: make(map[string]any),
		execute:  func(_ context.Context) error { return nil },
		entities: Entities{
			Switch: true,
			Sensors: map[string]Sensor{
				"feedback":       {ID: "feedback", Name: "Feedback"},
				ProgressSensorID: {ID: ProgressSensorID, Name: "Progress"},
			},
		},
		resetIDs: []string{"feedback"},
	}
}

func (b *testBehavior) setting(name string) any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings[name]
}

type testPlugin struct {
	behavior *testBehavior
}

func (p *testPlugin) ID() string          { return "test_plugin" }
func (p *testPlugin) Name() string        { return "Test Plugin" }
func (p *testPlugin) Description() string { return "Plugin used by manager tests" }
func (p *testPlugin) Entities() Entities  { return p.behavior.entities }

func (p *testPlugin) Execute(ctx context.Context) error {
	return p.behavior.execute(ctx)
}

func (p *testPlugin) ApplySetting(name string, value any) error {
	if name == "bogus" {
		return ErrUnknownSetting
	}
	p.behavior.mu.Lock()
	defer p.behavior.mu.Unlock()
	p.behavior.settings[name] = value
	return nil
}

func (p *testPlugin) ResetSensorIDs() []string { return p.behavior.resetIDs }

func newTestManager(t *testing.T, behavior *testBehavior, store ConfigStore) (*Manager, *ha.MockService) {
	t.Helper()

	logger := zap.NewNop()
	c := container.New(logger)
	status := ha.NewMockService()

	registry := NewRegistry(logger)
	registry.Register("test_plugin", func(_ *container.Container) (Plugin, error) {
		return &testPlugin{behavior: behavior}, nil
	})

	m := NewManager(registry, c, status, store, logger)
	m.SetStopTimeout(50 * time.Millisecond)
	return m, status
}

func TestStartPluginRunsToCompletion(t *testing.T) {
	behavior := newTestBehavior()
	executed := make(chan struct{})
	behavior.execute = func(_ context.Context) error {
		close(executed)
		return nil
	}
	m, status := newTestManager(t, behavior, nil)

	require.True(t, m.StartPlugin(context.Background(), "test_plugin"))

	select {
	case <-executed:
	case <-time.After(time.Second):
		t.Fatal("plugin never executed")
	}

	assert.Eventually(t, func() bool {
		return !m.IsPluginRunning("test_plugin")
	}, time.Second, 5*time.Millisecond)

	assert.True(t, status.FeedbackContains("test_plugin", "Plugin completed successfully"))
	assert.Equal(t, ha.StateOff, status.SwitchState("test_plugin"))
}

func TestStartPluginTwiceSecondRejected(t *testing.T) {
	behavior := newTestBehavior()
	release := make(chan struct{})
	behavior.execute = func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m, status := newTestManager(t, behavior, nil)
	defer close(release)

	require.True(t, m.StartPlugin(context.Background(), "test_plugin"))
	assert.False(t, m.StartPlugin(context.Background(), "test_plugin"))
	assert.True(t, status.FeedbackContains("test_plugin", "Plugin is already running"))
	assert.Equal(t, []string{"test_plugin"}, m.GetRunningPlugins())
}

func TestStartUnknownPlugin(t *testing.T) {
	m, _ := newTestManager(t, newTestBehavior(), nil)

	assert.False(t, m.StartPlugin(context.Background(), "ghost"))
	assert.False(t, m.IsPluginRunning("ghost"))
}

func TestStopPluginCancelsRun(t *testing.T) {
	behavior := newTestBehavior()
	behavior.execute = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	m, status := newTestManager(t, behavior, nil)

	require.True(t, m.StartPlugin(context.Background(), "test_plugin"))
	require.True(t, m.StopPlugin(context.Background(), "test_plugin"))

	assert.False(t, m.IsPluginRunning("test_plugin"))
	assert.Equal(t, ha.StateOff, status.SwitchState("test_plugin"))
	assert.Eventually(t, func() bool {
		return status.FeedbackContains("test_plugin", "Plugin stopped manually")
	}, time.Second, 5*time.Millisecond)
	// Declared progress sensor is reset to the stopped state.
	percentage, activity := status.ProgressValue("test_plugin_progress")
	assert.Equal(t, 0, percentage)
	assert.Equal(t, "Stopped", activity)
}

func TestStopPluginNotRunning(t *testing.T) {
	m, status := newTestManager(t, newTestBehavior(), nil)

	assert.False(t, m.StopPlugin(context.Background(), "test_plugin"))
	assert.True(t, status.FeedbackContains("test_plugin", "Plugin is not running"))
}

func TestStopPluginTimeoutStillCleansUp(t *testing.T) {
	behavior := newTestBehavior()
	release := make(chan struct{})
	behavior.execute = func(_ context.Context) error {
		// Ignores cancellation until released.
		<-release
		return nil
	}
	m, status := newTestManager(t, behavior, nil)

	require.True(t, m.StartPlugin(context.Background(), "test_plugin"))
	require.True(t, m.StopPlugin(context.Background(), "test_plugin"))

	assert.False(t, m.IsPluginRunning("test_plugin"))
	assert.True(t, status.FeedbackContains("test_plugin", "Plugin timed out during shutdown"))

	// A stubborn run from before must not clobber a later start once it
	// finally unwinds.
	blocked := make(chan struct{})
	behavior.execute = func(ctx context.Context) error {
		<-blocked
		return nil
	}
	require.True(t, m.StartPlugin(context.Background(), "test_plugin"))
	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.True(t, m.IsPluginRunning("test_plugin"))
	close(blocked)
}

func TestPluginErrorReported(t *testing.T) {
	behavior := newTestBehavior()
	behavior.execute = func(_ context.Context) error {
		return errors.New("recipe fetch failed")
	}
	m, status := newTestManager(t, behavior, nil)

	require.True(t, m.StartPlugin(context.Background(), "test_plugin"))

	assert.Eventually(t, func() bool {
		return status.FeedbackContains("test_plugin", "ERROR: Error: recipe fetch failed")
	}, time.Second, 5*time.Millisecond)
	assert.False(t, m.IsPluginRunning("test_plugin"))
	assert.Eventually(t, func() bool {
		return status.SwitchState("test_plugin") == ha.StateOff
	}, time.Second, 5*time.Millisecond)
}

func TestPluginPanicContained(t *testing.T) {
	behavior := newTestBehavior()
	behavior.execute = func(_ context.Context) error {
		panic("index out of range")
	}
	m, status := newTestManager(t, behavior, nil)

	require.True(t, m.StartPlugin(context.Background(), "test_plugin"))

	assert.Eventually(t, func() bool {
		return status.FeedbackContains("test_plugin", "ERROR: Error: index out of range")
	}, time.Second, 5*time.Millisecond)
	assert.False(t, m.IsPluginRunning("test_plugin"))
	assert.Nil(t, m.GetRunningPluginInstance("test_plugin"))
	assert.Eventually(t, func() bool {
		return status.SwitchState("test_plugin") == ha.StateOff
	}, time.Second, 5*time.Millisecond)

	// The manager must still be able to start the plugin afterwards.
	behavior.execute = func(_ context.Context) error { return nil }
	assert.True(t, m.StartPlugin(context.Background(), "test_plugin"))
}

func TestStoreConfigAppliedToFreshInstance(t *testing.T) {
	behavior := newTestBehavior()
	started := make(chan struct{})
	behavior.execute = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	m, _ := newTestManager(t, behavior, nil)

	m.StoreConfig("test_plugin", "mealplan_length", 9)
	require.True(t, m.StartPlugin(context.Background(), "test_plugin"))
	<-started

	assert.Equal(t, 9, behavior.setting("mealplan_length"))
	assert.Equal(t, 9, m.GetPluginConfig("test_plugin", "mealplan_length"))

	m.StopPlugin(context.Background(), "test_plugin")
}

func TestStoreConfigUpdatesLiveInstance(t *testing.T) {
	behavior := newTestBehavior()
	started := make(chan struct{})
	behavior.execute = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	m, _ := newTestManager(t, behavior, nil)

	require.True(t, m.StartPlugin(context.Background(), "test_plugin"))
	<-started

	m.StoreConfig("test_plugin", "dry_run", true)
	assert.Equal(t, true, behavior.setting("dry_run"))

	m.StopPlugin(context.Background(), "test_plugin")
}

func TestUnknownStoredSettingNeverPreventsStart(t *testing.T) {
	behavior := newTestBehavior()
	executed := make(chan struct{})
	behavior.execute = func(_ context.Context) error {
		close(executed)
		return nil
	}
	m, _ := newTestManager(t, behavior, nil)

	m.StoreConfig("test_plugin", "bogus", "whatever")
	require.True(t, m.StartPlugin(context.Background(), "test_plugin"))

	select {
	case <-executed:
	case <-time.After(time.Second):
		t.Fatal("stored unknown setting prevented the plugin from starting")
	}
}

func TestConfigPersistedAcrossManagers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs.json")
	behavior := newTestBehavior()

	m1, _ := newTestManager(t, behavior, NewFileStore(path))
	m1.StoreConfig("test_plugin", "mealplan_length", 5)

	m2, _ := newTestManager(t, behavior, NewFileStore(path))
	assert.Equal(t, float64(5), m2.GetPluginConfig("test_plugin", "mealplan_length"))
}

func TestDeclaredSensorsResetOnStart(t *testing.T) {
	behavior := newTestBehavior()
	started := make(chan struct{})
	behavior.execute = func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
	m, status := newTestManager(t, behavior, nil)

	require.True(t, m.StartPlugin(context.Background(), "test_plugin"))
	<-started

	assert.Contains(t, status.ResetSensors, "test_plugin_feedback")
	m.StopPlugin(context.Background(), "test_plugin")
}

func TestEventHookObservesLifecycle(t *testing.T) {
	behavior := newTestBehavior()
	behavior.execute = func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}

	var mu sync.Mutex
	var events []string
	m, _ := newTestManager(t, behavior, nil)
	m.SetEventHook(func(event, pluginID string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, fmt.Sprintf("%s:%s", event, pluginID))
	})

	require.True(t, m.StartPlugin(context.Background(), "test_plugin"))
	require.True(t, m.StopPlugin(context.Background(), "test_plugin"))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, events, "started:test_plugin")
	assert.Contains(t, events, "stopped:test_plugin")
}
