package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mealiemate/internal/clock"
	"mealiemate/internal/container"
	"mealiemate/internal/ha"
	"mealiemate/internal/plugin"
)

type declaredPlugin struct {
	id       string
	entities plugin.Entities
}

func (p *declaredPlugin) ID() string                      { return p.id }
func (p *declaredPlugin) Name() string                    { return "Plugin " + p.id }
func (p *declaredPlugin) Description() string             { return "test plugin" }
func (p *declaredPlugin) Execute(_ context.Context) error { return nil }
func (p *declaredPlugin) Entities() plugin.Entities       { return p.entities }

type systemFixture struct {
	service *Service
	status  *ha.MockService
	clock   *clock.MockClock
}

func newSystemFixture(t *testing.T, plugins map[string]plugin.Entities, order []string) *systemFixture {
	t.Helper()

	logger := zap.NewNop()
	c := container.New(logger)
	status := ha.NewMockService()
	clk := clock.NewMockClock(time.Date(2025, 6, 1, 22, 0, 0, 0, time.UTC))

	registry := plugin.NewRegistry(logger)
	for _, id := range order {
		pluginID := id
		entities := plugins[id]
		registry.Register(pluginID, func(_ *container.Container) (plugin.Plugin, error) {
			return &declaredPlugin{id: pluginID, entities: entities}, nil
		})
	}

	manager := plugin.NewManager(registry, c, status, nil, logger)
	return &systemFixture{
		service: NewService(registry, c, manager, status, clk, logger),
		status:  status,
		clock:   clk,
	}
}

func TestSetupEntitiesRegistersDeclaredSurface(t *testing.T) {
	f := newSystemFixture(t, map[string]plugin.Entities{
		"meal_planner": {
			Switch: true,
			Sensors: map[string]plugin.Sensor{
				"feedback": {ID: "feedback", Name: "Feedback"},
				"progress": {ID: "progress", Name: "Progress"},
			},
			Numbers: map[string]plugin.Number{
				"mealplan_length": {ID: "mealplan_length", Name: "Mealplan Length", Value: 7, Min: 1, Max: 30, Step: 1},
			},
			Texts: map[string]plugin.Text{
				"mealplan_message": {ID: "mealplan_message", Name: "Mealplan Message", Text: "hi"},
			},
			Switches: map[string]plugin.ToggleSwitch{
				"dry_run": {ID: "dry_run", Name: "Dry Run"},
			},
			Buttons: map[string]plugin.Button{
				"continue": {ID: "continue", Name: "Continue", Accept: true},
			},
		},
	}, []string{"meal_planner"})

	require.NoError(t, f.service.SetupEntities(context.Background()))

	assert.Contains(t, f.status.Registered, "switch:meal_planner")
	assert.Contains(t, f.status.Registered, "sensor:meal_planner_feedback")
	assert.Contains(t, f.status.Registered, "progress:meal_planner_progress")
	assert.Contains(t, f.status.Registered, "number:meal_planner_mealplan_length")
	assert.Contains(t, f.status.Registered, "text:meal_planner_mealplan_message")
	assert.Contains(t, f.status.Registered, "button:meal_planner_continue")
	assert.Contains(t, f.status.Registered, "switch:meal_planner_dry_run")
	assert.Contains(t, f.status.Registered, "sensor:mealiemate_feedback")
	assert.Contains(t, f.status.Registered, "binary_sensor:mealiemate_status")

	// Progress starts zeroed with no activity.
	assert.Equal(t, 0, f.status.Progress["meal_planner_progress"])
	assert.Equal(t, "", f.status.Activities["meal_planner_progress"])
}

func TestSetupEntitiesFollowsRegistryOrder(t *testing.T) {
	f := newSystemFixture(t, map[string]plugin.Entities{
		"bravo": {Switch: true},
		"alpha": {Switch: true},
	}, []string{"bravo", "alpha"})

	require.NoError(t, f.service.SetupEntities(context.Background()))

	require.Len(t, f.status.Registered, 4)
	assert.Equal(t, "switch:bravo", f.status.Registered[0])
	assert.Equal(t, "switch:alpha", f.status.Registered[1])
	assert.Equal(t, "sensor:mealiemate_feedback", f.status.Registered[2])
	assert.Equal(t, "binary_sensor:mealiemate_status", f.status.Registered[3])
}

func TestSetupEntitiesOnePluginFailureDoesNotAbort(t *testing.T) {
	logger := zap.NewNop()
	c := container.New(logger)
	status := ha.NewMockService()

	registry := plugin.NewRegistry(logger)
	registry.Register("broken", func(_ *container.Container) (plugin.Plugin, error) {
		return nil, errors.New("missing dependency")
	})
	registry.Register("working", func(_ *container.Container) (plugin.Plugin, error) {
		return &declaredPlugin{id: "working", entities: plugin.Entities{Switch: true}}, nil
	})

	manager := plugin.NewManager(registry, c, status, nil, logger)
	service := NewService(registry, c, manager, status, nil, logger)

	require.NoError(t, service.SetupEntities(context.Background()))
	assert.Contains(t, status.Registered, "switch:working")
}

func TestResetSpecialSensorsOnlyDeclared(t *testing.T) {
	f := newSystemFixture(t, map[string]plugin.Entities{
		"recipe_tagger": {
			Switch: true,
			Sensors: map[string]plugin.Sensor{
				"feedback": {ID: "feedback", Name: "Feedback"},
				"progress": {ID: "progress", Name: "Progress"},
			},
		},
		"neapolitan_pizza": {
			Switch: true,
			Sensors: map[string]plugin.Sensor{
				"dough_recipe": {ID: "dough_recipe", Name: "Dough Recipe"},
			},
		},
	}, []string{"recipe_tagger", "neapolitan_pizza"})

	f.service.ResetSpecialSensors(context.Background())

	assert.Contains(t, f.status.ResetSensors, "recipe_tagger_feedback")
	assert.Contains(t, f.status.ResetSensors, "neapolitan_pizza_dough_recipe")
	// Progress is not a special sensor and must survive the sweep.
	assert.NotContains(t, f.status.ResetSensors, "recipe_tagger_progress")
}

func TestHeartbeatRepublishesOnline(t *testing.T) {
	f := newSystemFixture(t, map[string]plugin.Entities{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.service.StartHeartbeat(ctx)

	assert.Eventually(t, func() bool {
		return f.status.BinaryState("mealiemate_status") == ha.StateOn
	}, time.Second, 5*time.Millisecond)

	// Clear and advance an hour: the heartbeat publishes again.
	require.NoError(t, f.status.SetBinarySensorState(ctx, "mealiemate_status", ""))
	f.clock.Advance(time.Hour)

	assert.Eventually(t, func() bool {
		return f.status.BinaryState("mealiemate_status") == ha.StateOn
	}, time.Second, 5*time.Millisecond)

	f.service.StopAll()
}

func TestMidnightResetFiresOnDayChange(t *testing.T) {
	f := newSystemFixture(t, map[string]plugin.Entities{
		"recipe_tagger": {
			Switch: true,
			Sensors: map[string]plugin.Sensor{
				"feedback": {ID: "feedback", Name: "Feedback"},
			},
		},
	}, []string{"recipe_tagger"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.service.StartMidnightReset(ctx)

	// Minutes pass on the same day: nothing resets.
	for i := 0; i < 5; i++ {
		f.clock.Advance(time.Minute)
		time.Sleep(5 * time.Millisecond)
	}
	assert.False(t, f.status.WasReset("recipe_tagger_feedback"))

	// Jump past midnight and let the next poll fire.
	f.clock.Set(time.Date(2025, 6, 2, 0, 0, 30, 0, time.UTC))
	f.clock.Advance(time.Minute)

	assert.Eventually(t, func() bool {
		return f.status.WasReset("recipe_tagger_feedback")
	}, time.Second, 5*time.Millisecond)

	f.service.StopAll()
}
