package app

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mealiemate/internal/bus"
	"mealiemate/internal/clock"
	"mealiemate/internal/config"
	"mealiemate/internal/services/gpt"
	"mealiemate/internal/services/mealie"
)

func newTestApplication(t *testing.T) (*Application, *bus.MockClient, *clock.MockClock) {
	t.Helper()

	cfg := &config.Config{
		MQTTBroker:      "broker.local",
		MQTTPort:        1883,
		DiscoveryPrefix: "homeassistant",
		APIPort:         0,
	}
	busClient := bus.NewMockClient()
	clk := clock.NewMockClock(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))

	a := newApplication(cfg, zap.NewNop(), clk, busClient, nil, map[string]any{
		mealie.ServiceName: mealie.NewMockService(),
		gpt.ServiceName:    gpt.NewMockService(),
	})
	return a, busClient, clk
}

func TestRunLifecycle(t *testing.T) {
	a, busClient, clk := newTestApplication(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
	}()

	statusTopic := "homeassistant/binary_sensor/mealiemate_status/state"
	require.Eventually(t, func() bool {
		last, ok := busClient.LastPayload(statusTopic)
		return ok && last == "ON"
	}, time.Second, 5*time.Millisecond)

	// A retained setting replayed by the broker during the startup drain must
	// be stored before entity setup publishes defaults.
	require.Eventually(t, func() bool {
		busClient.Inject("homeassistant/number/meal_planner_mealplan_length/set", "5")
		return a.manager.GetPluginConfig("meal_planner", "mealplan_length") != nil
	}, time.Second, 5*time.Millisecond)

	// Close the drain window. The drain re-arms its inactivity timer after
	// every consumed message, so keep advancing until setup has run. Entity
	// setup runs after the drain, which is why the published default reflects
	// the retained value instead of the built-in one.
	// The status binary sensor config is the last discovery publish, so its
	// presence means the whole entity surface is up.
	require.Eventually(t, func() bool {
		clk.Advance(drainInactivity)
		return len(busClient.PublishedTo("homeassistant/binary_sensor/mealiemate_status/config")) > 0
	}, time.Second, 5*time.Millisecond)

	configs := busClient.PublishedTo("homeassistant/switch/neapolitan_pizza/config")
	require.NotEmpty(t, configs)
	assert.Contains(t, configs[0], "homeassistant/switch/neapolitan_pizza/set")

	lengthState, ok := busClient.LastPayload("homeassistant/number/meal_planner_mealplan_length/state")
	require.True(t, ok)
	assert.Equal(t, "5", lengthState)

	require.Eventually(t, func() bool {
		last, ok := busClient.LastPayload("homeassistant/sensor/mealiemate_feedback/attributes")
		return ok && strings.Contains(last, "OK: MealieMate service started successfully")
	}, time.Second, 5*time.Millisecond)

	// A live switch command starts the plugin; the pizza plugin completes
	// immediately, so the state flips ON and then back OFF.
	busClient.Inject("homeassistant/switch/neapolitan_pizza/set", "ON")
	require.Eventually(t, func() bool {
		states := busClient.PublishedTo("homeassistant/switch/neapolitan_pizza/state")
		return len(states) >= 2 && states[len(states)-1] == "OFF"
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, busClient.PublishedTo("homeassistant/switch/neapolitan_pizza/state"), "ON")

	cancel()
	require.NoError(t, <-done)

	last, ok := busClient.LastPayload(statusTopic)
	require.True(t, ok)
	assert.Equal(t, "OFF", last)
	assert.False(t, busClient.IsConnected())
}

func TestRunFailsWhenBrokerUnreachable(t *testing.T) {
	a, busClient, _ := newTestApplication(t)

	// The mock refuses a second connect; pre-connecting makes Run's attempt fail.
	require.NoError(t, busClient.Connect(context.Background()))

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker connection failed")
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	a, _, _ := newTestApplication(t)

	for i := 0; i < queueCapacity; i++ {
		a.enqueue(fmt.Sprintf("homeassistant/switch/plugin_%d/set", i), []byte("ON"))
	}
	require.Len(t, a.queue, queueCapacity)

	// One more must be dropped, not block the broker callback.
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.enqueue("homeassistant/switch/overflow/set", []byte("ON"))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
	assert.Len(t, a.queue, queueCapacity)
}

func TestBuiltinFactoriesOrder(t *testing.T) {
	var ids []string
	for _, nf := range BuiltinFactories() {
		ids = append(ids, nf.ID)
	}
	assert.Equal(t, []string{
		"neapolitan_pizza",
		"recipe_tagger",
		"meal_planner",
		"shopping_list_generator",
		"ingredient_merger",
	}, ids)
}
