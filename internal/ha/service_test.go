package ha

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mealiemate/internal/bus"
)

func newService(t *testing.T) (*MQTTService, *bus.MockClient) {
	t.Helper()
	client := bus.NewMockClient()
	return NewMQTTService(client, "homeassistant", zap.NewNop()), client
}

func TestSetupSwitchPublishesRetainedDiscovery(t *testing.T) {
	s, client := newService(t)

	require.NoError(t, s.SetupSwitch(context.Background(), "meal_planner", "Meal Planner"))

	published := client.Published()
	require.Len(t, published, 1)
	msg := published[0]
	assert.Equal(t, "homeassistant/switch/meal_planner/config", msg.Topic)
	assert.True(t, msg.Retain)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &payload))
	assert.Equal(t, "Meal Planner", payload["name"])
	assert.Equal(t, "homeassistant/switch/meal_planner/set", payload["command_topic"])
	assert.Equal(t, "homeassistant/switch/meal_planner/state", payload["state_topic"])
	assert.Equal(t, "meal_planner", payload["unique_id"])
	assert.Equal(t, StateOn, payload["payload_on"])
	assert.Equal(t, StateOff, payload["payload_off"])
}

func TestSetupNumberPublishesConfigAndDefault(t *testing.T) {
	s, client := newService(t)

	require.NoError(t, s.SetupNumber(context.Background(),
		"shopping_list_generator", "list_length", "List Length", 8, 1, 30, 1, ""))

	var payload map[string]any
	config, ok := client.LastPayload("homeassistant/number/shopping_list_generator_list_length/config")
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(config), &payload))
	assert.Equal(t, float64(1), payload["min"])
	assert.Equal(t, float64(30), payload["max"])
	assert.Equal(t, "box", payload["mode"])

	state, ok := client.LastPayload("homeassistant/number/shopping_list_generator_list_length/state")
	require.True(t, ok)
	assert.Equal(t, "8", state)
}

func TestSetupTextDefaultsMaxLength(t *testing.T) {
	s, client := newService(t)

	require.NoError(t, s.SetupText(context.Background(),
		"meal_planner", "mealplan_message", "Message", "hello", 0))

	var payload map[string]any
	config, ok := client.LastPayload("homeassistant/text/meal_planner_mealplan_message/config")
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(config), &payload))
	assert.Equal(t, float64(255), payload["max"])

	state, ok := client.LastPayload("homeassistant/text/meal_planner_mealplan_message/state")
	require.True(t, ok)
	assert.Equal(t, "hello", state)
}

func TestStatusStateTopicMatchesServiceStatusSetup(t *testing.T) {
	s, client := newService(t)

	require.NoError(t, s.SetupServiceStatus(context.Background(), "status", "MealieMate Status"))

	var payload map[string]any
	config, ok := client.LastPayload("homeassistant/binary_sensor/mealiemate_status/config")
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(config), &payload))
	assert.Equal(t, StatusStateTopic("homeassistant"), payload["state_topic"])
}

func TestLogAccumulatesAndResets(t *testing.T) {
	s, client := newService(t)
	ctx := context.Background()

	require.NoError(t, s.SetupSensor(ctx, "recipe_tagger", "feedback", "Feedback"))
	require.NoError(t, s.Log(ctx, "recipe_tagger", "feedback", "first", false))
	require.NoError(t, s.Log(ctx, "recipe_tagger", "feedback", "second", false))

	attrs, ok := client.LastPayload("homeassistant/sensor/recipe_tagger_feedback/attributes")
	require.True(t, ok)
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(attrs), &payload))
	assert.Equal(t, "first\nsecond\n", payload["full_text"])

	// Reset discards the accumulated buffer before appending.
	require.NoError(t, s.Log(ctx, "recipe_tagger", "feedback", "fresh", true))
	attrs, ok = client.LastPayload("homeassistant/sensor/recipe_tagger_feedback/attributes")
	require.True(t, ok)
	require.NoError(t, json.Unmarshal([]byte(attrs), &payload))
	assert.Equal(t, "fresh\n", payload["full_text"])
}

func TestLogStateIsTimestamp(t *testing.T) {
	s, client := newService(t)
	ctx := context.Background()

	require.NoError(t, s.SetupSensor(ctx, "recipe_tagger", "feedback", "Feedback"))
	require.NoError(t, s.Log(ctx, "recipe_tagger", "feedback", "hello", false))

	state, ok := client.LastPayload("homeassistant/sensor/recipe_tagger_feedback/state")
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, state)
	assert.NoError(t, err)
}

func TestLogToUninitializedSensorFails(t *testing.T) {
	s, _ := newService(t)

	err := s.Log(context.Background(), "recipe_tagger", "feedback", "hello", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestFeedbackHelpersPrefixMessages(t *testing.T) {
	s, client := newService(t)
	ctx := context.Background()

	require.NoError(t, s.SetupSensor(ctx, "meal_planner", "feedback", "Feedback"))
	require.NoError(t, s.Info(ctx, "meal_planner", "starting"))
	require.NoError(t, s.Warning(ctx, "meal_planner", "odd input"))
	require.NoError(t, s.Error(ctx, "meal_planner", "it broke"))
	require.NoError(t, s.Success(ctx, "meal_planner", "all done"))

	attrs, ok := client.LastPayload("homeassistant/sensor/meal_planner_feedback/attributes")
	require.True(t, ok)
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(attrs), &payload))
	assert.Equal(t, "starting\nWARNING: odd input\nERROR: it broke\nOK: all done\n", payload["full_text"])
}

func TestResetSensorClearsBufferAndAttributes(t *testing.T) {
	s, client := newService(t)
	ctx := context.Background()

	require.NoError(t, s.SetupSensor(ctx, "neapolitan_pizza", "dough_recipe", "Dough Recipe"))
	require.NoError(t, s.Log(ctx, "neapolitan_pizza", "dough_recipe", "## Recipe", false))
	require.NoError(t, s.ResetSensor(ctx, "neapolitan_pizza", "dough_recipe"))

	attrs, ok := client.LastPayload("homeassistant/sensor/neapolitan_pizza_dough_recipe/attributes")
	require.True(t, ok)
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(attrs), &payload))
	assert.Equal(t, "", payload["full_text"])

	// The next log starts from a clean buffer.
	require.NoError(t, s.Log(ctx, "neapolitan_pizza", "dough_recipe", "again", false))
	attrs, _ = client.LastPayload("homeassistant/sensor/neapolitan_pizza_dough_recipe/attributes")
	require.NoError(t, json.Unmarshal([]byte(attrs), &payload))
	assert.Equal(t, "again\n", payload["full_text"])
}

func TestUpdateProgressPublishesStateAndActivity(t *testing.T) {
	s, client := newService(t)

	require.NoError(t, s.UpdateProgress(context.Background(), "recipe_tagger", "progress", 40, "Classifying recipes"))

	state, ok := client.LastPayload("homeassistant/sensor/recipe_tagger_progress/state")
	require.True(t, ok)
	assert.Equal(t, "40", state)

	attrs, ok := client.LastPayload("homeassistant/sensor/recipe_tagger_progress/attributes")
	require.True(t, ok)
	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(attrs), &payload))
	assert.Equal(t, "Classifying recipes", payload["activity"])
}

func TestPublishFailurePropagates(t *testing.T) {
	s, client := newService(t)
	client.FailPublish = true

	err := s.SetSwitchState(context.Background(), "meal_planner", StateOn)
	assert.Error(t, err)
}
