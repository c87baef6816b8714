package recipetagger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mealiemate/internal/container"
	"mealiemate/internal/ha"
	"mealiemate/internal/plugin"
	"mealiemate/internal/services/gpt"
	"mealiemate/internal/services/mealie"
)

type taggerFixture struct {
	plugin *Plugin
	status *ha.MockService
	mealie *mealie.MockService
	gpt    *gpt.MockService
}

func newTaggerFixture(t *testing.T, responses ...map[string]any) *taggerFixture {
	t.Helper()

	logger := zap.NewNop()
	c := container.New(logger)
	f := &taggerFixture{
		status: ha.NewMockService(),
		mealie: mealie.NewMockService(),
		gpt:    gpt.NewMockService(responses...),
	}

	c.Register(container.LoggerName, logger)
	c.Register(ha.ServiceName, f.status)
	c.Register(mealie.ServiceName, f.mealie)
	c.Register(gpt.ServiceName, f.gpt)

	p, err := Factory(c)
	require.NoError(t, err)
	f.plugin = p.(*Plugin)
	return f
}

func seedRecipe(f *taggerFixture, slug, name string, foods ...string) {
	recipe := &mealie.Recipe{ID: "id-" + slug, Slug: slug, Name: name}
	for _, food := range foods {
		recipe.Ingredients = append(recipe.Ingredients, mealie.Ingredient{
			Food: &mealie.Food{ID: "food-" + food, Name: food},
		})
	}
	f.mealie.Recipes = append(f.mealie.Recipes, mealie.Recipe{ID: recipe.ID, Slug: slug, Name: name})
	f.mealie.Details[slug] = recipe
}

func TestExecuteTagsRecipeWithExistingOrganizers(t *testing.T) {
	f := newTaggerFixture(t, map[string]any{
		"tags":     []any{"Poultry", "Quick"},
		"category": "Dinner",
	})
	f.mealie.Tags = []mealie.Tag{{ID: "t1", Name: "Poultry", Slug: "poultry"}}
	f.mealie.Categories = []mealie.Category{{ID: "c1", Name: "Dinner", Slug: "dinner"}}
	seedRecipe(f, "chicken-stir-fry", "Chicken Stir Fry", "chicken", "soy sauce")

	require.NoError(t, f.plugin.Execute(context.Background()))

	tags, ok := f.mealie.PatchedRecipes["chicken-stir-fry"]
	require.True(t, ok)
	require.Len(t, tags, 2)
	assert.Equal(t, "t1", tags[0].ID)
	// "Quick" did not exist yet and was created on the fly.
	assert.Equal(t, []string{"Quick"}, f.mealie.CreatedTags)
	assert.Empty(t, f.mealie.CreatedCategories)
	assert.True(t, f.status.FeedbackContains(PluginID, "1 updated, 0 skipped, 0 failed"))
}

func TestExecuteDiscardsInventedTagsAndCategory(t *testing.T) {
	f := newTaggerFixture(t, map[string]any{
		"tags":     []any{"Poultry", "Totally Made Up"},
		"category": "Midnight Snackery",
	})
	seedRecipe(f, "chicken-soup", "Chicken Soup", "chicken")

	require.NoError(t, f.plugin.Execute(context.Background()))

	tags := f.mealie.PatchedRecipes["chicken-soup"]
	require.Len(t, tags, 1)
	assert.Equal(t, "Poultry", tags[0].Name)
	assert.True(t, f.status.FeedbackContains(PluginID, "invalid tags"))
	assert.True(t, f.status.FeedbackContains(PluginID, "Invalid category 'Midnight Snackery'"))
	// The invented category must never be created in Mealie.
	assert.Empty(t, f.mealie.CreatedCategories)
}

func TestExecuteSkipsRecipeWithoutIngredients(t *testing.T) {
	f := newTaggerFixture(t)
	seedRecipe(f, "mystery-dish", "Mystery Dish")

	require.NoError(t, f.plugin.Execute(context.Background()))

	assert.Empty(t, f.mealie.PatchedRecipes)
	assert.Empty(t, f.gpt.Requests)
	assert.True(t, f.status.FeedbackContains(PluginID, "no valid ingredients"))
	assert.True(t, f.status.FeedbackContains(PluginID, "0 updated, 1 skipped, 0 failed"))
}

func TestExecuteDryRunDoesNotPatch(t *testing.T) {
	f := newTaggerFixture(t, map[string]any{
		"tags":     []any{"Poultry"},
		"category": "Dinner",
	})
	require.NoError(t, f.plugin.ApplySetting("dry_run", true))
	seedRecipe(f, "roast-chicken", "Roast Chicken", "chicken")

	require.NoError(t, f.plugin.Execute(context.Background()))

	assert.Empty(t, f.mealie.PatchedRecipes)
	assert.True(t, f.status.FeedbackContains(PluginID, "[DRY-RUN]"))
	assert.True(t, f.status.FeedbackContains(PluginID, "1 updated, 0 skipped, 0 failed"))
}

func TestExecuteNoRecipes(t *testing.T) {
	f := newTaggerFixture(t)

	require.NoError(t, f.plugin.Execute(context.Background()))

	assert.True(t, f.status.FeedbackContains(PluginID, "No recipes found."))
	percentage, _ := f.status.ProgressValue(PluginID + "_progress")
	assert.Equal(t, 100, percentage)
}

func TestExecuteStopsOnCancellation(t *testing.T) {
	f := newTaggerFixture(t)
	seedRecipe(f, "one", "One", "rice")
	seedRecipe(f, "two", "Two", "beans")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.plugin.Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.mealie.PatchedRecipes)
}

func TestApplySettingDryRunOnly(t *testing.T) {
	f := newTaggerFixture(t)

	require.NoError(t, f.plugin.ApplySetting("dry_run", true))
	assert.True(t, f.plugin.dryRun)

	assert.ErrorIs(t, f.plugin.ApplySetting("verbose", true), plugin.ErrUnknownSetting)
	assert.Error(t, f.plugin.ApplySetting("dry_run", "yes"))
	assert.Equal(t, []string{"feedback"}, f.plugin.ResetSensorIDs())
}
