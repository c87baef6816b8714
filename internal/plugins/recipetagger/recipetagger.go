// Package recipetagger classifies recipes by assigning tags and a category
// via the completion API, constrained to predefined values, and patches the
// results back into Mealie.
package recipetagger

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"mealiemate/internal/container"
	"mealiemate/internal/ha"
	"mealiemate/internal/plugin"
	"mealiemate/internal/services/gpt"
	"mealiemate/internal/services/mealie"
)

// PluginID is the stable identifier of this plugin.
const PluginID = "recipe_tagger"

// Allowed classification values. The classifier must never invent new ones;
// anything outside these lists is discarded.
var (
	mainIngredientTags = []string{
		"Red Meat", "Poultry", "Fish", "Seafood", "Eggs", "Dairy",
		"Legumes", "Grains", "Vegetables", "Fruits", "Mushrooms", "Nuts",
	}
	nutritionalTags = []string{
		"Normal", "Vegetarian", "Vegan", "High Protein", "Low Carb",
		"High Fiber", "Low-Calorie", "High Fat", "Iron-Rich", "Calcium-Rich",
		"Vitamin-Packed",
	}
	effortTags = []string{"Quick", "30 min", "Long-Cooking", "Meal Prep-Friendly"}

	allowedCategories = []string{
		"Breakfast", "Lunch", "Dinner", "Snack", "Dessert", "Appetizer",
		"Side Dish", "Soup", "Salad", "Smoothie", "Sauce/Dressing", "Baked Goods",
	}
)

// Plugin implements the recipe tagger.
type Plugin struct {
	status ha.Service
	mealie mealie.Service
	gpt    gpt.Service
	logger *zap.Logger

	dryRun bool

	validTags       map[string]bool
	validCategories map[string]bool
}

// Factory resolves dependencies and constructs the plugin.
func Factory(c *container.Container) (plugin.Plugin, error) {
	status, err := container.Resolve[ha.Service](c, ha.ServiceName)
	if err != nil {
		return nil, err
	}
	mealieSvc, err := container.Resolve[mealie.Service](c, mealie.ServiceName)
	if err != nil {
		return nil, err
	}
	gptSvc, err := container.Resolve[gpt.Service](c, gpt.ServiceName)
	if err != nil {
		return nil, err
	}
	logger, err := container.Resolve[*zap.Logger](c, container.LoggerName)
	if err != nil {
		return nil, err
	}

	validTags := make(map[string]bool)
	for _, group := range [][]string{mainIngredientTags, nutritionalTags, effortTags} {
		for _, tag := range group {
			validTags[tag] = true
		}
	}
	validCategories := make(map[string]bool)
	for _, cat := range allowedCategories {
		validCategories[cat] = true
	}

	return &Plugin{
		status:          status,
		mealie:          mealieSvc,
		gpt:             gptSvc,
		logger:          logger.Named(PluginID),
		validTags:       validTags,
		validCategories: validCategories,
	}, nil
}

func (p *Plugin) ID() string   { return PluginID }
func (p *Plugin) Name() string { return "Recipe Tagger" }
func (p *Plugin) Description() string {
	return "Classifies recipes in Mealie by assigning tags and categories using GPT."
}

// Entities declares a main switch, feedback sensor, progress sensor, and a
// dry-run toggle.
func (p *Plugin) Entities() plugin.Entities {
	return plugin.Entities{
		Switch: true,
		Sensors: map[string]plugin.Sensor{
			"feedback":              {ID: "feedback", Name: "Tagging Feedback"},
			plugin.ProgressSensorID: {ID: plugin.ProgressSensorID, Name: "Tagging Progress"},
		},
		Switches: map[string]plugin.ToggleSwitch{
			"dry_run": {ID: "dry_run", Name: "Tagging Dry Run", Value: p.dryRun},
		},
	}
}

// ApplySetting updates a setting by entity id.
func (p *Plugin) ApplySetting(name string, value any) error {
	switch name {
	case "dry_run":
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool value, got %T", value)
		}
		p.dryRun = v
		return nil
	default:
		return plugin.ErrUnknownSetting
	}
}

// ResetSensorIDs clears the feedback output around each run.
func (p *Plugin) ResetSensorIDs() []string {
	return []string{"feedback"}
}

// classification is one recipe's validated tag/category assignment.
type classification struct {
	Tags     []string
	Category string
}

// classifyRecipe asks the model for tags and a category, then discards
// anything outside the allowed lists.
func (p *Plugin) classifyRecipe(ctx context.Context, name string, ingredients []string) (classification, error) {
	clean := make([]string, 0, len(ingredients))
	for _, ing := range ingredients {
		if trimmed := strings.TrimSpace(ing); trimmed != "" {
			clean = append(clean, trimmed)
		}
	}
	if len(clean) == 0 {
		p.report(p.status.Warning(ctx, PluginID, fmt.Sprintf("Recipe '%s' has no valid ingredients, skipping classification.", name)))
		return classification{}, nil
	}

	prompt := fmt.Sprintf(
		"You are a recipe classification assistant. "+
			"Classify the following recipe strictly using predefined tags and categories. "+
			"DO NOT invent new tags or categories.\n\n"+
			"Recipe Name: '%s'\n"+
			"Ingredients: %s\n\n"+
			"Allowed Tags:\n"+
			"- Main Ingredients: %s\n"+
			"- Nutritional Profile: %s\n"+
			"- Time & Effort: %s\n\n"+
			"Allowed Categories:\n"+
			"- %s\n\n"+
			"Return JSON in the following format:\n"+
			`{"tags": ["tag1", "tag2"], "category": "chosen_category"}`,
		name,
		strings.Join(clean, ", "),
		strings.Join(mainIngredientTags, ", "),
		strings.Join(nutritionalTags, ", "),
		strings.Join(effortTags, ", "),
		strings.Join(allowedCategories, ", "),
	)

	result, err := p.gpt.JSONChat(ctx, []gpt.Message{{Role: "user", Content: prompt}}, gpt.Options{})
	if err != nil {
		return classification{}, fmt.Errorf("classify recipe %q: %w", name, err)
	}

	var out classification
	var invalid []string
	if rawTags, ok := result["tags"].([]any); ok {
		for _, raw := range rawTags {
			tag, ok := raw.(string)
			if !ok {
				continue
			}
			if p.validTags[tag] {
				out.Tags = append(out.Tags, tag)
			} else {
				invalid = append(invalid, tag)
			}
		}
	}
	if len(invalid) > 0 {
		p.logger.Warn("Classifier returned invalid tags",
			zap.String("recipe", name),
			zap.Strings("tags", invalid))
		p.report(p.status.Warning(ctx, PluginID, fmt.Sprintf("GPT returned invalid tags %v. Ignoring these.", invalid)))
	}

	if category, ok := result["category"].(string); ok && category != "" {
		if p.validCategories[category] {
			out.Category = category
		} else {
			p.logger.Warn("Classifier returned invalid category",
				zap.String("recipe", name),
				zap.String("category", category))
			p.report(p.status.Warning(ctx, PluginID, fmt.Sprintf("Invalid category '%s' received from GPT. Ignoring.", category)))
		}
	}

	p.logger.Info("Classified recipe",
		zap.String("recipe", name),
		zap.Strings("tags", out.Tags),
		zap.String("category", out.Category))
	return out, nil
}

// updateRecipe patches one recipe with its classification, creating missing
// tags and categories on the fly. The mappings are keyed by lowercase name
// and updated as new organizers are created.
func (p *Plugin) updateRecipe(ctx context.Context, recipe *mealie.Recipe, cls classification, tagsByName map[string]mealie.Tag, categoriesByName map[string]mealie.Category) error {
	tags := make([]mealie.Tag, 0, len(cls.Tags))
	for _, name := range cls.Tags {
		key := strings.ToLower(name)
		if existing, ok := tagsByName[key]; ok {
			tags = append(tags, existing)
			continue
		}
		created, err := p.mealie.CreateTag(ctx, name)
		if err != nil {
			p.logger.Warn("Failed to create tag", zap.String("tag", name), zap.Error(err))
			continue
		}
		tagsByName[key] = *created
		tags = append(tags, *created)
	}

	categories := recipe.Categories
	if cls.Category != "" {
		key := strings.ToLower(cls.Category)
		if existing, ok := categoriesByName[key]; ok {
			categories = []mealie.Category{existing}
		} else if created, err := p.mealie.CreateCategory(ctx, cls.Category); err != nil {
			p.logger.Warn("Failed to create category", zap.String("category", cls.Category), zap.Error(err))
		} else {
			categoriesByName[key] = *created
			categories = []mealie.Category{*created}
		}
	}

	p.report(p.status.Info(ctx, PluginID, fmt.Sprintf(
		"Updating '%s' with tags: %s | Category: %s",
		recipe.Slug, strings.Join(cls.Tags, ", "), cls.Category)))

	if p.dryRun {
		p.report(p.status.Info(ctx, PluginID, fmt.Sprintf("[DRY-RUN] Would update %s with PATCH", recipe.Slug)))
		return nil
	}

	if err := p.mealie.UpdateRecipeTags(ctx, recipe.Slug, tags, categories); err != nil {
		p.report(p.status.Error(ctx, PluginID, "Error updating "+recipe.Slug))
		return err
	}
	p.report(p.status.Success(ctx, PluginID, fmt.Sprintf(
		"Successfully updated %s with tags: %s | Category: %s",
		recipe.Slug, strings.Join(cls.Tags, ", "), cls.Category)))
	return nil
}

// ingredientNames pulls the normalized food names out of a recipe.
func ingredientNames(recipe *mealie.Recipe) []string {
	var names []string
	for _, ing := range recipe.Ingredients {
		if ing.Food != nil && ing.Food.Name != "" {
			names = append(names, ing.Food.Name)
		}
	}
	return names
}

// Execute classifies every recipe and patches the results back.
func (p *Plugin) Execute(ctx context.Context) error {
	p.progress(ctx, 0, "Starting recipe tagging")
	p.report(p.status.Info(ctx, PluginID, "Fetching recipes from Mealie..."))
	p.progress(ctx, 5, "Fetching recipes from Mealie")

	recipes, err := p.mealie.GetAllRecipes(ctx)
	if err != nil {
		return fmt.Errorf("fetch recipes: %w", err)
	}
	if len(recipes) == 0 {
		p.report(p.status.Warning(ctx, PluginID, "No recipes found."))
		p.progress(ctx, 100, "Completed - No recipes found")
		return nil
	}
	p.report(p.status.Success(ctx, PluginID, fmt.Sprintf("Fetched %d recipes.", len(recipes))))

	existingTags, err := p.mealie.GetTags(ctx)
	if err != nil {
		return fmt.Errorf("fetch tags: %w", err)
	}
	existingCategories, err := p.mealie.GetCategories(ctx)
	if err != nil {
		return fmt.Errorf("fetch categories: %w", err)
	}

	tagsByName := make(map[string]mealie.Tag, len(existingTags))
	for _, tag := range existingTags {
		tagsByName[strings.ToLower(tag.Name)] = tag
	}
	categoriesByName := make(map[string]mealie.Category, len(existingCategories))
	for _, cat := range existingCategories {
		categoriesByName[strings.ToLower(cat.Name)] = cat
	}

	var updated, skipped, failed int
	for i := range recipes {
		if err := ctx.Err(); err != nil {
			return err
		}

		summary := recipes[i]
		details, err := p.mealie.GetRecipeDetails(ctx, summary.Slug)
		if err != nil {
			p.logger.Warn("Could not fetch recipe details",
				zap.String("slug", summary.Slug),
				zap.Error(err))
			failed++
			continue
		}

		cls, err := p.classifyRecipe(ctx, details.Name, ingredientNames(details))
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			p.logger.Warn("Classification failed", zap.String("slug", summary.Slug), zap.Error(err))
			failed++
			continue
		}
		if len(cls.Tags) == 0 && cls.Category == "" {
			skipped++
		} else if err := p.updateRecipe(ctx, details, cls, tagsByName, categoriesByName); err != nil {
			failed++
		} else {
			updated++
		}

		percent := 5 + (90*(i+1))/len(recipes)
		p.progress(ctx, percent, fmt.Sprintf("Processed %d/%d recipes", i+1, len(recipes)))
	}

	p.report(p.status.Success(ctx, PluginID, fmt.Sprintf(
		"Tagging complete: %d updated, %d skipped, %d failed", updated, skipped, failed)))
	p.progress(ctx, 100, "Finished")
	return nil
}

func (p *Plugin) progress(ctx context.Context, percent int, activity string) {
	p.report(p.status.UpdateProgress(ctx, PluginID, plugin.ProgressSensorID, percent, activity))
}

func (p *Plugin) report(err error) {
	if err != nil {
		p.logger.Warn("Control surface update failed", zap.Error(err))
	}
}
