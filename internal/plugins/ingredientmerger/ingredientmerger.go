// Package ingredientmerger finds ingredients that are the same thing under
// different names, using the completion API to propose merges in batches.
// Every suggested merge is gated on an accept/reject button press before the
// foods are actually merged in Mealie.
package ingredientmerger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"mealiemate/internal/clock"
	"mealiemate/internal/container"
	"mealiemate/internal/ha"
	"mealiemate/internal/plugin"
	"mealiemate/internal/services/gpt"
	"mealiemate/internal/services/mealie"
)

// PluginID is the stable identifier of this plugin.
const PluginID = "ingredient_merger"

const batchSize = 50

// Suggestion is one proposed merge set.
type Suggestion struct {
	Ingredients     []string
	RecommendedName string
	Reason          string
	// Recipes maps recipe slug to the matching ingredient names it uses.
	Recipes map[string][]string
}

// Plugin implements the ingredient merger.
type Plugin struct {
	status ha.Service
	mealie mealie.Service
	gpt    gpt.Service
	logger *zap.Logger

	decisions *plugin.DecisionGate
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
	clk, err := container.Resolve[clock.Clock](c, container.ClockName)
	if err != nil {
		return nil, err
	}

	return &Plugin{
		status:    status,
		mealie:    mealieSvc,
		gpt:       gptSvc,
		logger:    logger.Named(PluginID),
		decisions: plugin.NewDecisionGate(clk),
	}, nil
}

func (p *Plugin) ID() string   { return PluginID }
func (p *Plugin) Name() string { return "Ingredient Merger" }
func (p *Plugin) Description() string {
	return "Identifies ingredients across recipes that should be merged."
}

// Entities declares a main switch, feedback/suggestion sensors, and the
// accept/reject decision buttons.
func (p *Plugin) Entities() plugin.Entities {
	return plugin.Entities{
		Switch: true,
		Sensors: map[string]plugin.Sensor{
			"feedback":           {ID: "feedback", Name: "Merger Feedback"},
			"current_suggestion": {ID: "current_suggestion", Name: "Current Merge Suggestion"},
		},
		Buttons: map[string]plugin.Button{
			"accept_button": {ID: "accept_button", Name: "Accept Merge", Accept: true},
			"reject_button": {ID: "reject_button", Name: "Reject Merge", Accept: false},
		},
	}
}

// ResetSensorIDs clears the transient outputs around each run.
func (p *Plugin) ResetSensorIDs() []string {
	return []string{"feedback", "current_suggestion"}
}

// Decisions exposes the gate the accept/reject buttons submit into.
func (p *Plugin) Decisions() *plugin.DecisionGate {
	return p.decisions
}

// analyzeBatch asks the model for merge candidates within one ingredient
// batch.
func (p *Plugin) analyzeBatch(ctx context.Context, batch []string) ([]Suggestion, error) {
	prompt := "You are a culinary expert analyzing recipe ingredients. " +
		"Identify ingredients that are EXACT DUPLICATES but have different names — the same " +
		"ingredient with different naming conventions, NOT categories of similar items.\n\n" +
		"Merge examples: 'heavy cream' and 'cream 15% fat'; 'parmesan' and 'parmeggiano'; " +
		"'scallion' and 'green onion'.\n" +
		"Do NOT merge different forms (garlic cloves vs garlic powder), preparations " +
		"(fresh vs sun-dried tomatoes), parts (lemon juice vs lemon zest), varieties " +
		"(red vs green bell pepper), or general vs specific names (onion vs yellow onion).\n\n" +
		"Ingredients:\n" + strings.Join(batch, ", ") + "\n\n" +
		"For each set to merge provide the ingredients, a recommended standardized name, and a " +
		"brief reason. Return JSON:\n" +
		`{"merge_suggestions": [{"ingredients": ["a", "b"], "recommended_name": "name", "reason": "why"}]}` +
		"\nReturn an empty array when nothing should be merged."

	result, err := p.gpt.JSONChat(ctx, []gpt.Message{{Role: "user", Content: prompt}}, gpt.Options{})
	if err != nil {
		return nil, err
	}

	var suggestions []Suggestion
	if raw, ok := result["merge_suggestions"].([]any); ok {
		for _, item := range raw {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			s := Suggestion{}
			if names, ok := obj["ingredients"].([]any); ok {
				for _, n := range names {
					if name, ok := n.(string); ok {
						s.Ingredients = append(s.Ingredients, name)
					}
				}
			}
			s.RecommendedName, _ = obj["recommended_name"].(string)
			s.Reason, _ = obj["reason"].(string)
			if len(s.Ingredients) >= 2 {
				suggestions = append(suggestions, s)
			}
		}
	}
	return suggestions, nil
}

// attachRecipes records which recipes use each ingredient of a suggestion.
func attachRecipes(s *Suggestion, ingredientsByRecipe map[string][]string) {
	s.Recipes = make(map[string][]string)
	for slug, recipeIngredients := range ingredientsByRecipe {
		var matching []string
		for _, candidate := range s.Ingredients {
			for _, used := range recipeIngredients {
				if candidate == used {
					matching = append(matching, candidate)
					break
				}
			}
		}
		if len(matching) > 0 {
			s.Recipes[slug] = matching
		}
	}
}

// FormatSummary renders the accepted suggestions as markdown for the
// feedback sensor.
func FormatSummary(suggestions []Suggestion) string {
	var b strings.Builder
	b.WriteString("## Ingredient Merger Results\n\n")
	fmt.Fprintf(&b, "Found **%d** sets of ingredients that should be merged.\n\n", len(suggestions))

	for i, s := range suggestions {
		fmt.Fprintf(&b, "### %d. Merge: %s\n", i+1, strings.Join(s.Ingredients, ", "))
		fmt.Fprintf(&b, "**Recommended name:** %s\n", s.RecommendedName)
		fmt.Fprintf(&b, "**Reason:** %s\n", s.Reason)
		if len(s.Recipes) > 0 {
			fmt.Fprintf(&b, "\n**Found in %d recipes:**\n", len(s.Recipes))
			slugs := make([]string, 0, len(s.Recipes))
			for slug := range s.Recipes {
				slugs = append(slugs, slug)
			}
			sort.Strings(slugs)
			for _, slug := range slugs {
				fmt.Fprintf(&b, "- %s (uses: %s)\n", titleFromSlug(slug), strings.Join(s.Recipes[slug], ", "))
			}
		}
		b.WriteString("\n---\n\n")
	}
	return b.String()
}

// titleFromSlug turns "tomato-soup" into "Tomato Soup".
func titleFromSlug(slug string) string {
	words := strings.Split(slug, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// applyMerge folds every variant food into the recommended one via the
// Mealie merge endpoint. Ingredients whose food id is unknown are skipped.
func (p *Plugin) applyMerge(ctx context.Context, s Suggestion, foodIDByName map[string]string) (int, error) {
	targetID, ok := foodIDByName[s.RecommendedName]
	if !ok {
		// The recommended name may be one of the variants rather than an
		// existing food; fall back to the first variant with a known id.
		for _, name := range s.Ingredients {
			if id, found := foodIDByName[name]; found {
				targetID = id
				ok = true
				break
			}
		}
	}
	if !ok {
		return 0, fmt.Errorf("no known food id for %q", s.RecommendedName)
	}

	merged := 0
	for _, name := range s.Ingredients {
		fromID, found := foodIDByName[name]
		if !found || fromID == targetID {
			continue
		}
		if err := p.mealie.MergeFoods(ctx, fromID, targetID); err != nil {
			return merged, err
		}
		merged++
	}
	return merged, nil
}

// Execute analyzes all recipes and walks the user through each suggestion.
func (p *Plugin) Execute(ctx context.Context) error {
	p.report(p.status.Info(ctx, PluginID, "Starting ingredient merger analysis..."))

	p.report(p.status.Info(ctx, PluginID, "Fetching recipes from Mealie..."))
	recipes, err := p.mealie.GetAllRecipes(ctx)
	if err != nil {
		return fmt.Errorf("fetch recipes: %w", err)
	}
	if len(recipes) == 0 {
		p.report(p.status.Warning(ctx, PluginID, "No recipes found."))
		return nil
	}
	p.report(p.status.Success(ctx, PluginID, fmt.Sprintf("Fetched %d recipes.", len(recipes))))

	ingredientsByRecipe := make(map[string][]string)
	foodIDByName := make(map[string]string)
	for i := range recipes {
		if err := ctx.Err(); err != nil {
			return err
		}
		details, err := p.mealie.GetRecipeDetails(ctx, recipes[i].Slug)
		if err != nil {
			p.logger.Warn("Could not fetch recipe details",
				zap.String("slug", recipes[i].Slug),
				zap.Error(err))
			continue
		}
		for _, ing := range details.Ingredients {
			if ing.Food == nil || ing.Food.Name == "" {
				continue
			}
			ingredientsByRecipe[details.Slug] = append(ingredientsByRecipe[details.Slug], ing.Food.Name)
			if ing.Food.ID != "" {
				foodIDByName[ing.Food.Name] = ing.Food.ID
			}
		}
	}

	unique := make(map[string]bool)
	for _, names := range ingredientsByRecipe {
		for _, name := range names {
			unique[name] = true
		}
	}
	allIngredients := make([]string, 0, len(unique))
	for name := range unique {
		allIngredients = append(allIngredients, name)
	}
	sort.Strings(allIngredients)

	p.report(p.status.Info(ctx, PluginID, fmt.Sprintf(
		"Found %d unique ingredients across all recipes", len(allIngredients))))

	totalBatches := (len(allIngredients) + batchSize - 1) / batchSize
	var suggestions []Suggestion
	for i := 0; i < len(allIngredients); i += batchSize {
		batchNum := i/batchSize + 1
		end := i + batchSize
		if end > len(allIngredients) {
			end = len(allIngredients)
		}
		batch := allIngredients[i:end]

		p.report(p.status.Info(ctx, PluginID, fmt.Sprintf(
			"Processing batch %d/%d (%d ingredients)", batchNum, totalBatches, len(batch))))

		found, err := p.analyzeBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("analyze batch %d: %w", batchNum, err)
		}
		if len(found) > 0 {
			p.report(p.status.Success(ctx, PluginID, fmt.Sprintf(
				"Found %d merge suggestions in batch %d", len(found), batchNum)))
			suggestions = append(suggestions, found...)
		} else {
			p.report(p.status.Info(ctx, PluginID, fmt.Sprintf(
				"No merge suggestions found in batch %d", batchNum)))
		}
	}

	if len(suggestions) == 0 {
		p.report(p.status.Info(ctx, PluginID, "No ingredients found that should be merged."))
		return nil
	}

	// Walk the user through each suggestion. A timed-out or cancelled wait
	// skips the merge; only an explicit accept mutates Mealie.
	var accepted []Suggestion
	for i := range suggestions {
		if err := ctx.Err(); err != nil {
			return err
		}
		attachRecipes(&suggestions[i], ingredientsByRecipe)
		s := suggestions[i]

		text := fmt.Sprintf("Merge %s into '%s'? Reason: %s",
			strings.Join(s.Ingredients, ", "), s.RecommendedName, s.Reason)
		p.report(p.status.Log(ctx, PluginID, "current_suggestion", text, true))
		p.report(p.status.Info(ctx, PluginID, "Awaiting accept/reject for: "+strings.Join(s.Ingredients, ", ")))

		decision, ok := p.decisions.Wait(ctx, 0)
		switch {
		case !ok:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.report(p.status.Info(ctx, PluginID, "No decision received, skipping merge."))
		case !decision.Accepted:
			p.report(p.status.Info(ctx, PluginID, "Merge rejected."))
		default:
			merged, err := p.applyMerge(ctx, s, foodIDByName)
			if err != nil {
				p.logger.Warn("Merge failed",
					zap.String("recommended", s.RecommendedName),
					zap.Error(err))
				p.report(p.status.Error(ctx, PluginID, fmt.Sprintf("Failed to merge into '%s': %v", s.RecommendedName, err)))
				continue
			}
			p.report(p.status.Success(ctx, PluginID, fmt.Sprintf(
				"Merged %d foods into '%s'", merged, s.RecommendedName)))
			accepted = append(accepted, s)
		}
	}

	p.report(p.status.Log(ctx, PluginID, "current_suggestion", "", true))
	if len(accepted) > 0 {
		p.report(p.status.Log(ctx, PluginID, "feedback", FormatSummary(accepted), true))
	}
	p.report(p.status.Success(ctx, PluginID, "Ingredient merger analysis complete!"))
	return nil
}

func (p *Plugin) report(err error) {
	if err != nil {
		p.logger.Warn("Control surface update failed", zap.Error(err))
	}
}
