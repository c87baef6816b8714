// Package shoppinglist consolidates the ingredients of the upcoming meal plan
// into a clean shopping list via the completion API and writes it to Mealie.
// Large ingredient sets are processed in batches with a human-in-the-loop
// continue button between them.
package shoppinglist

import (
	"context"
	"encoding/json"
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
const PluginID = "shopping_list_generator"

const (
	dateLayout = "2006-01-02"
	batchSize  = 50
)

const consolidationInstructions = "You are a grocery shopping assistant. Given the list of ingredients below, " +
	"combine similar items and adjust the quantities to realistic package sizes. " +
	"Group items logically by category for easier shopping (Dairy, Meats, Fish, Spices, " +
	"Condiments, Nuts, Vegetables, Fruits, Grains & Baking, Canned & Packaged Goods, Oils & Liquids). " +
	"Rules: keep categories consistent across runs, use standard package sizes, retain at least one " +
	"item per unique ingredient, flag missing quantities in the feedback field, and do not remove " +
	"ingredients unless absolutely necessary. " +
	`Return JSON: {"shopping_list": [{"name": "...", "quantity": "...", "unit": "...", "category": "...", "merged_items": ["..."]}], "feedback": ["..."]}`

// Item is one consolidated shopping list entry.
type Item struct {
	Name        string
	Quantity    string
	Unit        string
	Category    string
	MergedItems []string
}

// ingredient is one raw ingredient line extracted from a recipe.
type ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}

// Plugin implements the shopping list generator.
type Plugin struct {
	status ha.Service
	mealie mealie.Service
	gpt    gpt.Service
	clock  clock.Clock
	logger *zap.Logger

	listLength int
	dryRun     bool

	decisions *plugin.DecisionGate
}

// Factory resolves dependencies and constructs the plugin with its defaults.
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
		status:     status,
		mealie:     mealieSvc,
		gpt:        gptSvc,
		clock:      clk,
		logger:     logger.Named(PluginID),
		listLength: 8,
		decisions:  plugin.NewDecisionGate(clk),
	}, nil
}

func (p *Plugin) ID() string   { return PluginID }
func (p *Plugin) Name() string { return "Shopping List Generator" }
func (p *Plugin) Description() string {
	return "Generates a consolidated shopping list from the upcoming meal plan."
}

// Entities declares a main switch, status/feedback sensors, the plan-range
// number, and the batch continue button.
func (p *Plugin) Entities() plugin.Entities {
	return plugin.Entities{
		Switch: true,
		Sensors: map[string]plugin.Sensor{
			"status":   {ID: "status", Name: "Shopping List Progress"},
			"feedback": {ID: "feedback", Name: "Shopping List Feedback"},
		},
		Numbers: map[string]plugin.Number{
			"list_length": {ID: "list_length", Name: "Shopping List Days Required", Value: float64(p.listLength), Min: 1, Max: 30, Step: 1, Unit: "d"},
		},
		Buttons: map[string]plugin.Button{
			"continue_to_next_batch": {ID: "continue_to_next_batch", Name: "Continue To Next Batch", Accept: true},
		},
	}
}

// ApplySetting updates a setting by entity id.
func (p *Plugin) ApplySetting(name string, value any) error {
	switch name {
	case "list_length":
		switch v := value.(type) {
		case int:
			p.listLength = v
		case float64:
			p.listLength = int(v)
		default:
			return fmt.Errorf("expected numeric value, got %T", value)
		}
		return nil
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

// ResetSensorIDs clears the list output around each run.
func (p *Plugin) ResetSensorIDs() []string {
	return []string{"feedback"}
}

// Decisions exposes the gate the continue button submits into.
func (p *Plugin) Decisions() *plugin.DecisionGate {
	return p.decisions
}

// collectIngredients gathers the raw ingredient lines from every recipe in
// the plan entries.
func (p *Plugin) collectIngredients(ctx context.Context, entries []mealie.MealPlanEntry) ([]ingredient, error) {
	var all []ingredient
	recipes := 0

	for _, entry := range entries {
		if entry.RecipeID == "" {
			continue
		}
		details, err := p.mealie.GetRecipeDetails(ctx, entry.RecipeID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.report(p.status.Warning(ctx, PluginID, "Could not fetch recipe "+entry.RecipeID))
			continue
		}

		found := 0
		for _, ing := range details.Ingredients {
			if ing.Food == nil || ing.Food.Name == "" {
				continue
			}
			unit := ""
			if ing.Unit != nil {
				unit = strings.Join(strings.Fields(ing.Unit.Name), " ")
			}
			all = append(all, ingredient{
				Name:     strings.Join(strings.Fields(ing.Food.Name), " "),
				Quantity: ing.Quantity,
				Unit:     unit,
			})
			found++
		}
		if found > 0 {
			recipes++
		}
	}

	p.report(p.status.Success(ctx, PluginID, fmt.Sprintf(
		"Collected %d total ingredients from %d recipes.", len(all), recipes)))
	return all, nil
}

// consolidateBatch sends one ingredient batch through the model and parses
// the cleaned items.
func (p *Plugin) consolidateBatch(ctx context.Context, batch []ingredient) ([]Item, []string, error) {
	sort.Slice(batch, func(i, j int) bool {
		return strings.ToLower(batch[i].Name) < strings.ToLower(batch[j].Name)
	})

	promptData := map[string]any{
		"ingredients":  batch,
		"instructions": consolidationInstructions,
	}
	promptJSON, err := json.Marshal(promptData)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal consolidation prompt: %w", err)
	}

	result, err := p.gpt.JSONChat(ctx, []gpt.Message{{Role: "user", Content: string(promptJSON)}}, gpt.Options{Temperature: 0.01})
	if err != nil {
		return nil, nil, err
	}

	var items []Item
	if rawList, ok := result["shopping_list"].([]any); ok {
		for _, raw := range rawList {
			obj, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			item := Item{}
			item.Name, _ = obj["name"].(string)
			item.Quantity = asString(obj["quantity"])
			item.Unit, _ = obj["unit"].(string)
			item.Category, _ = obj["category"].(string)
			if merged, ok := obj["merged_items"].([]any); ok {
				for _, m := range merged {
					if s, ok := m.(string); ok {
						item.MergedItems = append(item.MergedItems, s)
					}
				}
			}
			if item.Name != "" {
				items = append(items, item)
			}
		}
	}

	var feedback []string
	if rawFeedback, ok := result["feedback"].([]any); ok {
		for _, raw := range rawFeedback {
			if s, ok := raw.(string); ok {
				feedback = append(feedback, s)
			}
		}
	}
	return items, feedback, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return ""
	}
}

// Execute builds the list for the configured day range and writes it out.
func (p *Plugin) Execute(ctx context.Context) error {
	today := p.clock.Now()
	listName := "Mealplan " + today.Format("02 Jan")

	p.report(p.status.Info(ctx, PluginID, "Working on your new shopping list: "+listName))

	startDate := today.Format(dateLayout)
	endDate := today.AddDate(0, 0, p.listLength).Format(dateLayout)
	entries, err := p.mealie.GetMealPlan(ctx, startDate, endDate)
	if err != nil {
		p.report(p.status.Error(ctx, PluginID, "Could not fetch meal plan from Mealie."))
		return fmt.Errorf("fetch meal plan: %w", err)
	}
	if len(entries) == 0 {
		p.report(p.status.Warning(ctx, PluginID, "No meal plan entries in the selected range."))
		return nil
	}

	ingredients, err := p.collectIngredients(ctx, entries)
	if err != nil {
		return err
	}
	if len(ingredients) == 0 {
		p.report(p.status.Warning(ctx, PluginID, "No ingredients found in the planned recipes."))
		return nil
	}

	totalBatches := (len(ingredients) + batchSize - 1) / batchSize
	var cleaned []Item

	for i := 0; i < len(ingredients); i += batchSize {
		batchNum := i/batchSize + 1
		end := i + batchSize
		if end > len(ingredients) {
			end = len(ingredients)
		}
		batch := ingredients[i:end]

		p.report(p.status.Info(ctx, PluginID, fmt.Sprintf(
			"Consolidating batch %d/%d (%d ingredients)...", batchNum, totalBatches, len(batch))))

		items, feedback, err := p.consolidateBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("consolidate batch %d: %w", batchNum, err)
		}
		cleaned = append(cleaned, items...)

		for _, issue := range feedback {
			p.report(p.status.Warning(ctx, PluginID, issue))
			p.report(p.status.Log(ctx, PluginID, "feedback", issue, false))
		}

		// Let the user review the batch before spending tokens on the next
		// one. A timed-out wait continues automatically.
		if batchNum < totalBatches {
			p.report(p.status.Info(ctx, PluginID, fmt.Sprintf(
				"Batch %d done. Press Continue To Next Batch to proceed.", batchNum)))
			if _, ok := p.decisions.Wait(ctx, 0); !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.report(p.status.Info(ctx, PluginID, "No response received, continuing automatically."))
			}
		}
	}

	p.report(p.status.Success(ctx, PluginID, fmt.Sprintf(
		"Shopping list consolidated from %d to %d items.", len(ingredients), len(cleaned))))
	for _, item := range cleaned {
		desc := strings.TrimSpace(fmt.Sprintf("%s %s %s (%s)", item.Quantity, item.Unit, item.Name, item.Category))
		if len(item.MergedItems) > 0 {
			desc += "  <-  " + strings.Join(item.MergedItems, ", ")
		}
		p.report(p.status.Info(ctx, PluginID, desc))
	}

	if p.dryRun {
		p.report(p.status.Info(ctx, PluginID, "DRY RUN: Skipping Mealie updates"))
		return nil
	}

	listID, err := p.mealie.CreateShoppingList(ctx, listName)
	if err != nil {
		p.report(p.status.Error(ctx, PluginID, "Failed to create shopping list: "+listName))
		return fmt.Errorf("create shopping list: %w", err)
	}

	var added, failed int
	for _, item := range cleaned {
		note := strings.TrimSpace(fmt.Sprintf("%s %s %s", item.Quantity, item.Unit, item.Name))
		if err := p.mealie.AddItemToShoppingList(ctx, listID, note); err != nil {
			p.logger.Warn("Failed to add shopping list item",
				zap.String("item", note),
				zap.Error(err))
			p.report(p.status.Error(ctx, PluginID, "Failed to add "+note))
			failed++
			continue
		}
		added++
	}

	summary := fmt.Sprintf("Added %d items to shopping list", added)
	if failed > 0 {
		summary += fmt.Sprintf(" (%d errors)", failed)
	}
	p.report(p.status.Success(ctx, PluginID, summary))
	return nil
}

func (p *Plugin) report(err error) {
	if err != nil {
		p.logger.Warn("Control surface update failed", zap.Error(err))
	}
}
