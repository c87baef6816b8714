// Package mealplanner generates meal-plan entries for upcoming days via the
// completion API, taking the recipe catalog, the recent plan, and a free-form
// user prompt into account.
package mealplanner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"mealiemate/internal/clock"
	"mealiemate/internal/container"
	"mealiemate/internal/ha"
	"mealiemate/internal/plugin"
	"mealiemate/internal/services/gpt"
	"mealiemate/internal/services/mealie"
)

// PluginID is the stable identifier of this plugin.
const PluginID = "meal_planner"

const dateLayout = "2006-01-02"

// lookbackDays of plan history are sent along so recent meals don't repeat.
const lookbackDays = 15

const plannerNotes = "You are a meal planner AI responsible for generating structured, healthy, and " +
	"balanced meal plans based on the given meal catalog, user constraints, and existing plans. " +
	"Assign a Lunch and a Dinner recipe id to every requested day, avoid repeating recipes " +
	"from the current plan, and balance main ingredients across the week. " +
	`Return JSON: {"mealPlan": {"YYYY-MM-DD": {"Lunch": "<recipe_id>", "Dinner": "<recipe_id>"}}, "feedback": "<notes>"}`

// Plugin implements the meal planner.
type Plugin struct {
	status ha.Service
	mealie mealie.Service
	gpt    gpt.Service
	clock  clock.Clock
	logger *zap.Logger

	mealplanLength  int
	mealplanMessage string
	dryRun          bool
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
		status:          status,
		mealie:          mealieSvc,
		gpt:             gptSvc,
		clock:           clk,
		logger:          logger.Named(PluginID),
		mealplanLength:  7,
		mealplanMessage: "Generate a mealplan please.",
	}, nil
}

func (p *Plugin) ID() string   { return PluginID }
func (p *Plugin) Name() string { return "Meal Planner" }
func (p *Plugin) Description() string {
	return "Generates a meal plan for upcoming days using GPT."
}

// Entities declares a main switch, status/feedback sensors, the plan length,
// and the user prompt text input.
func (p *Plugin) Entities() plugin.Entities {
	return plugin.Entities{
		Switch: true,
		Sensors: map[string]plugin.Sensor{
			"status":   {ID: "status", Name: "Planning Progress"},
			"feedback": {ID: "feedback", Name: "Planning Feedback"},
		},
		Numbers: map[string]plugin.Number{
			"mealplan_length": {ID: "mealplan_length", Name: "Mealplan Days Required", Value: float64(p.mealplanLength), Min: 1, Max: 30, Step: 1, Unit: "d"},
		},
		Texts: map[string]plugin.Text{
			"mealplan_message": {ID: "mealplan_message", Name: "Mealplan User Input", Text: p.mealplanMessage},
		},
	}
}

// ApplySetting updates a setting by entity id.
func (p *Plugin) ApplySetting(name string, value any) error {
	switch name {
	case "mealplan_length":
		switch v := value.(type) {
		case int:
			p.mealplanLength = v
		case float64:
			p.mealplanLength = int(v)
		default:
			return fmt.Errorf("expected numeric value, got %T", value)
		}
		return nil
	case "mealplan_message":
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string value, got %T", value)
		}
		p.mealplanMessage = v
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

// ResetSensorIDs clears the planner output around each run.
func (p *Plugin) ResetSensorIDs() []string {
	return []string{"feedback"}
}

// DaysToPlan lists the dates needing a plan entry: from the day after the
// later of (latest planned date, today) through today+numDays. Empty when the
// current plan already extends past the requested horizon.
func DaysToPlan(today time.Time, latestPlanned string, numDays int) []string {
	start := today
	if latest, err := time.Parse(dateLayout, latestPlanned); err == nil && latest.After(start) {
		start = latest
	}
	start = start.AddDate(0, 0, 1)
	end := today.AddDate(0, 0, numDays)

	var days []string
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d.Format(dateLayout))
	}
	return days
}

// planSlots is one day's Lunch/Dinner recipe assignment.
type planSlots struct {
	Lunch  string
	Dinner string
}

// generatePlan asks the model for assignments covering the given days.
func (p *Plugin) generatePlan(ctx context.Context, recipes []map[string]any, currentPlan []map[string]string, days []string, userMessage string) (map[string]planSlots, string, error) {
	p.report(p.status.Info(ctx, PluginID, "Asking GPT to generate mealplan..."))

	systemData := map[string]any{
		"days":            days,
		"recipesCatalog":  recipes,
		"currentMealPlan": currentPlan,
		"notes":           plannerNotes,
	}
	systemJSON, err := json.Marshal(systemData)
	if err != nil {
		return nil, "", fmt.Errorf("marshal planner context: %w", err)
	}

	result, err := p.gpt.JSONChat(ctx, []gpt.Message{
		{Role: "system", Content: string(systemJSON)},
		{Role: "user", Content: userMessage},
	}, gpt.Options{})
	if err != nil {
		return nil, "", err
	}

	plan := make(map[string]planSlots)
	if rawPlan, ok := result["mealPlan"].(map[string]any); ok {
		for day, rawSlots := range rawPlan {
			slots, ok := rawSlots.(map[string]any)
			if !ok {
				continue
			}
			entry := planSlots{}
			if lunch, ok := slots["Lunch"].(string); ok {
				entry.Lunch = lunch
			}
			if dinner, ok := slots["Dinner"].(string); ok {
				entry.Dinner = dinner
			}
			plan[day] = entry
		}
	}
	feedback, _ := result["feedback"].(string)

	if len(plan) == 0 {
		p.logger.Warn("Planner returned empty meal plan")
	}
	return plan, feedback, nil
}

// Execute plans the requested horizon and writes new entries to Mealie.
func (p *Plugin) Execute(ctx context.Context) error {
	p.report(p.status.Info(ctx, PluginID, "Starting meal planning process..."))

	p.report(p.status.Info(ctx, PluginID, "Fetching recipes from Mealie..."))
	recipes, err := p.mealie.GetAllRecipes(ctx)
	if err != nil {
		p.report(p.status.Error(ctx, PluginID, "Could not fetch recipes from Mealie."))
		return fmt.Errorf("fetch recipes: %w", err)
	}

	catalog := make([]map[string]any, 0, len(recipes))
	for _, r := range recipes {
		tags := make([]string, 0, len(r.Tags))
		for _, t := range r.Tags {
			tags = append(tags, t.Name)
		}
		categories := make([]string, 0, len(r.Categories))
		for _, c := range r.Categories {
			categories = append(categories, c.Name)
		}
		catalog = append(catalog, map[string]any{
			"id":         r.ID,
			"name":       r.Name,
			"tags":       tags,
			"categories": categories,
		})
	}
	p.report(p.status.Info(ctx, PluginID, fmt.Sprintf("Found %d recipes", len(catalog))))

	p.report(p.status.Info(ctx, PluginID, "Fetching current meal plan..."))
	today := p.clock.Now()
	startDate := today.AddDate(0, 0, -lookbackDays).Format(dateLayout)
	endDate := today.AddDate(0, 0, p.mealplanLength).Format(dateLayout)

	planItems, err := p.mealie.GetMealPlan(ctx, startDate, endDate)
	if err != nil {
		p.report(p.status.Error(ctx, PluginID, "Could not fetch meal plan from Mealie."))
		return fmt.Errorf("fetch meal plan: %w", err)
	}
	if len(planItems) == 0 {
		p.report(p.status.Warning(ctx, PluginID, "No meal plan data available."))
		return nil
	}

	currentPlan := make([]map[string]string, 0, len(planItems))
	latestDate := today.Format(dateLayout)
	for _, item := range planItems {
		currentPlan = append(currentPlan, map[string]string{
			"date":     item.Date,
			"recipeId": item.RecipeID,
		})
		if item.Date > latestDate {
			latestDate = item.Date
		}
	}

	days := DaysToPlan(today, latestDate, p.mealplanLength)
	if len(days) == 0 {
		p.report(p.status.Success(ctx, PluginID, "No days need planning"))
		return nil
	}
	p.report(p.status.Info(ctx, PluginID, fmt.Sprintf("Planning meals for %d days", len(days))))

	plan, feedback, err := p.generatePlan(ctx, catalog, currentPlan, days, p.mealplanMessage)
	if err != nil {
		return fmt.Errorf("generate plan: %w", err)
	}
	if feedback != "" {
		p.report(p.status.Log(ctx, PluginID, "feedback", feedback, false))
	}

	nameByID := make(map[string]string, len(recipes))
	for _, r := range recipes {
		nameByID[r.ID] = r.Name
	}

	dates := make([]string, 0, len(plan))
	for day := range plan {
		dates = append(dates, day)
	}
	sort.Strings(dates)
	for _, day := range dates {
		p.report(p.status.Info(ctx, PluginID, day+":"))
		for mealType, recipeID := range map[string]string{"Lunch": plan[day].Lunch, "Dinner": plan[day].Dinner} {
			if recipeID == "" {
				continue
			}
			name := recipeID
			if n, ok := nameByID[recipeID]; ok {
				name = n
			}
			p.report(p.status.Info(ctx, PluginID, fmt.Sprintf("  %s: %s", mealType, name)))
		}
	}

	if p.dryRun {
		p.report(p.status.Info(ctx, PluginID, "DRY RUN: Skipping Mealie updates"))
		return nil
	}

	p.report(p.status.Info(ctx, PluginID, "Updating Mealie..."))
	var created, skipped, failed int
	for _, day := range dates {
		for mealType, recipeID := range map[string]string{"lunch": plan[day].Lunch, "dinner": plan[day].Dinner} {
			if recipeID == "" {
				continue
			}
			if planContains(planItems, day, mealType, recipeID) {
				p.report(p.status.Info(ctx, PluginID, fmt.Sprintf("Skipping %s on %s, already exists.", mealType, day)))
				skipped++
				continue
			}
			entry := mealie.MealPlanEntry{
				Date:      day,
				EntryType: mealType,
				RecipeID:  recipeID,
			}
			if err := p.mealie.CreateMealPlanEntry(ctx, entry); err != nil {
				p.logger.Warn("Failed to create meal plan entry",
					zap.String("date", day),
					zap.String("meal", mealType),
					zap.Error(err))
				p.report(p.status.Error(ctx, PluginID, fmt.Sprintf("Failed to add %s on %s", mealType, day)))
				failed++
				continue
			}
			created++
		}
	}

	p.report(p.status.Success(ctx, PluginID, fmt.Sprintf(
		"Meal planning complete: %d created, %d skipped, %d failed", created, skipped, failed)))
	return nil
}

func planContains(items []mealie.MealPlanEntry, date, entryType, recipeID string) bool {
	for _, item := range items {
		if item.Date == date && item.EntryType == entryType && item.RecipeID == recipeID {
			return true
		}
	}
	return false
}

func (p *Plugin) report(err error) {
	if err != nil {
		p.logger.Warn("Control surface update failed", zap.Error(err))
	}
}
