// Package pizza calculates dough ingredients and a fermentation schedule for
// Neapolitan-style pizza. Yeast quantity is derived from temperature-adjusted
// equivalent fermentation hours, so the dough comes out consistent regardless
// of kitchen conditions.
package pizza

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"mealiemate/internal/container"
	"mealiemate/internal/ha"
	"mealiemate/internal/plugin"
)

// PluginID is the stable identifier of this plugin.
const PluginID = "neapolitan_pizza"

const (
	// yeastConstant is C in the formula IDY% = C / eq_hours.
	yeastConstant = 2.0
	// minEquivalentHours guards the yeast division.
	minEquivalentHours = 0.1
)

// Plugin implements the dough calculator.
type Plugin struct {
	status ha.Service
	logger *zap.Logger

	numberOfBalls int
	ballWeight    int
	hydration     int
	saltPercent   float64
	ambientTemp   int
	fridgeTemp    int
	totalTime     int
}

// Factory resolves dependencies and constructs the plugin with its defaults.
func Factory(c *container.Container) (plugin.Plugin, error) {
	status, err := container.Resolve[ha.Service](c, ha.ServiceName)
	if err != nil {
		return nil, err
	}
	logger, err := container.Resolve[*zap.Logger](c, container.LoggerName)
	if err != nil {
		return nil, err
	}
	return &Plugin{
		status:        status,
		logger:        logger.Named(PluginID),
		numberOfBalls: 2,
		ballWeight:    315,
		hydration:     70,
		saltPercent:   2.8,
		ambientTemp:   20,
		fridgeTemp:    4,
		totalTime:     26,
	}, nil
}

func (p *Plugin) ID() string   { return PluginID }
func (p *Plugin) Name() string { return "Neapolitan Pizza" }
func (p *Plugin) Description() string {
	return "Calculates dough ingredients and fermentation schedule for Neapolitan-style pizza."
}

// Entities declares the control surface: a main switch, a recipe sensor, a
// progress sensor, and the seven dough parameters.
func (p *Plugin) Entities() plugin.Entities {
	return plugin.Entities{
		Switch: true,
		Sensors: map[string]plugin.Sensor{
			"dough_recipe":          {ID: "dough_recipe", Name: "Pizza Dough Recipe"},
			plugin.ProgressSensorID: {ID: plugin.ProgressSensorID, Name: "Pizza Calculation Progress"},
		},
		Numbers: map[string]plugin.Number{
			"number_of_balls": {ID: "number_of_balls", Name: "Number of Balls", Value: float64(p.numberOfBalls), Min: 1, Max: 20, Step: 1, Unit: "ball(s)"},
			"ball_weight":     {ID: "ball_weight", Name: "Ball Weight (g)", Value: float64(p.ballWeight), Min: 100, Max: 1000, Step: 5, Unit: "g"},
			"hydration":       {ID: "hydration", Name: "Hydration (%)", Value: float64(p.hydration), Min: 50, Max: 80, Step: 1, Unit: "%"},
			"salt_percent":    {ID: "salt_percent", Name: "Salt (% of flour)", Value: p.saltPercent, Min: 0, Max: 6, Step: 0.1, Unit: "%", Float: true},
			"ambient_temp":    {ID: "ambient_temp", Name: "Ambient Temperature (°C)", Value: float64(p.ambientTemp), Min: 0, Max: 40, Step: 1, Unit: "°C"},
			"fridge_temp":     {ID: "fridge_temp", Name: "Fridge Temperature (°C)", Value: float64(p.fridgeTemp), Min: 0, Max: 10, Step: 1, Unit: "°C"},
			"total_time":      {ID: "total_time", Name: "Total Proof Time (hours)", Value: float64(p.totalTime), Min: 1, Max: 48, Step: 1, Unit: "h"},
		},
	}
}

// ApplySetting updates one dough parameter by entity id.
func (p *Plugin) ApplySetting(name string, value any) error {
	switch name {
	case "number_of_balls":
		return setInt(&p.numberOfBalls, value)
	case "ball_weight":
		return setInt(&p.ballWeight, value)
	case "hydration":
		return setInt(&p.hydration, value)
	case "salt_percent":
		return setFloat(&p.saltPercent, value)
	case "ambient_temp":
		return setInt(&p.ambientTemp, value)
	case "fridge_temp":
		return setInt(&p.fridgeTemp, value)
	case "total_time":
		return setInt(&p.totalTime, value)
	default:
		return plugin.ErrUnknownSetting
	}
}

// ResetSensorIDs clears the recipe output before and after a run.
func (p *Plugin) ResetSensorIDs() []string {
	return []string{"dough_recipe"}
}

func setInt(dst *int, value any) error {
	switch v := value.(type) {
	case int:
		*dst = v
	case float64:
		*dst = int(v)
	default:
		return fmt.Errorf("expected numeric value, got %T", value)
	}
	return nil
}

func setFloat(dst *float64, value any) error {
	switch v := value.(type) {
	case float64:
		*dst = v
	case int:
		*dst = float64(v)
	default:
		return fmt.Errorf("expected numeric value, got %T", value)
	}
	return nil
}

// Ingredients holds the calculated dough components in grams.
type Ingredients struct {
	Flour float64
	Water float64
	Salt  float64
}

// Schedule is the three fermentation phases in hours.
type Schedule struct {
	InitialRoomHours float64
	FridgeHours      float64
	FinalRestHours   float64
}

// fermentationFactor is the relative fermentation speed versus 20°C, per the
// Q10 principle: yeast activity roughly doubles every 10°C.
func fermentationFactor(tempC float64) float64 {
	return math.Pow(2, (tempC-20)/10.0)
}

// CalculateIngredients derives flour, water, and salt from the desired dough
// mass, ignoring yeast mass.
func CalculateIngredients(numBalls int, ballWeight, hydrationPercent, saltPercent float64) Ingredients {
	hydration := hydrationPercent / 100.0
	salt := saltPercent / 100.0

	totalDough := float64(numBalls) * ballWeight
	flour := totalDough / (1 + hydration + salt)

	return Ingredients{
		Flour: flour,
		Water: flour * hydration,
		Salt:  flour * salt,
	}
}

// CalculateSchedule splits the total proof time into the standard phases:
// 4h initial ambient rest, a variable fridge period, and a final ambient rest
// of 2h (warm fridge, >= 7°C) or 3h. Short total times shrink the initial
// rest first, then the fridge period.
func CalculateSchedule(totalTime, fridgeTemp float64) Schedule {
	initial := 4.0
	final := 3.0
	if fridgeTemp >= 7 {
		final = 2.0
	}

	fridge := totalTime - (initial + final)
	if fridge < 0 {
		initial = totalTime - final
		fridge = 0
		if initial < 0 {
			initial = 0
			final = totalTime
		}
	}

	return Schedule{
		InitialRoomHours: initial,
		FridgeHours:      fridge,
		FinalRestHours:   final,
	}
}

// EquivalentHours converts the schedule into fermentation hours at 20°C. The
// final rest uses the average of the fridge and ambient factors because the
// dough warms gradually rather than instantly.
func EquivalentHours(s Schedule, ambientTemp, fridgeTemp float64) float64 {
	eq := s.InitialRoomHours * fermentationFactor(ambientTemp)
	eq += s.FridgeHours * fermentationFactor(fridgeTemp)
	eq += s.FinalRestHours * (fermentationFactor(fridgeTemp) + fermentationFactor(ambientTemp)) / 2.0

	if eq < minEquivalentHours {
		eq = minEquivalentHours
	}
	return eq
}

// YeastGrams derives the instant dry yeast amount from the flour mass and the
// equivalent fermentation hours.
func YeastGrams(flour, equivalentHours float64) float64 {
	yeastPercent := yeastConstant / equivalentHours
	return flour * (yeastPercent / 100.0)
}

// FormatRecipe renders the recipe and schedule as markdown for the sensor.
func FormatRecipe(ing Ingredients, s Schedule, yeastGrams float64) string {
	return fmt.Sprintf(
		"**Neapolitan Pizza Dough Recipe**\n\n"+
			"- **Flour:** %d g\n"+
			"- **Water:** %d g\n"+
			"- **Salt:** %.2f g\n"+
			"- **Yeast:** %.2f g\n\n"+
			"**Fermentation Schedule**\n"+
			"- Initial Room Temp: %.2f h\n"+
			"- Fridge: %.2f h\n"+
			"- Final Ambient Rest: %.2f h\n",
		int(math.Round(ing.Flour)),
		int(math.Round(ing.Water)),
		ing.Salt,
		yeastGrams,
		s.InitialRoomHours,
		s.FridgeHours,
		s.FinalRestHours,
	)
}

// Execute runs the calculation and publishes the recipe.
func (p *Plugin) Execute(ctx context.Context) error {
	p.logger.Info("Starting pizza dough calculation")
	p.progress(ctx, 0, "Starting pizza dough calculation")
	p.report(p.status.Info(ctx, PluginID, "Starting pizza dough calculation..."))

	p.progress(ctx, 20, "Reading input parameters")
	p.report(p.status.Info(ctx, PluginID, fmt.Sprintf(
		"Calculating recipe for %d balls, %dg each, %d%% hydration",
		p.numberOfBalls, p.ballWeight, p.hydration)))

	p.progress(ctx, 40, "Calculating base ingredients")
	ingredients := CalculateIngredients(p.numberOfBalls, float64(p.ballWeight), float64(p.hydration), p.saltPercent)

	p.progress(ctx, 60, "Calculating fermentation schedule")
	schedule := CalculateSchedule(float64(p.totalTime), float64(p.fridgeTemp))

	p.progress(ctx, 80, "Calculating yeast amount")
	eqHours := EquivalentHours(schedule, float64(p.ambientTemp), float64(p.fridgeTemp))
	yeast := YeastGrams(ingredients.Flour, eqHours)

	p.logger.Info("Calculated yeast amount",
		zap.Float64("yeast_grams", yeast),
		zap.Float64("equivalent_hours", eqHours))
	p.report(p.status.Info(ctx, PluginID, fmt.Sprintf(
		"Calculated %.2fg yeast for %.2f equivalent hours", yeast, eqHours)))

	p.progress(ctx, 90, "Formatting recipe output")
	markdown := FormatRecipe(ingredients, schedule, yeast)

	if err := p.status.Log(ctx, PluginID, "dough_recipe", markdown, true); err != nil {
		return fmt.Errorf("publish dough recipe: %w", err)
	}
	p.report(p.status.Success(ctx, PluginID, "Pizza dough recipe calculated successfully"))
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
