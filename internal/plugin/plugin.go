// Package plugin defines the contract every MealieMate plugin implements and
// the registry and manager that own plugin discovery and lifecycle.
package plugin

import (
	"context"
	"errors"

	"mealiemate/internal/container"
)

// ErrUnknownSetting is returned by ApplySetting for a setting name the plugin
// does not declare. Callers treat it as warn-and-skip, never fatal.
var ErrUnknownSetting = errors.New("unknown setting")

// Plugin is the interface every plugin implements.
type Plugin interface {
	// ID returns the stable plugin identifier, e.g. "meal_planner".
	ID() string

	// Name returns the human-readable plugin name.
	Name() string

	// Description says what the plugin does.
	Description() string

	// Execute runs the plugin's main functionality until completion or
	// cancellation of ctx.
	Execute(ctx context.Context) error

	// Entities declares the control surface this plugin exposes.
	Entities() Entities
}

// Factory constructs a plugin instance with its dependencies resolved from
// the container. Construction fails with a configuration error when a
// required dependency is not registered.
type Factory func(c *container.Container) (Plugin, error)

// Configurable is implemented by plugins with user-adjustable settings.
// ApplySetting sets a single setting by name; unknown names return
// ErrUnknownSetting.
type Configurable interface {
	ApplySetting(name string, value any) error
}

// SensorResetter is implemented by plugins whose display sensors should be
// cleared before a run starts and after it stops.
type SensorResetter interface {
	ResetSensorIDs() []string
}

// DecisionReceiver is implemented by plugins that block mid-run waiting for a
// user decision delivered via a button press.
type DecisionReceiver interface {
	Decisions() *DecisionGate
}
