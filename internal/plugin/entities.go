package plugin

// Entities declares the control surface a plugin exposes to Home Assistant.
// The declaration is immutable per plugin type; consumers query it through
// Plugin.Entities on a transient instance.
type Entities struct {
	// Switch indicates the plugin has a main on/off switch that starts and
	// stops it.
	Switch bool

	Sensors  map[string]Sensor
	Numbers  map[string]Number
	Texts    map[string]Text
	Switches map[string]ToggleSwitch
	Buttons  map[string]Button
	Images   map[string]Image
}

// ProgressSensorID is the well-known sensor id for progress-style sensors.
const ProgressSensorID = "progress"

// HasProgressSensor reports whether the plugin declares a progress sensor.
func (e Entities) HasProgressSensor() bool {
	_, ok := e.Sensors[ProgressSensorID]
	return ok
}

// Sensor is a display sensor carrying log-style text.
type Sensor struct {
	ID   string
	Name string
}

// Number is a numeric configuration input.
type Number struct {
	ID    string
	Name  string
	Value float64
	Min   float64
	Max   float64
	Step  float64
	Unit  string
	// Float marks the value as fractional; integral otherwise. Controls how
	// the dispatcher parses inbound payloads.
	Float bool
}

// Text is a free-form text configuration input.
type Text struct {
	ID   string
	Name string
	Text string
}

// ToggleSwitch is an auxiliary boolean configuration switch, distinct from
// the plugin's main switch.
type ToggleSwitch struct {
	ID    string
	Name  string
	Value bool
}

// Button is a momentary action the user can press while the plugin runs.
// Accept is the decision a press submits to the plugin's decision gate.
type Button struct {
	ID     string
	Name   string
	Accept bool
}

// Image is a display-only image entity.
type Image struct {
	ID   string
	Name string
}
