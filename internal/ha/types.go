package ha

// Device is the Home Assistant device block shared by all discovered entities
// so they group under a single MealieMate device.
type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// switchDiscovery is the discovery payload for a switch entity
type switchDiscovery struct {
	Name         string `json:"name"`
	CommandTopic string `json:"command_topic"`
	StateTopic   string `json:"state_topic"`
	UniqueID     string `json:"unique_id"`
	Device       Device `json:"device"`
	PayloadOn    string `json:"payload_on"`
	PayloadOff   string `json:"payload_off"`
	Optimistic   bool   `json:"optimistic"`
	Icon         string `json:"icon"`
}

// sensorDiscovery is the discovery payload for a timestamp log sensor
type sensorDiscovery struct {
	Name            string `json:"name"`
	StateTopic      string `json:"state_topic"`
	AttributesTopic string `json:"json_attributes_topic"`
	UniqueID        string `json:"unique_id"`
	DeviceClass     string `json:"device_class,omitempty"`
	Icon            string `json:"icon"`
	Device          Device `json:"device"`
}

// progressDiscovery is the discovery payload for a percentage progress sensor
type progressDiscovery struct {
	Name            string `json:"name"`
	StateTopic      string `json:"state_topic"`
	AttributesTopic string `json:"json_attributes_topic"`
	UniqueID        string `json:"unique_id"`
	UnitOfMeasure   string `json:"unit_of_measurement"`
	Icon            string `json:"icon"`
	Device          Device `json:"device"`
}

// numberDiscovery is the discovery payload for a number input entity
type numberDiscovery struct {
	Name          string  `json:"name"`
	StateTopic    string  `json:"state_topic"`
	CommandTopic  string  `json:"command_topic"`
	UniqueID      string  `json:"unique_id"`
	Min           float64 `json:"min"`
	Max           float64 `json:"max"`
	Step          float64 `json:"step"`
	Mode          string  `json:"mode"`
	UnitOfMeasure string  `json:"unit_of_measurement"`
	Retain        bool    `json:"retain"`
	Icon          string  `json:"icon"`
	Device        Device  `json:"device"`
}

// textDiscovery is the discovery payload for a text input entity
type textDiscovery struct {
	Name         string `json:"name"`
	StateTopic   string `json:"state_topic"`
	CommandTopic string `json:"command_topic"`
	UniqueID     string `json:"unique_id"`
	Mode         string `json:"mode"`
	Max          int    `json:"max"`
	Retain       bool   `json:"retain"`
	Icon         string `json:"icon"`
	Device       Device `json:"device"`
}

// buttonDiscovery is the discovery payload for a button entity
type buttonDiscovery struct {
	Name         string `json:"name"`
	CommandTopic string `json:"command_topic"`
	UniqueID     string `json:"unique_id"`
	PayloadPress string `json:"payload_press"`
	Icon         string `json:"icon"`
	Device       Device `json:"device"`
}

// binarySensorDiscovery is the discovery payload for the service status entity
type binarySensorDiscovery struct {
	Name        string `json:"name"`
	StateTopic  string `json:"state_topic"`
	UniqueID    string `json:"unique_id"`
	PayloadOn   string `json:"payload_on"`
	PayloadOff  string `json:"payload_off"`
	DeviceClass string `json:"device_class"`
	Icon        string `json:"icon"`
	Device      Device `json:"device"`
}

// imageDiscovery is the discovery payload for an image entity
type imageDiscovery struct {
	Name        string `json:"name"`
	ImageTopic  string `json:"image_topic"`
	UniqueID    string `json:"unique_id"`
	ContentType string `json:"content_type"`
	Icon        string `json:"icon"`
	Device      Device `json:"device"`
}

// sensorAttributes is published alongside a log sensor's timestamp state
type sensorAttributes struct {
	FullText string `json:"full_text"`
}

// progressAttributes carries the human-readable activity for a progress sensor
type progressAttributes struct {
	Activity string `json:"activity"`
}
