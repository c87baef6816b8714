// Package dispatch routes inbound control messages from the MQTT bus to the
// plugin manager and to running plugin instances.
package dispatch

import (
	"fmt"
	"strings"

	"mealiemate/internal/ha"
)

// Domain is the entity kind a control topic addresses.
type Domain string

const (
	DomainSwitch Domain = "switch"
	DomainNumber Domain = "number"
	DomainText   Domain = "text"
	DomainButton Domain = "button"
)

// Ref is the structured form of a control topic: which entity kind, the raw
// identifier (application prefix stripped), and the command role of the topic.
type Ref struct {
	Domain Domain
	RawID  string
	Action string
}

// ParseTopic decodes a control topic of the shape
// <prefix>/<domain>/<identifier>/<action>. The identifier is the
// second-to-last segment; a leading "mealiemate_" application prefix is
// stripped. Topics outside the four command domains are rejected.
func ParseTopic(topic string) (Ref, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return Ref{}, fmt.Errorf("topic %q has too few segments", topic)
	}

	rawID := parts[len(parts)-2]
	rawID = strings.TrimPrefix(rawID, ha.AppID+"_")

	action := parts[len(parts)-1]
	domain := Domain(parts[len(parts)-3])

	switch domain {
	case DomainSwitch, DomainNumber, DomainText, DomainButton:
		return Ref{Domain: domain, RawID: rawID, Action: action}, nil
	default:
		return Ref{}, fmt.Errorf("topic %q addresses unsupported domain %q", topic, domain)
	}
}
