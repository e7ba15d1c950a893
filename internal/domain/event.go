package domain

import (
	"encoding/json"
	"strings"
)

// EventTopicPrefix namespaces webhook events on the host event bus.
const EventTopicPrefix = "github/event/"

// EventKey is the two-level routing key for webhook handlers: an event
// name and an optional action.
type EventKey struct {
	Name   string
	Action string
}

// ParseEventKey splits "issues/opened" into its name and action.
func ParseEventKey(s string) EventKey {
	name, action, _ := strings.Cut(s, "/")
	return EventKey{Name: name, Action: action}
}

func (k EventKey) String() string {
	if k.Action == "" {
		return k.Name
	}
	return k.Name + "/" + k.Action
}

// Topic is the host-bus event name, e.g. "github/event/issues/opened".
func (k EventKey) Topic() string {
	return EventTopicPrefix + k.String()
}

// ValidEventName reports whether name can be used as the first level of
// an EventKey. The separator is reserved for name/action keys.
func ValidEventName(name string) bool {
	return name != "" && !strings.Contains(name, "/")
}

// General drops the action.
func (k EventKey) General() EventKey {
	return EventKey{Name: k.Name}
}

// Event is an inbound webhook envelope. It is not modified after it is
// received.
type Event struct {
	Name       string          `json:"event"`
	Action     string          `json:"action,omitempty"`
	DeliveryID string          `json:"delivery_id,omitempty"`
	Repository string          `json:"repository,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

func (e Event) Key() EventKey {
	return EventKey{Name: e.Name, Action: e.Action}
}
