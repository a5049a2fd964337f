package types

// Event is the wire form of a protocol notification: a type tag plus a flat
// set of string attributes. Events are the only channel through which
// external observers learn protocol outcomes, so attribute keys are part of
// the public surface and must stay stable.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// NewEvent builds an Event, copying the attribute map so callers can reuse
// their own.
func NewEvent(eventType string, attrs map[string]string) *Event {
	copied := make(map[string]string, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}
	return &Event{Type: eventType, Attributes: copied}
}
