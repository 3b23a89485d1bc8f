package types

// Event represents a typed event emitted during state transitions.
// Seq is the audit log position of the event, when known.
type Event struct {
	Seq        *uint64           `json:"seq,omitempty"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
