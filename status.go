package singleton

import (
	"encoding/json"
	"time"
)

// Status is a point-in-time snapshot of a coordinator.
type Status struct {
	// Key is the uniqueness key.
	Key string `json:"key"`

	// NodeID is this coordinator's node.
	NodeID string `json:"nodeId"`

	// State is the coordinator's current state.
	State State `json:"state"`

	// Owner is the holder this coordinator believes owns the key
	// (zero if unknown).
	Owner Handle `json:"owner"`

	// Child is the live child handle when this coordinator is the owner.
	Child *Handle `json:"child,omitempty"`

	// Uptime is how long the coordinator has been running.
	Uptime time.Duration `json:"uptime"`
}

// IsOwner returns true if the snapshot was taken while owning the key.
func (s *Status) IsOwner() bool {
	return s.State == StateOwner
}

// statusJSON is used for custom JSON marshaling.
type statusJSON struct {
	Key      string  `json:"key"`
	NodeID   string  `json:"nodeId"`
	State    string  `json:"state"`
	Owner    string  `json:"owner"`
	Child    *Handle `json:"child,omitempty"`
	UptimeMs int64   `json:"uptimeMs"`
}

// MarshalJSON implements json.Marshaler to serialize State as a string
// and Uptime as milliseconds.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(statusJSON{
		Key:      s.Key,
		NodeID:   s.NodeID,
		State:    s.State.String(),
		Owner:    s.Owner.String(),
		Child:    s.Child,
		UptimeMs: s.Uptime.Milliseconds(),
	})
}
