package singleton

import (
	"fmt"
	"time"

	"github.com/nats-io/nuid"
)

// Handle identifies one incarnation of a claimant or child process. A
// coordinator gets a fresh incarnation every time it is created, so a
// restarted coordinator never looks like its predecessor.
type Handle struct {
	NodeID      string    `json:"node_id"`
	Incarnation string    `json:"incarnation"`
	StartedAt   time.Time `json:"started_at"`
}

// NewHandle creates a handle for the given node with a fresh incarnation.
func NewHandle(nodeID string) Handle {
	return Handle{
		NodeID:      nodeID,
		Incarnation: nuid.Next(),
		StartedAt:   time.Now().UTC(),
	}
}

// IsZero returns true if the handle carries no identity.
func (h Handle) IsZero() bool {
	return h.NodeID == "" && h.Incarnation == ""
}

// Equal returns true if both handles name the same incarnation.
func (h Handle) Equal(o Handle) bool {
	return h.NodeID == o.NodeID && h.Incarnation == o.Incarnation
}

// Less defines a total order over handles. The order depends only on the
// two handle values, so every node comparing the same pair agrees on it.
func (h Handle) Less(o Handle) bool {
	if h.NodeID != o.NodeID {
		return h.NodeID < o.NodeID
	}
	return h.Incarnation < o.Incarnation
}

// String returns a human-readable identity for logs.
func (h Handle) String() string {
	if h.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s/%s", h.NodeID, h.Incarnation)
}
