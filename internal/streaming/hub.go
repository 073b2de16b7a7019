// Package streaming fans status events out from the execution controller to
// any number of observers (status bar, tests).
package streaming

import (
	"context"

	"github.com/rendis/transcanvas/pkg/schema"
)

// StatusEvent is one lifecycle or polling notification for a session.
type StatusEvent struct {
	SessionID string              `json:"session_id"`
	Diagram   string              `json:"diagram"`
	Step      string              `json:"step,omitempty"`
	Type      string              `json:"event_type"`
	State     schema.SessionState `json:"state"`
	Payload   any                 `json:"payload,omitempty"`
}

// Filter selects the events a subscriber receives. Empty fields match all.
type Filter struct {
	Diagram   string   `json:"diagram,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Types     []string `json:"event_types,omitempty"`
}

// Hub provides pub/sub for status events.
type Hub interface {
	Publish(ctx context.Context, event StatusEvent) error
	Subscribe(ctx context.Context, filter Filter) (<-chan StatusEvent, func(), error)
}
