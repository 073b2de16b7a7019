package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/transcanvas/pkg/schema"
)

// Session is the persisted record of one execution of a diagram.
type Session struct {
	ID        string              `json:"id"`
	Diagram   string              `json:"diagram"`
	Filename  string              `json:"filename,omitempty"`
	Channel   string              `json:"channel"`
	State     schema.SessionState `json:"state"`
	Variables map[string]string   `json:"variables,omitempty"`
	Error     string              `json:"error,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	EndedAt   *time.Time          `json:"ended_at,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// SessionUpdate carries the mutable fields of a session; nil fields are
// left untouched.
type SessionUpdate struct {
	State   *schema.SessionState
	Error   *string
	EndedAt *time.Time
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	Diagram string
	State   schema.SessionState
	Limit   int
}

// Event is an immutable entry in a session's lifecycle log.
type Event struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	Step      string          `json:"step,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}
