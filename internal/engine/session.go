package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/rendis/transcanvas/internal/logchan"
)

// Session is one run of a diagram. It is created and released on the
// interaction goroutine; only its Engine is touched by other goroutines.
type Session struct {
	ID        string
	Diagram   string
	Engine    Engine
	Channel   *logchan.Channel
	Variables map[string]string
	StartedAt time.Time

	breakpoints map[string]string
	fired       map[string]bool
	prepared    bool
	stepErrors  map[string]bool
}

func newSession(diagram string, eng Engine, ch *logchan.Channel, vars map[string]string, breakpoints map[string]string) *Session {
	return &Session{
		ID:          uuid.New().String(),
		Diagram:     diagram,
		Engine:      eng,
		Channel:     ch,
		Variables:   vars,
		StartedAt:   time.Now().UTC(),
		breakpoints: breakpoints,
		fired:       make(map[string]bool),
		stepErrors:  make(map[string]bool),
	}
}

// Prepared reports whether the engine finished preparation.
func (s *Session) Prepared() bool { return s.prepared }
