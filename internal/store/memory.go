package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rendis/transcanvas/pkg/schema"
)

// MemoryStore is the in-process Registry used when no database path is
// configured. Values are copied in and out.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	events   map[string][]*Event
	nextID   int64
}

// NewMemoryStore returns an empty registry.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		events:   make(map[string][]*Event),
	}
}

func (m *MemoryStore) Migrate(context.Context) error { return nil }
func (m *MemoryStore) Close() error                  { return nil }

func (m *MemoryStore) CreateSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "session %q already exists", s.ID)
	}
	now := time.Now().UTC()
	s.CreatedAt = timeOr(s.CreatedAt, now)
	s.UpdatedAt = timeOr(s.UpdatedAt, now)
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, storeNotFound("session", id)
	}
	return copySession(s), nil
}

func (m *MemoryStore) UpdateSession(_ context.Context, id string, update SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return storeNotFound("session", id)
	}
	if update.State != nil {
		s.State = *update.State
	}
	if update.Error != nil {
		s.Error = *update.Error
	}
	if update.EndedAt != nil {
		t := *update.EndedAt
		s.EndedAt = &t
	}
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, filter SessionFilter) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if filter.Diagram != "" && s.Diagram != filter.Diagram {
			continue
		}
		if filter.State != "" && s.State != filter.State {
			continue
		}
		out = append(out, copySession(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[event.SessionID]; !ok {
		return storeNotFound("session", event.SessionID)
	}
	m.nextID++
	event.ID = m.nextID
	event.Sequence = int64(len(m.events[event.SessionID])) + 1
	event.Timestamp = timeOr(event.Timestamp, time.Now().UTC())
	cp := *event
	m.events[event.SessionID] = append(m.events[event.SessionID], &cp)
	return nil
}

func (m *MemoryStore) GetEvents(_ context.Context, sessionID string, since int64) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Event
	for _, e := range m.events[sessionID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func copySession(s *Session) *Session {
	cp := *s
	if s.Variables != nil {
		cp.Variables = make(map[string]string, len(s.Variables))
		for k, v := range s.Variables {
			cp.Variables[k] = v
		}
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	return &cp
}
