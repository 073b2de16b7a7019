package engine

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/rendis/transcanvas/internal/store"
	"github.com/rendis/transcanvas/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to schema.SessionState) error

// EventAppender is satisfied by store.Registry; the FSM emits one event per
// transition through it.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

type hookKey struct {
	from, to schema.SessionState
}

// SessionFSM owns the lifecycle state of the session bound to it and emits
// one event per transition.
type SessionFSM struct {
	mu        sync.Mutex
	state     schema.SessionState
	sessionID string
	appender  EventAppender
	before    map[hookKey][]TransitionHook
	after     map[hookKey][]TransitionHook
	every     []TransitionHook
}

// NewSessionFSM creates an idle FSM that emits events via the given appender.
// A nil appender disables event emission.
func NewSessionFSM(appender EventAppender) *SessionFSM {
	return &SessionFSM{
		state:    schema.SessionIdle,
		appender: appender,
		before:   make(map[hookKey][]TransitionHook),
		after:    make(map[hookKey][]TransitionHook),
	}
}

// Bind attaches the FSM to a new session. The FSM must be idle.
func (f *SessionFSM) Bind(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != schema.SessionIdle {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"cannot bind session %s while %s", sessionID, f.state).
			WithDetails(map[string]any{"session_id": f.sessionID})
	}
	f.sessionID = sessionID
	return nil
}

// State returns the current state.
func (f *SessionFSM) State() schema.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// SessionID returns the bound session, empty before the first Bind.
func (f *SessionFSM) SessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID
}

// OnBefore registers a hook called before a transition. A hook error aborts
// the transition.
func (f *SessionFSM) OnBefore(from, to schema.SessionState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *SessionFSM) OnAfter(from, to schema.SessionState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// OnTransition registers a hook called after every transition.
func (f *SessionFSM) OnTransition(hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.every = append(f.every, hook)
}

// Transition moves the FSM from its current state to to. Hooks run without
// the lock held so they may read State.
func (f *SessionFSM) Transition(ctx context.Context, to schema.SessionState) error {
	f.mu.Lock()
	from := f.state
	id := f.sessionID
	if !IsValidTransition(from, to) {
		f.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid session transition: %s -> %s", from, to).
			WithDetails(map[string]any{"session_id": id, "from": string(from), "to": string(to)})
	}
	key := hookKey{from, to}
	before := slices.Clone(f.before[key])
	after := slices.Clone(f.after[key])
	always := slices.Clone(f.every)
	f.mu.Unlock()

	for _, hook := range before {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	f.mu.Lock()
	if f.state != from {
		f.mu.Unlock()
		return schema.NewErrorf(schema.ErrCodeConflict,
			"session %s moved to %s during transition to %s", id, f.state, to)
	}
	f.state = to
	f.mu.Unlock()

	if f.appender != nil {
		payload, _ := json.Marshal(map[string]string{"from": string(from), "to": string(to)})
		event := &store.Event{
			SessionID: id,
			Type:      TransitionEventType(from, to),
			Payload:   payload,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit session event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range after {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	for _, hook := range always {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

// IsValidTransition reports whether the lifecycle allows from -> to.
func IsValidTransition(from, to schema.SessionState) bool {
	return slices.Contains(ValidTransitions[from], to)
}

// TransitionEventType names the event emitted for from -> to.
func TransitionEventType(from, to schema.SessionState) string {
	switch to {
	case schema.SessionPreparing:
		return schema.EventSessionPreparing
	case schema.SessionRunning:
		if from == schema.SessionPaused {
			return schema.EventSessionResumed
		}
		return schema.EventSessionRunning
	case schema.SessionPaused:
		return schema.EventSessionPaused
	case schema.SessionHalting:
		return schema.EventSessionHalting
	case schema.SessionSafeStopping:
		return schema.EventSessionSafeStopping
	case schema.SessionFinished:
		return schema.EventSessionFinished
	case schema.SessionIdle:
		if from == schema.SessionPreparing {
			return schema.EventPreparationFailed
		}
		return schema.EventSessionIdle
	default:
		return ""
	}
}

// ValidTransitions is the session lifecycle. Preparing may go back to Idle
// when preparation fails, or to Halting when stop arrives before the engine
// is ready. SafeStopping is reachable only from Running.
var ValidTransitions = map[schema.SessionState][]schema.SessionState{
	schema.SessionIdle:         {schema.SessionPreparing},
	schema.SessionPreparing:    {schema.SessionRunning, schema.SessionIdle, schema.SessionHalting},
	schema.SessionRunning:      {schema.SessionPaused, schema.SessionHalting, schema.SessionSafeStopping, schema.SessionFinished},
	schema.SessionPaused:       {schema.SessionRunning, schema.SessionHalting, schema.SessionFinished},
	schema.SessionHalting:      {schema.SessionFinished},
	schema.SessionSafeStopping: {schema.SessionFinished},
	schema.SessionFinished:     {schema.SessionIdle},
}
