package schema

// Event type constants published on the status hub and recorded by the
// session registry.
const (
	EventSessionPreparing    = "session_preparing"
	EventSessionRunning      = "session_running"
	EventSessionPaused       = "session_paused"
	EventSessionResumed      = "session_resumed"
	EventSessionHalting      = "session_halting"
	EventSessionSafeStopping = "session_safe_stopping"
	EventSessionFinished     = "session_finished"
	EventSessionIdle         = "session_idle"

	EventPreparationFailed = "preparation_failed"
	EventStatusPolled      = "status_polled"
	EventDebugBreak        = "debug_break"
	EventStepError         = "step_error"
)

// SessionState represents the lifecycle state of an execution session.
type SessionState string

const (
	SessionIdle         SessionState = "idle"
	SessionPreparing    SessionState = "preparing"
	SessionRunning      SessionState = "running"
	SessionPaused       SessionState = "paused"
	SessionHalting      SessionState = "halting"
	SessionSafeStopping SessionState = "safe_stopping"
	SessionFinished     SessionState = "finished"
)

// Active reports whether a session in this state blocks a new start.
func (s SessionState) Active() bool {
	switch s {
	case SessionPreparing, SessionRunning, SessionPaused, SessionHalting, SessionSafeStopping:
		return true
	default:
		return false
	}
}
