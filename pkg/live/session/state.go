package session

import "context"

// State is the coordinator's authoritative session state. Transitions
// are serialized through the event loop; no two pipeline runs execute
// concurrently for the same session.
type State int

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// pendingResponse is the in-flight classify/respond/synthesize run
// for one turn. At most one exists per session.
type pendingResponse struct {
	turnID   int64
	tag      string
	ctx      context.Context
	cancel   context.CancelFunc
	canceled bool
}

// Cancel signals the in-flight adapter calls and marks the run stale.
// Calling it twice is a no-op. It returns immediately; it never waits
// for the backend to acknowledge.
func (p *pendingResponse) Cancel() {
	if p == nil || p.canceled {
		return
	}
	p.canceled = true
	if p.cancel != nil {
		p.cancel()
	}
}
