package pipeline

import (
	"github.com/google/uuid"

	"github.com/fenwick-labs/earmark/internal/audio"
	"github.com/fenwick-labs/earmark/internal/transcript"
)

// EventType labels pipeline notifications.
type EventType string

const (
	EventFragment         EventType = "fragment"
	EventLevel            EventType = "level"
	EventState            EventType = "state"
	EventSessionBoundary  EventType = "session_boundary"
	EventPermissionDenied EventType = "permission_denied"
)

// Event is a pipeline notification fanned out to the API layer. Only the
// fields relevant to the Type are set.
type Event struct {
	Type      EventType
	Fragment  *transcript.Fragment // EventFragment
	Source    audio.Source         // EventLevel, EventPermissionDenied
	Level     float64              // EventLevel
	State     State                // EventState
	SessionID uuid.UUID            // EventSessionBoundary
}

// State is the pipeline lifecycle state.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}
