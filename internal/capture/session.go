// Package capture owns the microphone and system-audio capture sessions:
// platform device handles, the session state machine, permission
// prompting, and the hand-off of converted samples into the shared
// accumulator.
package capture

import (
	"context"

	"github.com/fenwick-labs/earmark/internal/audio"
)

// Default native formats requested from the platform backends.
const (
	DefaultMicSampleRate    = 48000
	DefaultMicChannels      = 1
	DefaultSystemChannels   = 2
	DefaultFramesPerBuffer  = 1024 // ~23ms at 44100Hz
	DefaultSystemSampleRate = 44100

	// Capacity of the level meter channel. Values are dropped, never
	// queued, when the consumer lags.
	levelBuffer = 32
)

// State is the capture-session state machine.
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

// Session is one capture source feeding a shared accumulator. Control
// methods are called from a single control goroutine; the platform data
// path produces samples concurrently and never touches control state.
type Session interface {
	// Source identifies which variant this session captures.
	Source() audio.Source

	// State returns the current machine state.
	State() State

	// Start opens the platform capture stream. On permission denial the
	// session stays Idle and the error carries PERMISSION_DENIED; staged
	// device failures carry the failing stage's code and leave nothing
	// half-open, so Start can be retried.
	Start(ctx context.Context) error

	// Pause halts the stream but keeps device handles open. Samples
	// already accumulated are left in place for the scheduler's pause
	// flush.
	Pause() error

	// Resume restarts a paused stream.
	Resume() error

	// Stop tears down all platform handles and discards buffered
	// samples. Safe to call while Start is waiting on a permission
	// prompt: the in-flight start observes the stop and never opens the
	// stream.
	Stop() error

	// Levels delivers 0..1 meter values off the real-time thread.
	Levels() <-chan float64

	// DroppedBuffers reports how many capture buffers failed conversion
	// and were discarded.
	DroppedBuffers() uint64
}
