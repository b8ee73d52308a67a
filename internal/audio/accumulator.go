package audio

import (
	"sync"
	"time"
)

// Accumulator is the hand-off point between the capture callback and the
// chunk timer. Appends run on the real-time audio thread and must stay
// short: a single mutex guards the buffer and no I/O happens under it.
// Drains take everything or nothing, so a concurrent append lands entirely
// before or entirely after a drain and no sample is lost or seen twice.
type Accumulator struct {
	mu      sync.Mutex
	samples []float32
	start   time.Time
	now     func() time.Time
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{now: time.Now}
}

// Append adds samples to the buffer. The span start time is recorded on
// the empty-to-non-empty transition.
func (a *Accumulator) Append(samples []float32) {
	if len(samples) == 0 {
		return
	}
	a.mu.Lock()
	if len(a.samples) == 0 {
		a.start = a.now()
	}
	a.samples = append(a.samples, samples...)
	a.mu.Unlock()
}

// DrainAndClear atomically removes and returns everything accumulated so
// far along with the wall-clock start of the span. An empty accumulator
// returns nil samples and a zero time.
func (a *Accumulator) DrainAndClear() ([]float32, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	samples := a.samples
	start := a.start
	a.samples = nil
	a.start = time.Time{}
	return samples, start
}

// Len returns the number of buffered samples.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}
