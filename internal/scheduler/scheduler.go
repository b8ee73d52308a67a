// Package scheduler owns the chunk timer. On every tick it drains the
// accumulator, applies the silence gate, and emits non-silent spans as
// chunks. Pause, stop, and session rotation flush synchronously, so no
// audio recorded before a transition is ever lost to it.
package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-labs/earmark/internal/audio"
)

// DefaultInterval is the chunk emission period.
const DefaultInterval = 30 * time.Second

// ChunkFunc receives emitted chunks. It is invoked synchronously from
// tick and flush paths and must not call back into the Scheduler.
type ChunkFunc func(audio.Chunk)

// Config carries the per-source chunking settings.
type Config struct {
	// Interval is the tick period. Non-positive falls back to the
	// default; range enforcement happens at config validation.
	Interval time.Duration
	// Source is stamped on every emitted chunk.
	Source audio.Source
	// Gate decides silence. Nil uses the default gate.
	Gate *audio.Gate
	// OnSilent, when set, observes the sample count of spans the gate
	// discarded. Used for instrumentation.
	OnSilent func(samples int)
}

// Scheduler drives timed chunk emission for one capture source.
type Scheduler struct {
	cfg  Config
	acc  *audio.Accumulator
	gate *audio.Gate
	emit ChunkFunc

	mu      sync.Mutex
	running bool
	paused  bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a stopped scheduler draining acc into emit.
func New(acc *audio.Accumulator, cfg Config, emit ChunkFunc) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	gate := cfg.Gate
	if gate == nil {
		gate = audio.NewGate(0)
	}
	return &Scheduler{cfg: cfg, acc: acc, gate: gate, emit: emit}
}

// Start begins ticking. Starting while already running replaces the
// existing timer rather than stacking a second one.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopTimerLocked()
	s.running = true
	s.paused = false
	s.startTimerLocked()
}

// Pause flushes whatever has accumulated, then stops the timer. The
// flush completes before Pause returns; after that the scheduler emits
// nothing until Resume.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.stopTimerLocked()
	s.running = false
	s.paused = true
	s.flushLocked()
}

// Resume restarts the timer. Nothing is flushed: the span accumulated
// after resuming starts fresh.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	s.running = true
	s.startTimerLocked()
}

// Stop flushes, then halts the timer for good. It waits for the timer
// goroutine to exit, so no emission happens after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopTimerLocked()
	s.running = false
	s.paused = false
	s.flushLocked()
	s.mu.Unlock()
	s.wg.Wait()
}

// StartNewSession flushes the current span so it lands in the old
// grouping. The caller owns rotating the logical session identifier once
// every source has flushed.
func (s *Scheduler) StartNewSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

// Running reports whether the timer is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Paused reports whether the scheduler is paused.
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

func (s *Scheduler) startTimerLocked() {
	stopCh := make(chan struct{})
	s.stopCh = stopCh
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) stopTimerLocked() {
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
}

// tick re-checks the running flag under the lock: a tick racing a pause
// or stop must not emit after the transition completed.
func (s *Scheduler) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.flushLocked()
}

// flushLocked drains the accumulator and emits the span if the gate
// passes it. Silent spans are discarded.
func (s *Scheduler) flushLocked() {
	samples, start := s.acc.DrainAndClear()
	if len(samples) == 0 {
		return
	}
	if !s.gate.Significant(samples) {
		if s.cfg.OnSilent != nil {
			s.cfg.OnSilent(len(samples))
		}
		return
	}
	s.emit(audio.Chunk{
		ID:      uuid.New(),
		Samples: samples,
		Start:   start,
		Source:  s.cfg.Source,
	})
}
