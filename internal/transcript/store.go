package transcript

import (
	"strings"
	"sync"
	"time"
)

// Store is the fragment storage surface the pipeline and API depend on.
type Store interface {
	Append(f Fragment) Fragment
	All() []Fragment
	Recent(window time.Duration) string
	Len() int
	Events() <-chan Fragment
}

// MemoryStore holds a bounded, append-only fragment list. When the bound
// is exceeded the oldest fragments fall off; nothing survives a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	fragments []Fragment
	maxSize   int
	eventsCh  chan Fragment
	corrector Corrector
}

// NewStore creates a store bounded to maxFragments entries with an event
// channel of eventBuffer capacity.
func NewStore(maxFragments, eventBuffer int) *MemoryStore {
	return &MemoryStore{
		fragments: make([]Fragment, 0, maxFragments),
		maxSize:   maxFragments,
		eventsCh:  make(chan Fragment, eventBuffer),
	}
}

// WithCorrector sets the text corrector applied on append.
func (s *MemoryStore) WithCorrector(c Corrector) *MemoryStore {
	s.corrector = c
	return s
}

// Append corrects and stores a fragment, emits it on the event channel,
// and returns the stored value. The event send never blocks; a full
// channel drops the event, not the fragment.
func (s *MemoryStore) Append(f Fragment) Fragment {
	if s.corrector != nil {
		f.Text = s.corrector.Correct(f.Text)
	}

	s.mu.Lock()
	s.fragments = append(s.fragments, f)
	if len(s.fragments) > s.maxSize {
		s.fragments = s.fragments[len(s.fragments)-s.maxSize:]
	}
	s.mu.Unlock()

	select {
	case s.eventsCh <- f:
	default:
	}
	return f
}

// All returns a copy of the stored fragments, oldest first.
func (s *MemoryStore) All() []Fragment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]Fragment, len(s.fragments))
	copy(result, s.fragments)
	return result
}

// Recent renders the fragments whose timestamps fall inside the trailing
// window as a text view, one line per fragment.
func (s *MemoryStore) Recent(window time.Duration) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	var parts []string
	for _, f := range s.fragments {
		if f.Timestamp.Before(cutoff) {
			continue
		}
		if f.Source != "" {
			parts = append(parts, strings.ToUpper(string(f.Source))+": "+f.Text)
		} else {
			parts = append(parts, f.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Len returns the number of stored fragments.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fragments)
}

// Events returns the append event channel.
func (s *MemoryStore) Events() <-chan Fragment {
	return s.eventsCh
}
