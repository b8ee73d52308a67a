package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-labs/earmark/internal/audio"
)

func fragmentAt(text string, ts time.Time) Fragment {
	return Fragment{
		ID:              uuid.New(),
		SessionID:       uuid.New(),
		Text:            text,
		Timestamp:       ts,
		DurationSeconds: 30,
		Source:          audio.SourceMic,
	}
}

func TestStoreAppendAndAll(t *testing.T) {
	s := NewStore(10, 4)
	now := time.Now()

	s.Append(fragmentAt("first", now))
	s.Append(fragmentAt("second", now.Add(30*time.Second)))

	all := s.All()
	if len(all) != 2 {
		t.Fatalf("All() returned %d fragments, want 2", len(all))
	}
	if all[0].Text != "first" || all[1].Text != "second" {
		t.Errorf("All() order = [%q, %q], want [first, second]", all[0].Text, all[1].Text)
	}
	if got := s.Len(); got != 2 {
		t.Errorf("Len() = %d, want 2", got)
	}
}

func TestStoreTrimsToBound(t *testing.T) {
	s := NewStore(3, 4)
	now := time.Now()
	for i := 0; i < 5; i++ {
		s.Append(fragmentAt(strings.Repeat("x", i+1), now.Add(time.Duration(i)*time.Second)))
	}

	all := s.All()
	if len(all) != 3 {
		t.Fatalf("Len() after overflow = %d, want 3", len(all))
	}
	if all[0].Text != "xxx" {
		t.Errorf("oldest surviving fragment = %q, want %q", all[0].Text, "xxx")
	}
}

func TestStoreRecentWindow(t *testing.T) {
	s := NewStore(10, 4)
	now := time.Now()

	s.Append(fragmentAt("old news", now.Add(-10*time.Minute)))
	s.Append(fragmentAt("just now", now.Add(-30*time.Second)))

	got := s.Recent(5 * time.Minute)
	if strings.Contains(got, "old news") {
		t.Errorf("Recent() = %q, must not contain fragments outside the window", got)
	}
	if !strings.Contains(got, "just now") {
		t.Errorf("Recent() = %q, want it to contain %q", got, "just now")
	}
	if !strings.Contains(got, "MIC: ") {
		t.Errorf("Recent() = %q, want source-prefixed lines", got)
	}
}

func TestStoreRecentEmpty(t *testing.T) {
	s := NewStore(10, 4)
	if got := s.Recent(time.Hour); got != "" {
		t.Errorf("Recent() on empty store = %q, want empty string", got)
	}
}

func TestStoreAppliesCorrector(t *testing.T) {
	s := NewStore(10, 4).WithCorrector(NewDictionary(map[string]string{
		"gleam": "Gleam",
	}))

	stored := s.Append(fragmentAt("we shipped gleam today", time.Now()))
	if stored.Text != "we shipped Gleam today" {
		t.Errorf("stored text = %q, want corrected text", stored.Text)
	}
	if all := s.All(); all[0].Text != "we shipped Gleam today" {
		t.Errorf("All()[0].Text = %q, want corrected text", all[0].Text)
	}
}

func TestStoreEmitsEvents(t *testing.T) {
	s := NewStore(10, 2)
	f := s.Append(fragmentAt("hello", time.Now()))

	select {
	case got := <-s.Events():
		if got.ID != f.ID {
			t.Errorf("event fragment ID = %v, want %v", got.ID, f.ID)
		}
	default:
		t.Fatal("no event emitted on append")
	}
}

func TestStoreEventOverflowDoesNotBlock(t *testing.T) {
	s := NewStore(10, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		now := time.Now()
		for i := 0; i < 5; i++ {
			s.Append(fragmentAt("burst", now))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked on a full event channel")
	}
	if got := s.Len(); got != 5 {
		t.Errorf("Len() = %d, want 5 (fragments must be stored even when events drop)", got)
	}
}

func TestDictionary(t *testing.T) {
	d := NewDictionary(map[string]string{
		"acme corp": "AcmeCorp",
		"jon":       "John",
	})

	tests := []struct {
		in   string
		want string
	}{
		{"talked to jon about acme corp", "talked to John about AcmeCorp"},
		{"nothing to fix", "nothing to fix"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := d.Correct(tt.in); got != tt.want {
			t.Errorf("Correct(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDictionaryEmpty(t *testing.T) {
	d := NewDictionary(nil)
	if got := d.Correct("unchanged"); got != "unchanged" {
		t.Errorf("Correct() = %q, want %q", got, "unchanged")
	}
}
