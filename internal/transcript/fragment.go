// Package transcript stores transcript fragments in memory and fans
// append events out to consumers.
package transcript

import (
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-labs/earmark/internal/audio"
)

// Fragment is one timestamped piece of recognized speech plus the
// foreground-application context captured when its audio was chunked.
// Fragments are immutable once stored; dictionary correction runs before
// storage, never after.
type Fragment struct {
	ID              uuid.UUID    `json:"id"`
	SessionID       uuid.UUID    `json:"session_id"`
	Text            string       `json:"text"`
	Timestamp       time.Time    `json:"timestamp"`
	DurationSeconds int          `json:"duration_seconds"`
	SourceApp       string       `json:"source_app,omitempty"`
	Source          audio.Source `json:"source,omitempty"`
}
