package pipeline

import "time"

// Pipeline configuration constants
const (
	// Event channel capacity. Events are dropped, never queued
	// unboundedly, when the API layer lags.
	EventBuffer = 64

	// How often per-source dropped-buffer counters are sampled into
	// metrics.
	DroppedPollInterval = 15 * time.Second
)
