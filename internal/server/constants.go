// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	// Per-connection inbound message rate limiting
	RateLimitMessages = 20          // Max messages per connection per window
	RateLimitWindow   = time.Second // Sliding window duration

	// Transcript window bounds for GET /api/transcript
	DefaultTranscriptSeconds = 300
	MaxTranscriptSeconds     = 3600

	// How long a broadcast write may block before the client is
	// considered too slow and the message is dropped.
	BroadcastTimeout = 5 * time.Second
)
