// Package transcribe provides a client for the whisper-style HTTP inference server
package transcribe

import "time"

// Client configuration defaults
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxConcurrent = 4

	// maxResponseBytes bounds how much of an inference response is read;
	// a 30s chunk transcribes to far less than a megabyte.
	maxResponseBytes = 1 << 20
)
