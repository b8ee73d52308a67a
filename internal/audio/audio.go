// Package audio provides the sample-pipeline primitives: conversion from
// native capture formats to the recognition format, RMS silence gating,
// and the accumulator that bridges the real-time capture callback and the
// chunk timer.
package audio

import (
	"time"

	"github.com/google/uuid"
)

// Recognition format. Everything downstream of capture is mono 16 kHz f32.
const (
	TargetSampleRate = 16000
	TargetChannels   = 1
)

// Source identifies where captured audio came from.
type Source string

const (
	SourceMic    Source = "mic"
	SourceSystem Source = "system"
)

// Format describes a native capture format. Samples are interleaved f32.
type Format struct {
	SampleRate int
	Channels   int
}

// Chunk is a contiguous span of recognition-format samples plus the
// wall-clock time it represents. Chunks are ephemeral: they are handed to
// the transcription boundary and discarded, never persisted.
type Chunk struct {
	ID      uuid.UUID
	Samples []float32
	Start   time.Time
	Source  Source
}

// Duration returns the audible length of the chunk.
func (c Chunk) Duration() time.Duration {
	return time.Duration(float64(len(c.Samples)) / TargetSampleRate * float64(time.Second))
}
