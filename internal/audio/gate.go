package audio

import "math"

// DefaultSilenceThreshold is the RMS level below which a drained span is
// discarded instead of transcribed. Tuned against quiet-room noise floors;
// both capture variants share the same metric.
const DefaultSilenceThreshold = 0.004

// Gate decides whether a span of samples carries meaningful audio.
type Gate struct {
	threshold float64
}

// NewGate creates a gate. A non-positive threshold falls back to the
// default.
func NewGate(threshold float64) *Gate {
	if threshold <= 0 {
		threshold = DefaultSilenceThreshold
	}
	return &Gate{threshold: threshold}
}

// Threshold returns the configured RMS cutoff.
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// Significant reports whether the samples are worth transcribing. An
// empty span is trivially insignificant.
func (g *Gate) Significant(samples []float32) bool {
	if len(samples) == 0 {
		return false
	}
	return RMS(samples) > g.threshold
}

// RMS computes the root-mean-square amplitude of the samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Level maps samples to a 0..1 meter value for UI display.
func Level(samples []float32) float64 {
	return math.Min(RMS(samples)*10, 1.0)
}
