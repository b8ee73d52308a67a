package audio

import (
	"encoding/binary"
	"math"

	apperrors "github.com/fenwick-labs/earmark/internal/errors"
)

// Extra capacity carried by resampled buffers so downstream appends of
// short tails do not reallocate.
const resampleSlack = 64

// Convert downmixes and resamples interleaved f32 samples described by f
// into the recognition format. Downmixing averages all channels;
// resampling is linear interpolation, which is enough fidelity for speech
// recognition input. The output holds round(frames * 16000 / rate)
// samples.
//
// A format that cannot be represented returns a FORMAT_ERROR; callers on
// the capture path drop the buffer and keep the stream alive.
func Convert(samples []float32, f Format) ([]float32, error) {
	if f.SampleRate <= 0 {
		return nil, apperrors.Newf(apperrors.CodeFormatError, "invalid sample rate %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return nil, apperrors.Newf(apperrors.CodeFormatError, "invalid channel count %d", f.Channels)
	}
	if len(samples)%f.Channels != 0 {
		return nil, apperrors.Newf(apperrors.CodeFormatError,
			"sample count %d not divisible by %d channels", len(samples), f.Channels)
	}

	mono := downmix(samples, f.Channels)
	if f.SampleRate == TargetSampleRate {
		return mono, nil
	}
	return resample(mono, f.SampleRate, TargetSampleRate), nil
}

// downmix averages interleaved channels into mono. Single-channel input
// is returned as-is to keep the capture callback allocation-light.
func downmix(in []float32, channels int) []float32 {
	if channels == 1 {
		return in
	}
	frames := len(in) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += in[base+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// resample converts mono samples between rates by linear interpolation.
func resample(in []float32, from, to int) []float32 {
	frames := int(math.Round(float64(len(in)) * float64(to) / float64(from)))
	out := make([]float32, frames, frames+resampleSlack)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

// BytesToFloat32 reinterprets little-endian f32 PCM bytes as samples, the
// layout capture backends deliver. Trailing bytes short of a full sample
// are ignored.
func BytesToFloat32(data []byte) []float32 {
	n := len(data) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(data[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples
}
