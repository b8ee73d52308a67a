package audio

import (
	"encoding/binary"
	"math"
	"testing"

	apperrors "github.com/fenwick-labs/earmark/internal/errors"
)

func TestConvertRejectsBadFormats(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		format  Format
	}{
		{"zero sample rate", []float32{0.1, 0.2}, Format{SampleRate: 0, Channels: 1}},
		{"negative sample rate", []float32{0.1, 0.2}, Format{SampleRate: -44100, Channels: 1}},
		{"zero channels", []float32{0.1, 0.2}, Format{SampleRate: 44100, Channels: 0}},
		{"ragged frame", []float32{0.1, 0.2, 0.3}, Format{SampleRate: 44100, Channels: 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Convert(tt.samples, tt.format)
			if err == nil {
				t.Fatalf("Convert(%v) error = nil, want FORMAT_ERROR", tt.format)
			}
			if !apperrors.IsCode(err, apperrors.CodeFormatError) {
				t.Errorf("Convert(%v) error code = %v, want %v", tt.format, err, apperrors.CodeFormatError)
			}
		})
	}
}

func TestConvertPassthrough(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3}
	out, err := Convert(in, Format{SampleRate: TargetSampleRate, Channels: 1})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("Convert() returned %d samples, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestConvertDownmixAveragesChannels(t *testing.T) {
	in := []float32{1.0, 0.0, 0.5, 0.5, -1.0, 1.0}
	out, err := Convert(in, Format{SampleRate: TargetSampleRate, Channels: 2})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	want := []float32{0.5, 0.5, 0.0}
	if len(out) != len(want) {
		t.Fatalf("Convert() returned %d frames, want %d", len(out), len(want))
	}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-6 {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestConvertOutputLength(t *testing.T) {
	tests := []struct {
		name   string
		frames int
		format Format
		want   int
	}{
		{"48k mono", 4800, Format{SampleRate: 48000, Channels: 1}, 1600},
		{"44.1k stereo", 4410, Format{SampleRate: 44100, Channels: 2}, 1600},
		{"32k mono", 3200, Format{SampleRate: 32000, Channels: 1}, 1600},
		{"8k upsample", 800, Format{SampleRate: 8000, Channels: 1}, 1600},
		{"empty", 0, Format{SampleRate: 48000, Channels: 2}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]float32, tt.frames*tt.format.Channels)
			out, err := Convert(in, tt.format)
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}
			if len(out) != tt.want {
				t.Errorf("Convert() returned %d frames, want %d", len(out), tt.want)
			}
		})
	}
}

func TestConvertInterpolation(t *testing.T) {
	// Halving 32 kHz lands every output sample on an even input index,
	// so the interpolated values are exact.
	in := []float32{0, 1, 2, 3, 4, 5, 6, 7}
	out, err := Convert(in, Format{SampleRate: 32000, Channels: 1})
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	want := []float32{0, 2, 4, 6}
	if len(out) != len(want) {
		t.Fatalf("Convert() returned %d frames, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestBytesToFloat32(t *testing.T) {
	want := []float32{0.0, 0.5, -1.0, 1.0}
	data := make([]byte, len(want)*4)
	for i, f := range want {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}

	got := BytesToFloat32(data)
	if len(got) != len(want) {
		t.Fatalf("BytesToFloat32() returned %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBytesToFloat32IgnoresTrailingBytes(t *testing.T) {
	data := make([]byte, 10) // two full samples plus two stray bytes
	got := BytesToFloat32(data)
	if len(got) != 2 {
		t.Errorf("BytesToFloat32() returned %d samples, want 2", len(got))
	}
}

func TestChunkDuration(t *testing.T) {
	c := Chunk{Samples: make([]float32, TargetSampleRate*2)}
	if got := c.Duration(); got.Seconds() != 2.0 {
		t.Errorf("Duration() = %v, want 2s", got)
	}
}
