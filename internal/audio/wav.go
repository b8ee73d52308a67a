package audio

import (
	"bytes"
	"encoding/binary"

	apperrors "github.com/fenwick-labs/earmark/internal/errors"
)

// wavHeader is the canonical 44-byte PCM WAV header.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// EncodeWAV encodes recognition-format samples as an in-memory 16-bit
// mono PCM WAV file, the shape whisper-style inference servers accept.
// Samples outside [-1, 1] are clamped during quantization.
func EncodeWAV(samples []float32) ([]byte, error) {
	if len(samples) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "cannot encode empty sample buffer")
	}

	const (
		bitsPerSample = 16
		numChannels   = 1
	)
	dataSize := uint32(len(samples) * 2)

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   numChannels,
		SampleRate:    TargetSampleRate,
		ByteRate:      TargetSampleRate * numChannels * bitsPerSample / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+int(dataSize)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "write WAV header")
	}

	pcm := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		pcm[i] = int16(s * 32767)
	}
	if err := binary.Write(buf, binary.LittleEndian, pcm); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "write WAV data")
	}
	return buf.Bytes(), nil
}
