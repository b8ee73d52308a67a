package capture

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/fenwick-labs/earmark/internal/audio"
	apperrors "github.com/fenwick-labs/earmark/internal/errors"
)

// MicConfig configures the microphone session.
type MicConfig struct {
	Format audio.Format // native format requested from the device
}

// MicSession captures the default microphone through miniaudio. The data
// callback runs on a real-time thread and does exactly three things:
// format conversion, one locked accumulator append, and a non-blocking
// level send. Everything else lives on the control side.
type MicSession struct {
	cfg  MicConfig
	acc  *audio.Accumulator
	perm askOnce

	levels  chan float64
	dropped atomic.Uint64

	mu       sync.Mutex
	state    State
	startGen uint64
	mctx     *malgo.AllocatedContext
	device   *malgo.Device
}

// NewMicSession creates an idle microphone session appending into acc.
func NewMicSession(cfg MicConfig, acc *audio.Accumulator, perm Checker) *MicSession {
	if cfg.Format.SampleRate <= 0 {
		cfg.Format.SampleRate = DefaultMicSampleRate
	}
	if cfg.Format.Channels <= 0 {
		cfg.Format.Channels = DefaultMicChannels
	}
	return &MicSession{
		cfg:    cfg,
		acc:    acc,
		perm:   askOnce{perm: perm},
		levels: make(chan float64, levelBuffer),
	}
}

func (s *MicSession) Source() audio.Source { return audio.SourceMic }

func (s *MicSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *MicSession) Levels() <-chan float64 { return s.levels }

func (s *MicSession) DroppedBuffers() uint64 { return s.dropped.Load() }

// Start resolves microphone permission, then opens and starts the device.
// A Stop that lands while the permission prompt is pending wins: the
// start aborts with CANCELLED instead of opening the stream.
func (s *MicSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	gen := s.startGen
	s.mu.Unlock()

	if err := s.perm.ensure(ctx, "microphone"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.startGen {
		return apperrors.New(apperrors.CodeCanceled, "start superseded by stop")
	}
	if s.state != StateIdle {
		return nil
	}
	return s.openLocked()
}

// openLocked stages the device bring-up so a failure reports which stage
// broke, and unwinds anything already opened.
func (s *MicSession) openLocked() error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeTapCreationFailed, "audio context init failed")
	}

	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatF32
	deviceCfg.Capture.Channels = uint32(s.cfg.Format.Channels)
	deviceCfg.SampleRate = uint32(s.cfg.Format.SampleRate)

	device, err := malgo.InitDevice(mctx.Context, deviceCfg, malgo.DeviceCallbacks{Data: s.onData})
	if err != nil {
		closeContext(mctx)
		return apperrors.Wrap(err, apperrors.CodeFormatNegotiationFailed, "microphone device init failed")
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		closeContext(mctx)
		return apperrors.Wrap(err, apperrors.CodeDeviceStartFailed, "microphone device start failed")
	}

	s.mctx = mctx
	s.device = device
	s.state = StateRunning
	return nil
}

// onData runs on the real-time capture thread. No logging, no blocking.
func (s *MicSession) onData(_, pSample []byte, _ uint32) {
	samples := audio.BytesToFloat32(pSample)
	mono, err := audio.Convert(samples, s.cfg.Format)
	if err != nil {
		s.dropped.Add(1)
		return
	}
	s.acc.Append(mono)
	select {
	case s.levels <- audio.Level(mono):
	default:
	}
}

func (s *MicSession) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "cannot pause microphone from %s", s.state)
	}
	if err := s.device.Stop(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "microphone device stop failed")
	}
	s.state = StatePaused
	return nil
}

func (s *MicSession) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "cannot resume microphone from %s", s.state)
	}
	if err := s.device.Start(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeDeviceStartFailed, "microphone device restart failed")
	}
	s.state = StateRunning
	return nil
}

// Stop tears down the device and context, discards anything still
// buffered, and supersedes any start blocked on a permission prompt.
func (s *MicSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startGen++
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	if s.mctx != nil {
		closeContext(s.mctx)
		s.mctx = nil
	}
	s.acc.DrainAndClear()
	s.state = StateIdle
	return nil
}

func closeContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}
