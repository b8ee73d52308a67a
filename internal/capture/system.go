package capture

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"github.com/fenwick-labs/earmark/internal/audio"
	apperrors "github.com/fenwick-labs/earmark/internal/errors"
)

// SystemConfig configures the system-audio session.
type SystemConfig struct {
	// ExcludedDevices lists name substrings that are never captured,
	// e.g. a virtual device already in use by another program.
	ExcludedDevices []string
	// FramesPerBuffer is the blocking-read granularity.
	FramesPerBuffer int
}

// SystemSession captures system playback through an OS loopback device
// (BlackHole, VB-Cable, a PulseAudio monitor). Bring-up is staged so a
// failed start reports which stage broke: host init, loopback scan,
// stream open, stream start. Partial setup is fully unwound on failure,
// so a retry starts clean.
type SystemSession struct {
	cfg  SystemConfig
	acc  *audio.Accumulator
	perm askOnce

	levels  chan float64
	dropped atomic.Uint64

	mu          sync.Mutex
	state       State
	startGen    uint64
	initialized bool
	stream      *portaudio.Stream
	buf         []float32
	format      audio.Format // negotiated from the device
	cancel      chan struct{}
	wg          sync.WaitGroup
}

// NewSystemSession creates an idle system-audio session appending into acc.
func NewSystemSession(cfg SystemConfig, acc *audio.Accumulator, perm Checker) *SystemSession {
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = DefaultFramesPerBuffer
	}
	return &SystemSession{
		cfg:    cfg,
		acc:    acc,
		perm:   askOnce{perm: perm},
		levels: make(chan float64, levelBuffer),
	}
}

func (s *SystemSession) Source() audio.Source { return audio.SourceSystem }

func (s *SystemSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SystemSession) Levels() <-chan float64 { return s.levels }

func (s *SystemSession) DroppedBuffers() uint64 { return s.dropped.Load() }

// Start resolves capture permission, then brings the loopback stream up
// stage by stage. A Stop landing during the permission prompt wins.
func (s *SystemSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	gen := s.startGen
	s.mu.Unlock()

	if err := s.perm.ensure(ctx, "system audio"); err != nil {
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

func (s *SystemSession) openLocked() error {
	if err := portaudio.Initialize(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeTapCreationFailed, "audio host init failed")
	}
	s.initialized = true

	devices, err := portaudio.Devices()
	if err != nil {
		s.teardownLocked()
		return apperrors.Wrap(err, apperrors.CodeTapCreationFailed, "device enumeration failed")
	}
	dev := s.findLoopback(devices)
	if dev == nil {
		s.teardownLocked()
		return apperrors.New(apperrors.CodeAggregateDeviceFailed, "no loopback capture device found")
	}

	// Negotiate at the device's native format; conversion to the
	// recognition format happens in the read loop.
	format := audio.Format{
		SampleRate: int(dev.DefaultSampleRate),
		Channels:   DefaultSystemChannels,
	}
	if format.SampleRate <= 0 {
		format.SampleRate = DefaultSystemSampleRate
	}
	if dev.MaxInputChannels < format.Channels {
		format.Channels = dev.MaxInputChannels
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: format.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: s.cfg.FramesPerBuffer,
	}

	buf := make([]float32, s.cfg.FramesPerBuffer*format.Channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		s.teardownLocked()
		return apperrors.Wrapf(err, apperrors.CodeFormatNegotiationFailed,
			"open stream on %q failed", dev.Name)
	}
	s.stream = stream

	if err := stream.Start(); err != nil {
		s.teardownLocked()
		return apperrors.Wrapf(err, apperrors.CodeDeviceStartFailed,
			"start stream on %q failed", dev.Name)
	}

	s.buf = buf
	s.format = format
	s.startLoopLocked()
	s.state = StateRunning
	slog.Info("started system audio capture",
		"device", dev.Name, "sample_rate", format.SampleRate, "channels", format.Channels)
	return nil
}

// findLoopback returns the best loopback input device, or nil.
func (s *SystemSession) findLoopback(devices []*portaudio.DeviceInfo) *portaudio.DeviceInfo {
	var best *portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 || s.isExcluded(dev.Name) {
			continue
		}
		if !isLoopbackDevice(dev.Name) {
			continue
		}
		if best == nil || preferLoopback(dev.Name, best.Name) {
			best = dev
		}
	}
	return best
}

func isLoopbackDevice(name string) bool {
	keywords := []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}
	for _, kw := range keywords {
		if containsIgnoreCase(name, kw) {
			return true
		}
	}
	return false
}

func (s *SystemSession) isExcluded(name string) bool {
	for _, ex := range s.cfg.ExcludedDevices {
		if containsIgnoreCase(name, ex) {
			return true
		}
	}
	return false
}

func preferLoopback(name, current string) bool {
	// Prefer purpose-built loopback drivers over desktop monitors.
	preferred := []string{"blackhole", "vb-cable"}
	for _, p := range preferred {
		nameHas := containsIgnoreCase(name, p)
		currHas := containsIgnoreCase(current, p)
		if nameHas && !currHas {
			return true
		}
	}
	return false
}

// startLoopLocked spawns the blocking-read loop for the current stream.
func (s *SystemSession) startLoopLocked() {
	cancel := make(chan struct{})
	s.cancel = cancel
	s.wg.Add(1)
	go s.readLoop(s.stream, s.buf, s.format, cancel)
}

// readLoop runs on an ordinary goroutine, not the platform callback
// thread, so logging on exit is fine. Conversion failures drop the buffer
// and keep the stream alive.
func (s *SystemSession) readLoop(stream *portaudio.Stream, buf []float32, format audio.Format, cancel chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-cancel:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			select {
			case <-cancel: // expected while pausing or stopping
			default:
				slog.Debug("system audio read error", "error", err)
			}
			return
		}

		mono, err := audio.Convert(buf, format)
		if err != nil {
			s.dropped.Add(1)
			continue
		}
		s.acc.Append(mono)
		select {
		case s.levels <- audio.Level(mono):
		default:
		}
	}
}

// stopLoopLocked ends the read loop and waits for it to exit. Stopping
// the stream unblocks a pending Read.
func (s *SystemSession) stopLoopLocked() {
	if s.cancel == nil {
		return
	}
	close(s.cancel)
	s.cancel = nil
	if s.stream != nil {
		_ = s.stream.Stop()
	}
	s.wg.Wait()
}

func (s *SystemSession) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "cannot pause system audio from %s", s.state)
	}
	s.stopLoopLocked()
	s.state = StatePaused
	return nil
}

func (s *SystemSession) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return apperrors.Newf(apperrors.CodeInvalidArgument, "cannot resume system audio from %s", s.state)
	}
	if err := s.stream.Start(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeDeviceStartFailed, "restart stream failed")
	}
	s.startLoopLocked()
	s.state = StateRunning
	return nil
}

// Stop unwinds everything the staged start set up, in reverse order, and
// discards buffered samples.
func (s *SystemSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startGen++
	s.teardownLocked()
	s.acc.DrainAndClear()
	s.state = StateIdle
	return nil
}

func (s *SystemSession) teardownLocked() {
	s.stopLoopLocked()
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
	s.buf = nil
	if s.initialized {
		_ = portaudio.Terminate()
		s.initialized = false
	}
}

func containsIgnoreCase(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || containsIgnoreCaseImpl(s, substr))
}

const asciiCaseOffset = 'a' - 'A'

func containsIgnoreCaseImpl(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			c1, c2 := s[i+j], substr[j]
			if c1 >= 'A' && c1 <= 'Z' {
				c1 += asciiCaseOffset
			}
			if c2 >= 'A' && c2 <= 'Z' {
				c2 += asciiCaseOffset
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
