// Package pipeline wires capture sessions, chunk scheduling, transcription,
// and the fragment store into one controllable recording unit
package pipeline

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fenwick-labs/earmark/internal/audio"
	"github.com/fenwick-labs/earmark/internal/capture"
	"github.com/fenwick-labs/earmark/internal/config"
	apperrors "github.com/fenwick-labs/earmark/internal/errors"
	"github.com/fenwick-labs/earmark/internal/metrics"
	"github.com/fenwick-labs/earmark/internal/scheduler"
	"github.com/fenwick-labs/earmark/internal/segment"
	"github.com/fenwick-labs/earmark/internal/syncx"
	"github.com/fenwick-labs/earmark/internal/trace"
	"github.com/fenwick-labs/earmark/internal/transcribe"
	"github.com/fenwick-labs/earmark/internal/transcript"
)

// ForegroundSource names the application currently in front.
type ForegroundSource interface {
	Current() string
}

// Deps carries the pipeline's collaborators.
type Deps struct {
	// Transcriber turns chunks into text. Required.
	Transcriber transcribe.Transcriber
	// Store receives fragments and serves the transcript views. Required.
	Store *transcript.MemoryStore
	// Foreground names the app in front when chunks are cut. Optional.
	Foreground ForegroundSource
	// Metrics defaults to an unregistered set.
	Metrics *metrics.Metrics
	// SessionFactory overrides platform session construction. Tests
	// inject fakes here.
	SessionFactory func(src audio.Source, acc *audio.Accumulator) (capture.Session, error)
}

// source bundles one capture variant with its scheduler. The two share
// an accumulator: the session appends, the scheduler drains.
type source struct {
	sess  capture.Session
	sched *scheduler.Scheduler
}

// Manager owns the recording lifecycle across all configured sources.
type Manager struct {
	cfg  *config.Config
	deps Deps

	sources   []*source
	segmenter *segment.Segmenter

	status    *syncx.RWGuard[State]
	sessionID *syncx.RWGuard[uuid.UUID]

	opMu sync.Mutex // serializes lifecycle operations

	events    chan Event
	closeCh   chan struct{}
	closeOnce sync.Once

	transcribeWG sync.WaitGroup
	monitorWG    sync.WaitGroup
}

// New creates an idle manager and starts its monitor goroutines.
func New(cfg *config.Config, deps Deps) (*Manager, error) {
	if deps.Transcriber == nil {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "pipeline requires a transcriber")
	}
	if deps.Store == nil {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "pipeline requires a fragment store")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	factory := deps.SessionFactory
	if factory == nil {
		factory = platformSessionFactory(cfg)
	}

	m := &Manager{
		cfg:  cfg,
		deps: deps,
		segmenter: segment.New(segment.Config{
			SoftGap: cfg.Segmentation.SoftGap(),
			HardGap: cfg.Segmentation.HardGap(),
		}),
		status:    syncx.NewGuard(StateIdle),
		sessionID: syncx.NewGuard(uuid.New()),
		events:    make(chan Event, EventBuffer),
		closeCh:   make(chan struct{}),
	}

	for _, name := range sourcesFor(cfg.Capture.Source) {
		acc := audio.NewAccumulator()
		sess, err := factory(name, acc)
		if err != nil {
			return nil, err
		}
		m.sources = append(m.sources, &source{
			sess: sess,
			sched: scheduler.New(acc, scheduler.Config{
				Interval: cfg.Capture.ChunkInterval(),
				Source:   name,
				Gate:     audio.NewGate(cfg.Capture.SilenceThreshold),
				OnSilent: func(samples int) {
					m.deps.Metrics.RecordSilentSpan()
					slog.Debug("silent span discarded", "source", name, "samples", samples)
				},
			}, m.handleChunk),
		})
	}

	m.monitorWG.Add(len(m.sources) + 2)
	for _, src := range m.sources {
		go m.watchLevels(src)
	}
	go m.watchDropped()
	go m.forwardFragments()

	return m, nil
}

// platformSessionFactory builds real device sessions. The backends
// surface OS permission denial as device-open failures, so the static
// checker stays out of the way until a native prompt is wired in.
func platformSessionFactory(cfg *config.Config) func(audio.Source, *audio.Accumulator) (capture.Session, error) {
	perm := capture.Static{Status: capture.StatusGranted}
	return func(src audio.Source, acc *audio.Accumulator) (capture.Session, error) {
		switch src {
		case audio.SourceMic:
			return capture.NewMicSession(capture.MicConfig{
				Format: audio.Format{
					SampleRate: cfg.Capture.Mic.SampleRate,
					Channels:   cfg.Capture.Mic.Channels,
				},
			}, acc, perm), nil
		case audio.SourceSystem:
			return capture.NewSystemSession(capture.SystemConfig{
				ExcludedDevices: cfg.Capture.System.ExcludedDevices,
				FramesPerBuffer: cfg.Capture.System.FramesPerBuffer,
			}, acc, perm), nil
		default:
			return nil, apperrors.Newf(apperrors.CodeInvalidArgument, "unknown capture source %q", src)
		}
	}
}

func sourcesFor(selection string) []audio.Source {
	switch selection {
	case config.SourceMic:
		return []audio.Source{audio.SourceMic}
	case config.SourceSystem:
		return []audio.Source{audio.SourceSystem}
	default:
		return []audio.Source{audio.SourceMic, audio.SourceSystem}
	}
}

// Start opens every configured source and begins chunking. A source
// whose permission is denied is skipped with an event; Start fails only
// when no source comes up.
func (m *Manager) Start(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	switch m.status.Get() {
	case StateRunning:
		return nil
	case StatePaused:
		return apperrors.New(apperrors.CodeInvalidArgument, "recording is paused; resume or stop first")
	}

	log := trace.Logger(ctx)
	var lastErr error
	started := 0
	for _, src := range m.sources {
		if err := src.sess.Start(ctx); err != nil {
			lastErr = err
			if apperrors.IsCode(err, apperrors.CodePermissionDenied) {
				log.Warn("capture permission denied", "source", src.sess.Source())
				m.emit(Event{Type: EventPermissionDenied, Source: src.sess.Source()})
			} else {
				log.Error("capture start failed", "source", src.sess.Source(), "error", err)
			}
			continue
		}
		src.sched.Start()
		started++
	}

	if started == 0 {
		return lastErr
	}

	m.status.Set(StateRunning)
	m.emit(Event{Type: EventState, State: StateRunning})
	log.Info("recording started", "sources", started, "session_id", m.sessionID.Get())
	return nil
}

// Pause halts capture but keeps devices open. The accumulated audio is
// flushed so words spoken right before the pause still get transcribed.
func (m *Manager) Pause() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.status.Get() != StateRunning {
		return apperrors.New(apperrors.CodeInvalidArgument, "not recording")
	}

	// Stop the feeds first so the flush captures everything said up to
	// the pause.
	for _, src := range m.sources {
		if src.sess.State() != capture.StateRunning {
			continue
		}
		if err := src.sess.Pause(); err != nil {
			slog.Error("session pause failed", "source", src.sess.Source(), "error", err)
		}
	}
	for _, src := range m.sources {
		src.sched.Pause()
	}

	m.status.Set(StatePaused)
	m.emit(Event{Type: EventState, State: StatePaused})
	slog.Info("recording paused")
	return nil
}

// Resume restarts paused capture. Nothing is flushed: the span that
// accumulates after resume belongs to the next tick.
func (m *Manager) Resume() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.status.Get() != StatePaused {
		return apperrors.New(apperrors.CodeInvalidArgument, "not paused")
	}

	for _, src := range m.sources {
		if src.sess.State() != capture.StatePaused {
			continue
		}
		if err := src.sess.Resume(); err != nil {
			slog.Error("session resume failed", "source", src.sess.Source(), "error", err)
		}
	}
	for _, src := range m.sources {
		src.sched.Resume()
	}

	m.status.Set(StateRunning)
	m.emit(Event{Type: EventState, State: StateRunning})
	slog.Info("recording resumed")
	return nil
}

// Stop flushes pending audio, then tears the devices down. Samples that
// land between the flush and teardown are discarded.
func (m *Manager) Stop() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.status.Get() == StateIdle {
		return nil
	}

	for _, src := range m.sources {
		src.sched.Stop()
	}
	for _, src := range m.sources {
		if err := src.sess.Stop(); err != nil {
			slog.Error("session stop failed", "source", src.sess.Source(), "error", err)
		}
	}

	m.status.Set(StateIdle)
	m.emit(Event{Type: EventState, State: StateIdle})
	slog.Info("recording stopped")
	return nil
}

// StartNewSession flushes every source under the outgoing session
// identifier, then rotates it so later fragments group separately.
func (m *Manager) StartNewSession() uuid.UUID {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	for _, src := range m.sources {
		src.sched.StartNewSession()
	}

	id := uuid.New()
	m.sessionID.Set(id)
	m.emit(Event{Type: EventSessionBoundary, SessionID: id})
	slog.Info("new session started", "session_id", id)
	return id
}

// Close releases the manager at daemon shutdown: stops recording, then
// waits for in-flight transcriptions and monitors to finish.
func (m *Manager) Close() error {
	err := m.Stop()
	m.closeOnce.Do(func() { close(m.closeCh) })
	m.transcribeWG.Wait()
	m.monitorWG.Wait()
	return err
}

// handleChunk runs on the scheduler's flush path: snapshot the stamping
// context synchronously, then transcribe off this goroutine.
func (m *Manager) handleChunk(chunk audio.Chunk) {
	m.deps.Metrics.RecordChunkEmitted(string(chunk.Source), chunk.Duration().Seconds())

	app := ""
	if m.deps.Foreground != nil {
		app = m.deps.Foreground.Current()
	}
	sessionID := m.sessionID.Get()

	m.transcribeWG.Add(1)
	go m.transcribeChunk(chunk, sessionID, app)
}

func (m *Manager) transcribeChunk(chunk audio.Chunk, sessionID uuid.UUID, app string) {
	defer m.transcribeWG.Done()

	ctx, span := trace.StartSpan(context.Background(), "transcribe_chunk")
	defer span.End()
	span.SetAttr("source", string(chunk.Source))
	span.SetAttr("audio_seconds", chunk.Duration().Seconds())

	log := trace.Logger(ctx)
	start := time.Now()
	text, err := m.deps.Transcriber.Transcribe(ctx, chunk)
	if err != nil {
		m.deps.Metrics.RecordTranscriptionFailure(time.Since(start).Seconds())
		span.SetAttr("error", err.Error())
		log.Error("transcription failed", "source", chunk.Source, "error", err)
		return
	}
	m.deps.Metrics.RecordTranscriptionSuccess(time.Since(start).Seconds())

	text = strings.TrimSpace(text)
	if text == "" {
		m.deps.Metrics.RecordTranscriptionEmpty()
		return
	}

	stored := m.deps.Store.Append(transcript.Fragment{
		ID:              uuid.New(),
		SessionID:       sessionID,
		Text:            text,
		Timestamp:       chunk.Start,
		DurationSeconds: int(math.Round(chunk.Duration().Seconds())),
		SourceApp:       app,
		Source:          chunk.Source,
	})
	m.deps.Metrics.RecordFragmentStored()
	log.Info("transcribed", "source", chunk.Source, "text", stored.Text)
}

// State returns the pipeline lifecycle state.
func (m *Manager) State() State { return m.status.Get() }

// SessionID returns the identifier stamped on new fragments.
func (m *Manager) SessionID() uuid.UUID { return m.sessionID.Get() }

// Sources lists the configured capture variants.
func (m *Manager) Sources() []audio.Source {
	out := make([]audio.Source, 0, len(m.sources))
	for _, src := range m.sources {
		out = append(out, src.sess.Source())
	}
	return out
}

// RecentTranscript returns the joined fragment text from the last N seconds.
func (m *Manager) RecentTranscript(seconds int) string {
	return m.deps.Store.Recent(time.Duration(seconds) * time.Second)
}

// Meetings recomputes meeting groups from the stored fragments.
func (m *Manager) Meetings() []segment.Meeting {
	meetings := m.segmenter.Segment(m.deps.Store.All())
	m.deps.Metrics.RecordSegmentation(len(meetings))
	return meetings
}

// Events returns the notification channel consumed by the API layer.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// emit never blocks; a slow consumer loses events, not audio.
func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
	}
}

func (m *Manager) watchLevels(src *source) {
	defer m.monitorWG.Done()
	name := src.sess.Source()
	for {
		select {
		case <-m.closeCh:
			return
		case level := <-src.sess.Levels():
			m.deps.Metrics.SetCaptureLevel(string(name), level)
			m.emit(Event{Type: EventLevel, Source: name, Level: level})
		}
	}
}

func (m *Manager) watchDropped() {
	defer m.monitorWG.Done()
	ticker := time.NewTicker(DroppedPollInterval)
	defer ticker.Stop()

	last := make(map[audio.Source]uint64, len(m.sources))
	for {
		select {
		case <-m.closeCh:
			return
		case <-ticker.C:
			for _, src := range m.sources {
				name := src.sess.Source()
				dropped := src.sess.DroppedBuffers()
				m.deps.Metrics.SetDroppedBuffers(string(name), dropped)
				if dropped > last[name] {
					slog.Warn("capture dropped buffers", "source", name, "new", dropped-last[name], "total", dropped)
					last[name] = dropped
				}
			}
		}
	}
}

func (m *Manager) forwardFragments() {
	defer m.monitorWG.Done()
	for {
		select {
		case <-m.closeCh:
			return
		case f := <-m.deps.Store.Events():
			m.emit(Event{Type: EventFragment, Fragment: &f, Source: f.Source})
		}
	}
}
