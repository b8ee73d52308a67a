// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fenwick-labs/earmark/internal/audio"
	apperrors "github.com/fenwick-labs/earmark/internal/errors"
	"github.com/fenwick-labs/earmark/internal/metrics"
	"github.com/fenwick-labs/earmark/internal/pipeline"
	"github.com/fenwick-labs/earmark/internal/segment"
	"github.com/fenwick-labs/earmark/internal/trace"
	"github.com/fenwick-labs/earmark/internal/transcript"
)

// Pipeline is the recording control surface the API exposes.
type Pipeline interface {
	Start(ctx context.Context) error
	Stop() error
	Pause() error
	Resume() error
	StartNewSession() uuid.UUID
	State() pipeline.State
	SessionID() uuid.UUID
	Sources() []audio.Source
	RecentTranscript(seconds int) string
	Meetings() []segment.Meeting
	Events() <-chan pipeline.Event
}

// Inbound message types.
type Message struct {
	Type string `json:"type"`
}

// Outbound message types.
type FragmentMessage struct {
	Type     string              `json:"type"`
	Fragment transcript.Fragment `json:"fragment"`
}

type LevelMessage struct {
	Type   string  `json:"type"`
	Source string  `json:"source"`
	Level  float64 `json:"level"`
}

type StateMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

type BoundaryMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

type PermissionMessage struct {
	Type   string `json:"type"`
	Source string `json:"source"`
}

type StatusMessage struct {
	Type      string   `json:"type"`
	State     string   `json:"state"`
	SessionID string   `json:"session_id"`
	Sources   []string `json:"sources"`
}

type PongMessage struct {
	Type string `json:"type"`
}

type RateLimitedMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	// Prune old timestamps
	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	pipe       Pipeline
	metrics    *metrics.Metrics
	started    time.Time
	mu         sync.RWMutex
	conns      map[*websocket.Conn]struct{}
	rateLimits map[*websocket.Conn]*rateLimiter
}

// New creates a new server and starts fanning pipeline events out to
// connected WebSocket clients.
func New(pipe Pipeline, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.New(nil)
	}
	s := &Server{
		pipe:       pipe,
		metrics:    m,
		started:    time.Now(),
		conns:      make(map[*websocket.Conn]struct{}),
		rateLimits: make(map[*websocket.Conn]*rateLimiter),
	}

	go s.broadcastEvents()

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint. Not wrapped with metrics: the upgrade hijacks
	// the connection, which a wrapped ResponseWriter would break.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API
	mux.HandleFunc("POST /api/recording/start", s.withMetrics("/api/recording/start", s.handleStart))
	mux.HandleFunc("POST /api/recording/stop", s.withMetrics("/api/recording/stop", s.handleStop))
	mux.HandleFunc("POST /api/recording/pause", s.withMetrics("/api/recording/pause", s.handlePause))
	mux.HandleFunc("POST /api/recording/resume", s.withMetrics("/api/recording/resume", s.handleResume))
	mux.HandleFunc("POST /api/session/new", s.withMetrics("/api/session/new", s.handleNewSession))
	mux.HandleFunc("GET /api/status", s.withMetrics("/api/status", s.handleStatus))
	mux.HandleFunc("GET /api/transcript", s.withMetrics("/api/transcript", s.handleTranscript))
	mux.HandleFunc("GET /api/meetings", s.withMetrics("/api/meetings", s.handleMeetings))
	mux.HandleFunc("GET /healthz", s.withMetrics("/healthz", s.handleHealth))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// responseWriter captures the status code for metrics.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// withMetrics wraps a handler with request counting and timing.
func (s *Server) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(wrapped, r)

		s.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(wrapped.statusCode), time.Since(start).Seconds())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	body := map[string]string{"error": err.Error()}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		body["code"] = appErr.Code.String()
	}
	writeJSON(w, apperrors.HTTPStatusFor(err), body)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.pipe.Start(r.Context()); err != nil {
		trace.Logger(r.Context()).Error("recording start failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.statusBody())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.pipe.Stop(); err != nil {
		trace.Logger(r.Context()).Error("recording stop failed", "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.statusBody())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.pipe.Pause(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.statusBody())
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.pipe.Resume(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.statusBody())
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	id := s.pipe.StartNewSession()
	trace.Logger(r.Context()).Info("session rotated", "session_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id.String()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statusBody())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	seconds := DefaultTranscriptSeconds
	if q := r.URL.Query().Get("seconds"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			writeError(w, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid seconds %q", q))
			return
		}
		if n > MaxTranscriptSeconds {
			n = MaxTranscriptSeconds
		}
		seconds = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transcript":     s.pipe.RecentTranscript(seconds),
		"window_seconds": seconds,
	})
}

func (s *Server) handleMeetings(w http.ResponseWriter, r *http.Request) {
	meetings := s.pipe.Meetings()
	if meetings == nil {
		meetings = []segment.Meeting{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"meetings": meetings,
		"count":    len(meetings),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"state":          s.pipe.State().String(),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

func (s *Server) statusBody() StatusMessage {
	sources := s.pipe.Sources()
	names := make([]string, 0, len(sources))
	for _, src := range sources {
		names = append(names, string(src))
	}
	return StatusMessage{
		Type:      "status",
		State:     s.pipe.State().String(),
		SessionID: s.pipe.SessionID().String(),
		Sources:   names,
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.rateLimits[conn] = &rateLimiter{}
	s.mu.Unlock()
	s.metrics.WSConnected()

	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		delete(s.rateLimits, conn)
		s.mu.Unlock()
		s.metrics.WSDisconnected()
	}()

	// Get trace context from HTTP upgrade request
	baseCtx := r.Context()
	log := trace.Logger(baseCtx)
	log.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var msg json.RawMessage
		if err := wsjson.Read(baseCtx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		// Check rate limit
		s.mu.RLock()
		rl := s.rateLimits[conn]
		s.mu.RUnlock()

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			_ = wsjson.Write(baseCtx, conn, RateLimitedMessage{
				Type:    "error",
				Message: "rate limit exceeded",
			})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "ping":
			_ = wsjson.Write(baseCtx, conn, PongMessage{Type: "pong"})
		case "status":
			// Pick up a caller-supplied trace so the reply is
			// correlatable across the socket.
			ctx := baseCtx
			if tc, ok := trace.ExtractFromJSON(msg); ok {
				ctx = trace.WithContext(ctx, tc)
			} else {
				ctx, _ = trace.EnsureContext(ctx)
			}
			s.handleStatusRequest(ctx, conn)
		}
	}
}

func (s *Server) handleStatusRequest(ctx context.Context, conn *websocket.Conn) {
	ctx, span := trace.StartSpan(ctx, "ws_status")
	defer span.End()

	_ = wsjson.Write(ctx, conn, s.statusBody())
}

// broadcastEvents translates pipeline events into wire messages and fans
// them out. It runs for the life of the process.
func (s *Server) broadcastEvents() {
	for ev := range s.pipe.Events() {
		msg, ok := wireMessage(ev)
		if !ok {
			continue
		}
		s.broadcast(msg)
	}
}

// wireMessage maps a pipeline event to its WebSocket representation.
func wireMessage(ev pipeline.Event) (any, bool) {
	switch ev.Type {
	case pipeline.EventFragment:
		if ev.Fragment == nil {
			return nil, false
		}
		return FragmentMessage{Type: "fragment", Fragment: *ev.Fragment}, true
	case pipeline.EventLevel:
		return LevelMessage{Type: "level", Source: string(ev.Source), Level: ev.Level}, true
	case pipeline.EventState:
		return StateMessage{Type: "state", State: ev.State.String()}, true
	case pipeline.EventSessionBoundary:
		return BoundaryMessage{Type: "session_boundary", SessionID: ev.SessionID.String()}, true
	case pipeline.EventPermissionDenied:
		return PermissionMessage{Type: "permission_denied", Source: string(ev.Source)}, true
	default:
		return nil, false
	}
}

func (s *Server) broadcast(msg any) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for conn := range s.conns {
		go func(c *websocket.Conn) {
			ctx, cancel := context.WithTimeout(context.Background(), BroadcastTimeout)
			defer cancel()
			_ = wsjson.Write(ctx, c, msg)
		}(conn)
	}
}
