package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fenwick-labs/earmark/internal/audio"
	apperrors "github.com/fenwick-labs/earmark/internal/errors"
	"github.com/fenwick-labs/earmark/internal/metrics"
	"github.com/fenwick-labs/earmark/internal/pipeline"
	"github.com/fenwick-labs/earmark/internal/segment"
	"github.com/fenwick-labs/earmark/internal/transcript"
)

// mockPipeline for testing.
type mockPipeline struct {
	mu         sync.Mutex
	state      pipeline.State
	sessionID  uuid.UUID
	startErr   error
	stopErr    error
	pauseErr   error
	resumeErr  error
	transcript string
	meetings   []segment.Meeting
	lastWindow int
	events     chan pipeline.Event
}

func newMockPipeline() *mockPipeline {
	return &mockPipeline{
		sessionID:  uuid.New(),
		transcript: "MIC: hello there",
		events:     make(chan pipeline.Event, 10),
	}
}

func (m *mockPipeline) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.state = pipeline.StateRunning
	return nil
}

func (m *mockPipeline) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopErr != nil {
		return m.stopErr
	}
	m.state = pipeline.StateIdle
	return nil
}

func (m *mockPipeline) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pauseErr != nil {
		return m.pauseErr
	}
	m.state = pipeline.StatePaused
	return nil
}

func (m *mockPipeline) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.resumeErr != nil {
		return m.resumeErr
	}
	m.state = pipeline.StateRunning
	return nil
}

func (m *mockPipeline) StartNewSession() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = uuid.New()
	return m.sessionID
}

func (m *mockPipeline) State() pipeline.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockPipeline) SessionID() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

func (m *mockPipeline) Sources() []audio.Source {
	return []audio.Source{audio.SourceMic}
}

func (m *mockPipeline) RecentTranscript(seconds int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastWindow = seconds
	return m.transcript
}

func (m *mockPipeline) Meetings() []segment.Meeting {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meetings
}

func (m *mockPipeline) Events() <-chan pipeline.Event { return m.events }

func newTestServer(t *testing.T) (*Server, *mockPipeline) {
	t.Helper()
	mock := newMockPipeline()
	s := New(mock, metrics.New(nil))
	t.Cleanup(func() { close(mock.events) })
	return s, mock
}

func doRequest(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRecordingLifecycleEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	h := s.Handler()

	steps := []struct {
		path      string
		wantState string
	}{
		{"/api/recording/start", "running"},
		{"/api/recording/pause", "paused"},
		{"/api/recording/resume", "running"},
		{"/api/recording/stop", "idle"},
	}

	for _, step := range steps {
		rec := doRequest(t, h, "POST", step.path)
		if rec.Code != http.StatusOK {
			t.Fatalf("POST %s status = %d, want %d: %s", step.path, rec.Code, http.StatusOK, rec.Body.String())
		}

		var status StatusMessage
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			t.Fatalf("POST %s decode error: %v", step.path, err)
		}
		if status.State != step.wantState {
			t.Errorf("POST %s state = %q, want %q", step.path, status.State, step.wantState)
		}
	}
}

func TestStartPermissionDeniedMapsToForbidden(t *testing.T) {
	s, mock := newTestServer(t)
	mock.startErr = apperrors.New(apperrors.CodePermissionDenied, "microphone access denied")

	rec := doRequest(t, s.Handler(), "POST", "/api/recording/start")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body["code"] != "PERMISSION_DENIED" {
		t.Errorf("code = %q, want %q", body["code"], "PERMISSION_DENIED")
	}
	if !strings.Contains(body["error"], "microphone access denied") {
		t.Errorf("error = %q, want it to mention the denial", body["error"])
	}
}

func TestPauseWhileIdleMapsToBadRequest(t *testing.T) {
	s, mock := newTestServer(t)
	mock.pauseErr = apperrors.New(apperrors.CodeInvalidArgument, "not recording")

	rec := doRequest(t, s.Handler(), "POST", "/api/recording/pause")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestRecordingEndpointsRejectGet(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s.Handler(), "GET", "/api/recording/start")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, mock := newTestServer(t)

	rec := doRequest(t, s.Handler(), "GET", "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var status StatusMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if status.State != "idle" {
		t.Errorf("state = %q, want %q", status.State, "idle")
	}
	if status.SessionID != mock.sessionID.String() {
		t.Errorf("session_id = %q, want %q", status.SessionID, mock.sessionID)
	}
	if len(status.Sources) != 1 || status.Sources[0] != "mic" {
		t.Errorf("sources = %v, want [mic]", status.Sources)
	}
}

func TestTranscriptEndpoint(t *testing.T) {
	s, mock := newTestServer(t)
	h := s.Handler()

	tests := []struct {
		name       string
		query      string
		wantStatus int
		wantWindow int
	}{
		{"default window", "", http.StatusOK, DefaultTranscriptSeconds},
		{"explicit window", "?seconds=60", http.StatusOK, 60},
		{"capped window", "?seconds=100000", http.StatusOK, MaxTranscriptSeconds},
		{"non-numeric", "?seconds=abc", http.StatusBadRequest, 0},
		{"zero", "?seconds=0", http.StatusBadRequest, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, "GET", "/api/transcript"+tt.query)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var body struct {
				Transcript    string `json:"transcript"`
				WindowSeconds int    `json:"window_seconds"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if body.Transcript != mock.transcript {
				t.Errorf("transcript = %q, want %q", body.Transcript, mock.transcript)
			}
			if body.WindowSeconds != tt.wantWindow {
				t.Errorf("window_seconds = %d, want %d", body.WindowSeconds, tt.wantWindow)
			}
			if mock.lastWindow != tt.wantWindow {
				t.Errorf("pipeline window = %d, want %d", mock.lastWindow, tt.wantWindow)
			}
		})
	}
}

func TestMeetingsEndpoint(t *testing.T) {
	s, mock := newTestServer(t)
	h := s.Handler()

	// No meetings yet: the list must be empty, not null.
	rec := doRequest(t, h, "GET", "/api/meetings")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"meetings":[]`) {
		t.Errorf("empty body = %s, want empty meetings list", rec.Body.String())
	}

	mock.mu.Lock()
	mock.meetings = []segment.Meeting{{
		ID:        uuid.New(),
		Category:  segment.Category("meetings"),
		StartTime: time.Now().Add(-time.Hour),
		EndTime:   time.Now(),
	}}
	mock.mu.Unlock()

	rec = doRequest(t, h, "GET", "/api/meetings")
	var body struct {
		Meetings []segment.Meeting `json:"meetings"`
		Count    int               `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body.Count != 1 || len(body.Meetings) != 1 {
		t.Errorf("count = %d, meetings = %d, want 1 and 1", body.Count, len(body.Meetings))
	}
}

func TestNewSessionEndpoint(t *testing.T) {
	s, mock := newTestServer(t)
	before := mock.SessionID()

	rec := doRequest(t, s.Handler(), "POST", "/api/session/new")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	id, err := uuid.Parse(body["session_id"])
	if err != nil {
		t.Fatalf("session_id %q is not a uuid: %v", body["session_id"], err)
	}
	if id == before {
		t.Error("session_id did not rotate")
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s.Handler(), "GET", "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["state"] != "idle" {
		t.Errorf("state = %v, want idle", body["state"])
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Test OPTIONS request
	req := httptest.NewRequest("OPTIONS", "/test", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("OPTIONS status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin = %q, want %q", v, "*")
	}
	if v := rec.Header().Get("Access-Control-Allow-Methods"); v != "GET, POST, OPTIONS" {
		t.Errorf("CORS methods = %q, want %q", v, "GET, POST, OPTIONS")
	}

	// Test regular request
	req = httptest.NewRequest("GET", "/test", http.NoBody)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want %d", rec.Code, http.StatusOK)
	}
	if v := rec.Header().Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("CORS origin on GET = %q, want %q", v, "*")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := &rateLimiter{}

	for i := 0; i < RateLimitMessages; i++ {
		if !rl.allow() {
			t.Fatalf("message %d rejected, want allowed", i)
		}
	}
	if rl.allow() {
		t.Errorf("message %d allowed, want rejected", RateLimitMessages)
	}
}

func TestWireMessage(t *testing.T) {
	frag := transcript.Fragment{ID: uuid.New(), Text: "hello"}

	tests := []struct {
		name     string
		event    pipeline.Event
		wantType string
		wantOK   bool
	}{
		{
			"fragment",
			pipeline.Event{Type: pipeline.EventFragment, Fragment: &frag},
			"fragment",
			true,
		},
		{
			"fragment without payload",
			pipeline.Event{Type: pipeline.EventFragment},
			"",
			false,
		},
		{
			"level",
			pipeline.Event{Type: pipeline.EventLevel, Source: audio.SourceMic, Level: 0.4},
			"level",
			true,
		},
		{
			"state",
			pipeline.Event{Type: pipeline.EventState, State: pipeline.StateRunning},
			"state",
			true,
		},
		{
			"session boundary",
			pipeline.Event{Type: pipeline.EventSessionBoundary, SessionID: uuid.New()},
			"session_boundary",
			true,
		},
		{
			"permission denied",
			pipeline.Event{Type: pipeline.EventPermissionDenied, Source: audio.SourceSystem},
			"permission_denied",
			true,
		},
		{
			"unknown",
			pipeline.Event{Type: pipeline.EventType("bogus")},
			"",
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := wireMessage(tt.event)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				t.Fatalf("json.Marshal error: %v", err)
			}
			var base Message
			if err := json.Unmarshal(data, &base); err != nil {
				t.Fatalf("json.Unmarshal error: %v", err)
			}
			if base.Type != tt.wantType {
				t.Errorf("type = %q, want %q", base.Type, tt.wantType)
			}
		})
	}
}

func TestWebSocketEventStream(t *testing.T) {
	s, mock := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	// Round-trip a status request first so the connection is registered
	// before any event is pushed.
	if err := wsjson.Write(ctx, conn, Message{Type: "status"}); err != nil {
		t.Fatalf("write status request: %v", err)
	}
	var status StatusMessage
	if err := wsjson.Read(ctx, conn, &status); err != nil {
		t.Fatalf("read status reply: %v", err)
	}
	if status.Type != "status" {
		t.Fatalf("reply type = %q, want %q", status.Type, "status")
	}
	if status.SessionID != mock.SessionID().String() {
		t.Errorf("session_id = %q, want %q", status.SessionID, mock.SessionID())
	}

	frag := transcript.Fragment{ID: uuid.New(), Text: "hello from the mic", Timestamp: time.Now()}
	mock.events <- pipeline.Event{Type: pipeline.EventFragment, Fragment: &frag}

	var got FragmentMessage
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read fragment: %v", err)
	}
	if got.Type != "fragment" {
		t.Errorf("type = %q, want %q", got.Type, "fragment")
	}
	if got.Fragment.Text != frag.Text {
		t.Errorf("text = %q, want %q", got.Fragment.Text, frag.Text)
	}

	if err := wsjson.Write(ctx, conn, Message{Type: "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	var pong PongMessage
	if err := wsjson.Read(ctx, conn, &pong); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if pong.Type != "pong" {
		t.Errorf("type = %q, want %q", pong.Type, "pong")
	}
}

func TestWebSocketRateLimit(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	// One more than the window allows. Replies arrive in order, so the
	// last one must be the rate-limit error.
	for i := 0; i < RateLimitMessages+1; i++ {
		if err := wsjson.Write(ctx, conn, Message{Type: "ping"}); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	var pongs, errs int
	for i := 0; i < RateLimitMessages+1; i++ {
		var base Message
		if err := wsjson.Read(ctx, conn, &base); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		switch base.Type {
		case "pong":
			pongs++
		case "error":
			errs++
		default:
			t.Fatalf("unexpected message type %q", base.Type)
		}
	}

	if pongs != RateLimitMessages {
		t.Errorf("pongs = %d, want %d", pongs, RateLimitMessages)
	}
	if errs != 1 {
		t.Errorf("errors = %d, want 1", errs)
	}
}

func TestHandlerRecordsRequestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	mock := newMockPipeline()
	s := New(mock, metrics.New(reg))
	t.Cleanup(func() { close(mock.events) })

	rec := doRequest(t, s.Handler(), "GET", "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := false
	for _, fam := range families {
		if fam.GetName() != "earmark_http_requests_total" {
			continue
		}
		for _, m := range fam.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["endpoint"] == "/api/status" && labels["method"] == "GET" && labels["status_code"] == "200" {
				found = true
			}
		}
	}
	if !found {
		t.Error("request counter for GET /api/status not recorded")
	}
}

func TestStatusBodyFormatsSources(t *testing.T) {
	s, mock := newTestServer(t)

	body := s.statusBody()
	if body.Type != "status" {
		t.Errorf("type = %q, want %q", body.Type, "status")
	}
	want := fmt.Sprintf("[%s]", audio.SourceMic)
	if got := fmt.Sprintf("%v", body.Sources); got != want {
		t.Errorf("sources = %v, want %v", got, want)
	}
	if body.SessionID != mock.sessionID.String() {
		t.Errorf("session_id = %q, want %q", body.SessionID, mock.sessionID)
	}
}
