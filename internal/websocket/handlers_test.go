package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raihanakbr/live-transcription-server/internal/config"
	"github.com/raihanakbr/live-transcription-server/internal/protocol"
	"github.com/raihanakbr/live-transcription-server/internal/session"
	"github.com/raihanakbr/live-transcription-server/internal/transcriber"
)

type fixedTranscriber struct{}

func (fixedTranscriber) Transcribe(ctx context.Context, samples []float32, opts transcriber.Options) ([]transcriber.RawSegment, error) {
	return []transcriber.RawSegment{
		{Start: 0, End: 1, Text: "hello", NoSpeechProb: 0.1},
		{Start: 1, End: 1.5, Text: "world", NoSpeechProb: 0.1},
	}, nil
}

func (fixedTranscriber) Close() error { return nil }

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testServer struct {
	*httptest.Server
	registry *session.Registry
	clock    *testClock
}

func newTestServer(t *testing.T, maxClients int) *testServer {
	t.Helper()
	cfg := config.Default()

	factory, err := transcriber.NewFactoryWithBuilder(cfg.Transcriber, nil, func(model string) (transcriber.Transcriber, error) {
		return fixedTranscriber{}, nil
	})
	if err != nil {
		t.Fatalf("NewFactoryWithBuilder() error = %v", err)
	}

	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	registry := session.NewRegistry(session.RegistryConfig{
		MaxClients:  maxClients,
		MaxLifetime: 600 * time.Second,
		Now:         clock.Now,
	})
	handler := NewHandler(HandlerConfig{
		Registry:         registry,
		Factory:          factory,
		Session:          session.ConfigFrom(cfg.Session, protocol.SampleRate),
		MaxClients:       maxClients,
		HandshakeTimeout: 2 * time.Second,
		WriteTimeout:     2 * time.Second,
	})

	mux := http.NewServeMux()
	handler.Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		registry.Shutdown()
		srv.Close()
	})
	return &testServer{Server: srv, registry: registry, clock: clock}
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + WebSocketPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg map[string]any
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("Expected connection to be closed, got message %s", data)
	}
}

func connectReady(t *testing.T, s *testServer, uid string) *websocket.Conn {
	t.Helper()
	conn := s.dial(t)
	if err := conn.WriteJSON(map[string]any{"uid": uid, "model": "small.en", "task": "transcribe"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	msg := readJSON(t, conn)
	if msg["message"] != protocol.MessageServerReady {
		t.Fatalf("Expected SERVER_READY, got %v", msg)
	}
	return conn
}

func sendAudio(t *testing.T, conn *websocket.Conn, seconds float64) {
	t.Helper()
	frame := protocol.EncodeSamples(make([]float32, int(seconds*protocol.SampleRate)))
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

func TestStreamingSession(t *testing.T) {
	s := newTestServer(t, 4)
	conn := s.dial(t)

	if err := conn.WriteJSON(map[string]any{"uid": "u1", "model": "small.en"}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	ready := readJSON(t, conn)
	if ready["uid"] != "u1" || ready["message"] != protocol.MessageServerReady || ready["backend"] != config.BackendWhisperHTTP {
		t.Fatalf("Unexpected ready message %v", ready)
	}

	for i := 0; i < 4; i++ {
		sendAudio(t, conn, 0.5)
	}

	found := false
	for i := 0; i < 20 && !found; i++ {
		msg := readJSON(t, conn)
		segs, ok := msg["segments"].([]any)
		if !ok || len(segs) == 0 {
			continue
		}
		first := segs[0].(map[string]any)
		if first["text"] == "hello" && first["start"] == "0.000" && first["end"] == "1.000" {
			found = true
		}
	}
	if !found {
		t.Fatal("Expected committed segment for hello")
	}

	resp, err := http.Get(s.URL + TranscriptsPath + "?uid=u1")
	if err != nil {
		t.Fatalf("GET transcripts error = %v", err)
	}
	defer resp.Body.Close()
	var transcripts TranscriptsResponse
	if err := json.NewDecoder(resp.Body).Decode(&transcripts); err != nil {
		t.Fatalf("decode transcripts: %v", err)
	}
	if transcripts.Count == 0 || transcripts.Transcripts[0].Text != "hello" {
		t.Errorf("Unexpected transcripts %+v", transcripts)
	}

	resp2, err := http.Get(s.URL + SessionsPath)
	if err != nil {
		t.Fatalf("GET sessions error = %v", err)
	}
	defer resp2.Body.Close()
	var sessions SessionsResponse
	if err := json.NewDecoder(resp2.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if sessions.Count != 1 || sessions.Sessions[0].UID != "u1" || sessions.MaxClients != 4 {
		t.Errorf("Unexpected sessions %+v", sessions)
	}
}

func TestServerFullSendsWait(t *testing.T) {
	s := newTestServer(t, 1)
	connectReady(t, s, "first")

	s.clock.Advance(120 * time.Second)
	conn := s.dial(t)
	conn.WriteJSON(map[string]any{"uid": "second"})

	msg := readJSON(t, conn)
	if msg["status"] != protocol.StatusWait || msg["uid"] != "second" {
		t.Fatalf("Expected WAIT, got %v", msg)
	}
	if minutes, ok := msg["message"].(float64); !ok || minutes != 8 {
		t.Errorf("Expected 8 minute wait, got %v", msg["message"])
	}
	expectClosed(t, conn)
}

func TestInvalidModel(t *testing.T) {
	s := newTestServer(t, 4)
	conn := s.dial(t)
	conn.WriteJSON(map[string]any{"uid": "u1", "model": "large-v3"})

	msg := readJSON(t, conn)
	if msg["status"] != protocol.StatusError {
		t.Fatalf("Expected ERROR, got %v", msg)
	}
	want := "Invalid model size large-v3. Available choices: [small.en, base.en, medium.en]"
	if msg["message"] != want {
		t.Errorf("Expected %q, got %q", want, msg["message"])
	}
	expectClosed(t, conn)
	if s.registry.Len() != 0 {
		t.Errorf("Rejected client must not hold a slot, len=%d", s.registry.Len())
	}
}

func TestMalformedHandshake(t *testing.T) {
	s := newTestServer(t, 4)
	conn := s.dial(t)
	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))

	expectClosed(t, conn)
	if s.registry.Len() != 0 {
		t.Errorf("Expected no sessions, got %d", s.registry.Len())
	}
}

func TestInvalidHandshakeGetsError(t *testing.T) {
	s := newTestServer(t, 4)
	conn := s.dial(t)
	conn.WriteJSON(map[string]any{"uid": "u1", "task": "summarize"})

	msg := readJSON(t, conn)
	if msg["status"] != protocol.StatusError || msg["uid"] != "u1" {
		t.Fatalf("Expected ERROR for u1, got %v", msg)
	}
	expectClosed(t, conn)
}

func TestDuplicateUID(t *testing.T) {
	s := newTestServer(t, 4)
	connectReady(t, s, "u1")

	conn := s.dial(t)
	conn.WriteJSON(map[string]any{"uid": "u1"})
	msg := readJSON(t, conn)
	if msg["status"] != protocol.StatusError {
		t.Fatalf("Expected ERROR, got %v", msg)
	}
	expectClosed(t, conn)
	if _, ok := s.registry.Get("u1"); !ok {
		t.Error("Original session must survive a duplicate attempt")
	}
}

func TestLifetimeDisconnect(t *testing.T) {
	s := newTestServer(t, 4)
	conn := connectReady(t, s, "u1")

	s.clock.Advance(601 * time.Second)
	sendAudio(t, conn, 0.1)

	for i := 0; i < 10; i++ {
		msg := readJSON(t, conn)
		if msg["message"] == protocol.MessageDisconnect {
			if msg["uid"] != "u1" {
				t.Errorf("Expected uid u1, got %v", msg["uid"])
			}
			expectClosed(t, conn)
			if _, ok := s.registry.Get("u1"); ok {
				t.Error("Evicted session still registered")
			}
			return
		}
	}
	t.Fatal("Expected DISCONNECT")
}

func TestEndOfAudioStopsIngestion(t *testing.T) {
	s := newTestServer(t, 4)
	conn := connectReady(t, s, "u1")

	if err := conn.WriteMessage(websocket.BinaryMessage, protocol.EndOfAudio); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
	sendAudio(t, conn, 2)
	time.Sleep(200 * time.Millisecond)

	sess, ok := s.registry.Get("u1")
	if !ok {
		t.Fatal("Session should stay registered after END_OF_AUDIO")
	}
	if d := sess.Window().Duration(); d != 0 {
		t.Errorf("Audio after END_OF_AUDIO must be ignored, window holds %vs", d)
	}
}

func TestClientCloseRemovesSession(t *testing.T) {
	s := newTestServer(t, 4)
	conn := connectReady(t, s, "u1")

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.registry.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.registry.Len() != 0 {
		t.Error("Session not removed after client closed")
	}
}

func TestRESTErrors(t *testing.T) {
	s := newTestServer(t, 4)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{name: "missing uid", method: http.MethodGet, path: TranscriptsPath, want: http.StatusBadRequest},
		{name: "unknown uid", method: http.MethodGet, path: TranscriptsPath + "?uid=nobody", want: http.StatusNotFound},
		{name: "wrong method", method: http.MethodPost, path: SessionsPath, want: http.StatusMethodNotAllowed},
		{name: "health", method: http.MethodGet, path: HealthPath, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, s.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request error = %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}
