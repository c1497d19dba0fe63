package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/raihanakbr/live-transcription-server/internal/config"
	"github.com/raihanakbr/live-transcription-server/internal/metrics"
	"github.com/raihanakbr/live-transcription-server/internal/protocol"
	"github.com/raihanakbr/live-transcription-server/internal/transcriber"
)

// Conn is the outbound side of a client connection. Send must be safe for
// concurrent use.
type Conn interface {
	Send(msg any) error
	Close() error
}

// Config holds the per-session engine tunables.
type Config struct {
	Window             WindowConfig
	Stabilizer         StabilizerConfig
	SendLastN          int
	ShowPreviousOutput time.Duration
	AddPause           time.Duration
	MinChunkSeconds    float64
	PollInterval       time.Duration
	NoResultBackoff    time.Duration
	ErrorBackoff       time.Duration
}

// ConfigFrom converts the file configuration into engine settings.
func ConfigFrom(c config.SessionConfig, sampleRate int) Config {
	return Config{
		Window: WindowConfig{
			SampleRate:         sampleRate,
			MaxSeconds:         c.MaxWindowSeconds,
			TrimSeconds:        c.TrimSeconds,
			StallSeconds:       c.StallSeconds,
			StallRewindSeconds: c.StallRewindSeconds,
		},
		Stabilizer: StabilizerConfig{
			NoSpeechThreshold: c.NoSpeechThreshold,
			RepeatThreshold:   c.RepeatThreshold,
		},
		SendLastN:          c.SendLastN,
		ShowPreviousOutput: time.Duration(c.ShowPreviousOutputSeconds * float64(time.Second)),
		AddPause:           time.Duration(c.AddPauseSeconds * float64(time.Second)),
		MinChunkSeconds:    c.MinChunkSeconds,
		PollInterval:       time.Duration(c.PollIntervalMs) * time.Millisecond,
		NoResultBackoff:    time.Duration(c.NoResultBackoffMs) * time.Millisecond,
		ErrorBackoff:       time.Duration(c.ErrorBackoffMs) * time.Millisecond,
	}
}

// Params bundles everything a session needs.
type Params struct {
	UID         string
	ConnID      string
	Conn        Conn
	Transcriber transcriber.Transcriber
	Options     transcriber.Options
	Config      Config
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Session is one client's live transcription state: its audio window, its
// transcript and the worker that drives transcription.
type Session struct {
	uid     string
	connID  string
	conn    Conn
	tr      transcriber.Transcriber
	opts    transcriber.Options
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	window *Window
	stab   *Stabilizer

	// worker-owned
	idleSince time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// New creates a session. The worker is not running until Start is called.
func New(p Params) *Session {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		uid:     p.UID,
		connID:  p.ConnID,
		conn:    p.Conn,
		tr:      p.Transcriber,
		opts:    p.Options,
		cfg:     p.Config,
		log:     logger.With("component", "session", "uid", p.UID, "conn_id", p.ConnID),
		metrics: p.Metrics,
		now:     now,
		window:  NewWindow(p.Config.Window),
		stab:    NewStabilizer(p.Config.Stabilizer),
	}
}

// UID returns the client supplied session identifier.
func (s *Session) UID() string { return s.uid }

// ConnID returns the server assigned connection identifier.
func (s *Session) ConnID() string { return s.connID }

// Window exposes the session's audio window.
func (s *Session) Window() *Window { return s.window }

// Stabilizer exposes the session's transcript state.
func (s *Session) Stabilizer() *Stabilizer { return s.stab }

// Start launches the worker loop. It is a no-op on a started or stopped
// session.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil || s.stopped {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop cancels the worker, waits for it to exit, drops the buffered audio
// and closes the session's transcriber. It is safe to call more than once
// and before Start.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.window.Release()
	if s.tr != nil {
		if err := s.tr.Close(); err != nil {
			s.log.Warn("failed to close transcriber", "error", err)
		}
	}
	s.log.Debug("session stopped")
}

// AddFrames appends decoded audio to the window.
func (s *Session) AddFrames(samples []float32) {
	if len(samples) == 0 {
		return
	}
	if s.window.Append(samples) {
		s.metrics.RecordTrim()
		s.log.Debug("audio window trimmed")
	}
	s.metrics.RecordAudio(float64(len(samples)) / float64(s.cfg.Window.SampleRate))
}

// Disconnect tells the client the server is ending the session.
func (s *Session) Disconnect() {
	s.send(protocol.Disconnect(s.uid))
}

// CloseConn closes the client connection.
func (s *Session) CloseConn() {
	if s.conn == nil {
		return
	}
	if err := s.conn.Close(); err != nil {
		s.log.Debug("close connection", "error", err)
	}
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.log.Info("worker started", "language", s.opts.Language, "task", s.opts.Task)

	for {
		if ctx.Err() != nil {
			return
		}
		wait := s.step(ctx)
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// step runs one iteration of the worker loop and returns how long to sleep
// before the next one.
func (s *Session) step(ctx context.Context) time.Duration {
	if s.window.Empty() {
		return s.cfg.PollInterval
	}

	if s.window.ClipIfStalled() {
		s.metrics.RecordStallClip()
		s.log.Debug("clipped stalled audio")
	}

	chunk := s.window.NextChunk()
	if chunk.Duration < s.cfg.MinChunkSeconds {
		return s.cfg.PollInterval
	}

	started := time.Now()
	raw, err := s.tr.Transcribe(ctx, chunk.Samples, s.opts)
	noResult := errors.Is(err, transcriber.ErrNoResult)
	if ctx.Err() != nil {
		return 0
	}
	s.metrics.RecordTranscription(time.Since(started).Seconds(), noResult, err)

	switch {
	case noResult:
		s.window.Advance(chunk.Start, chunk.Duration)
		return s.cfg.NoResultBackoff
	case err != nil:
		s.log.Error("transcription failed", "error", err, "chunk_seconds", chunk.Duration)
		return s.cfg.ErrorBackoff
	}

	s.handleOutput(chunk, raw)
	return 0
}

func (s *Session) handleOutput(chunk Chunk, raw []transcriber.RawSegment) {
	var out []Segment

	if len(raw) > 0 {
		s.idleSince = time.Time{}
		res := s.stab.Apply(chunk.Start, raw, chunk.Duration)
		if res.Advanced {
			s.window.Advance(chunk.Start, res.Advance)
		}
		s.metrics.RecordCommitted(res.Committed)

		out = s.stab.LastCommitted(s.cfg.SendLastN)
		if res.Tentative != nil {
			out = append(out, *res.Tentative)
		}
	} else {
		now := s.now()
		if s.idleSince.IsZero() {
			s.idleSince = now
		}
		idle := now.Sub(s.idleSince)
		if idle < s.cfg.ShowPreviousOutput {
			out = s.stab.LastCommitted(s.cfg.SendLastN)
		}
		if idle > s.cfg.AddPause && s.stab.MarkPause() {
			s.log.Debug("pause detected", "idle", idle)
		}
	}

	if len(out) == 0 {
		return
	}
	segments := make([]protocol.Segment, 0, len(out))
	for _, seg := range out {
		segments = append(segments, protocol.NewSegment(seg.Start, seg.End, seg.Text))
	}
	s.send(protocol.Segments(s.uid, segments))
}

func (s *Session) send(msg any) {
	if s.conn == nil {
		return
	}
	err := s.conn.Send(msg)
	s.metrics.RecordSend(err)
	if err != nil {
		s.log.Warn("failed to send message", "error", err)
	}
}

// Snapshot is a point-in-time view of a session for inspection endpoints.
type Snapshot struct {
	UID             string    `json:"uid"`
	ConnID          string    `json:"conn_id"`
	AdmittedAt      time.Time `json:"admitted_at"`
	BufferOrigin    float64   `json:"buffer_origin"`
	ProcessedCursor float64   `json:"processed_cursor"`
	BufferedSeconds float64   `json:"buffered_seconds"`
	Committed       int       `json:"committed_segments"`
	Pending         string    `json:"pending_text,omitempty"`
}

func (s *Session) snapshot(admittedAt time.Time) Snapshot {
	origin, cursor := s.window.Offsets()
	return Snapshot{
		UID:             s.uid,
		ConnID:          s.connID,
		AdmittedAt:      admittedAt,
		BufferOrigin:    origin,
		ProcessedCursor: cursor,
		BufferedSeconds: s.window.Duration(),
		Committed:       len(s.stab.Transcript()),
		Pending:         s.stab.Pending(),
	}
}
