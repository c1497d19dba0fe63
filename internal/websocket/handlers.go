package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raihanakbr/live-transcription-server/internal/metrics"
	"github.com/raihanakbr/live-transcription-server/internal/protocol"
	"github.com/raihanakbr/live-transcription-server/internal/session"
	"github.com/raihanakbr/live-transcription-server/internal/transcriber"
)

// Handler serves the streaming endpoint and the inspection API.
type Handler struct {
	registry *session.Registry
	factory  *transcriber.Factory
	metrics  *metrics.Metrics
	logger   *slog.Logger
	log      *slog.Logger
	upgrader websocket.Upgrader

	baseCtx          context.Context
	sessionCfg       session.Config
	maxClients       int
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
}

// HandlerConfig wires a Handler. Context bounds every session worker the
// handler starts.
type HandlerConfig struct {
	Context          context.Context
	Registry         *session.Registry
	Factory          *transcriber.Factory
	Metrics          *metrics.Metrics
	Logger           *slog.Logger
	Session          session.Config
	MaxClients       int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry: cfg.Registry,
		factory:  cfg.Factory,
		metrics:  cfg.Metrics,
		logger:   logger,
		log:      logger.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  ReadBufferSize,
			WriteBufferSize: WriteBufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		baseCtx:          ctx,
		sessionCfg:       cfg.Session,
		maxClients:       cfg.MaxClients,
		handshakeTimeout: cfg.HandshakeTimeout,
		writeTimeout:     cfg.WriteTimeout,
	}
}

// Register adds every endpoint to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc(WebSocketPath, h.HandleWebSocketConnection)
	mux.HandleFunc("/{$}", h.HandleWebSocketConnection)
	mux.HandleFunc(SessionsPath, h.GetSessionsHandler)
	mux.HandleFunc(TranscriptsPath, h.GetTranscriptsHandler)
	mux.HandleFunc(HealthPath, h.HealthHandler)
}

// HandleWebSocketConnection runs one client connection from handshake to
// teardown.
func (h *Handler) HandleWebSocketConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("failed to upgrade connection", "error", err)
		return
	}
	conn.SetReadLimit(MaxFrameBytes)

	client := NewClient(conn, h.writeTimeout)
	log := h.log.With("conn_id", client.ID)
	log.Info("new client connected", "remote", r.RemoteAddr)

	sess := h.handshake(client, log)
	if sess == nil {
		client.Close()
		return
	}

	defer func() {
		h.registry.Release(sess)
		client.Close()
	}()
	h.receive(client, sess, log.With("uid", sess.UID()))
}

// handshake reads the client's options, applies admission and starts a
// session. It returns nil when the connection must be closed.
func (h *Handler) handshake(client *Client, log *slog.Logger) *session.Session {
	if h.handshakeTimeout > 0 {
		client.Conn.SetReadDeadline(time.Now().Add(h.handshakeTimeout))
	}
	_, data, err := client.Conn.ReadMessage()
	if err != nil {
		log.Info("connection closed before handshake", "error", err)
		return nil
	}
	client.Conn.SetReadDeadline(time.Time{})

	opts, err := protocol.ParseHandshake(data)
	switch {
	case errors.Is(err, protocol.ErrMalformedHandshake):
		log.Error("failed to decode handshake", "error", err)
		h.metrics.RecordRejected(metrics.ReasonInvalid)
		return nil
	case err != nil:
		log.Error("invalid handshake", "uid", opts.UID, "error", err)
		h.metrics.RecordRejected(metrics.ReasonInvalid)
		h.reply(client, protocol.Error(opts.UID, err.Error()), log)
		return nil
	}

	uid := opts.UID
	log = log.With("uid", uid)

	decision := h.registry.TryAdmit(uid)
	switch {
	case decision.Duplicate:
		log.Warn("rejected duplicate uid")
		h.reply(client, protocol.Error(uid, fmt.Sprintf("uid %s is already connected", uid)), log)
		return nil
	case !decision.Admitted:
		log.Info("server full, client must wait", "wait_minutes", decision.WaitMinutes)
		h.reply(client, protocol.Wait(uid, decision.WaitMinutes), log)
		return nil
	}

	model, err := h.factory.ResolveModel(opts.Model)
	if err != nil {
		log.Warn("invalid model requested", "model", opts.Model)
		h.metrics.RecordRejected(metrics.ReasonInvalid)
		h.reply(client, protocol.Error(uid, err.Error()), log)
		h.registry.Remove(uid)
		return nil
	}

	tr, err := h.factory.ForSession(model)
	if err != nil {
		log.Error("failed to load model", "model", model, "error", err)
		h.reply(client, protocol.Error(uid, fmt.Sprintf("failed to load model %s", model)), log)
		h.registry.Remove(uid)
		return nil
	}

	vadParams := opts.VADParameters
	if vadParams == nil {
		vadParams = transcriber.DefaultVADParameters()
	}
	sess := session.New(session.Params{
		UID:         uid,
		ConnID:      client.ID,
		Conn:        client,
		Transcriber: tr,
		Options: transcriber.Options{
			Language:      h.factory.Language(model, opts.Language),
			Task:          opts.Task,
			InitialPrompt: opts.InitialPrompt,
			UseVAD:        opts.VADEnabled(),
			VADParameters: vadParams,
		},
		Config:  h.sessionCfg,
		Logger:  h.logger,
		Metrics: h.metrics,
	})
	if err := h.registry.Attach(uid, sess); err != nil {
		// reservation vanished, e.g. shutdown raced the handshake
		log.Warn("failed to attach session", "error", err)
		sess.Stop()
		return nil
	}

	if err := client.Send(protocol.Ready(uid, h.factory.Backend())); err != nil {
		log.Info("failed to send SERVER_READY", "error", err)
		h.registry.Release(sess)
		return nil
	}
	sess.Start(h.baseCtx)
	log.Info("session started", "model", model, "task", opts.Task, "use_vad", opts.VADEnabled())
	return sess
}

// receive forwards audio frames into the session until the peer closes, the
// lifetime expires or the server shuts down.
func (h *Handler) receive(client *Client, sess *session.Session, log *slog.Logger) {
	ended := false
	for {
		if h.registry.CheckLifetime(sess.UID()) {
			return
		}

		messageType, data, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("connection lost", "error", err)
			} else {
				log.Info("connection closed by client")
			}
			return
		}

		if ended {
			continue
		}
		if messageType != websocket.BinaryMessage {
			log.Debug("ignoring non-binary frame", "type", messageType)
			continue
		}
		if protocol.IsEndOfAudio(data) {
			log.Info("end of audio received")
			ended = true
			continue
		}

		samples, err := protocol.DecodeSamples(data)
		if err != nil {
			log.Warn("dropping audio frame", "error", err)
			continue
		}
		sess.AddFrames(samples)
	}
}

func (h *Handler) reply(client *Client, msg any, log *slog.Logger) {
	err := client.Send(msg)
	h.metrics.RecordSend(err)
	if err != nil {
		log.Info("failed to send reply", "error", err)
	}
}

// API endpoint handlers

// GetSessionsHandler lists live sessions
func (h *Handler) GetSessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snapshots := h.registry.Snapshots()
	writeJSON(w, SessionsResponse{
		Sessions:   snapshots,
		Count:      len(snapshots),
		MaxClients: h.maxClients,
	})
}

// GetTranscriptsHandler returns the committed transcript of a live session
func (h *Handler) GetTranscriptsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uid := r.URL.Query().Get("uid")
	if uid == "" {
		http.Error(w, "uid parameter is required", http.StatusBadRequest)
		return
	}

	sess, ok := h.registry.Get(uid)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	committed := sess.Stabilizer().Transcript()
	transcripts := make([]protocol.Segment, 0, len(committed))
	for _, seg := range committed {
		transcripts = append(transcripts, protocol.NewSegment(seg.Start, seg.End, seg.Text))
	}

	writeJSON(w, TranscriptsResponse{
		UID:         uid,
		ConnID:      sess.ConnID(),
		Transcripts: transcripts,
		Text:        sess.Stabilizer().History(),
		Count:       len(transcripts),
	})
}

// HealthHandler reports liveness
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, HealthResponse{
		Status:   "ok",
		Backend:  h.factory.Backend(),
		Sessions: h.registry.Len(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
