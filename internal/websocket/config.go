package websocket

// Configuration constants
const (
	// WebSocket endpoint; clients may also connect on the root path
	WebSocketPath = "/ws"

	// REST API endpoints
	SessionsPath    = "/api/sessions"
	TranscriptsPath = "/api/transcripts"
	HealthPath      = "/health"
	MetricsPath     = "/metrics"

	// Largest accepted inbound frame: 4 MiB is ~65s of float32 audio
	MaxFrameBytes = 4 << 20
	// Upgrader buffer sizes
	ReadBufferSize  = 32 << 10
	WriteBufferSize = 8 << 10
)
