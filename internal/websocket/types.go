package websocket

import (
	"github.com/raihanakbr/live-transcription-server/internal/protocol"
	"github.com/raihanakbr/live-transcription-server/internal/session"
)

// SessionsResponse is returned by GET /api/sessions
type SessionsResponse struct {
	Sessions   []session.Snapshot `json:"sessions"`
	Count      int                `json:"count"`
	MaxClients int                `json:"max_clients"`
}

// TranscriptsResponse is returned by GET /api/transcripts
type TranscriptsResponse struct {
	UID         string             `json:"uid"`
	ConnID      string             `json:"conn_id"`
	Transcripts []protocol.Segment `json:"transcripts"`
	Text        []string           `json:"text"`
	Count       int                `json:"count"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status   string `json:"status"`
	Backend  string `json:"backend"`
	Sessions int    `json:"sessions"`
}
