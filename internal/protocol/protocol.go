package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// SampleRate is the only PCM rate the server accepts.
const SampleRate = 16000

// Status and message literals used on the wire
const (
	StatusWait  = "WAIT"
	StatusError = "ERROR"

	MessageServerReady = "SERVER_READY"
	MessageDisconnect  = "DISCONNECT"
)

// EndOfAudio is the binary payload a client sends to end frame ingestion.
var EndOfAudio = []byte("END_OF_AUDIO")

// ErrFrameSize is returned when a binary frame is not a whole number of float32 samples.
var ErrFrameSize = errors.New("protocol: frame size is not a multiple of 4 bytes")

// Segment is a transcript segment as sent to clients. Times are seconds
// formatted with three decimals.
type Segment struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Text  string `json:"text"`
}

// NewSegment formats absolute start/end seconds for the wire.
func NewSegment(start, end float64, text string) Segment {
	return Segment{
		Start: fmt.Sprintf("%.3f", start),
		End:   fmt.Sprintf("%.3f", end),
		Text:  text,
	}
}

// WaitMessage tells a rejected client how long until a slot frees up.
type WaitMessage struct {
	UID     string  `json:"uid"`
	Status  string  `json:"status"`
	Message float64 `json:"message"`
}

// ReadyMessage is sent once after successful admission.
type ReadyMessage struct {
	UID     string `json:"uid"`
	Message string `json:"message"`
	Backend string `json:"backend"`
}

// ErrorMessage reports an invalid configuration or handshake.
type ErrorMessage struct {
	UID     string `json:"uid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// SegmentsMessage carries the latest committed segments plus an optional tentative one.
type SegmentsMessage struct {
	UID      string    `json:"uid"`
	Segments []Segment `json:"segments"`
}

// DisconnectMessage precedes a server-initiated disconnect.
type DisconnectMessage struct {
	UID     string `json:"uid"`
	Message string `json:"message"`
}

// Wait tells a rejected client how many minutes to wait before retrying.
func Wait(uid string, minutes float64) WaitMessage {
	return WaitMessage{UID: uid, Status: StatusWait, Message: minutes}
}

// Ready confirms the session is admitted and streaming may start.
func Ready(uid, backend string) ReadyMessage {
	return ReadyMessage{UID: uid, Message: MessageServerReady, Backend: backend}
}

// Error reports a handshake failure before the connection is closed.
func Error(uid, message string) ErrorMessage {
	return ErrorMessage{UID: uid, Status: StatusError, Message: message}
}

// Segments carries the latest committed segments and the tentative one.
func Segments(uid string, segments []Segment) SegmentsMessage {
	return SegmentsMessage{UID: uid, Segments: segments}
}

// Disconnect notifies the client that the server is ending the session.
func Disconnect(uid string) DisconnectMessage {
	return DisconnectMessage{UID: uid, Message: MessageDisconnect}
}

// IsEndOfAudio reports whether a frame is the end-of-stream sentinel.
func IsEndOfAudio(frame []byte) bool {
	return bytes.Equal(frame, EndOfAudio)
}

// DecodeSamples converts a little-endian float32 PCM frame into samples.
func DecodeSamples(frame []byte) ([]float32, error) {
	if len(frame)%4 != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrFrameSize, len(frame))
	}
	samples := make([]float32, len(frame)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(frame[i*4:]))
	}
	return samples, nil
}

// EncodeSamples is the inverse of DecodeSamples; clients and tests use it to
// build audio frames.
func EncodeSamples(samples []float32) []byte {
	frame := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(frame[i*4:], math.Float32bits(s))
	}
	return frame
}
