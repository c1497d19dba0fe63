package transcriber

import (
	"context"
	"errors"
)

var (
	// ErrNoResult signals that the backend found nothing to transcribe (no
	// voice activity or the model declined the chunk). Callers treat the
	// chunk as consumed.
	ErrNoResult = errors.New("transcriber: no result")
	// ErrInvalidModel is returned when a client requests a model outside the
	// configured set.
	ErrInvalidModel = errors.New("transcriber: invalid model")
	// ErrUnknownBackend is returned by the factory for unsupported backends.
	ErrUnknownBackend = errors.New("transcriber: unknown backend")
)

// RawSegment is one segment produced by a backend. Start and End are seconds
// relative to the start of the supplied chunk.
type RawSegment struct {
	Start        float64
	End          float64
	Text         string
	NoSpeechProb float64
}

// Options configures decoding of a single chunk.
type Options struct {
	Language      string
	Task          string
	InitialPrompt string
	UseVAD        bool
	VADParameters map[string]any
}

// Transcriber is the speech recognition capability used by sessions.
// Implementations must not retain samples after Transcribe returns.
type Transcriber interface {
	// Transcribe decodes 16 kHz mono samples and returns segments sorted by
	// start. It returns ErrNoResult when there is nothing to decode.
	Transcribe(ctx context.Context, samples []float32, opts Options) ([]RawSegment, error)
	// Close releases resources owned by the transcriber.
	Close() error
}

// DefaultVADParameters is used when a client enables VAD without parameters.
func DefaultVADParameters() map[string]any {
	return map[string]any{"threshold": 0.5}
}
