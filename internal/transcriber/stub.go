package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"
)

const (
	stubPieceSeconds   = 2.0
	stubSilenceRMS     = 0.01
	stubSpeechNoSpeech = 0.1
	stubLatency        = 50 * time.Millisecond
)

// StubTranscriber produces deterministic segments without invoking a model.
// Every two-second piece of audio whose energy exceeds a silence floor
// becomes one segment.
type StubTranscriber struct {
	log        *slog.Logger
	model      string
	sampleRate int
}

// NewStub returns a Transcriber that generates placeholder segments.
func NewStub(logger *slog.Logger, model string, sampleRate int) *StubTranscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubTranscriber{
		log:        logger.With("component", "transcriber.stub", "model", model),
		model:      model,
		sampleRate: sampleRate,
	}
}

// Transcribe implements the Transcriber interface.
func (s *StubTranscriber) Transcribe(ctx context.Context, samples []float32, opts Options) ([]RawSegment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, ErrNoResult
	}

	// pace the worker loop like a real model would
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(stubLatency):
	}

	piece := int(stubPieceSeconds * float64(s.sampleRate))
	var segments []RawSegment
	for offset := 0; offset < len(samples); offset += piece {
		end := offset + piece
		if end > len(samples) {
			end = len(samples)
		}
		if rms(samples[offset:end]) < stubSilenceRMS {
			continue
		}
		start := float64(offset) / float64(s.sampleRate)
		stop := float64(end) / float64(s.sampleRate)
		segments = append(segments, RawSegment{
			Start:        start,
			End:          stop,
			Text:         fmt.Sprintf("[stub:%s] %s %.1fs", s.model, opts.Task, stop-start),
			NoSpeechProb: stubSpeechNoSpeech,
		})
	}

	s.log.Debug("stub transcription", "samples", len(samples), "segments", len(segments))
	return segments, nil
}

// Close implements the Transcriber interface.
func (s *StubTranscriber) Close() error {
	return nil
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
