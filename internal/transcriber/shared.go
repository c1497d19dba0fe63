package transcriber

import (
	"context"
)

// Shared serializes access to one Transcriber used by every session.
// Callers queue on a single-slot semaphore so a waiting caller still sees
// its context being cancelled.
type Shared struct {
	sem   chan struct{}
	inner Transcriber
}

// NewShared wraps inner so that at most one Transcribe call runs at a time.
func NewShared(inner Transcriber) *Shared {
	return &Shared{sem: make(chan struct{}, 1), inner: inner}
}

// Transcribe implements the Transcriber interface.
func (s *Shared) Transcribe(ctx context.Context, samples []float32, opts Options) ([]RawSegment, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.inner.Transcribe(ctx, samples, opts)
}

// Close closes the wrapped transcriber once the running call, if any, has
// returned.
func (s *Shared) Close() error {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	return s.inner.Close()
}

// Handle returns a per-session view of the shared transcriber. Closing the
// handle leaves the shared transcriber open.
func (s *Shared) Handle() Transcriber {
	return sharedHandle{s}
}

type sharedHandle struct {
	shared *Shared
}

func (h sharedHandle) Transcribe(ctx context.Context, samples []float32, opts Options) ([]RawSegment, error) {
	return h.shared.Transcribe(ctx, samples, opts)
}

func (h sharedHandle) Close() error {
	return nil
}
