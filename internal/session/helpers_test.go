package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/raihanakbr/live-transcription-server/internal/config"
	"github.com/raihanakbr/live-transcription-server/internal/protocol"
	"github.com/raihanakbr/live-transcription-server/internal/transcriber"
)

const testRate = protocol.SampleRate

func testConfig() Config {
	return ConfigFrom(config.Default().Session, testRate)
}

func silence(seconds float64) []float32 {
	return make([]float32, int(seconds*testRate))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeConn struct {
	mu      sync.Mutex
	msgs    []any
	closed  int
	sendErr error
}

func (c *fakeConn) Send(msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.msgs...)
}

func (c *fakeConn) lastSegments() (protocol.SegmentsMessage, bool) {
	msgs := c.messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if m, ok := msgs[i].(protocol.SegmentsMessage); ok {
			return m, true
		}
	}
	return protocol.SegmentsMessage{}, false
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type result struct {
	segs []transcriber.RawSegment
	err  error
}

// scriptedTranscriber returns queued results in order, then ErrNoResult.
type scriptedTranscriber struct {
	mu      sync.Mutex
	results []result
	calls   [][]float32
	closed  int
}

func (s *scriptedTranscriber) push(segs []transcriber.RawSegment, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result{segs, err})
}

func (s *scriptedTranscriber) Transcribe(ctx context.Context, samples []float32, opts transcriber.Options) ([]transcriber.RawSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, samples)
	if len(s.results) == 0 {
		return nil, transcriber.ErrNoResult
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.segs, r.err
}

func (s *scriptedTranscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// blockingTranscriber blocks every call until its context is cancelled.
type blockingTranscriber struct {
	entered chan struct{}
	once    sync.Once
	closed  chan struct{}
}

func newBlockingTranscriber() *blockingTranscriber {
	return &blockingTranscriber{entered: make(chan struct{}), closed: make(chan struct{})}
}

func (b *blockingTranscriber) Transcribe(ctx context.Context, samples []float32, opts transcriber.Options) ([]transcriber.RawSegment, error) {
	b.once.Do(func() { close(b.entered) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (b *blockingTranscriber) Close() error {
	close(b.closed)
	return nil
}

var errBackend = errors.New("backend unavailable")
