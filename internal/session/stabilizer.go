package session

import (
	"math"
	"strings"
	"sync"

	"github.com/raihanakbr/live-transcription-server/internal/transcriber"
)

// StabilizerConfig holds the commit policy thresholds.
type StabilizerConfig struct {
	NoSpeechThreshold float64
	// RepeatThreshold is the number of repeats of the same tentative text
	// that must be exceeded before it is committed.
	RepeatThreshold int
}

// Segment is a transcript entry in absolute seconds.
type Segment struct {
	Start float64
	End   float64
	Text  string
}

// Outcome describes what one Apply call did. When Advanced is set the
// cursor must move Advance seconds past the chunk start.
type Outcome struct {
	Tentative *Segment
	Advance   float64
	Advanced  bool
	Committed int
}

// Stabilizer turns overlapping partial transcriptions into an append-only
// transcript. Every segment but the last of a batch is committed at once;
// the last one stays tentative until it repeats often enough.
type Stabilizer struct {
	cfg StabilizerConfig

	mu          sync.Mutex
	transcript  []Segment
	history     []string
	pending     string
	prevPending string
	repeatCount int
}

// NewStabilizer creates an empty stabilizer.
func NewStabilizer(cfg StabilizerConfig) *Stabilizer {
	return &Stabilizer{cfg: cfg}
}

// Apply feeds one batch of raw segments for a chunk that started at cursor
// and lasted duration seconds.
func (s *Stabilizer) Apply(cursor float64, raw []transcriber.RawSegment, duration float64) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Outcome
	if len(raw) == 0 {
		return out
	}

	for _, r := range raw[:len(raw)-1] {
		relEnd := math.Min(duration, r.End)
		start := cursor + math.Max(0, r.Start)
		end := cursor + relEnd
		if start >= end || r.NoSpeechProb > s.cfg.NoSpeechThreshold {
			continue
		}
		if n := len(s.transcript); n > 0 && start < s.transcript[n-1].Start {
			continue
		}
		s.commit(Segment{Start: start, End: end, Text: r.Text})
		out.Committed++
		out.Advance = relEnd
		out.Advanced = true
	}

	last := raw[len(raw)-1]
	s.pending = ""
	if last.NoSpeechProb <= s.cfg.NoSpeechThreshold {
		s.pending = last.Text
		out.Tentative = &Segment{
			Start: cursor + math.Max(0, last.Start),
			End:   cursor + math.Min(duration, last.End),
			Text:  s.pending,
		}
	}

	current := strings.TrimSpace(s.pending)
	if current != "" && current == strings.TrimSpace(s.prevPending) {
		s.repeatCount++
	} else {
		s.repeatCount = 0
		s.prevPending = s.pending
	}

	if s.repeatCount > s.cfg.RepeatThreshold {
		if duration > 0 && !s.sameAsLastCommitted(current) {
			if n := len(s.transcript); n == 0 || cursor >= s.transcript[n-1].Start {
				s.commit(Segment{Start: cursor, End: cursor + duration, Text: s.pending})
				out.Committed++
			}
		}
		s.pending = ""
		s.repeatCount = 0
		out.Tentative = nil
		out.Advance = duration
		out.Advanced = true
	}

	return out
}

func (s *Stabilizer) commit(seg Segment) {
	s.transcript = append(s.transcript, seg)
	s.history = append(s.history, seg.Text)
}

func (s *Stabilizer) sameAsLastCommitted(text string) bool {
	if len(s.transcript) == 0 {
		return false
	}
	last := s.transcript[len(s.transcript)-1].Text
	return strings.EqualFold(strings.TrimSpace(last), text)
}

// MarkPause appends a blank entry to the text history unless it is empty or
// already ends with one. It reports whether a marker was added.
func (s *Stabilizer) MarkPause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.history) == 0 || s.history[len(s.history)-1] == "" {
		return false
	}
	s.history = append(s.history, "")
	return true
}

// LastCommitted returns a copy of the last n committed segments.
func (s *Stabilizer) LastCommitted(n int) []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	from := len(s.transcript) - n
	if from < 0 {
		from = 0
	}
	return append([]Segment(nil), s.transcript[from:]...)
}

// Transcript returns a copy of the committed transcript.
func (s *Stabilizer) Transcript() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Segment(nil), s.transcript...)
}

// History returns a copy of the text history, committed texts interleaved
// with blank pause markers.
func (s *Stabilizer) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// RepeatCount returns how many consecutive times the tentative text repeated.
func (s *Stabilizer) RepeatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repeatCount
}

// Pending returns the current tentative text.
func (s *Stabilizer) Pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}
