package session

import (
	"math/rand"
	"testing"

	"github.com/raihanakbr/live-transcription-server/internal/transcriber"
)

func newTestStabilizer() *Stabilizer {
	return NewStabilizer(testConfig().Stabilizer)
}

func TestStabilizerCommitsCompleteSegments(t *testing.T) {
	s := newTestStabilizer()

	out := s.Apply(0, []transcriber.RawSegment{
		{Start: 0.0, End: 1.0, Text: "hi", NoSpeechProb: 0.1},
		{Start: 1.0, End: 1.9, Text: "there", NoSpeechProb: 0.1},
	}, 2.0)

	got := s.Transcript()
	if len(got) != 1 || got[0] != (Segment{Start: 0, End: 1, Text: "hi"}) {
		t.Fatalf("Unexpected transcript: %+v", got)
	}
	if !out.Advanced || out.Advance != 1.0 {
		t.Errorf("Expected advance of 1.0, got %+v", out)
	}
	if out.Tentative == nil || *out.Tentative != (Segment{Start: 1.0, End: 1.9, Text: "there"}) {
		t.Errorf("Unexpected tentative segment: %+v", out.Tentative)
	}
	if out.Committed != 1 {
		t.Errorf("Expected 1 committed, got %d", out.Committed)
	}
}

func TestStabilizerOffsetsAndClamping(t *testing.T) {
	s := newTestStabilizer()

	out := s.Apply(10, []transcriber.RawSegment{
		{Start: -0.2, End: 1.0, Text: "a", NoSpeechProb: 0},
		{Start: 1.0, End: 3.5, Text: "b", NoSpeechProb: 0},
		{Start: 3.0, End: 4.0, Text: "c", NoSpeechProb: 0},
	}, 3.0)

	got := s.Transcript()
	want := []Segment{{Start: 10, End: 11, Text: "a"}, {Start: 11, End: 13, Text: "b"}}
	if len(got) != len(want) {
		t.Fatalf("Expected %d segments, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
	if out.Advance != 3.0 {
		t.Errorf("Expected advance clamped to duration 3.0, got %v", out.Advance)
	}
	// tentative starts at or after the chunk end here; it is still reported
	if out.Tentative == nil || out.Tentative.End != 13 {
		t.Errorf("Unexpected tentative: %+v", out.Tentative)
	}
}

func TestStabilizerNoSpeechFiltering(t *testing.T) {
	s := newTestStabilizer()

	out := s.Apply(0, []transcriber.RawSegment{
		{Start: 0, End: 1, Text: "noise", NoSpeechProb: 0.9},
		{Start: 1, End: 2, Text: "hum", NoSpeechProb: 0.46},
	}, 2.0)

	if len(s.Transcript()) != 0 {
		t.Errorf("Expected nothing committed, got %+v", s.Transcript())
	}
	if out.Tentative != nil {
		t.Errorf("Expected no tentative segment, got %+v", out.Tentative)
	}
	if out.Advanced {
		t.Errorf("Expected no advance, got %+v", out)
	}
	if s.Pending() != "" {
		t.Errorf("Expected empty pending text, got %q", s.Pending())
	}

	// exactly at the threshold still counts as speech
	out = s.Apply(0, []transcriber.RawSegment{{Start: 0, End: 1, Text: "edge", NoSpeechProb: 0.45}}, 2.0)
	if out.Tentative == nil {
		t.Error("Expected tentative segment at the threshold")
	}
}

func TestStabilizerRepetitionCommit(t *testing.T) {
	s := newTestStabilizer()
	raw := []transcriber.RawSegment{{Start: 0, End: 1.5, Text: " hello ", NoSpeechProb: 0.1}}

	commits := 0
	for call := 1; call <= 7; call++ {
		out := s.Apply(0, raw, 2.0)
		commits += out.Committed

		if call < 7 {
			if out.Tentative == nil || out.Advanced {
				t.Fatalf("call %d: expected tentative without advance, got %+v", call, out)
			}
			if s.RepeatCount() != call-1 {
				t.Fatalf("call %d: repeat count %d", call, s.RepeatCount())
			}
			continue
		}

		if out.Tentative != nil {
			t.Errorf("commit call must not return a tentative segment, got %+v", out.Tentative)
		}
		if !out.Advanced || out.Advance != 2.0 {
			t.Errorf("commit call must advance by the full duration, got %+v", out)
		}
	}

	if commits != 1 {
		t.Fatalf("Expected exactly one commit, got %d", commits)
	}
	if s.RepeatCount() != 0 {
		t.Errorf("Expected repeat count reset, got %d", s.RepeatCount())
	}
	want := Segment{Start: 0, End: 2, Text: " hello "}
	if got := s.Transcript(); len(got) != 1 || got[0] != want {
		t.Errorf("Unexpected transcript %+v", got)
	}
}

func TestStabilizerRepetitionSkipsDuplicateText(t *testing.T) {
	s := newTestStabilizer()
	s.Apply(0, []transcriber.RawSegment{
		{Start: 0, End: 1, Text: "Hello", NoSpeechProb: 0.1},
		{Start: 1, End: 2, Text: "tail", NoSpeechProb: 0.1},
	}, 2.0)

	raw := []transcriber.RawSegment{{Start: 0, End: 1, Text: "hello ", NoSpeechProb: 0.1}}
	var last Outcome
	for i := 0; i < 7; i++ {
		last = s.Apply(1, raw, 1.0)
	}

	if !last.Advanced || last.Advance != 1.0 || last.Tentative != nil {
		t.Errorf("Expected stable text to be consumed, got %+v", last)
	}
	if got := s.Transcript(); len(got) != 1 {
		t.Errorf("Text equal to the last commit must not be committed again, got %+v", got)
	}
}

func TestStabilizerTranscriptIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	texts := []string{"a", "b", "c", "same", "same", "same"}

	for run := 0; run < 50; run++ {
		s := newTestStabilizer()
		cursor := 0.0
		for step := 0; step < 200; step++ {
			duration := 1 + rng.Float64()*4
			n := rng.Intn(4)
			raw := make([]transcriber.RawSegment, 0, n)
			at := rng.Float64() * 0.5
			for i := 0; i < n; i++ {
				length := rng.Float64() * 2
				raw = append(raw, transcriber.RawSegment{
					Start:        at,
					End:          at + length,
					Text:         texts[rng.Intn(len(texts))],
					NoSpeechProb: rng.Float64() * 0.6,
				})
				at += length
			}
			out := s.Apply(cursor, raw, duration)
			if out.Advanced {
				cursor += out.Advance
			}
		}

		got := s.Transcript()
		for i, seg := range got {
			if seg.End <= seg.Start {
				t.Fatalf("run %d: entry %d has end %v <= start %v", run, i, seg.End, seg.Start)
			}
			if i > 0 && got[i-1].Start > seg.Start {
				t.Fatalf("run %d: entry %d starts at %v before previous %v", run, i, seg.Start, got[i-1].Start)
			}
		}
	}
}

func TestStabilizerMarkPause(t *testing.T) {
	s := newTestStabilizer()
	if s.MarkPause() {
		t.Fatal("Empty history must not get a pause marker")
	}

	s.Apply(0, []transcriber.RawSegment{
		{Start: 0, End: 1, Text: "hello", NoSpeechProb: 0},
		{Start: 1, End: 2, Text: "x", NoSpeechProb: 0},
	}, 2)

	if !s.MarkPause() {
		t.Fatal("Expected a pause marker after text")
	}
	if s.MarkPause() {
		t.Error("Pause marker must not repeat")
	}
	if got := s.History(); len(got) != 2 || got[0] != "hello" || got[1] != "" {
		t.Errorf("Unexpected history %q", got)
	}
}

func TestStabilizerLastCommitted(t *testing.T) {
	s := newTestStabilizer()
	raw := make([]transcriber.RawSegment, 0, 13)
	for i := 0; i < 13; i++ {
		raw = append(raw, transcriber.RawSegment{Start: float64(i), End: float64(i) + 1, Text: "w"})
	}
	s.Apply(0, raw, 20)

	last := s.LastCommitted(10)
	if len(last) != 10 {
		t.Fatalf("Expected 10 segments, got %d", len(last))
	}
	if last[0].Start != 2 || last[9].Start != 11 {
		t.Errorf("Expected segments 2..11, got %v..%v", last[0].Start, last[9].Start)
	}
	if empty := newTestStabilizer().LastCommitted(10); len(empty) != 0 {
		t.Errorf("Expected no segments, got %v", empty)
	}
}
