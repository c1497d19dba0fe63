package session

import (
	"math"
	"sync"
)

// WindowConfig holds the sliding window limits in seconds.
type WindowConfig struct {
	SampleRate         int
	MaxSeconds         float64
	TrimSeconds        float64
	StallSeconds       float64
	StallRewindSeconds float64
}

// Chunk is a copy of the unprocessed tail of a window. Start is the absolute
// cursor position the samples begin at.
type Chunk struct {
	Samples  []float32
	Start    float64
	Duration float64
}

// Window is a bounded buffer of recent audio with two absolute offsets:
// origin (time of sample 0) and cursor (how far audio has been handed to the
// transcriber). All access goes through its own mutex; cursor >= origin
// holds after every call.
type Window struct {
	mu      sync.Mutex
	cfg     WindowConfig
	samples  []float32
	origin   float64
	cursor   float64
	released bool
}

// NewWindow creates an empty window.
func NewWindow(cfg WindowConfig) *Window {
	return &Window{cfg: cfg}
}

// Append adds samples at the end of the window. When the window already
// holds more than MaxSeconds, the oldest TrimSeconds are dropped first and the
// cursor is raised to the new origin if it fell behind. It reports whether a
// trim happened.
func (w *Window) Append(samples []float32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.released {
		return false
	}
	trimmed := false
	rate := float64(w.cfg.SampleRate)
	if float64(len(w.samples)) > w.cfg.MaxSeconds*rate {
		drop := int(w.cfg.TrimSeconds * rate)
		if drop > len(w.samples) {
			drop = len(w.samples)
		}
		// copy so the dropped prefix can be collected
		w.samples = append(make([]float32, 0, len(w.samples)-drop+len(samples)), w.samples[drop:]...)
		w.origin += w.cfg.TrimSeconds
		if w.cursor < w.origin {
			w.cursor = w.origin
		}
		trimmed = true
	}

	if w.samples == nil {
		w.samples = append(make([]float32, 0, len(samples)), samples...)
	} else {
		w.samples = append(w.samples, samples...)
	}
	return trimmed
}

// ClipIfStalled moves the cursor to StallRewindSeconds before the end of the
// window when more than StallSeconds of audio are unprocessed. It reports
// whether the cursor moved.
func (w *Window) ClipIfStalled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	rate := float64(w.cfg.SampleRate)
	processed := int((w.cursor - w.origin) * rate)
	unprocessed := len(w.samples) - processed
	if float64(unprocessed) <= w.cfg.StallSeconds*rate {
		return false
	}
	duration := float64(len(w.samples)) / rate
	w.cursor = math.Max(w.origin, w.origin+duration-w.cfg.StallRewindSeconds)
	return true
}

// NextChunk returns a copy of the samples from the cursor to the end of the
// window.
func (w *Window) NextChunk() Chunk {
	w.mu.Lock()
	defer w.mu.Unlock()

	rate := float64(w.cfg.SampleRate)
	offset := int(math.Max(0, (w.cursor-w.origin)*rate))
	if offset > len(w.samples) {
		offset = len(w.samples)
	}
	out := make([]float32, len(w.samples)-offset)
	copy(out, w.samples[offset:])
	return Chunk{
		Samples:  out,
		Start:    w.cursor,
		Duration: float64(len(out)) / rate,
	}
}

// Advance moves the cursor to base+seconds, where base is the Start of the
// chunk the advance was computed from. The cursor never moves backwards, so
// a trim that raced with transcription is not undone.
func (w *Window) Advance(base, seconds float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if target := base + seconds; target > w.cursor {
		w.cursor = target
	}
	if w.cursor < w.origin {
		w.cursor = w.origin
	}
}

// Release drops the buffered audio. Later appends are ignored.
func (w *Window) Release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = nil
	w.released = true
}

// Empty reports whether no audio has been received yet.
func (w *Window) Empty() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.samples) == 0
}

// Offsets returns the current origin and cursor.
func (w *Window) Offsets() (origin, cursor float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.origin, w.cursor
}

// Duration returns the length of the buffered audio in seconds.
func (w *Window) Duration() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return float64(len(w.samples)) / float64(w.cfg.SampleRate)
}
