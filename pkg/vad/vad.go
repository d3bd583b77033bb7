// Package vad implements the VAD Gate (C2): per-frame voice/silence
// classification with a rolling window, voice_start/voice_stop edges, and
// the post-wake-word suppression flag.
package vad

import "time"

type EventType string

const (
	VoiceStart EventType = "voice_start"
	VoiceStop  EventType = "voice_stop"
	Silence    EventType = "silence"
)

type Event struct {
	Type      EventType
	Timestamp time.Time
}

// Gate classifies one inbound audio frame as voice or silence. Implementations
// must be safe to Clone() per-connection (local shared models clone cheap
// per-stream state; remote/local-model gates may share read-only weights).
type Gate interface {
	// Process classifies chunk (16-bit mono PCM) and returns an edge event,
	// or nil if no edge occurred this frame.
	Process(chunk []int16) (*Event, error)
	// IsVoice reports the current (debounced) voice/silence classification.
	IsVoice() bool
	Reset()
	Clone() Gate
	Name() string
}

// rollingWindowSize is spec.md 4.2's "last 5 classifications" window.
const rollingWindowSize = 5

// JustWokenSuppression is how long VAD output is force-suppressed
// immediately after a wake-word response (spec.md 4.2).
const JustWokenSuppression = time.Second

// Window tracks the rolling classification history and the just-woken-up
// suppression flag around an underlying Gate. It is the piece of per-
// connection VAD state the Connection (C8) actually owns and drives.
type Window struct {
	gate          Gate
	history       []bool
	justWokenUpAt time.Time
}

func NewWindow(gate Gate) *Window {
	return &Window{gate: gate}
}

// SuppressAfterWake marks the window as just-woken-up as of now; VAD edges
// are suppressed for JustWokenSuppression afterward to avoid self-triggering
// on the tail of a wake-word response.
func (w *Window) SuppressAfterWake(now time.Time) {
	w.justWokenUpAt = now
}

func (w *Window) suppressed(now time.Time) bool {
	if w.justWokenUpAt.IsZero() {
		return false
	}
	return now.Sub(w.justWokenUpAt) < JustWokenSuppression
}

// Process classifies a frame, updates the rolling window, and returns an
// edge event unless currently within the just-woken-up suppression window.
func (w *Window) Process(chunk []int16, now time.Time) (*Event, error) {
	evt, err := w.gate.Process(chunk)
	if err != nil {
		return nil, err
	}

	w.history = append(w.history, w.gate.IsVoice())
	if len(w.history) > rollingWindowSize {
		w.history = w.history[len(w.history)-rollingWindowSize:]
	}

	if w.suppressed(now) {
		return nil, nil
	}
	return evt, nil
}

// RecentVoiceRatio returns the fraction of the last N classifications (N up
// to rollingWindowSize) that were voice. Useful for callers that want a
// softer signal than the raw edge events.
func (w *Window) RecentVoiceRatio() float64 {
	if len(w.history) == 0 {
		return 0
	}
	voiced := 0
	for _, v := range w.history {
		if v {
			voiced++
		}
	}
	return float64(voiced) / float64(len(w.history))
}

func (w *Window) Reset() {
	w.gate.Reset()
	w.history = nil
}
