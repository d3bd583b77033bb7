package vad

import (
	"math"
	"time"
)

// RMSGate is a lightweight, no-dependency default Gate implementation,
// adapted from the teacher's orchestrator.RMSVAD (pkg/orchestrator/vad.go):
// the same threshold/hysteresis/silence-limit state machine, generalized
// from the teacher's one-shot speech-start/speech-end VADEvent pair to the
// gateway's voice_start/voice_stop/silence Event contract, and from raw PCM
// bytes to the pre-decoded []int16 frames Window.Process already hands it.
type RMSGate struct {
	threshold    float64
	silenceLimit time.Duration
	minConfirmed int

	isVoice           bool
	consecutiveFrames int
	silenceStart      time.Time
}

// NewRMSGate builds a gate that confirms voice_start only after
// minConfirmed consecutive frames above threshold (filtering spikes and
// echo-onset pops) and voice_stop only after silenceLimit of continuous
// silence.
func NewRMSGate(threshold float64, silenceLimit time.Duration, minConfirmed int) *RMSGate {
	if minConfirmed <= 0 {
		minConfirmed = 7
	}
	return &RMSGate{threshold: threshold, silenceLimit: silenceLimit, minConfirmed: minConfirmed}
}

func (g *RMSGate) Process(chunk []int16) (*Event, error) {
	rms := rmsOf(chunk)
	now := time.Now()

	if rms > g.threshold {
		g.consecutiveFrames++
		g.silenceStart = time.Time{}
		if !g.isVoice && g.consecutiveFrames >= g.minConfirmed {
			g.isVoice = true
			return &Event{Type: VoiceStart, Timestamp: now}, nil
		}
		return nil, nil
	}

	g.consecutiveFrames = 0
	if g.isVoice {
		if g.silenceStart.IsZero() {
			g.silenceStart = now
		}
		if now.Sub(g.silenceStart) >= g.silenceLimit {
			g.isVoice = false
			g.silenceStart = time.Time{}
			return &Event{Type: VoiceStop, Timestamp: now}, nil
		}
		return nil, nil
	}

	return &Event{Type: Silence, Timestamp: now}, nil
}

func (g *RMSGate) IsVoice() bool { return g.isVoice }

func (g *RMSGate) Reset() {
	g.isVoice = false
	g.consecutiveFrames = 0
	g.silenceStart = time.Time{}
}

func (g *RMSGate) Clone() Gate {
	return &RMSGate{threshold: g.threshold, silenceLimit: g.silenceLimit, minConfirmed: g.minConfirmed}
}

func (g *RMSGate) Name() string { return "rms_vad" }

func rmsOf(chunk []int16) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	for _, s := range chunk {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(chunk)))
}

var _ Gate = (*RMSGate)(nil)
