// Package asr implements the ASR Session (C3): accumulating audio between
// voice-start and voice-stop and emitting exactly one final transcript per
// user turn, across both local-blocking and remote-streaming provider
// shapes (spec.md 4.3).
package asr

import (
	"context"
	"encoding/json"
)

// Transcript is the result of a completed ASR turn. A remote provider may
// embed speaker-diarization metadata as a JSON object {"speaker":...,
// "content":...} in the raw text; ParseTranscript normalizes both forms.
type Transcript struct {
	Text    string
	Speaker string
}

// ParseTranscript accepts either a plain string or an embedded JSON object
// of the form {"speaker":"...","content":"..."} and normalizes to Transcript,
// per spec.md 4.3's "downstream consumers must accept both plain strings and
// this object form".
func ParseTranscript(raw string) Transcript {
	var obj struct {
		Speaker string `json:"speaker"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(raw), &obj); err == nil && obj.Content != "" {
		return Transcript{Text: obj.Content, Speaker: obj.Speaker}
	}
	return Transcript{Text: raw}
}

// Provider is the local/batch ASR contract: a single blocking call that
// transcribes a complete PCM buffer. Local providers are process-wide,
// read-only-after-load, and safe to share across connections (spec.md 3
// "Ownership").
type Provider interface {
	Transcribe(ctx context.Context, pcm []int16, lang string) (Transcript, error)
	Name() string
}

// TranscriptCallback is invoked by a streaming provider as partial/final
// transcripts become available. isFinal=true must be delivered exactly once
// per turn (spec.md 4.3).
type TranscriptCallback func(t Transcript, isFinal bool) error

// StreamingProvider is the remote-streaming ASR contract: per-connection,
// audio frames are pushed onto the returned channel and transcript events
// arrive via callback.
type StreamingProvider interface {
	Provider
	OpenChannel(ctx context.Context, lang string, cb TranscriptCallback) (chan<- []int16, error)
}
