package asr

import (
	"context"
	"fmt"
	"sync"
)

// Session accumulates audio between voice-start and voice-stop and drives
// either a local (batch) or remote-streaming provider to produce exactly one
// final transcript per turn, per spec.md 4.3. It is modeled on the teacher's
// ManagedStream buffering/streaming-STT dance (pkg/orchestrator/managed_stream.go
// Write/startStreamingSTT/runBatchPipeline) generalized over the Provider
// contract instead of being hard-wired to one HTTP STT client.
type Session struct {
	mu       sync.Mutex
	local    Provider
	stream   StreamingProvider
	lang     string
	buf      []int16
	sttChan  chan<- []int16
	cancel   context.CancelFunc
	generation int
}

// NewSession picks the streaming path if provider implements StreamingProvider,
// else falls back to local/batch accumulation.
func NewSession(provider Provider, lang string) *Session {
	s := &Session{local: provider, lang: lang}
	if sp, ok := provider.(StreamingProvider); ok {
		s.stream = sp
	}
	return s
}

// OpenAudioChannels starts the streaming consumer (no-op for local/batch
// providers, which only transcribe on voice-stop). cb receives the one final
// transcript per turn; partial transcripts (isFinal=false) may arrive any
// number of times before it.
func (s *Session) OpenAudioChannels(ctx context.Context, cb TranscriptCallback) error {
	if s.stream == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openStreamLocked(ctx, cb)
}

func (s *Session) openStreamLocked(ctx context.Context, cb TranscriptCallback) error {
	gen := s.generation
	ch, err := s.stream.OpenChannel(ctx, s.lang, func(t Transcript, isFinal bool) error {
		s.mu.Lock()
		stale := gen != s.generation
		s.mu.Unlock()
		if stale {
			return nil
		}
		return cb(t, isFinal)
	})
	if err != nil {
		return fmt.Errorf("asr: open streaming channel: %w", err)
	}
	s.sttChan = ch
	return nil
}

// ReceiveAudio buffers (or forwards, for streaming providers) one audio
// frame. haveVoice reflects the current VAD classification; it is not
// itself the turn boundary (that's signaled by Finalize / on voice_stop).
func (s *Session) ReceiveAudio(frame []int16, haveVoice bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sttChan != nil {
		select {
		case s.sttChan <- frame:
		default:
		}
		return
	}

	if haveVoice {
		s.buf = append(s.buf, frame...)
	}
}

// Finalize ends the current turn (on VAD voice_stop, or a client
// listen=stop). For a local provider this performs the blocking transcribe
// and invokes cb exactly once with isFinal=true. For a streaming provider,
// finalization simply stops accumulating more audio into this turn; the
// provider itself is responsible for emitting its final transcript via the
// callback registered in OpenAudioChannels.
func (s *Session) Finalize(ctx context.Context, cb TranscriptCallback) error {
	s.mu.Lock()
	if s.stream != nil {
		s.sttChan = nil
		s.mu.Unlock()
		return nil
	}
	data := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(data) == 0 {
		return nil
	}

	t, err := s.local.Transcribe(ctx, data, s.lang)
	if err != nil {
		return fmt.Errorf("asr: transcribe: %w", err)
	}
	return cb(t, true)
}

// Reset invalidates any in-flight streaming callbacks (barge-in) and clears
// buffered audio, matching the teacher's sttGeneration invalidation pattern.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.sttChan = nil
	s.buf = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}
