package tts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xiaozhi-go/gateway/pkg/codec"
)

const maxSynthesisAttempts = 5

// Pipeline runs the per-connection tts_text_queue -> synthesis ->
// tts_audio_queue worker chain (spec.md §4.7). Each constructor wraps one of
// the three provider variants behind SingleStreamWrapper, and
// SynthesizeSentence drives whichever variant was wrapped.
type Pipeline struct {
	nonStream SingleStreamWrapper
	voice     Voice
	lang      Language
	encoder   *codec.Encoder

	mu         sync.Mutex
	generation int64
	aborted    int32
}

// SingleStreamWrapper unifies the three provider variants behind one
// dispatch seam: non-stream results are chunked as a single "stream" of one
// element, dual-stream sessions are driven to completion internally.
type SingleStreamWrapper interface {
	StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error
}

// nonStreamAdapter adapts a NonStreamProvider to SingleStreamWrapper.
type nonStreamAdapter struct{ p NonStreamProvider }

func (a nonStreamAdapter) StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	data, err := a.p.Synthesize(ctx, text, voice, lang)
	if err != nil {
		return err
	}
	return onChunk(data)
}

// dualStreamAdapter adapts a DualStreamProvider to SingleStreamWrapper by
// opening one session per sentence (the pipeline manages segmentation, not
// the provider).
type dualStreamAdapter struct{ p DualStreamProvider }

func (a dualStreamAdapter) StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	session, err := a.p.OpenSession(ctx, voice, lang, onChunk)
	if err != nil {
		return err
	}
	if err := session.PushText(ctx, text); err != nil {
		session.Close()
		return err
	}
	if err := session.Finish(ctx); err != nil {
		session.Close()
		return err
	}
	return session.Close()
}

func NewPipelineNonStream(p NonStreamProvider, voice Voice, lang Language, encoder *codec.Encoder) *Pipeline {
	return &Pipeline{nonStream: nonStreamAdapter{p}, voice: voice, lang: lang, encoder: encoder}
}

func NewPipelineSingleStream(p SingleStreamProvider, voice Voice, lang Language, encoder *codec.Encoder) *Pipeline {
	return &Pipeline{nonStream: p, voice: voice, lang: lang, encoder: encoder}
}

func NewPipelineDualStream(p DualStreamProvider, voice Voice, lang Language, encoder *codec.Encoder) *Pipeline {
	return &Pipeline{nonStream: dualStreamAdapter{p}, voice: voice, lang: lang, encoder: encoder}
}

// Abort marks the current generation aborted (barge-in): in-flight and
// subsequent SynthesizeSentence calls for this generation short-circuit
// to an empty FIRST+LAST pair (spec.md §9 Open Question #3) without
// invoking the provider.
func (p *Pipeline) Abort() {
	atomic.StoreInt32(&p.aborted, 1)
}

// NextTurn resets abort state and bumps the generation counter, invalidating
// any SynthesizeSentence call started under the previous generation.
func (p *Pipeline) NextTurn() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	atomic.StoreInt32(&p.aborted, 0)
}

// SynthesizeSentence drives one sentence through FIRST -> synthesis ->
// MIDDLE(s) -> LAST on out, retrying synthesis up to 5 times on transient
// failure. It enforces P1: exactly one FIRST, exactly one LAST, with any
// MIDDLE entries strictly between.
func (p *Pipeline) SynthesizeSentence(ctx context.Context, sentenceID, text string, out chan<- AudioEvent) error {
	p.mu.Lock()
	gen := p.generation
	p.mu.Unlock()

	// send drops the event only when a newer turn has started (gen stale);
	// an in-progress abort still gets its FIRST/LAST markers through so the
	// audio queue protocol stays well-formed.
	send := func(ev AudioEvent) bool {
		if p.isStale(gen) {
			return false
		}
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(AudioEvent{SentenceID: sentenceID, SentenceType: SentenceFirst, Text: text}) {
		return nil
	}

	if p.isAborted() {
		send(AudioEvent{SentenceID: sentenceID, SentenceType: SentenceLast})
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < maxSynthesisAttempts; attempt++ {
		if p.staleOrAborted(gen) {
			break
		}
		lastErr = p.synthesizeOnce(ctx, sentenceID, text, gen, out)
		if lastErr == nil {
			break
		}
	}

	send(AudioEvent{SentenceID: sentenceID, SentenceType: SentenceLast})

	if lastErr != nil && !p.staleOrAborted(gen) {
		return fmt.Errorf("tts: synthesis failed after %d attempts: %w", maxSynthesisAttempts, lastErr)
	}
	return nil
}

func (p *Pipeline) synthesizeOnce(ctx context.Context, sentenceID, text string, gen int64, out chan<- AudioEvent) error {
	return p.nonStream.StreamSynthesize(ctx, text, p.voice, p.lang, func(chunk []byte) error {
		if p.staleOrAborted(gen) {
			return errAborted
		}
		pcm := codec.BytesToPCM(chunk)
		var frames [][]byte
		if p.encoder != nil {
			if err := codec.EncodePCMStream(p.encoder, pcm, true, func(frame []byte) error {
				frames = append(frames, frame)
				return nil
			}); err != nil {
				return err
			}
		}
		select {
		case out <- AudioEvent{SentenceID: sentenceID, SentenceType: SentenceMiddle, OpusFrames: frames}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

var errAborted = errors.New("tts: sentence aborted mid-synthesis")

func (p *Pipeline) isStale(gen int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen != p.generation
}

func (p *Pipeline) isAborted() bool {
	return atomic.LoadInt32(&p.aborted) == 1
}

func (p *Pipeline) staleOrAborted(gen int64) bool {
	return p.isStale(gen) || p.isAborted()
}

// DrainNonBlocking empties a tts_audio_queue-style channel without blocking,
// used on barge-in (spec.md §4.7 "drain both queues non-blockingly").
func DrainNonBlocking(ch <-chan AudioEvent) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}
