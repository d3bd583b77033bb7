package tts

import (
	"context"
	"errors"
	"testing"
)

type fakeSingleStreamProvider struct {
	failuresBeforeSuccess int
	calls                 int
	chunks                [][]byte
}

func (f *fakeSingleStreamProvider) StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error {
	f.calls++
	if f.calls <= f.failuresBeforeSuccess {
		return errors.New("transient synthesis failure")
	}
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSingleStreamProvider) Name() string { return "fake" }

func collect(ch chan AudioEvent) []AudioEvent {
	close(ch)
	var out []AudioEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func TestSynthesizeSentenceEmitsFirstThenLastWithNoEncoder(t *testing.T) {
	provider := &fakeSingleStreamProvider{chunks: [][]byte{{0, 0, 0, 0}}}
	p := NewPipelineSingleStream(provider, "voice-a", "en", nil)

	out := make(chan AudioEvent, 10)
	if err := p.SynthesizeSentence(context.Background(), "s1", "hello.", out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := collect(out)
	if len(events) < 2 {
		t.Fatalf("expected at least FIRST and LAST, got %d events", len(events))
	}
	if events[0].SentenceType != SentenceFirst {
		t.Errorf("expected first event to be FIRST, got %v", events[0].SentenceType)
	}
	if events[len(events)-1].SentenceType != SentenceLast {
		t.Errorf("expected last event to be LAST, got %v", events[len(events)-1].SentenceType)
	}
	for _, ev := range events[1 : len(events)-1] {
		if ev.SentenceType != SentenceMiddle {
			t.Errorf("expected interior events to be MIDDLE, got %v", ev.SentenceType)
		}
	}
}

func TestSynthesizeSentenceRetriesUpToFiveTimes(t *testing.T) {
	provider := &fakeSingleStreamProvider{failuresBeforeSuccess: 4, chunks: [][]byte{{1, 2}}}
	p := NewPipelineSingleStream(provider, "voice-a", "en", nil)

	out := make(chan AudioEvent, 10)
	if err := p.SynthesizeSentence(context.Background(), "s1", "hi.", out); err != nil {
		t.Fatalf("expected eventual success within 5 attempts, got error: %v", err)
	}
	if provider.calls != 5 {
		t.Errorf("expected exactly 5 attempts, got %d", provider.calls)
	}
}

func TestSynthesizeSentenceFailsAfterFiveAttemptsButStillEmitsLast(t *testing.T) {
	provider := &fakeSingleStreamProvider{failuresBeforeSuccess: 10}
	p := NewPipelineSingleStream(provider, "voice-a", "en", nil)

	out := make(chan AudioEvent, 10)
	err := p.SynthesizeSentence(context.Background(), "s1", "hi.", out)
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if provider.calls != maxSynthesisAttempts {
		t.Errorf("expected %d attempts, got %d", maxSynthesisAttempts, provider.calls)
	}

	events := collect(out)
	if len(events) != 2 {
		t.Fatalf("expected exactly FIRST and LAST on total failure, got %d events", len(events))
	}
	if events[0].SentenceType != SentenceFirst || events[1].SentenceType != SentenceLast {
		t.Errorf("expected FIRST then LAST, got %v then %v", events[0].SentenceType, events[1].SentenceType)
	}
}

func TestAbortShortCircuitsToEmptyFirstLastPair(t *testing.T) {
	provider := &fakeSingleStreamProvider{chunks: [][]byte{{1, 2, 3, 4}}}
	p := NewPipelineSingleStream(provider, "voice-a", "en", nil)
	p.Abort()

	out := make(chan AudioEvent, 10)
	if err := p.SynthesizeSentence(context.Background(), "s1", "hi.", out); err != nil {
		t.Fatalf("unexpected error on aborted sentence: %v", err)
	}

	events := collect(out)
	if len(events) != 2 {
		t.Fatalf("expected FIRST+LAST only after abort, got %d events", len(events))
	}
	if provider.calls != 0 {
		t.Errorf("expected provider not to be invoked after abort, got %d calls", provider.calls)
	}
}

func TestNextTurnClearsAbortForNewGeneration(t *testing.T) {
	provider := &fakeSingleStreamProvider{chunks: [][]byte{{1, 2}}}
	p := NewPipelineSingleStream(provider, "voice-a", "en", nil)
	p.Abort()
	p.NextTurn()

	out := make(chan AudioEvent, 10)
	if err := p.SynthesizeSentence(context.Background(), "s1", "hi.", out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.calls != 1 {
		t.Errorf("expected provider invoked once after NextTurn reset, got %d", provider.calls)
	}
}

func TestDrainNonBlockingEmptiesBufferedEvents(t *testing.T) {
	ch := make(chan AudioEvent, 3)
	ch <- AudioEvent{SentenceType: SentenceFirst}
	ch <- AudioEvent{SentenceType: SentenceMiddle}
	ch <- AudioEvent{SentenceType: SentenceLast}

	n := DrainNonBlocking(ch)
	if n != 3 {
		t.Errorf("expected 3 drained events, got %d", n)
	}
	if DrainNonBlocking(ch) != 0 {
		t.Error("expected second drain on empty channel to be a no-op")
	}
}
