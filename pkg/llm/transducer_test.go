package llm

import "testing"

func TestFeedElidesThinkSpanWithinOneChunk(t *testing.T) {
	tr := NewTransducer()
	visible, _, _ := tr.Feed("hello <think>internal reasoning</think> world")
	if visible != "hello  world" {
		t.Errorf("unexpected visible text: %q", visible)
	}
}

func TestFeedElidesThinkSpanAcrossChunkBoundary(t *testing.T) {
	tr := NewTransducer()
	v1, _, _ := tr.Feed("hello <think>internal ")
	v2, _, _ := tr.Feed("reasoning more")
	v3, _, _ := tr.Feed("</think> world")

	got := v1 + v2 + v3
	if got != "hello  world" {
		t.Errorf("unexpected visible text across boundaries: %q", got)
	}
}

func TestFeedParsesEmbeddedToolCallAcrossChunks(t *testing.T) {
	tr := NewTransducer()
	tr.Feed("<tool_call>")
	_, tc, _ := tr.Feed(`{"name":"get_weather","arguments":{"location":"Paris"}}</tool_call>`)

	if tc == nil {
		t.Fatal("expected a parsed tool call")
	}
	if tc.Name != "get_weather" {
		t.Errorf("unexpected tool call name: %q", tc.Name)
	}
}

func TestFeedEmitsEmotionOnceOnFirstVisibleChunk(t *testing.T) {
	tr := NewTransducer()
	_, _, e1 := tr.Feed("that's great 🙂")
	_, _, e2 := tr.Feed("more text 😭")

	if e1 == nil || e1.Emotion != "happy" {
		t.Fatalf("expected happy emotion on first chunk, got %+v", e1)
	}
	if e2 != nil {
		t.Errorf("expected no emotion event on subsequent chunk, got %+v", e2)
	}
}

func TestResetAllowsEmotionAgain(t *testing.T) {
	tr := NewTransducer()
	tr.Feed("🙂")
	tr.Reset()
	_, _, e := tr.Feed("😭")
	if e == nil || e.Emotion != "crying" {
		t.Fatalf("expected fresh emotion event after reset, got %+v", e)
	}
}
