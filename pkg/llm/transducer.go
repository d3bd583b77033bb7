package llm

import (
	"encoding/json"
	"strings"

	"github.com/xiaozhi-go/gateway/pkg/dialogue"
)

type transducerState int

const (
	stateNormal transducerState = iota
	stateInThink
	stateInToolCall
)

const (
	thinkOpen     = "<think>"
	thinkClose    = "</think>"
	toolCallOpen  = "<tool_call>"
	toolCallClose = "</tool_call>"
)

// Transducer applies the chunk-processing rules of spec.md §4.6 across
// chunk boundaries: <think>...</think> spans are elided regardless of how
// the provider splits them across chunks; if the provider doesn't emit
// structured tool_calls but the text begins with <tool_call>, embedded-JSON
// mode accumulates until one complete {"name":...,"arguments":...} object
// can be extracted. It also runs the once-per-turn emotion side task on the
// first non-empty visible chunk.
type Transducer struct {
	state          transducerState
	pending        strings.Builder // buffered text while in a non-normal state
	emotionEmitted bool
}

func NewTransducer() *Transducer {
	return &Transducer{}
}

// EmotionEvent is emitted at most once per turn, on the first non-empty
// visible text chunk, mapping its earliest recognized emoji to an emotion.
type EmotionEvent struct {
	Emoji   string
	Emotion string
}

// Feed processes one raw text fragment from the provider and returns the
// visible text to forward to TTS/dialogue (with <think> spans removed),
// any tool call fully assembled from embedded-JSON form, and an emotion
// event if this is the first non-empty visible chunk of the turn.
func (t *Transducer) Feed(raw string) (visible string, toolCall *ToolCallDelta, emotion *EmotionEvent) {
	remaining := raw
	var out strings.Builder

	for len(remaining) > 0 {
		switch t.state {
		case stateNormal:
			if idx := strings.Index(remaining, thinkOpen); idx >= 0 {
				out.WriteString(remaining[:idx])
				remaining = remaining[idx+len(thinkOpen):]
				t.state = stateInThink
				continue
			}
			if idx := strings.Index(remaining, toolCallOpen); idx >= 0 {
				out.WriteString(remaining[:idx])
				remaining = remaining[idx+len(toolCallOpen):]
				t.state = stateInToolCall
				t.pending.Reset()
				continue
			}
			out.WriteString(remaining)
			remaining = ""

		case stateInThink:
			if idx := strings.Index(remaining, thinkClose); idx >= 0 {
				remaining = remaining[idx+len(thinkClose):]
				t.state = stateNormal
				continue
			}
			remaining = "" // whole fragment consumed by the think span

		case stateInToolCall:
			if idx := strings.Index(remaining, toolCallClose); idx >= 0 {
				t.pending.WriteString(remaining[:idx])
				remaining = remaining[idx+len(toolCallClose):]
				t.state = stateNormal
				if tc := parseEmbeddedToolCall(t.pending.String()); tc != nil {
					toolCall = tc
				}
				t.pending.Reset()
				continue
			}
			t.pending.WriteString(remaining)
			remaining = ""
		}
	}

	visible = out.String()
	if visible != "" && !t.emotionEmitted {
		t.emotionEmitted = true
		if emoji, label, found := dialogue.FirstEmotion(visible); found {
			emotion = &EmotionEvent{Emoji: emoji, Emotion: label}
		}
	}
	return visible, toolCall, emotion
}

type embeddedToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func parseEmbeddedToolCall(body string) *ToolCallDelta {
	var parsed embeddedToolCall
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &parsed); err != nil {
		return nil
	}
	if parsed.Name == "" {
		return nil
	}
	return &ToolCallDelta{Name: parsed.Name, Arguments: string(parsed.Arguments)}
}

// Reset starts a new turn: clears elision state and allows the emotion side
// task to fire again.
func (t *Transducer) Reset() {
	t.state = stateNormal
	t.pending.Reset()
	t.emotionEmitted = false
}
