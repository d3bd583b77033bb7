package dialogue

import (
	"reflect"
	"testing"
)

func TestSystemMessageAlwaysAtIndexZero(t *testing.T) {
	s := NewStore()
	s.Put(Message{Role: RoleUser, Content: "hi"})
	s.UpdateSystemMessage("you are helpful")

	msgs := s.GetLLMDialogue()
	if msgs[0].Role != RoleSystem {
		t.Fatalf("expected system message at index 0, got %+v", msgs[0])
	}
}

func TestUpdateSystemMessageIdempotent(t *testing.T) {
	s := NewStore()
	s.UpdateSystemMessage("prompt A")
	first := s.GetLLMDialogue()

	s.UpdateSystemMessage("prompt A")
	s.UpdateSystemMessage("prompt A")
	second := s.GetLLMDialogue()

	if len(first) != len(second) {
		t.Fatalf("repeated identical updates changed message count: %d vs %d", len(first), len(second))
	}
	if second[0].Content != "prompt A" {
		t.Fatalf("unexpected system content: %q", second[0].Content)
	}
}

func TestPutToolRoundTripOrdering(t *testing.T) {
	s := NewStore()
	s.Put(Message{Role: RoleUser, Content: "what's the weather"})

	calls := []ToolCallRef{{ID: "call_1", Name: "get_weather", Arguments: `{"location":"Paris"}`}}
	results := []Message{{Role: RoleTool, ToolCallID: "call_1", Content: "sunny"}}
	s.PutToolRoundTrip("", calls, results)
	s.Put(Message{Role: RoleAssistant, Content: "it's sunny in Paris"})

	msgs := s.GetLLMDialogue()
	if msgs[1].Role != RoleAssistant || len(msgs[1].ToolCalls) != 1 {
		t.Fatalf("expected assistant tool_calls message at index 1, got %+v", msgs[1])
	}
	if msgs[2].Role != RoleTool || msgs[2].ToolCallID != "call_1" {
		t.Fatalf("expected matching tool result at index 2, got %+v", msgs[2])
	}
	if msgs[3].Role != RoleAssistant {
		t.Fatalf("expected final assistant content turn at index 3, got %+v", msgs[3])
	}
}

func TestPurgeToolMessagesRemovesOrphans(t *testing.T) {
	s := NewStore()
	s.Put(Message{Role: RoleUser, Content: "turn on the light"})
	s.PutToolRoundTrip("", []ToolCallRef{{ID: "c1", Name: "iot_light_on"}}, []Message{{Role: RoleTool, ToolCallID: "c1", Content: "ok"}})

	s.PurgeToolMessages()

	for _, m := range s.GetLLMDialogue() {
		if m.Role == RoleTool {
			t.Fatalf("expected no tool messages after purge, found %+v", m)
		}
		if m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
			t.Fatalf("expected no dangling assistant tool_calls after purge, found %+v", m)
		}
	}
}

func TestGetLLMDialogueWithMemoryDoesNotMutate(t *testing.T) {
	s := NewStore()
	s.UpdateSystemMessage("base prompt")
	s.Put(Message{Role: RoleUser, Content: "hello"})

	before := s.Len()
	view1 := s.GetLLMDialogueWithMemory("likes tea", VoiceprintConfig{})
	view2 := s.GetLLMDialogueWithMemory("likes tea", VoiceprintConfig{})

	if s.Len() != before {
		t.Fatalf("expected underlying dialogue length unchanged, got %d vs %d", s.Len(), before)
	}
	if len(view1) != len(view2) {
		t.Fatalf("expected equal-input calls to produce equal-length views")
	}
	for i := range view1 {
		if !reflect.DeepEqual(view1[i], view2[i]) {
			t.Fatalf("expected identical views at index %d: %+v vs %+v", i, view1[i], view2[i])
		}
	}
}

func TestFirstEmotionEarliestOccurrence(t *testing.T) {
	_, emotion, found := FirstEmotion("that's great 🙂 but also 😭 sad")
	if !found {
		t.Fatal("expected an emoji to be found")
	}
	if emotion != "happy" {
		t.Errorf("expected earliest emoji (🙂=happy), got %q", emotion)
	}
}

func TestFirstEmotionNoneFound(t *testing.T) {
	_, _, found := FirstEmotion("no emoji here")
	if found {
		t.Error("expected no emotion found")
	}
}
