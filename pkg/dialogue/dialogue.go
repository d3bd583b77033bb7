// Package dialogue implements the Dialogue Store (C4): an append-only
// conversation with system/user/assistant/tool roles and a memory-augmented
// read view, modeled on the teacher's ConversationSession
// (pkg/orchestrator/types.go) generalized with tool-call roles and a
// non-mutating memory view.
package dialogue

import "sync"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRef is an assistant-issued tool invocation attached to a Message.
type ToolCallRef struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded
}

type Message struct {
	Role       Role
	Content    string
	ToolCallID string        // set on a RoleTool message, matches the issuing ToolCallRef.ID
	ToolCalls  []ToolCallRef // set on a RoleAssistant message that invoked tools
}

// Store is the append-only, single-writer dialogue sequence for one
// connection (spec.md 3 "Ownership": the Connection exclusively owns its
// Dialogue; spec.md 9 Open Question #2 mandates a single writer). The mutex
// below guards against concurrent reads racing the writer; it is not itself
// the single-writer guarantee, which is enforced by convention — only the
// owning Connection's goroutine ever calls Put/PutToolRoundTrip.
type Store struct {
	mu       sync.RWMutex
	messages []Message
}

func NewStore() *Store {
	return &Store{}
}

// Put appends one message. A system message always replaces index 0 wholesale
// rather than accumulating (spec.md 3 "Dialogue" invariant).
func (s *Store) Put(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Role == RoleSystem {
		if len(s.messages) > 0 && s.messages[0].Role == RoleSystem {
			s.messages[0] = msg
			return
		}
		s.messages = append([]Message{msg}, s.messages...)
		return
	}

	s.messages = append(s.messages, msg)
}

// UpdateSystemMessage replaces (or creates) the system message at index 0.
// Calling it repeatedly with the same text is idempotent (R2): the resulting
// dialogue state after N identical calls equals the state after one call.
func (s *Store) UpdateSystemMessage(text string) {
	s.Put(Message{Role: RoleSystem, Content: text})
}

// PutToolRoundTrip appends the assistant's tool_calls message followed
// immediately by one tool-result message per call, preserving the invariant
// that tool messages always directly follow the assistant turn that issued
// them (spec.md 3 "Dialogue" invariant, P2).
func (s *Store) PutToolRoundTrip(assistantContent string, calls []ToolCallRef, results []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{Role: RoleAssistant, Content: assistantContent, ToolCalls: calls})
	s.messages = append(s.messages, results...)
}

// PurgeToolMessages removes every RoleTool message from the dialogue,
// applied on a continue_chat intent decision to prevent orphaned tool turns
// from confusing the next LLM request (spec.md 4.4, 4.10).
//
// Dropping a tool message can leave a dangling assistant tool_calls entry
// with no matching result; those assistant entries are dropped too, since an
// assistant turn with unresolved tool_calls and no tool result is not a
// valid turn to replay to any provider.
func (s *Store) PurgeToolMessages() {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := s.messages[:0:0]
	for _, m := range s.messages {
		if m.Role == RoleTool {
			continue
		}
		if m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
			continue
		}
		filtered = append(filtered, m)
	}
	s.messages = filtered
}

// GetLLMDialogue returns a defensive copy of the raw sequence, suitable to
// pass straight to an LLM driver.
func (s *Store) GetLLMDialogue() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// VoiceprintConfig controls whether/how speaker-diarization metadata is
// surfaced in the memory-augmented view.
type VoiceprintConfig struct {
	Enabled bool
}

// GetLLMDialogueWithMemory returns a view that prepends summary as a
// system-side context block before the user turn, without mutating the
// underlying sequence (P6): calling it repeatedly with equal inputs returns
// equal outputs, and the Store itself is left untouched either way.
func (s *Store) GetLLMDialogueWithMemory(summary string, voiceprint VoiceprintConfig) []Message {
	base := s.GetLLMDialogue()
	if summary == "" {
		return base
	}

	memoryBlock := Message{Role: RoleSystem, Content: "Conversation memory summary:\n" + summary}

	out := make([]Message, 0, len(base)+1)
	inserted := false
	for _, m := range base {
		out = append(out, m)
		if m.Role == RoleSystem && !inserted {
			out = append(out, memoryBlock)
			inserted = true
		}
	}
	if !inserted {
		out = append([]Message{memoryBlock}, out...)
	}
	return out
}

// Len returns the number of messages currently stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
