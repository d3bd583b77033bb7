package intent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xiaozhi-go/gateway/pkg/dialogue"
	"github.com/xiaozhi-go/gateway/pkg/llm"
)

type Mode string

const (
	ModeNone         Mode = "nointent"      // skip the router entirely
	ModeIntentLLM    Mode = "intent_llm"    // a separate classifier LLM call
	ModeFunctionCall Mode = "function_call" // rely on the main LLM's native tool-call surface
)

// Special function_call names the router handles itself rather than
// dispatching through the tool registry (spec.md §4.10).
const (
	FunctionContinueChat     = "continue_chat"
	FunctionResultForContext = "result_for_context"
	FunctionHandleExit       = "handle_exit_intent"
)

type DecisionKind string

const (
	DecisionBypass           DecisionKind = "bypass"            // function_call mode: let the main LLM handle it
	DecisionContinueChat     DecisionKind = "continue_chat"
	DecisionResultForContext DecisionKind = "result_for_context"
	DecisionExitIntent       DecisionKind = "exit_intent"
	DecisionFunctionCall     DecisionKind = "function_call" // dispatch through the tool registry
	DecisionWakeWordCached   DecisionKind = "wake_word_cached"
)

// Decision is the router's disposition for one user utterance. On
// DecisionContinueChat the caller purges tool/function messages from the
// dialogue (spec.md §4.4); the router does not own the dialogue store.
type Decision struct {
	Kind         DecisionKind
	FunctionName string
	Arguments    string // JSON-encoded, for DecisionFunctionCall
	AudioFile    string // for DecisionWakeWordCached
}

// classifierResponse is the strict JSON shape expected back from the
// intent_llm classifier call (spec.md §4.10).
type classifierResponse struct {
	FunctionCall struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function_call"`
}

// Router classifies one user utterance into a Decision, per spec.md §4.10's
// three modes, consulting the wake-word matcher first and the decision
// cache second.
type Router struct {
	mode       Mode
	classifier llm.Provider
	wakeWords  *WakeWordMatcher
	cache      *Cache
	systemText string // classifier instructions, prepended ahead of the user turn
}

func NewRouter(mode Mode, classifier llm.Provider, wakeWords *WakeWordMatcher, cacheSize int, systemText string) *Router {
	return &Router{
		mode:       mode,
		classifier: classifier,
		wakeWords:  wakeWords,
		cache:      NewCache(cacheSize),
		systemText: systemText,
	}
}

// Classify decides what to do with one user utterance. deviceID is used
// only as a cache partition key.
func (r *Router) Classify(ctx context.Context, deviceID, text string) (Decision, error) {
	if r.wakeWords != nil {
		if entry, ok := r.wakeWords.Match(text); ok {
			return Decision{Kind: DecisionWakeWordCached, AudioFile: entry.AudioFile}, nil
		}
	}

	if r.mode == ModeNone {
		return Decision{Kind: DecisionContinueChat}, nil
	}
	if r.mode == ModeFunctionCall {
		return Decision{Kind: DecisionBypass}, nil
	}

	key := Key(deviceID, text)
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}

	decision, err := r.classify(ctx, text)
	if err != nil {
		return Decision{}, err
	}
	r.cache.Put(key, decision)
	return decision, nil
}

func (r *Router) classify(ctx context.Context, text string) (Decision, error) {
	if r.classifier == nil {
		return Decision{}, fmt.Errorf("intent: mode %q requires a classifier provider", ModeIntentLLM)
	}

	req := llm.Request{Dialogue: []dialogue.Message{
		{Role: dialogue.RoleSystem, Content: r.systemText},
		{Role: dialogue.RoleUser, Content: text},
	}}

	chunks, err := r.classifier.Response(ctx, req)
	if err != nil {
		return Decision{}, fmt.Errorf("intent: classifier call failed: %w", err)
	}

	var raw string
	for chunk := range chunks {
		if chunk.Err != nil {
			return Decision{}, fmt.Errorf("intent: classifier stream error: %w", chunk.Err)
		}
		raw += chunk.Text
	}

	var parsed classifierResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Decision{}, fmt.Errorf("intent: classifier did not return strict JSON: %w", err)
	}

	return decisionFromFunctionCall(parsed.FunctionCall.Name, string(parsed.FunctionCall.Arguments)), nil
}

func decisionFromFunctionCall(name, arguments string) Decision {
	switch name {
	case FunctionContinueChat, "":
		return Decision{Kind: DecisionContinueChat}
	case FunctionResultForContext:
		return Decision{Kind: DecisionResultForContext, Arguments: arguments}
	case FunctionHandleExit:
		return Decision{Kind: DecisionExitIntent}
	default:
		return Decision{Kind: DecisionFunctionCall, FunctionName: name, Arguments: arguments}
	}
}
