// Package llm implements the LLM Driver (C6): the provider-facing interface
// and the chunk-processing transducer that elides <think> spans and parses
// both structured and embedded-JSON tool calls out of a streamed response.
//
// Grounded on _examples/MrWong99-glyphoxa/pkg/provider/llm/openai/openai.go's
// CompletionRequest/Chunk shape, generalized to the two call shapes spec.md
// §4.6 requires (plain response, and response_with_functions).
package llm

import (
	"context"

	"github.com/xiaozhi-go/gateway/pkg/dialogue"
	"github.com/xiaozhi-go/gateway/pkg/tools"
)

// Chunk is one unit of streamed model output. A provider emits zero or more
// Chunks with Text set, then a final Chunk carrying ToolCalls and/or Err.
type Chunk struct {
	Text      string
	ToolCalls []ToolCallDelta
	Err       error // non-nil surfaces a provider-transient error in-band (spec.md §4.6)
	Done      bool
}

// ToolCallDelta is one complete tool invocation as assembled by the
// provider driver from streamed fragments.
type ToolCallDelta struct {
	ID        string
	Name      string
	Arguments string
}

// Request carries the dialogue view and, for response_with_functions, the
// tool schemas currently available.
type Request struct {
	Dialogue []dialogue.Message
	Tools    []tools.Schema
}

// Provider is implemented by each concrete LLM backend (OpenAI, Anthropic).
type Provider interface {
	// Response streams plain text chunks; ToolCalls/Tools are unused.
	Response(ctx context.Context, req Request) (<-chan Chunk, error)
	// ResponseWithFunctions streams text interleaved with tool call chunks.
	ResponseWithFunctions(ctx context.Context, req Request) (<-chan Chunk, error)
	Name() string
}
