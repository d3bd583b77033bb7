// Package llm provides concrete LLM Driver (C6) implementations: OpenAI and
// Anthropic, each streaming text chunks and tool calls through the
// pkg/llm.Provider contract. Grounded on
// _examples/MrWong99-glyphoxa/pkg/provider/llm/openai/openai.go's
// buildParams/StreamCompletion shape, adapted from that package's own
// CompletionRequest type to gateway's dialogue.Message/tools.Schema types.
package llm

import (
	"context"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/xiaozhi-go/gateway/pkg/dialogue"
	gwllm "github.com/xiaozhi-go/gateway/pkg/llm"
	"github.com/xiaozhi-go/gateway/pkg/tools"
)

type OpenAIDriver struct {
	client oai.Client
	model  string
}

func NewOpenAIDriver(apiKey, model string) *OpenAIDriver {
	if model == "" {
		model = "gpt-4o"
	}
	client := oai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIDriver{client: client, model: model}
}

func (d *OpenAIDriver) Name() string { return "openai" }

func (d *OpenAIDriver) Response(ctx context.Context, req gwllm.Request) (<-chan gwllm.Chunk, error) {
	return d.stream(ctx, req, nil)
}

func (d *OpenAIDriver) ResponseWithFunctions(ctx context.Context, req gwllm.Request) (<-chan gwllm.Chunk, error) {
	return d.stream(ctx, req, req.Tools)
}

func (d *OpenAIDriver) stream(ctx context.Context, req gwllm.Request, toolSchemas []tools.Schema) (<-chan gwllm.Chunk, error) {
	params, err := buildOpenAIParams(d.model, req.Dialogue, toolSchemas)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	stream := d.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	out := make(chan gwllm.Chunk, 32)
	go func() {
		defer close(out)
		defer stream.Close()

		toolCallAccum := map[int64]*gwllm.ToolCallDelta{}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			delta := choice.Delta

			emit := gwllm.Chunk{Text: delta.Content}

			for _, tc := range delta.ToolCalls {
				idx := tc.Index
				existing, ok := toolCallAccum[idx]
				if !ok {
					existing = &gwllm.ToolCallDelta{}
					toolCallAccum[idx] = existing
				}
				if tc.ID != "" {
					existing.ID = tc.ID
				}
				if tc.Function.Name != "" {
					existing.Name = tc.Function.Name
				}
				existing.Arguments += tc.Function.Arguments
			}

			if choice.FinishReason == "tool_calls" {
				for i := int64(0); i < int64(len(toolCallAccum)); i++ {
					if tc, ok := toolCallAccum[i]; ok {
						emit.ToolCalls = append(emit.ToolCalls, *tc)
					}
				}
			}
			if choice.FinishReason != "" {
				emit.Done = true
			}

			select {
			case out <- emit:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case out <- gwllm.Chunk{Err: fmt.Errorf("openai: stream: %w", err), Done: true}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}

func buildOpenAIParams(model string, messages []dialogue.Message, toolSchemas []tools.Schema) (oai.ChatCompletionNewParams, error) {
	var msgs []oai.ChatCompletionMessageParamUnion

	for _, m := range messages {
		msg, err := convertOpenAIMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		msgs = append(msgs, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: msgs,
	}

	for _, ts := range toolSchemas {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        ts.Name,
				Description: param.NewOpt(ts.Description),
				Parameters:  shared.FunctionParameters(ts.Parameters),
			},
		})
	}

	return params, nil
}

func convertOpenAIMessage(m dialogue.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case dialogue.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case dialogue.RoleUser:
		return oai.UserMessage(m.Content), nil
	case dialogue.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	case dialogue.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
