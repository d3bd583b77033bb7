package llm

import (
	"context"
	"fmt"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/xiaozhi-go/gateway/pkg/dialogue"
	gwllm "github.com/xiaozhi-go/gateway/pkg/llm"
	"github.com/xiaozhi-go/gateway/pkg/tools"
)

const defaultAnthropicMaxTokens = 4096

type AnthropicDriver struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicDriver(apiKey, model string) *AnthropicDriver {
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicDriver{client: client, model: model, maxTokens: defaultAnthropicMaxTokens}
}

func (d *AnthropicDriver) Name() string { return "anthropic" }

func (d *AnthropicDriver) Response(ctx context.Context, req gwllm.Request) (<-chan gwllm.Chunk, error) {
	return d.stream(ctx, req, nil)
}

func (d *AnthropicDriver) ResponseWithFunctions(ctx context.Context, req gwllm.Request) (<-chan gwllm.Chunk, error) {
	return d.stream(ctx, req, req.Tools)
}

func (d *AnthropicDriver) stream(ctx context.Context, req gwllm.Request, toolSchemas []tools.Schema) (<-chan gwllm.Chunk, error) {
	params, err := buildAnthropicParams(d.model, d.maxTokens, req.Dialogue, toolSchemas)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build params: %w", err)
	}

	stream := d.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: start stream: %w", err)
	}

	out := make(chan gwllm.Chunk, 32)
	go func() {
		defer close(out)
		defer stream.Close()

		toolCallAccum := map[int64]*gwllm.ToolCallDelta{}

		for stream.Next() {
			event := stream.Current()

			switch variant := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if variant.ContentBlock.Type == "tool_use" {
					toolCallAccum[variant.Index] = &gwllm.ToolCallDelta{
						ID:   variant.ContentBlock.ID,
						Name: variant.ContentBlock.Name,
					}
				}
			case anthropic.ContentBlockDeltaEvent:
				if variant.Delta.Type == "text_delta" && variant.Delta.Text != "" {
					select {
					case out <- gwllm.Chunk{Text: variant.Delta.Text}:
					case <-ctx.Done():
						return
					}
				}
				if variant.Delta.Type == "input_json_delta" {
					if tc, ok := toolCallAccum[variant.Index]; ok {
						tc.Arguments += variant.Delta.PartialJSON
					}
				}
			case anthropic.MessageStopEvent:
				emit := gwllm.Chunk{Done: true}
				for i := int64(0); i < int64(len(toolCallAccum)); i++ {
					if tc, ok := toolCallAccum[i]; ok {
						emit.ToolCalls = append(emit.ToolCalls, *tc)
					}
				}
				select {
				case out <- emit:
				case <-ctx.Done():
				}
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case out <- gwllm.Chunk{Err: fmt.Errorf("anthropic: stream: %w", err), Done: true}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}

func buildAnthropicParams(model string, maxTokens int64, messages []dialogue.Message, toolSchemas []tools.Schema) (anthropic.MessageNewParams, error) {
	var system string
	var msgs []anthropic.MessageParam

	for _, m := range messages {
		switch m.Role {
		case dialogue.RoleSystem:
			system = m.Content
		case dialogue.RoleUser:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case dialogue.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case dialogue.RoleTool:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)))
		default:
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: unknown message role %q", m.Role)
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	for _, ts := range toolSchemas {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        ts.Name,
				Description: anthropic.String(ts.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: ts.Parameters["properties"],
				},
			},
		})
	}

	return params, nil
}
