package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/xiaozhi-go/gateway/pkg/config"
	"github.com/xiaozhi-go/gateway/pkg/dialogue"
	"github.com/xiaozhi-go/gateway/pkg/llm"
	"github.com/xiaozhi-go/gateway/pkg/logging"
	"github.com/xiaozhi-go/gateway/pkg/tools"
)

func newTestConnection(t *testing.T, transport Transport, providers Providers) *Connection {
	t.Helper()
	cfg := config.Snapshot{
		Timeouts: config.TimeoutConfig{IdleWarn: 50 * time.Millisecond, IdleClose: 50 * time.Millisecond},
	}
	c, err := New("device-1", "client-1", "127.0.0.1", cfg, providers, transport, &logging.NoOpLogger{}, false)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func findDownstream(t *testing.T, written []writtenMsg, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, w := range written {
		if w.kind != KindText {
			continue
		}
		var decoded map[string]any
		if err := json.Unmarshal(w.data, &decoded); err != nil {
			continue
		}
		if decoded["type"] == typ {
			out = append(out, decoded)
		}
	}
	return out
}

func TestConnection_AwaitHello(t *testing.T) {
	hello := UpstreamHello{Type: "hello", AudioParams: AudioParams{Format: "pcm", SampleRate: 8000}}
	data, err := json.Marshal(hello)
	if err != nil {
		t.Fatalf("marshal hello: %v", err)
	}
	transport := newFakeTransport(fakeMsg{kind: KindText, data: data})
	c := newTestConnection(t, transport, Providers{})

	if err := c.awaitHello(context.Background()); err != nil {
		t.Fatalf("awaitHello: %v", err)
	}
	if c.AudioFormat != defaultAudioParams.Format {
		t.Errorf("AudioFormat = %q, want the fixed gateway format %q", c.AudioFormat, defaultAudioParams.Format)
	}

	welcomes := findDownstream(t, transport.writtenCopy(), "hello")
	if len(welcomes) != 1 {
		t.Fatalf("expected exactly one welcome message, got %d", len(welcomes))
	}
	if welcomes[0]["session_id"] != c.ID {
		t.Errorf("welcome session_id = %v, want %v", welcomes[0]["session_id"], c.ID)
	}
}

func TestConnection_AwaitHello_RejectsNonHelloFirstMessage(t *testing.T) {
	data, _ := json.Marshal(UpstreamListen{Type: "listen", State: ListenStateStart})
	transport := newFakeTransport(fakeMsg{kind: KindText, data: data})
	c := newTestConnection(t, transport, Providers{})

	err := c.awaitHello(context.Background())
	if !errors.Is(err, ErrHandshakeTimeout) {
		t.Fatalf("expected ErrHandshakeTimeout, got %v", err)
	}
}

func TestConnection_HandleListen_StartWhileSpeakingInterrupts(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(t, transport, Providers{})
	c.setState(StateSpeaking)

	data, _ := json.Marshal(UpstreamListen{Type: "listen", State: ListenStateStart, Mode: ListenModeManual})
	if err := c.handleListen(context.Background(), data); err != nil {
		t.Fatalf("handleListen: %v", err)
	}

	if c.State() != StateListening {
		t.Errorf("state = %v, want LISTENING", c.State())
	}
	if c.listenModeStr() != ListenModeManual {
		t.Errorf("listen mode = %q, want %q", c.listenModeStr(), ListenModeManual)
	}
	if len(findDownstream(t, transport.writtenCopy(), "tts")) == 0 {
		t.Error("expected the barge-in interrupt to emit a tts stop message")
	}
}

func TestConnection_HandleListen_StopFinalizesWhenListening(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(t, transport, Providers{})
	c.setState(StateListening)

	data, _ := json.Marshal(UpstreamListen{Type: "listen", State: ListenStateStop})
	if err := c.handleListen(context.Background(), data); err != nil {
		t.Fatalf("handleListen: %v", err)
	}

	// No audio was ever buffered, so the ASR session has nothing to
	// transcribe: Finalize returns without error and without invoking the
	// callback, leaving the state machine right where onVoiceStop would
	// have left it pending the (never-arriving) transcript.
	if c.State() != StateListening {
		t.Errorf("state = %v, want LISTENING (no transcript produced)", c.State())
	}
}

func TestConnection_HandleListen_DetectWithTextRunsTurn(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(t, transport, Providers{})

	data, _ := json.Marshal(UpstreamListen{Type: "listen", State: ListenStateDetect, Text: "turn on the lights"})
	if err := c.handleListen(context.Background(), data); err != nil {
		t.Fatalf("handleListen: %v", err)
	}

	// No LLM provider configured: runLLMTurn logs the failure and returns to
	// idle, but the user transcript must still have been recorded.
	if c.State() != StateIdle {
		t.Errorf("state = %v, want IDLE", c.State())
	}
	msgs := c.Dialogue.GetLLMDialogue()
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != dialogue.RoleUser || msgs[len(msgs)-1].Content != "turn on the lights" {
		t.Fatalf("expected last message to be the user transcript, got %+v", msgs)
	}
}

func TestConnection_HandleMCP_NoProxyIsNoop(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(t, transport, Providers{})

	payload := []byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`)
	env, _ := json.Marshal(UpstreamMCP{Type: "mcp", Payload: payload})
	if err := c.handleMCP(env); err != nil {
		t.Fatalf("handleMCP: %v", err)
	}
}

func TestConnection_HandleServerMessage_IgnoresNonRestartActions(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(t, transport, Providers{})

	data, _ := json.Marshal(UpstreamServer{Type: "server"})
	if err := c.handleServerMessage(context.Background(), data); err != nil {
		t.Fatalf("handleServerMessage: %v", err)
	}
	if len(transport.writtenCopy()) != 0 {
		t.Error("expected no downstream message for a non-restart server action")
	}
}

func TestConnection_Interrupt_BumpsGenerationAndSendsTTSStop(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(t, transport, Providers{})

	before := c.generation
	c.interrupt(context.Background())

	if c.generation != before+1 {
		t.Errorf("generation = %d, want %d", c.generation, before+1)
	}
	if !c.isClientAbort() {
		t.Error("expected clientAbort to be set")
	}
	stops := findDownstream(t, transport.writtenCopy(), "tts")
	found := false
	for _, m := range stops {
		if m["state"] == TTSStop {
			found = true
		}
	}
	if !found {
		t.Error("expected interrupt to send a tts stop message")
	}
}

func TestConnection_HandleToolResult_RecursionLimitSynthesizesFailureWithoutFeedback(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(t, transport, Providers{})

	before := c.Dialogue.Len()
	c.handleToolResult(context.Background(), maxToolRecursionDepth, "call-1", tools.Result{Action: tools.ActionReqLLM, Result: "partial"}, false)

	if c.State() != StateIdle {
		t.Errorf("state = %v, want IDLE", c.State())
	}
	if c.Dialogue.Len() != before {
		t.Errorf("expected no dialogue message appended at the recursion limit, dialogue grew from %d to %d", before, c.Dialogue.Len())
	}
}

func TestConnection_HandleToolResult_ResponseSpeaksAndAppendsAssistantMessage(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(t, transport, Providers{})

	c.handleToolResult(context.Background(), 0, "call-1", tools.Result{Action: tools.ActionResponse, Response: "the light is on"}, false)

	if c.State() != StateIdle {
		t.Errorf("state = %v, want IDLE", c.State())
	}
	msgs := c.Dialogue.GetLLMDialogue()
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != dialogue.RoleAssistant || msgs[len(msgs)-1].Content != "the light is on" {
		t.Fatalf("expected the tool's response appended as an assistant message, got %+v", msgs)
	}
}

// fakeLLMProvider returns one fixed set of chunks for every call, grounded on
// the teacher's MockLLMProvider (pkg/orchestrator's test doubles).
type fakeLLMProvider struct {
	chunks []llm.Chunk
}

func (p *fakeLLMProvider) Response(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	return p.feed(), nil
}
func (p *fakeLLMProvider) ResponseWithFunctions(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	return p.feed(), nil
}
func (p *fakeLLMProvider) Name() string { return "fakeLLM" }

func (p *fakeLLMProvider) feed() <-chan llm.Chunk {
	ch := make(chan llm.Chunk, len(p.chunks))
	for _, c := range p.chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestConnection_RunLLMTurn_AppendsAssistantTextAndGoesIdle(t *testing.T) {
	transport := newFakeTransport()
	providers := Providers{LLMProvider: &fakeLLMProvider{chunks: []llm.Chunk{
		{Text: "Hello"},
		{Text: " there."},
	}}}
	c := newTestConnection(t, transport, providers)

	c.runLLMTurn(context.Background(), 0, false)

	if c.State() != StateIdle {
		t.Errorf("state = %v, want IDLE", c.State())
	}
	msgs := c.Dialogue.GetLLMDialogue()
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != dialogue.RoleAssistant || msgs[len(msgs)-1].Content != "Hello there." {
		t.Fatalf("expected assistant message %q, got %+v", "Hello there.", msgs)
	}
}

// TestConnection_RunLLMTurn_ToolResultAppendedExactlyOnce guards against a
// once-live bug where the REQLLM round trip recorded the same tool-result
// dialogue message twice (once via PutToolRoundTrip, once more inside
// handleToolResult), violating P2 (one tool message per assistant tool_calls
// entry). The fake LLM keeps re-emitting the same tool call, so this drives
// the recursion all the way to maxToolRecursionDepth and checks every round
// contributed exactly one assistant(tool_calls) + one tool message, never
// three.
func TestConnection_RunLLMTurn_ToolResultAppendedExactlyOnce(t *testing.T) {
	transport := newFakeTransport()
	registry := tools.NewRegistry()
	registry.Register(tools.SourcePlugin, tools.Schema{Name: "get_time"}, func(ctx context.Context, args string) (tools.Result, error) {
		return tools.Result{Action: tools.ActionReqLLM, Result: "partial"}, nil
	})
	providers := Providers{
		LLMProvider: &fakeLLMProvider{chunks: []llm.Chunk{
			{ToolCalls: []llm.ToolCallDelta{{ID: "call-1", Name: "get_time", Arguments: "{}"}}},
		}},
		ToolRegistry: registry,
	}
	c := newTestConnection(t, transport, providers)

	c.runLLMTurn(context.Background(), 0, true)

	msgs := c.Dialogue.GetLLMDialogue()
	var assistantToolCalls, toolMsgs int
	for _, m := range msgs {
		switch {
		case m.Role == dialogue.RoleAssistant && len(m.ToolCalls) > 0:
			assistantToolCalls++
		case m.Role == dialogue.RoleTool:
			toolMsgs++
		}
	}
	if assistantToolCalls == 0 {
		t.Fatal("expected at least one assistant tool_calls message")
	}
	if toolMsgs != assistantToolCalls {
		t.Fatalf("expected exactly one tool message per assistant tool_calls message, got %d assistant(tool_calls) and %d tool messages: %+v", assistantToolCalls, toolMsgs, msgs)
	}
}

func TestConnection_RunLLMTurn_NoProviderGoesIdle(t *testing.T) {
	transport := newFakeTransport()
	c := newTestConnection(t, transport, Providers{})

	c.runLLMTurn(context.Background(), 0, false)

	if c.State() != StateIdle {
		t.Errorf("state = %v, want IDLE", c.State())
	}
}

func TestConnection_RunLLMTurn_ToolCallDispatchesAndSpeaksResponse(t *testing.T) {
	transport := newFakeTransport()
	registry := tools.NewRegistry()
	registry.Register(tools.SourcePlugin, tools.Schema{Name: "get_time"}, func(ctx context.Context, args string) (tools.Result, error) {
		return tools.Result{Action: tools.ActionResponse, Response: "it is noon"}, nil
	})

	providers := Providers{
		LLMProvider: &fakeLLMProvider{chunks: []llm.Chunk{
			{ToolCalls: []llm.ToolCallDelta{{ID: "call-1", Name: "get_time", Arguments: "{}"}}},
		}},
		ToolRegistry: registry,
	}
	c := newTestConnection(t, transport, providers)

	c.runLLMTurn(context.Background(), 0, true)

	if c.State() != StateIdle {
		t.Errorf("state = %v, want IDLE", c.State())
	}
	msgs := c.Dialogue.GetLLMDialogue()
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != dialogue.RoleAssistant || msgs[len(msgs)-1].Content != "it is noon" {
		t.Fatalf("expected the tool round trip to end with the spoken response appended, got %+v", msgs)
	}
}
