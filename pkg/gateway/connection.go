package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xiaozhi-go/gateway/pkg/asr"
	"github.com/xiaozhi-go/gateway/pkg/dialogue"
	"github.com/xiaozhi-go/gateway/pkg/intent"
	"github.com/xiaozhi-go/gateway/pkg/llm"
	"github.com/xiaozhi-go/gateway/pkg/memory"
	"github.com/xiaozhi-go/gateway/pkg/tools"
	"github.com/xiaozhi-go/gateway/pkg/tools/iot"
	devicemcp "github.com/xiaozhi-go/gateway/pkg/tools/mcp"
	"github.com/xiaozhi-go/gateway/pkg/tts"
	"github.com/xiaozhi-go/gateway/pkg/vad"
)

const (
	handshakeTimeout      = 10 * time.Second
	maxToolRecursionDepth = 5
	idleCheckInterval     = 10 * time.Second
)

// Run drives the Connection from INIT through CLOSING (spec.md §4.8). The
// caller (Acceptor) has already resolved device-id/client-id/real-ip and
// called Authenticate before constructing the Connection with New; Run
// itself owns everything from the first hello onward.
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.setState(StateInit)
	if err := c.awaitHello(ctx); err != nil {
		c.transport.Close(err.Error())
		return err
	}
	c.initSystemPrompt(ctx)
	c.setState(StateIdle)
	c.touchActivity(time.Now())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.inboundLoop(gctx) })
	g.Go(func() error { return c.idleLoop(gctx) })

	err := g.Wait()
	c.setState(StateClosing)
	c.transport.Close("closing")
	c.closeOnce.Do(func() { close(c.closed) })
	return err
}

// awaitHello blocks for the client's {type:"hello"} and replies with the
// negotiated welcome (spec.md §4.8 HANDSHAKE/INIT, §6 "hello").
func (c *Connection) awaitHello(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	kind, data, err := c.transport.Read(hctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
	}
	if kind != KindText {
		return ErrHandshakeTimeout
	}

	typ, err := peekType(data)
	if err != nil || typ != "hello" {
		return ErrHandshakeTimeout
	}

	var hello UpstreamHello
	if err := json.Unmarshal(data, &hello); err != nil {
		return fmt.Errorf("gateway: parsing hello: %w", err)
	}

	negotiated := NegotiateAudioParams(hello.AudioParams)
	c.AudioFormat = negotiated.Format

	if hello.Features["mcp"] {
		proxy := devicemcp.NewDeviceProxy(c)
		c.deviceProxy = proxy
		go func() {
			if err := proxy.Discover(ctx, c.Tools); err != nil {
				c.logger.Warn("gateway: discovering device mcp tools", "error", err, "device_id", c.DeviceID)
			}
		}()
	}

	welcome := BuildWelcome(c.ID, negotiated)
	payload, err := json.Marshal(welcome)
	if err != nil {
		return fmt.Errorf("gateway: marshaling welcome: %w", err)
	}
	return c.transport.WriteText(ctx, payload)
}

// initSystemPrompt builds and installs the system message once, from the
// provider-supplied prompt builder, current tool names and any saved memory
// summary (spec.md §4.5 tool availability, §4.9 memory).
func (c *Connection) initSystemPrompt(ctx context.Context) {
	if c.providers.PromptBuilder == nil {
		return
	}

	var toolNames []string
	if c.providers.ToolRegistry != nil {
		for _, s := range c.providers.ToolRegistry.GetFunctions() {
			toolNames = append(toolNames, s.Name)
		}
	}

	var summary string
	if c.providers.Memory != nil {
		if s, ok, err := c.providers.Memory.GetSummary(ctx, c.DeviceID); err == nil && ok {
			summary = s
		}
	}

	c.Dialogue.UpdateSystemMessage(c.providers.PromptBuilder.Build(toolNames, summary))
}

func (c *Connection) inboundLoop(ctx context.Context) error {
	for {
		kind, data, err := c.transport.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c.touchActivity(time.Now())

		switch kind {
		case KindBinary:
			c.handleAudioFrame(ctx, data)
		case KindText:
			if err := c.handleUpstreamText(ctx, data); err != nil {
				c.logger.Debug("gateway: dropping malformed upstream message", "error", err)
			}
		}
	}
}

func (c *Connection) idleLoop(ctx context.Context) error {
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()

	warned := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			idle := c.idleSince(now)
			switch {
			case !warned && idle >= c.cfg.Timeouts.IdleWarn:
				warned = true
				atomic.StoreInt32(&c.closeAfterChat, 1)
				if c.State() == StateIdle {
					c.speakPlain(ctx, "I haven't heard anything in a while, I'll close this connection soon.")
					c.setState(StateIdle)
				}
			case warned && idle >= c.cfg.Timeouts.IdleWarn+c.cfg.Timeouts.IdleClose:
				return fmt.Errorf("gateway: idle timeout after %s", idle)
			}
		}
	}
}

// handleAudioFrame routes one inbound binary frame through the audio
// dispatch chain and reacts to any VAD edge it produces.
func (c *Connection) handleAudioFrame(ctx context.Context, raw []byte) {
	events, err := c.audioRouter.Push(raw, time.Now())
	if err != nil {
		c.logger.Debug("gateway: decoding inbound audio frame", "error", err)
		return
	}
	for _, evt := range events {
		switch evt.Type {
		case vad.VoiceStart:
			c.onVoiceStart(ctx)
		case vad.VoiceStop:
			c.onVoiceStop(ctx)
		}
	}
}

func (c *Connection) onVoiceStart(ctx context.Context) {
	switch c.State() {
	case StateSpeaking:
		c.interrupt(ctx)
		c.setState(StateListening)
	case StateIdle:
		c.setState(StateListening)
		if err := c.audioRouter.OpenAudioChannels(ctx, c.onStreamingTranscript); err != nil {
			c.logger.Warn("gateway: opening streaming asr channel", "error", err)
		}
	}
}

func (c *Connection) onVoiceStop(ctx context.Context) {
	if c.State() != StateListening {
		return
	}
	c.finalizeTurn(ctx)
}

// onStreamingTranscript is the callback a streaming ASR provider's session
// invokes; only the final transcript of a turn drives a chat turn.
func (c *Connection) onStreamingTranscript(t asr.Transcript, isFinal bool) error {
	if !isFinal {
		return nil
	}
	c.finalizeWithTranscript(context.Background(), t.Text)
	return nil
}

func (c *Connection) finalizeTurn(ctx context.Context) {
	err := c.audioRouter.Finalize(ctx, func(t asr.Transcript, isFinal bool) error {
		if isFinal {
			c.finalizeWithTranscript(ctx, t.Text)
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("gateway: finalizing asr turn", "error", err)
		c.setState(StateIdle)
	}
}

func (c *Connection) finalizeWithTranscript(ctx context.Context, text string) {
	if text == "" {
		c.setState(StateIdle)
		return
	}
	c.runTurn(ctx, text)
}

// runTurn is the LISTENING→THINKING entry point for one finalized user
// utterance: it records the transcript, classifies intent (spec.md §4.10)
// and dispatches to whichever path the decision calls for.
func (c *Connection) runTurn(ctx context.Context, transcript string) {
	c.setClientAbort(false)
	c.setState(StateThinking)
	c.sendDownstream(ctx, DownstreamSTT{Type: "stt", Text: transcript, SessionID: c.ID})
	c.Dialogue.Put(dialogue.Message{Role: dialogue.RoleUser, Content: transcript})

	if c.providers.IntentRouter == nil {
		c.runLLMTurn(ctx, 0, true)
		return
	}

	decision, err := c.providers.IntentRouter.Classify(ctx, c.DeviceID, transcript)
	if err != nil {
		c.logger.Warn("gateway: intent classification failed, falling back to continue_chat", "error", err)
		decision = intent.Decision{Kind: intent.DecisionContinueChat}
	}

	switch decision.Kind {
	case intent.DecisionWakeWordCached:
		c.audioRouter.SuppressAfterWake(time.Now())
		c.playCachedAudio(ctx, decision.AudioFile)
		c.setState(StateIdle)
	case intent.DecisionExitIntent:
		c.speakPlain(ctx, "Goodbye.")
		c.setState(StateClosing)
	case intent.DecisionResultForContext:
		c.runLLMTurn(ctx, 0, false)
	case intent.DecisionFunctionCall:
		c.dispatchRouterFunctionCall(ctx, decision)
	case intent.DecisionContinueChat:
		c.Dialogue.PurgeToolMessages()
		c.runLLMTurn(ctx, 0, true)
	default: // DecisionBypass: function_call mode relies on the main LLM's own tool surface
		c.runLLMTurn(ctx, 0, true)
	}
}

func (c *Connection) dispatchRouterFunctionCall(ctx context.Context, decision intent.Decision) {
	if c.providers.ToolRegistry == nil {
		c.setState(StateIdle)
		return
	}
	result := c.providers.ToolRegistry.HandleLLMFunctionCall(ctx, tools.Call{Name: decision.FunctionName, Arguments: decision.Arguments})
	c.handleToolResult(ctx, 0, decision.FunctionName, result, false)
}

// handleToolResult applies one tool Result's disposition (spec.md §4.5/§7
// "Tool" row): RESPONSE/NOTFOUND/ERROR speak directly and end the turn;
// REQLLM feeds the result back into a fresh LLM turn, capped at
// maxToolRecursionDepth. recorded is true when the caller has already
// appended the matching tool-role dialogue message itself (runLLMTurn's
// native tool-call path does this atomically via PutToolRoundTrip, alongside
// the assistant tool_calls message it belongs after); callers that never
// wrote a preceding assistant tool_calls message (dispatchRouterFunctionCall)
// pass false so the tool-result message still gets recorded exactly once.
func (c *Connection) handleToolResult(ctx context.Context, depth int, toolCallID string, result tools.Result, recorded bool) {
	switch result.Action {
	case tools.ActionReqLLM:
		if depth >= maxToolRecursionDepth {
			c.speakPlain(ctx, "Sorry, I couldn't finish that request.")
			c.setState(StateIdle)
			return
		}
		if !recorded {
			c.Dialogue.Put(dialogue.Message{Role: dialogue.RoleTool, Content: result.Result, ToolCallID: toolCallID})
		}
		c.runLLMTurn(ctx, depth+1, true)
	case tools.ActionNone:
		c.setState(StateIdle)
	default: // ActionResponse, ActionNotFound, ActionError
		c.Dialogue.Put(dialogue.Message{Role: dialogue.RoleAssistant, Content: result.Response})
		c.speakPlain(ctx, result.Response)
		c.setState(StateIdle)
	}
}

// runLLMTurn drives one THINKING→SPEAKING pass: it calls the LLM provider,
// feeds the stream through the transducer (think-elision, embedded tool
// calls, the once-per-turn emotion cue), segments visible text to TTS as it
// arrives, and on completion either recurses into a tool round trip or
// finalizes the assistant turn. withTools selects Response vs.
// ResponseWithFunctions (spec.md §4.6).
func (c *Connection) runLLMTurn(ctx context.Context, depth int, withTools bool) {
	if c.providers.LLMProvider == nil {
		c.logger.Error("gateway: no LLM provider configured", "error", ErrNoLLMProvider)
		c.setState(StateIdle)
		return
	}

	var memSummary string
	if c.providers.Memory != nil {
		if s, ok, err := c.providers.Memory.GetSummary(ctx, c.DeviceID); err == nil && ok {
			memSummary = s
		}
	}

	req := llm.Request{Dialogue: c.Dialogue.GetLLMDialogueWithMemory(memSummary, dialogue.VoiceprintConfig{})}

	var chunks <-chan llm.Chunk
	var err error
	if withTools && c.providers.ToolRegistry != nil {
		req.Tools = c.providers.ToolRegistry.GetFunctions()
		chunks, err = c.providers.LLMProvider.ResponseWithFunctions(ctx, req)
	} else {
		chunks, err = c.providers.LLMProvider.Response(ctx, req)
	}
	if err != nil {
		c.logger.Error("gateway: llm call failed", "error", err)
		c.speakPlain(ctx, "Sorry, something went wrong on my end.")
		c.setState(StateIdle)
		return
	}

	c.transducer.Reset()
	c.segmenter.Flush()
	if c.providers.TTSPipeline != nil {
		c.providers.TTSPipeline.NextTurn()
	}
	gen := c.bumpGeneration()
	c.setState(StateSpeaking)

	sentences := make(chan ttsSentence, 4)
	audioEvents := make(chan tts.AudioEvent, 8)
	senderDone := make(chan struct{})

	go c.ttsSynthesisWorker(ctx, gen, sentences, audioEvents)
	go func() {
		c.ttsSenderWorker(ctx, gen, audioEvents)
		close(senderDone)
	}()

	var assistantText, pendingToolCall = "", (*llm.ToolCallDelta)(nil)
	var streamErr error
	seq := 0
	pushSentence := func(text string) {
		seq++
		id := fmt.Sprintf("%s-%d", c.ID, seq)
		select {
		case sentences <- ttsSentence{id: id, text: text}:
		case <-ctx.Done():
		}
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			streamErr = chunk.Err
			continue
		}
		visible, tc, emotion := c.transducer.Feed(chunk.Text)
		if emotion != nil {
			c.sendDownstream(ctx, DownstreamLLM{Type: "llm", Text: emotion.Emoji, Emotion: emotion.Emotion, SessionID: c.ID})
		}
		if visible != "" {
			assistantText += visible
			if !c.isGenerationStale(gen) {
				for _, sentence := range c.segmenter.Feed(visible) {
					pushSentence(sentence)
				}
			}
		}
		if tc != nil {
			pendingToolCall = tc
		}
		for i := range chunk.ToolCalls {
			pendingToolCall = &chunk.ToolCalls[i]
		}
	}

	if trailing := c.segmenter.Flush(); trailing != "" && !c.isGenerationStale(gen) {
		pushSentence(trailing)
	}
	close(sentences)
	<-senderDone

	if streamErr != nil && assistantText == "" && pendingToolCall == nil {
		c.logger.Warn("gateway: llm stream error", "error", streamErr)
		c.speakPlain(ctx, "Sorry, I lost my train of thought.")
		c.setState(StateIdle)
		return
	}

	if pendingToolCall != nil && c.providers.ToolRegistry != nil {
		ref := dialogue.ToolCallRef{ID: pendingToolCall.ID, Name: pendingToolCall.Name, Arguments: pendingToolCall.Arguments}
		result := c.providers.ToolRegistry.HandleLLMFunctionCall(ctx, tools.Call{ID: ref.ID, Name: ref.Name, Arguments: ref.Arguments})

		toolMsg := dialogue.Message{Role: dialogue.RoleTool, ToolCallID: ref.ID, Content: result.Result}
		if result.Action != tools.ActionReqLLM {
			toolMsg.Content = result.Response
		}
		c.Dialogue.PutToolRoundTrip(assistantText, []dialogue.ToolCallRef{ref}, []dialogue.Message{toolMsg})
		c.handleToolResult(ctx, depth, ref.ID, result, true)
		return
	}

	if assistantText != "" {
		c.Dialogue.Put(dialogue.Message{Role: dialogue.RoleAssistant, Content: assistantText})
	}
	if !c.isGenerationStale(gen) {
		c.setState(StateIdle)
	}
	if atomic.LoadInt32(&c.closeAfterChat) == 1 {
		c.setState(StateClosing)
	}

	if c.providers.Memory != nil && assistantText != "" {
		memory.SaveAsync(context.Background(), c.providers.Memory, c.DeviceID, assistantText, func(err error) {
			c.logger.Warn("gateway: saving memory summary", "error", err)
		})
	}
}

// interrupt implements barge-in (spec.md §4.7/§9 Open Question #3): it bumps
// the generation counter so stale synthesis/sender goroutines stop acting,
// aborts the TTS pipeline and audio router state, and tells the device to
// stop playback. The partial assistant text produced so far is deliberately
// not appended to the dialogue.
func (c *Connection) interrupt(ctx context.Context) {
	c.bumpGeneration()
	c.setClientAbort(true)
	if c.providers.TTSPipeline != nil {
		c.providers.TTSPipeline.Abort()
	}
	c.audioRouter.Reset()
	c.sendDownstream(ctx, DownstreamTTS{Type: "tts", State: TTSStop, SessionID: c.ID})
}

func (c *Connection) bumpGeneration() int64 {
	return atomic.AddInt64(&c.generation, 1)
}

func (c *Connection) isGenerationStale(gen int64) bool {
	return atomic.LoadInt64(&c.generation) != gen
}

func (c *Connection) sendDownstream(ctx context.Context, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("gateway: marshaling downstream message", "error", err)
		return
	}
	if err := c.transport.WriteText(ctx, data); err != nil {
		c.logger.Warn("gateway: writing downstream message", "error", err)
	}
}

// handleUpstreamText dispatches one parsed JSON control message by type
// (spec.md §6).
func (c *Connection) handleUpstreamText(ctx context.Context, data []byte) error {
	typ, err := peekType(data)
	if err != nil {
		return fmt.Errorf("gateway: parsing upstream envelope: %w", err)
	}

	switch typ {
	case "listen":
		return c.handleListen(ctx, data)
	case "abort":
		c.interrupt(ctx)
		c.setState(StateIdle)
		return nil
	case "iot":
		return c.handleIoT(data)
	case "mcp":
		return c.handleMCP(data)
	case "server":
		return c.handleServerMessage(ctx, data)
	case "hello":
		return nil // idempotent duplicate after INIT
	default:
		c.logger.Debug("gateway: dropping unrecognized upstream message type", "type", typ)
		return nil
	}
}

func (c *Connection) handleListen(ctx context.Context, data []byte) error {
	var msg UpstreamListen
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("gateway: parsing listen message: %w", err)
	}
	if msg.Mode != "" {
		c.listenMode.Store(msg.Mode)
	}

	switch msg.State {
	case ListenStateStart:
		if c.State() == StateSpeaking {
			c.interrupt(ctx)
		}
		c.setState(StateListening)
	case ListenStateStop:
		if c.State() == StateListening {
			c.finalizeTurn(ctx)
		}
	case ListenStateDetect:
		if msg.Text != "" {
			c.runTurn(ctx, msg.Text)
		}
	}
	return nil
}

func (c *Connection) handleIoT(data []byte) error {
	var msg UpstreamIoT
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("gateway: parsing iot message: %w", err)
	}
	if len(msg.Descriptors) == 0 {
		return nil
	}

	var descriptors []iot.Descriptor
	if err := json.Unmarshal(msg.Descriptors, &descriptors); err != nil {
		return fmt.Errorf("gateway: parsing iot descriptors: %w", err)
	}
	for _, d := range descriptors {
		iot.RegisterDescriptor(c.Tools, d, c)
	}
	return nil
}

func (c *Connection) handleMCP(data []byte) error {
	var msg UpstreamMCP
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("gateway: parsing mcp message: %w", err)
	}
	var resp devicemcp.Response
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		return fmt.Errorf("gateway: parsing device mcp response: %w", err)
	}
	if c.deviceProxy != nil {
		c.deviceProxy.HandleResponse(resp)
	}
	return nil
}

func (c *Connection) handleServerMessage(ctx context.Context, data []byte) error {
	var msg UpstreamServer
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("gateway: parsing server message: %w", err)
	}
	if msg.Content.Action != "restart" {
		return nil
	}

	c.sendDownstream(ctx, DownstreamServer{Type: "server", Status: "ok", Message: "restarting"})
	if err := c.restartProcess(); err != nil {
		c.logger.Error("gateway: server.restart failed", "error", err)
		return err
	}
	return nil
}
