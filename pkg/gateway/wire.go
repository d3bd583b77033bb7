// Package gateway implements the Connection Orchestrator (C8) and Server
// Acceptor (C9): the per-connection state machine, barge-in protocol,
// tool-call round trip, idle policy, and the WebSocket listener that spawns
// one orchestrator per upgraded socket.
//
// Grounded on the teacher's pkg/orchestrator.ManagedStream (VAD-driven
// Write/interrupt/event-channel shape) and orchestrator.Orchestrator
// (provider wiring), generalized from the teacher's single hard-coded CLI
// session to the many-connection WebSocket protocol spec.md §6 defines.
package gateway

import "encoding/json"

// AudioParams describes the negotiated audio format, echoed in the downstream
// hello (spec.md §6 "hello").
type AudioParams struct {
	Format         string `json:"format"`
	SampleRate     int    `json:"sample_rate"`
	Channels       int    `json:"channels"`
	FrameDuration  int    `json:"frame_duration"`
}

// upstreamEnvelope is peeked first to learn a message's type before decoding
// its full shape; mirrors the teacher's light-touch message dispatch rather
// than a heavier tagged-union decode.
type upstreamEnvelope struct {
	Type string `json:"type"`
}

// UpstreamHello is {type:"hello", audio_params, features:{mcp:bool,...}}.
type UpstreamHello struct {
	Type        string          `json:"type"`
	AudioParams AudioParams     `json:"audio_params"`
	Features    map[string]bool `json:"features,omitempty"`
}

// UpstreamListen is {type:"listen", state, mode, text?}.
type UpstreamListen struct {
	Type  string `json:"type"`
	State string `json:"state"` // start|stop|detect
	Mode  string `json:"mode"`  // auto|manual|realtime
	Text  string `json:"text,omitempty"`
}

const (
	ListenStateStart  = "start"
	ListenStateStop   = "stop"
	ListenStateDetect = "detect"

	ListenModeAuto     = "auto"
	ListenModeManual   = "manual"
	ListenModeRealtime = "realtime"
)

// UpstreamAbort is {type:"abort"} — barge-in.
type UpstreamAbort struct {
	Type string `json:"type"`
}

// UpstreamIoT carries either a device's tool descriptors or a property/state
// sync, distinguished by which field is populated.
type UpstreamIoT struct {
	Type        string          `json:"type"`
	Descriptors json.RawMessage `json:"descriptors,omitempty"`
	States      json.RawMessage `json:"states,omitempty"`
}

// UpstreamMCP is {type:"mcp", payload:<JSON-RPC>} — a device's reply to a
// server-issued tool call, or an unsolicited device-side RPC.
type UpstreamMCP struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// UpstreamServer is {type:"server", content:{action}}.
type UpstreamServer struct {
	Type    string `json:"type"`
	Content struct {
		Action string `json:"action"`
	} `json:"content"`
}

// DownstreamHello is {type:"hello", session_id, audio_params}.
type DownstreamHello struct {
	Type        string      `json:"type"`
	SessionID   string      `json:"session_id"`
	AudioParams AudioParams `json:"audio_params"`
}

// DownstreamSTT is {type:"stt", text, session_id}.
type DownstreamSTT struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// DownstreamLLM is the emotion cue {type:"llm", text:<emoji>, emotion, session_id}.
type DownstreamLLM struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Emotion   string `json:"emotion"`
	SessionID string `json:"session_id"`
}

const (
	TTSStart         = "start"
	TTSSentenceStart = "sentence_start"
	TTSSentenceEnd   = "sentence_end"
	TTSStop          = "stop"
)

// DownstreamTTS is {type:"tts", state, text?, session_id}.
type DownstreamTTS struct {
	Type      string `json:"type"`
	State     string `json:"state"`
	Text      string `json:"text,omitempty"`
	SessionID string `json:"session_id"`
}

// DownstreamServer is {type:"server", status, message, content:{action}}.
type DownstreamServer struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Content struct {
		Action string `json:"action,omitempty"`
	} `json:"content,omitempty"`
}

func peekType(raw []byte) (string, error) {
	var env upstreamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", err
	}
	return env.Type, nil
}
