package gateway

import (
	"encoding/json"
	"testing"
)

func TestPeekType(t *testing.T) {
	typ, err := peekType([]byte(`{"type":"listen","state":"start","mode":"auto"}`))
	if err != nil {
		t.Fatalf("peekType returned error: %v", err)
	}
	if typ != "listen" {
		t.Errorf("peekType = %q, want %q", typ, "listen")
	}
}

func TestPeekType_InvalidJSON(t *testing.T) {
	if _, err := peekType([]byte(`not json`)); err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}

func TestUpstreamListen_RoundTrip(t *testing.T) {
	raw := []byte(`{"type":"listen","state":"detect","mode":"manual","text":"turn on the lights"}`)

	var msg UpstreamListen
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.State != ListenStateDetect || msg.Mode != ListenModeManual || msg.Text != "turn on the lights" {
		t.Errorf("unexpected decode: %+v", msg)
	}
}

func TestDownstreamTTS_OmitsEmptyText(t *testing.T) {
	data, err := json.Marshal(DownstreamTTS{Type: "tts", State: TTSStart, SessionID: "s1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["text"]; ok {
		t.Errorf("expected empty text to be omitted, got %s", data)
	}
	if decoded["state"] != TTSStart {
		t.Errorf("state = %v, want %q", decoded["state"], TTSStart)
	}
}

func TestUpstreamMCP_PayloadPreservedAsRawMessage(t *testing.T) {
	raw := []byte(`{"type":"mcp","payload":{"jsonrpc":"2.0","id":1,"result":{"ok":true}}}`)

	var msg UpstreamMCP
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != "mcp" {
		t.Errorf("Type = %q, want %q", msg.Type, "mcp")
	}

	var inner struct {
		JSONRPC string `json:"jsonrpc"`
		ID      int64  `json:"id"`
	}
	if err := json.Unmarshal(msg.Payload, &inner); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if inner.JSONRPC != "2.0" || inner.ID != 1 {
		t.Errorf("unexpected inner payload: %+v", inner)
	}
}
