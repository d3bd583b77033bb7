package gateway

import "testing"

func TestNegotiateAudioParams_AlwaysReturnsGatewayFormat(t *testing.T) {
	requested := AudioParams{Format: "pcm", SampleRate: 44100, Channels: 2, FrameDuration: 20}

	got := NegotiateAudioParams(requested)

	if got != defaultAudioParams {
		t.Fatalf("NegotiateAudioParams(%+v) = %+v, want the fixed gateway format %+v", requested, got, defaultAudioParams)
	}
}

func TestBuildWelcome(t *testing.T) {
	negotiated := defaultAudioParams
	welcome := BuildWelcome("session-123", negotiated)

	if welcome.Type != "hello" {
		t.Errorf("Type = %q, want %q", welcome.Type, "hello")
	}
	if welcome.SessionID != "session-123" {
		t.Errorf("SessionID = %q, want %q", welcome.SessionID, "session-123")
	}
	if welcome.AudioParams != negotiated {
		t.Errorf("AudioParams = %+v, want %+v", welcome.AudioParams, negotiated)
	}
}
