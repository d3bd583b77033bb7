package gateway

// defaultAudioParams is what the gateway actually speaks regardless of what
// a client requests: fixed 60ms 16kHz mono Opus frames (pkg/codec), matching
// spec.md §4.1. Supplemented per SPEC_FULL's helloHandle.py reading: the
// hello response echoes the *negotiated* params, not necessarily the
// client's request.
var defaultAudioParams = AudioParams{
	Format:        "opus",
	SampleRate:    16000,
	Channels:      1,
	FrameDuration: 60,
}

// NegotiateAudioParams returns what the gateway will actually use for this
// connection. The gateway's codec is fixed, so negotiation here means
// "accept whatever the client requested for bookkeeping, reply with the
// truth" rather than a multi-way format choice.
func NegotiateAudioParams(requested AudioParams) AudioParams {
	return defaultAudioParams
}

// BuildWelcome constructs the INIT-stage {type:"hello", session_id,
// audio_params} sent once the client's own hello has been received
// (spec.md §4.8 INIT, §6 downstream "hello").
func BuildWelcome(sessionID string, negotiated AudioParams) DownstreamHello {
	return DownstreamHello{
		Type:        "hello",
		SessionID:   sessionID,
		AudioParams: negotiated,
	}
}
