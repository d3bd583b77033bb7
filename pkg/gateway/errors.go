package gateway

import "errors"

// Sentinel errors matching spec.md §7's error-kind table. The orchestrator
// matches these with errors.Is/errors.As at the connection boundary to
// decide close-vs-continue-vs-speak-fallback policy.
var (
	// Auth: missing/invalid bearer, unknown device — close socket with a
	// fixed error message.
	ErrUnauthorized = errors.New("gateway: unauthorized")

	// Lifecycle / protocol.
	ErrHandshakeTimeout = errors.New("gateway: client did not send hello in time")
	ErrMissingDeviceID  = errors.New("gateway: missing device-id")
	ErrAlreadyClosed    = errors.New("gateway: connection already closed")

	// Tool: REQLLM depth > 5 — synthesize an error sentence, do not feed
	// the tool result back to the LLM.
	ErrToolRecursionLimit = errors.New("gateway: tool call recursion limit exceeded")

	// Provider-fatal: continue with a degraded provider or reject the turn.
	ErrNoTTSProvider = errors.New("gateway: no TTS pipeline configured")
	ErrNoLLMProvider = errors.New("gateway: no LLM provider configured")
)
