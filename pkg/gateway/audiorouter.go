package gateway

import (
	"context"
	"time"

	"github.com/xiaozhi-go/gateway/pkg/asr"
	"github.com/xiaozhi-go/gateway/pkg/codec"
	"github.com/xiaozhi-go/gateway/pkg/vad"
)

// AudioRouter is the inbound audio dispatch chain: reorder buffer → VAD →
// ASR session. Grounded on the teacher's ManagedStream.Write dispatch chain
// (echo-suppression → VAD → STT-channel forwarding), with the
// echo-suppression step dropped per the adaptation note recorded in
// DESIGN.md (devices play audio on a physically separate speaker for this
// target, not a desktop mic/speaker loop).
type AudioRouter struct {
	reorder *codec.ReorderBuffer
	decoder *codec.Decoder
	window  *vad.Window
	session *asr.Session

	useHeader bool
}

// NewAudioRouter builds a router for one connection. useHeader selects the
// MQTT-gateway 16-byte packet header variant (spec.md §6 "?from=mqtt_gateway").
func NewAudioRouter(decoder *codec.Decoder, gate vad.Gate, session *asr.Session, useHeader bool) *AudioRouter {
	return &AudioRouter{
		reorder:   codec.NewReorderBuffer(),
		decoder:   decoder,
		window:    vad.NewWindow(gate),
		session:   session,
		useHeader: useHeader,
	}
}

// Push accepts one inbound binary frame (optionally MQTT-gateway-headered
// Opus). Headered frames pass through the reorder buffer first; each frame
// ready for delivery is then decoded, run through VAD, and forwarded to the
// ASR session. It returns the VAD edge events produced,
// in order, for the caller to drive state transitions from (spec.md §4.8
// IDLE→LISTENING / SPEAKING→LISTENING barge-in).
func (r *AudioRouter) Push(raw []byte, now time.Time) ([]*vad.Event, error) {
	var ts uint32
	payload := raw

	if r.useHeader {
		pkt, err := codec.ParseDevicePacket(raw)
		if err != nil {
			return nil, err
		}
		ts = pkt.TimestampMS
		payload = pkt.Payload
	}

	var ready [][]byte
	if r.useHeader {
		ready = r.reorder.Push(ts, payload)
	} else {
		ready = [][]byte{payload}
	}

	var events []*vad.Event
	for _, opusFrame := range ready {
		if len(opusFrame) == 0 {
			continue
		}
		pcm, err := r.decoder.DecodeFrame(opusFrame)
		if err != nil {
			return events, err
		}

		evt, err := r.window.Process(pcm, now)
		if err != nil {
			return events, err
		}
		if evt != nil {
			events = append(events, evt)
		}

		r.session.ReceiveAudio(pcm, r.window.RecentVoiceRatio() > 0)
	}

	return events, nil
}

// OpenAudioChannels starts the streaming ASR consumer (no-op for local/batch
// providers); cb receives the one final transcript per turn.
func (r *AudioRouter) OpenAudioChannels(ctx context.Context, cb asr.TranscriptCallback) error {
	return r.session.OpenAudioChannels(ctx, cb)
}

// Finalize ends the current ASR turn, per voice_stop or an explicit
// listen.stop (spec.md §4.8 LISTENING→THINKING).
func (r *AudioRouter) Finalize(ctx context.Context, cb asr.TranscriptCallback) error {
	return r.session.Finalize(ctx, cb)
}

// Reset clears buffered audio and invalidates in-flight streaming callbacks
// (barge-in), and resets the VAD window's rolling history.
func (r *AudioRouter) Reset() {
	r.session.Reset()
	r.window.Reset()
}

// SuppressAfterWake marks the VAD window as just-woken-up, per spec.md 4.2's
// post-wake-word suppression (avoids the device's own wake confirmation
// audio self-triggering a new voice_start).
func (r *AudioRouter) SuppressAfterWake(now time.Time) {
	r.window.SuppressAfterWake(now)
}
