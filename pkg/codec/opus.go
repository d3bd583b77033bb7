// Package codec implements the Frame Codec (C1): PCM<->Opus transforms and
// the device audio-packet header parser used by the MQTT-gateway WebSocket
// variant.
package codec

import (
	"fmt"

	"layeh.com/gopus"
)

// Gateway audio is always 60 ms, 16 kHz mono, 16-bit PCM frames.
const (
	SampleRate      = 16000
	Channels        = 1
	FrameDurationMs = 60
	// FrameSize is samples per channel per 60ms frame: 16000 * 60 / 1000 = 960.
	FrameSize = SampleRate * FrameDurationMs / 1000
	// FrameBytes is the PCM byte length of one frame (16-bit mono).
	FrameBytes = FrameSize * 2
)

// Encoder wraps a stateful Opus encoder for one connection's outbound stream.
// Opus encoders carry cross-frame state, so each connection owns its own,
// the same way the teacher's opusEncoder wraps one gopus.Encoder per stream.
type Encoder struct {
	enc *gopus.Encoder
}

func NewEncoder() (*Encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus encoder: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

// EncodeFrame encodes exactly one 60ms PCM frame (960 int16 samples) into an
// Opus packet. Callers must zero-pad the final short frame before calling.
func (e *Encoder) EncodeFrame(pcm []int16) ([]byte, error) {
	if len(pcm) != FrameSize {
		return nil, fmt.Errorf("codec: expected %d samples, got %d", FrameSize, len(pcm))
	}
	out, err := e.enc.Encode(pcm, FrameSize, FrameBytes)
	if err != nil {
		return nil, fmt.Errorf("codec: opus encode: %w", err)
	}
	return out, nil
}

// Decoder wraps a stateful Opus decoder for one connection's inbound stream.
type Decoder struct {
	dec *gopus.Decoder
}

func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("codec: create opus decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// DecodeFrame decodes one Opus packet into 960 int16 PCM samples.
func (d *Decoder) DecodeFrame(opusData []byte) ([]int16, error) {
	pcm, err := d.dec.Decode(opusData, FrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("codec: opus decode: %w", err)
	}
	return pcm, nil
}

// EncodePCMStream splits pcm into fixed 60ms frames and encodes each one,
// invoking sink per encoded frame in order. The final partial frame (if any)
// is zero-padded before encoding, satisfying spec.md 4.1's "last frame is
// zero-padded" rule. endOfStream only affects padding of a final short frame
// that would otherwise be silently dropped — it does not change behavior for
// complete-frame input.
func EncodePCMStream(enc *Encoder, pcm []int16, endOfStream bool, sink func([]byte) error) error {
	for offset := 0; offset < len(pcm); offset += FrameSize {
		end := offset + FrameSize
		var frame []int16
		if end <= len(pcm) {
			frame = pcm[offset:end]
		} else {
			if !endOfStream {
				return nil
			}
			frame = make([]int16, FrameSize)
			copy(frame, pcm[offset:])
		}
		encoded, err := enc.EncodeFrame(frame)
		if err != nil {
			return err
		}
		if err := sink(encoded); err != nil {
			return err
		}
	}
	return nil
}

// DecodeOpusFrames decodes a sequence of Opus packets into one concatenated
// PCM buffer, in order.
func DecodeOpusFrames(dec *Decoder, frames [][]byte) ([]int16, error) {
	var pcm []int16
	for _, f := range frames {
		samples, err := dec.DecodeFrame(f)
		if err != nil {
			return nil, err
		}
		pcm = append(pcm, samples...)
	}
	return pcm, nil
}

// PCMToBytes converts interleaved int16 PCM samples to little-endian bytes.
func PCMToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToPCM converts little-endian bytes to interleaved int16 PCM samples.
func BytesToPCM(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
