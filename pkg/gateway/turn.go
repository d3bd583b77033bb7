package gateway

import (
	"context"
	"os"

	"github.com/xiaozhi-go/gateway/pkg/tts"
)

// ttsSentence is one unit of work handed from text segmentation to
// synthesis: one sentence of visible text, tagged with a stable id so FIRST/
// MIDDLE/LAST markers on the audio queue can be attributed back to it.
type ttsSentence struct {
	id   string
	text string
}

// ttsSynthesisWorker drains sentences one at a time, in order, through the
// TTS pipeline. Sentences are synthesized sequentially rather than
// concurrently so that audioEvents preserves the FIRST<MIDDLE*<LAST
// ordering per sentence and across sentences within one turn (spec.md §4.7
// ordering guarantees).
func (c *Connection) ttsSynthesisWorker(ctx context.Context, gen int64, sentences <-chan ttsSentence, audioEvents chan<- tts.AudioEvent) {
	defer close(audioEvents)

	if c.providers.TTSPipeline == nil {
		for range sentences {
		}
		return
	}

	for s := range sentences {
		if c.isGenerationStale(gen) {
			continue
		}
		if err := c.providers.TTSPipeline.SynthesizeSentence(ctx, s.id, s.text, audioEvents); err != nil {
			c.logger.Warn("gateway: tts synthesis failed", "error", err, "sentence_id", s.id)
		}
	}
}

// ttsSenderWorker drains audioEvents in order and writes Opus frames to the
// transport, emitting the downstream tts state machine
// (start/sentence_start/sentence_end/stop) around them (spec.md §6 "tts").
func (c *Connection) ttsSenderWorker(ctx context.Context, gen int64, audioEvents <-chan tts.AudioEvent) {
	startSent := false

	for evt := range audioEvents {
		if c.isGenerationStale(gen) {
			continue
		}

		switch evt.SentenceType {
		case tts.SentenceFirst:
			if !startSent {
				c.sendDownstream(ctx, DownstreamTTS{Type: "tts", State: TTSStart, SessionID: c.ID})
				startSent = true
			}
			c.sendDownstream(ctx, DownstreamTTS{Type: "tts", State: TTSSentenceStart, Text: evt.Text, SessionID: c.ID})

		case tts.SentenceMiddle:
			for _, frame := range evt.OpusFrames {
				if err := c.transport.WriteBinary(ctx, frame); err != nil {
					c.logger.Warn("gateway: writing audio frame", "error", err)
					return
				}
			}

		case tts.SentenceLast:
			c.sendDownstream(ctx, DownstreamTTS{Type: "tts", State: TTSSentenceEnd, SessionID: c.ID})
		}
	}

	if startSent {
		c.sendDownstream(ctx, DownstreamTTS{Type: "tts", State: TTSStop, SessionID: c.ID})
	}
}

// speakPlain synthesizes and plays one whole utterance outside the normal
// LLM streaming path: tool RESPONSE/NOTFOUND/ERROR results, the exit-intent
// farewell, the idle-warning notice, and LLM-call-failure fallbacks
// (spec.md §7 "Provider-transient"/"Provider-fatal" rows).
func (c *Connection) speakPlain(ctx context.Context, text string) {
	if text == "" || c.providers.TTSPipeline == nil {
		return
	}

	c.providers.TTSPipeline.NextTurn()
	gen := c.bumpGeneration()
	c.setState(StateSpeaking)

	sentences := make(chan ttsSentence, 1)
	audioEvents := make(chan tts.AudioEvent, 4)
	senderDone := make(chan struct{})

	go c.ttsSynthesisWorker(ctx, gen, sentences, audioEvents)
	go func() {
		c.ttsSenderWorker(ctx, gen, audioEvents)
		close(senderDone)
	}()

	sentences <- ttsSentence{id: c.ID + "-plain", text: text}
	close(sentences)
	<-senderDone
}

// playCachedAudio plays a pre-rendered wake-word response file directly,
// skipping LLM/TTS synthesis entirely (spec.md §4.10 wake_word_cached).
//
// The wire protocol has no example in the corpus of chunking a pre-recorded
// asset into device-sized Opus frames (cached files are produced offline,
// outside this gateway's synthesis path), so the file's bytes are sent as a
// single MIDDLE payload between FIRST and LAST markers rather than
// re-framed to FrameBytes-sized packets.
func (c *Connection) playCachedAudio(ctx context.Context, path string) {
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Warn("gateway: reading cached wake-word audio", "error", err, "path", path)
		return
	}

	gen := c.bumpGeneration()
	c.setState(StateSpeaking)
	c.sendDownstream(ctx, DownstreamTTS{Type: "tts", State: TTSStart, SessionID: c.ID})
	c.sendDownstream(ctx, DownstreamTTS{Type: "tts", State: TTSSentenceStart, SessionID: c.ID})
	if !c.isGenerationStale(gen) {
		if err := c.transport.WriteBinary(ctx, data); err != nil {
			c.logger.Warn("gateway: writing cached audio", "error", err)
		}
	}
	c.sendDownstream(ctx, DownstreamTTS{Type: "tts", State: TTSSentenceEnd, SessionID: c.ID})
	c.sendDownstream(ctx, DownstreamTTS{Type: "tts", State: TTSStop, SessionID: c.ID})
}
