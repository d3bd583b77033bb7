// Package tts implements the TTS Pipeline (C7): a text segmenter and
// synthesis pipeline producing FIRST/MIDDLE/LAST-framed Opus audio, grounded
// on the teacher's pkg/providers/tts/lokutor.go streaming-websocket client
// generalized behind three provider interface variants (spec.md §4.7).
package tts

import "context"

type SentenceType string

const (
	SentenceFirst  SentenceType = "FIRST"
	SentenceMiddle SentenceType = "MIDDLE"
	SentenceLast   SentenceType = "LAST"
)

type ContentType string

const (
	ContentText   ContentType = "TEXT"
	ContentFile   ContentType = "FILE"
	ContentAction ContentType = "ACTION"
)

// Message is one entry on tts_text_queue (spec.md §3 TTSMessage).
type Message struct {
	SentenceID     string
	SentenceType   SentenceType
	ContentType    ContentType
	ContentDetail  string
	ContentFile    string
}

// AudioEvent is one entry on tts_audio_queue: a sentence marker plus its
// Opus frames (empty for FIRST/LAST markers) and optional display text.
type AudioEvent struct {
	SentenceID   string
	SentenceType SentenceType
	OpusFrames   [][]byte
	Text         string
}

type Voice string
type Language string

// NonStreamProvider synthesizes a whole utterance to bytes in one call.
type NonStreamProvider interface {
	Synthesize(ctx context.Context, text string, voice Voice, lang Language) ([]byte, error)
	Name() string
}

// SingleStreamProvider synthesizes one utterance, streaming audio chunks as
// they're produced, grounded on the teacher's StreamSynthesize.
type SingleStreamProvider interface {
	StreamSynthesize(ctx context.Context, text string, voice Voice, lang Language, onChunk func([]byte) error) error
	Name() string
}

// DualStreamSession is a session-scoped synthesis stream: text is pushed
// incrementally and audio is received incrementally, until Finish.
type DualStreamSession interface {
	PushText(ctx context.Context, text string) error
	Finish(ctx context.Context) error
	Close() error
}

// DualStreamProvider opens session-scoped synthesis streams.
type DualStreamProvider interface {
	OpenSession(ctx context.Context, voice Voice, lang Language, onChunk func([]byte) error) (DualStreamSession, error)
	Name() string
}
