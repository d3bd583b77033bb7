package tts

import (
	"strings"
	"unicode/utf8"
)

// firstSentencePunctuation is the enlarged punctuation set used only for
// detecting the first sentence boundary, to reduce time-to-first-audio
// (spec.md §4.7 "the first sentence uses an enlarged punctuation set").
const firstSentencePunctuation = "。！？.!?,~、，"

const terminalPunctuation = "。！？.!?"

// Segmenter buffers streamed LLM text and splits it into sentences on
// terminal punctuation, using the enlarged set only for the first sentence
// of a turn.
type Segmenter struct {
	buf          strings.Builder
	sentenceSeen bool
}

func NewSegmenter() *Segmenter {
	return &Segmenter{}
}

// Feed appends text and returns zero or more complete sentences found so
// far (trailing, unterminated text stays buffered until the next Feed or
// Flush).
func (s *Segmenter) Feed(text string) []string {
	s.buf.WriteString(text)
	var out []string

	for {
		remaining := s.buf.String()
		set := terminalPunctuation
		if !s.sentenceSeen {
			set = firstSentencePunctuation
		}

		idx, width := indexAny(remaining, set)
		if idx < 0 {
			break
		}

		sentence := strings.TrimSpace(remaining[:idx+width])
		if sentence != "" {
			out = append(out, sentence)
			s.sentenceSeen = true
		}
		s.buf.Reset()
		s.buf.WriteString(remaining[idx+width:])
	}

	return out
}

// Flush returns any trailing buffered text as a final sentence (called on
// LAST / end of turn) and resets buffering state for the next turn.
func (s *Segmenter) Flush() string {
	trailing := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	s.sentenceSeen = false
	return trailing
}

// indexAny returns the byte offset and rune width of the first rune in s
// that also appears in chars, or (-1, 0) if none does.
func indexAny(s, chars string) (idx, width int) {
	for i, r := range s {
		if strings.ContainsRune(chars, r) {
			return i, utf8.RuneLen(r)
		}
	}
	return -1, 0
}
