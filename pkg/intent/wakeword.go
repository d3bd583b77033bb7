package intent

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// defaultWakeWordThreshold tolerates minor ASR transcription drift on short
// wake phrases ("hey there" vs "hey, there" vs "hey their") without matching
// unrelated utterances.
const defaultWakeWordThreshold = 0.85

// WakeWordEntry is one configured wake phrase and the pre-synthesized audio
// file to play back instantly on a match (spec.md §8 example 1,
// "Wake-word cached response").
type WakeWordEntry struct {
	Phrase    string
	AudioFile string
}

// WakeWordMatcher fuzzily matches device-supplied detect text against a
// configured set of wake phrases, grounded on
// _examples/MrWong99-glyphoxa/internal/transcript/phonetic/phonetic.go's
// Jaro-Winkler scoring.
type WakeWordMatcher struct {
	entries   []WakeWordEntry
	threshold float64
}

func NewWakeWordMatcher(entries []WakeWordEntry) *WakeWordMatcher {
	return &WakeWordMatcher{entries: entries, threshold: defaultWakeWordThreshold}
}

// Match returns the best-scoring configured entry for text, if its score
// clears the threshold.
func (m *WakeWordMatcher) Match(text string) (WakeWordEntry, bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return WakeWordEntry{}, false
	}

	var best WakeWordEntry
	bestScore := 0.0
	for _, entry := range m.entries {
		score := matchr.JaroWinkler(normalized, strings.ToLower(entry.Phrase), false)
		if score > bestScore {
			bestScore = score
			best = entry
		}
	}

	if bestScore >= m.threshold {
		return best, true
	}
	return WakeWordEntry{}, false
}
