package intent

import "testing"

func TestWakeWordMatchToleratesMinorTranscriptionDrift(t *testing.T) {
	m := NewWakeWordMatcher([]WakeWordEntry{
		{Phrase: "hey there", AudioFile: "hey_there.opus"},
		{Phrase: "good morning", AudioFile: "good_morning.opus"},
	})

	entry, ok := m.Match("hey, there")
	if !ok {
		t.Fatal("expected a fuzzy match")
	}
	if entry.AudioFile != "hey_there.opus" {
		t.Errorf("unexpected match: %+v", entry)
	}
}

func TestWakeWordMatchRejectsUnrelatedText(t *testing.T) {
	m := NewWakeWordMatcher([]WakeWordEntry{{Phrase: "hey there", AudioFile: "hey_there.opus"}})

	if _, ok := m.Match("please turn off the kitchen light"); ok {
		t.Error("expected no match for unrelated utterance")
	}
}

func TestWakeWordMatchEmptyTextNeverMatches(t *testing.T) {
	m := NewWakeWordMatcher([]WakeWordEntry{{Phrase: "hey there", AudioFile: "hey_there.opus"}})
	if _, ok := m.Match("   "); ok {
		t.Error("expected empty text to never match")
	}
}
