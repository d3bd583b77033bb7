package dialogue

import "strings"

// PromptBuilder composes the system message text from a base persona prompt,
// the set of tool affordances currently available, and an optional memory
// summary, mirroring the original's PromptManager sectioning (persona,
// tools-available, memory-summary) without its file/cache machinery — that
// machinery lived in the original's process-wide CacheManager, which this
// module models instead as the explicit pkg/memory.Provider (spec.md 9
// "Singleton HTTP clients and caches" redesign note).
type PromptBuilder struct {
	BasePrompt string
}

func NewPromptBuilder(basePrompt string) *PromptBuilder {
	return &PromptBuilder{BasePrompt: basePrompt}
}

// Build assembles the full system prompt text. toolNames lists the
// currently-registered tool affordances (spec.md 4.5) so the model knows
// what it can call; memorySummary, if non-empty, is appended as its own
// section (the memory-augmented *dialogue view* itself is handled
// separately by Store.GetLLMDialogueWithMemory — this only affects what
// goes in the system message proper).
func (b *PromptBuilder) Build(toolNames []string, memorySummary string) string {
	var sb strings.Builder
	sb.WriteString(b.BasePrompt)

	if len(toolNames) > 0 {
		sb.WriteString("\n\nAvailable tools: ")
		sb.WriteString(strings.Join(toolNames, ", "))
	}

	if memorySummary != "" {
		sb.WriteString("\n\nWhat you remember about this device from earlier sessions:\n")
		sb.WriteString(memorySummary)
	}

	return sb.String()
}

// EmojiList is the recognized emoji vocabulary used by the LLM driver's
// emotion-classification side task (spec.md 4.6 rule 3), grounded on the
// original's EMOJI_List in prompt_manager.py.
var EmojiList = []string{
	"😶", "🙂", "😆", "😂", "😔", "😠", "😭", "😍", "😳", "😲",
	"😱", "🤔", "😉", "😎", "😌", "🤤", "😘", "😏", "😴", "😜", "🙄",
}

// emojiEmotions maps each recognized emoji to the emotion label sent in the
// {type:"llm", emotion:...} control message (spec.md 6).
var emojiEmotions = map[string]string{
	"😶": "neutral", "🙂": "happy", "😆": "laughing", "😂": "funny",
	"😔": "sad", "😠": "angry", "😭": "crying", "😍": "loving",
	"😳": "embarrassed", "😲": "surprised", "😱": "shocked", "🤔": "thinking",
	"😉": "winking", "😎": "cool", "😌": "relaxed", "🤤": "delicious",
	"😘": "kissy", "😏": "confident", "😴": "sleepy", "😜": "silly", "🙄": "unimpressed",
}

// FirstEmotion scans text for the earliest-occurring recognized emoji (by
// byte position, not list order) and returns its emotion label, or ""
// if none was found.
func FirstEmotion(text string) (emoji string, emotion string, found bool) {
	bestIdx := -1
	var bestEmoji string
	for _, e := range EmojiList {
		idx := strings.Index(text, e)
		if idx >= 0 && (bestIdx == -1 || idx < bestIdx) {
			bestIdx = idx
			bestEmoji = e
		}
	}
	if bestIdx == -1 {
		return "", "", false
	}
	return bestEmoji, emojiEmotions[bestEmoji], true
}
