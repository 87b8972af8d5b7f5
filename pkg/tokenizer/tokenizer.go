// Package tokenizer estimates token counts for prompt text. The estimates
// are for logging and previews; billing uses the usage reported by the
// generation API.
package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// EstimateTokens blends a word-based estimate (~1.3 tokens per word) with a
// character-based one (~4 characters per token).
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	chars := utf8.RuneCountInString(text)
	return (int(float64(words)*1.3) + chars/4) / 2
}

// TruncateToTokenBudget shortens text to roughly budget tokens, cutting at a
// word boundary when one is close, and marks the cut with "...".
func TruncateToTokenBudget(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if EstimateTokens(text) <= budget {
		return text
	}

	runes := []rune(text)
	maxChars := budget * 4
	if maxChars >= len(runes) {
		return text
	}

	cut := string(runes[:maxChars])
	if i := strings.LastIndexAny(cut, " \n\t"); i > len(cut)/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut) + "..."
}
