package tokenizer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Positive(t, EstimateTokens("hello world"))
	assert.Greater(t, EstimateTokens(strings.Repeat("word ", 100)), EstimateTokens("word"))
}

func TestTruncateToTokenBudget(t *testing.T) {
	short := "a short sentence"
	assert.Equal(t, short, TruncateToTokenBudget(short, 100))
	assert.Empty(t, TruncateToTokenBudget(short, 0))

	long := strings.Repeat("lorem ipsum ", 200)
	got := TruncateToTokenBudget(long, 10)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), 43)
}

func TestTruncateToTokenBudget_KeepsRunesIntact(t *testing.T) {
	text := strings.Repeat("日本語のテキスト", 50)
	got := TruncateToTokenBudget(text, 5)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}
