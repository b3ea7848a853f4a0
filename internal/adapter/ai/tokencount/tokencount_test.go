package tokencount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeModelName(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"google/gemma-3-27b-it:free":            "gpt-4",
		"openai/gpt-3.5-turbo":                  "gpt-3.5-turbo",
		"GPT-4o":                                "gpt-4",
		"meta-llama/llama-3.1-8b-instruct:free": "gpt-4",
		"":                                      "gpt-4",
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeModelName(in), in)
	}
}

func TestCountTokens(t *testing.T) {
	t.Parallel()
	c := NewCounter()
	n, err := c.CountTokens("Hello, world!", "google/gemma-3-27b-it:free")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 3)
	assert.LessOrEqual(t, n, 5)

	n, err = c.CountTokens("", "gpt-4")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCountChatTokens_SystemPromptAddsOverhead(t *testing.T) {
	t.Parallel()
	c := NewCounter()
	userOnly, err := c.CountChatTokens("", "Rate this interview.", "gpt-4")
	require.NoError(t, err)
	withSystem, err := c.CountChatTokens("You are a recruiter.", "Rate this interview.", "gpt-4")
	require.NoError(t, err)
	assert.Greater(t, withSystem, userOnly+4)
}

func TestEstimate(t *testing.T) {
	t.Parallel()
	u := DefaultCounter.Estimate("", "What is a goroutine?", `{"feedback":{}}`, "google/gemma-3-27b-it:free")
	assert.True(t, u.Estimated)
	assert.Equal(t, u.PromptTokens+u.CompletionTokens, u.TotalTokens)
	assert.Positive(t, u.PromptTokens)
	assert.Positive(t, u.CompletionTokens)
	assert.Equal(t, "google/gemma-3-27b-it:free", u.Model)
}
