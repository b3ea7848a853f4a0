// Package tokencount estimates prompt and completion token counts with
// tiktoken so usage can be recorded even when a provider omits it.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	// Encodings ship with the binary; no download at first use.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// Usage is the token accounting of one completion call.
type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	Model            string `json:"model"`
	// Estimated is true when the counts come from tiktoken instead of the provider.
	Estimated bool `json:"estimated"`
}

// Counter caches encodings per model family. It is safe for concurrent use.
type Counter struct {
	mu    sync.RWMutex
	cache map[string]*tiktoken.Tiktoken
}

// NewCounter creates a new token counter.
func NewCounter() *Counter {
	return &Counter{cache: make(map[string]*tiktoken.Tiktoken)}
}

// DefaultCounter is shared by the completion client.
var DefaultCounter = NewCounter()

func (c *Counter) encoding(model string) (*tiktoken.Tiktoken, error) {
	name := normalizeModelName(model)

	c.mu.RLock()
	enc, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.cache[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		slog.Debug("falling back to cl100k_base encoding", slog.String("model", model), slog.Any("error", err))
		if enc, err = tiktoken.GetEncoding("cl100k_base"); err != nil {
			return nil, err
		}
	}
	c.cache[name] = enc
	return enc, nil
}

// normalizeModelName maps OpenRouter ids such as "google/gemma-3-27b-it:free"
// onto a name tiktoken knows. Non-OpenAI families are approximated with gpt-4.
func normalizeModelName(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	if i := strings.Index(model, ":"); i >= 0 {
		model = model[:i]
	}
	if strings.HasPrefix(model, "gpt-3.5") {
		return "gpt-3.5-turbo"
	}
	return "gpt-4"
}

// CountTokens counts tokens of text under model's encoding.
func (c *Counter) CountTokens(text, model string) (int, error) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountChatTokens counts a system+user chat request including per-message overhead.
// An empty system prompt is not sent and adds nothing.
func (c *Counter) CountChatTokens(systemPrompt, userPrompt, model string) (int, error) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, err
	}
	const perMessage = 4 // <|start|>{role}\n{content}<|end|>
	n := 3                // reply priming
	if systemPrompt != "" {
		n += perMessage + len(enc.Encode(systemPrompt, nil, nil))
	}
	n += perMessage + len(enc.Encode(userPrompt, nil, nil))
	return n, nil
}

// Estimate computes usage locally, falling back to four characters per token.
func (c *Counter) Estimate(systemPrompt, userPrompt, completion, model string) Usage {
	prompt, err := c.CountChatTokens(systemPrompt, userPrompt, model)
	if err != nil {
		slog.Warn("failed to count prompt tokens, using estimate", slog.String("model", model), slog.Any("error", err))
		prompt = (len(systemPrompt) + len(userPrompt)) / 4
	}
	out, err := c.CountTokens(completion, model)
	if err != nil {
		slog.Warn("failed to count completion tokens, using estimate", slog.String("model", model), slog.Any("error", err))
		out = len(completion) / 4
	}
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: out,
		TotalTokens:      prompt + out,
		Model:            model,
		Estimated:        true,
	}
}
