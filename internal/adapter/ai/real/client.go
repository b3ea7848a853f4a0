// Package real implements the completion client backed by an
// OpenAI-compatible chat API (OpenRouter by default).
package real

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/ai-interviewer/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/ai-interviewer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interviewer/internal/config"
	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	intobs "github.com/fairyhunter13/ai-interviewer/internal/observability"
	"github.com/fairyhunter13/ai-interviewer/internal/service/ratelimiter"
)

const breakerName = "ai_completion"

// Client implements domain.Completion. It issues exactly one upstream request
// per call: SDK retries are disabled and failures are returned to the caller.
type Client struct {
	api       openaigo.Client
	model     string
	maxTokens int
	timeout   time.Duration
	limiter   ratelimiter.Limiter
	breaker   *observability.CircuitBreaker
	counter   *tokencount.Counter
}

// Option customizes a Client.
type Option func(*Client, *[]option.RequestOption)

// WithLimiter draws one token from the shared completion bucket per call.
func WithLimiter(l ratelimiter.Limiter) Option {
	return func(c *Client, _ *[]option.RequestOption) { c.limiter = l }
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *observability.CircuitBreaker) Option {
	return func(c *Client, _ *[]option.RequestOption) { c.breaker = cb }
}

// WithHTTPClient sets the transport used for upstream calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(_ *Client, opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithHTTPClient(hc))
	}
}

// New builds a client from configuration. The API key is required.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.OpenRouterAPIKey) == "" {
		return nil, fmt.Errorf("op=real.New: %w: OPENROUTER_API_KEY is required", domain.ErrInvalidArgument)
	}
	c := &Client{
		model:     cfg.AIModel,
		maxTokens: cfg.AIMaxTokens,
		timeout:   cfg.AIRequestTimeout,
		breaker:   observability.NewCircuitBreaker(breakerName, 5, 30*time.Second),
		counter:   tokencount.DefaultCounter,
	}
	reqOpts := []option.RequestOption{
		option.WithHTTPClient(&http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}),
	}
	for _, o := range opts {
		o(c, &reqOpts)
	}
	reqOpts = append(reqOpts,
		option.WithBaseURL(strings.TrimRight(cfg.OpenRouterBaseURL, "/")+"/"),
		option.WithAPIKey(strings.TrimSpace(cfg.OpenRouterAPIKey)),
		option.WithMaxRetries(0),
	)
	if c.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(c.timeout))
	}
	c.api = openaigo.NewClient(reqOpts...)
	return c, nil
}

// Complete sends prompt as the user message with systemInstruction as the
// system message and returns the raw text of the first choice.
func (c *Client) Complete(ctx context.Context, prompt, systemInstruction string) (string, error) {
	lg := intobs.LoggerFromContext(ctx).With(slog.String("provider", "openrouter"), slog.String("model", c.model))
	start := time.Now()

	if c.limiter != nil {
		ok, retryAfter, err := c.limiter.Allow(ctx, ratelimiter.BucketCompletion, 1)
		if err != nil {
			lg.Warn("completion limiter unavailable, proceeding", slog.Any("error", err))
		}
		if !ok {
			observability.ObserveAIRequest("chat", "rate_limited", time.Since(start))
			return "", fmt.Errorf("op=real.Complete: %w: retry after %s", domain.ErrRateLimited, retryAfter.Round(time.Millisecond))
		}
	}
	if err := c.breaker.Allow(); err != nil {
		observability.ObserveAIRequest("chat", "circuit_open", time.Since(start))
		return "", fmt.Errorf("op=real.Complete: %w: %v", domain.ErrUpstreamRateLimit, err)
	}

	messages := make([]openaigo.ChatCompletionMessageParamUnion, 0, 2)
	if s := strings.TrimSpace(systemInstruction); s != "" {
		messages = append(messages, openaigo.SystemMessage(s))
	}
	messages = append(messages, openaigo.UserMessage(prompt))
	params := openaigo.ChatCompletionNewParams{
		Model:    openaigo.ChatModel(c.model),
		Messages: messages,
	}
	if c.maxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(c.maxTokens))
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		mapped := mapError(err)
		// Caller cancellation and rejected requests say nothing about upstream health.
		c.breaker.Record(errors.Is(err, context.Canceled) || errors.Is(mapped, domain.ErrInvalidArgument))
		observability.ObserveAIRequest("chat", outcomeOf(mapped), time.Since(start))
		lg.Error("completion request failed", slog.Any("error", err), slog.Duration("elapsed", time.Since(start)))
		return "", fmt.Errorf("op=real.Complete: %w", mapped)
	}
	c.breaker.Record(true)

	if len(resp.Choices) == 0 {
		observability.ObserveAIRequest("chat", "empty", time.Since(start))
		lg.Warn("completion returned no choices")
		return "", fmt.Errorf("op=real.Complete: %w: empty choices", domain.ErrInternal)
	}
	content := resp.Choices[0].Message.Content

	usage := tokencount.Usage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
		Model:            c.model,
	}
	if usage.TotalTokens == 0 {
		usage = c.counter.Estimate(systemInstruction, prompt, content, c.model)
	}
	observability.RecordAITokenUsage(c.model, usage.PromptTokens, usage.CompletionTokens)
	observability.ObserveAIRequest("chat", "ok", time.Since(start))

	if resp.Model != "" && resp.Model != c.model {
		lg.Warn("model substitution detected", slog.String("served_model", resp.Model))
	}
	lg.Info("completion succeeded",
		slog.Int("prompt_tokens", usage.PromptTokens),
		slog.Int("completion_tokens", usage.CompletionTokens),
		slog.Bool("tokens_estimated", usage.Estimated),
		slog.Duration("elapsed", time.Since(start)))
	return content, nil
}

// mapError translates SDK and transport failures into domain sentinels.
func mapError(err error) error {
	var apiErr *openaigo.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: status %d", domain.ErrUpstreamRateLimit, apiErr.StatusCode)
		case apiErr.StatusCode == http.StatusRequestTimeout || apiErr.StatusCode == http.StatusGatewayTimeout:
			return fmt.Errorf("%w: status %d", domain.ErrUpstreamTimeout, apiErr.StatusCode)
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			return fmt.Errorf("%w: status %d", domain.ErrInvalidArgument, apiErr.StatusCode)
		default:
			return fmt.Errorf("%w: status %d", domain.ErrInternal, apiErr.StatusCode)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrInternal, err)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrUpstreamRateLimit):
		return "upstream_rate_limited"
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
