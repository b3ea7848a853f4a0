package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/ai-interviewer/internal/adapter/ai/real"
	"github.com/fairyhunter13/ai-interviewer/internal/adapter/ai/stub"
	"github.com/fairyhunter13/ai-interviewer/internal/adapter/lock"
	"github.com/fairyhunter13/ai-interviewer/internal/config"
	"github.com/fairyhunter13/ai-interviewer/internal/domain"
	"github.com/fairyhunter13/ai-interviewer/internal/service/ratelimiter"
)

// NewRedis connects to REDIS_URL. It returns nil, nil when Redis is not
// configured; the lock and the shared limiter are then disabled.
func NewRedis(cfg config.Config) (*redis.Client, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("op=app.NewRedis: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewCompletion builds the model client. Without an API key, dev and test
// runs fall back to the deterministic stub; other environments fail.
func NewCompletion(cfg config.Config, rdb *redis.Client) (domain.Completion, error) {
	if strings.TrimSpace(cfg.OpenRouterAPIKey) == "" {
		if cfg.IsDev() || cfg.IsTest() {
			slog.Warn("OPENROUTER_API_KEY not set; using stub completion client")
			return stub.New(), nil
		}
		return nil, fmt.Errorf("op=app.NewCompletion: %w: OPENROUTER_API_KEY is required", domain.ErrInvalidArgument)
	}
	var opts []real.Option
	if rdb != nil && cfg.AICallsPerMin > 0 {
		limiter := ratelimiter.NewRedisLuaLimiter(rdb, "rl:", map[string]ratelimiter.BucketConfig{
			ratelimiter.BucketCompletion: ratelimiter.NewBucketConfigFromPerMinute(cfg.AICallsPerMin),
		})
		opts = append(opts, real.WithLimiter(limiter))
	}
	return real.New(cfg, opts...)
}

// NewLocker returns the Redis lock, or nil so the orchestrator relies on
// in-process deduplication only.
func NewLocker(rdb *redis.Client) domain.Locker {
	if rdb == nil {
		return nil
	}
	return lock.NewRedisLocker(rdb, "")
}
