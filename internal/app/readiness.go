package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/ai-interviewer/internal/adapter/httpserver"
)

// Pinger is the minimal interface for a dependency capable of Ping. Both the
// pgx pool and the franz-go client satisfy it.
type Pinger interface{ Ping(ctx context.Context) error }

// BuildReadinessChecks returns the db check plus redis and kafka checks for
// the dependencies this process was started with. Pass nil to skip one.
func BuildReadinessChecks(pool Pinger, rdb redis.Cmdable, kafka Pinger) []httpserver.Check {
	checks := []httpserver.Check{{
		Name: "db",
		Probe: func(ctx context.Context) error {
			if pool == nil {
				return fmt.Errorf("db not configured")
			}
			return pool.Ping(ctx)
		},
	}}
	if rdb != nil {
		checks = append(checks, httpserver.Check{
			Name:  "redis",
			Probe: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}
	if kafka != nil {
		checks = append(checks, httpserver.Check{Name: "kafka", Probe: kafka.Ping})
	}
	return checks
}
