// Command migrate applies the embedded Postgres migrations.
//
// Usage: migrate [up|down|status]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fairyhunter13/ai-interviewer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interviewer/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/ai-interviewer/internal/config"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [up|down|status]\n", os.Args[0])
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(observability.SetupLogger(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}
	switch cmd {
	case "up":
		err = postgres.Migrate(ctx, cfg.DBURL)
	case "down":
		err = postgres.MigrateDown(ctx, cfg.DBURL)
	case "status":
		err = postgres.MigrationStatus(ctx, cfg.DBURL)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		slog.Error("migration failed", slog.String("command", cmd), slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("migration finished", slog.String("command", cmd))
}
