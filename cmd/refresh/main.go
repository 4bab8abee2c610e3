// cmd/refresh/main.go

// refresh runs one refresh cycle and exits, for manual or cron-driven use.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"repo-health/internal/config"
	"repo-health/internal/github"
	"repo-health/internal/model"
	"repo-health/internal/refresher"
	"repo-health/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Refresh failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	owner := flag.String("owner", "", "refresh every repository under this owner")
	repo := flag.String("repo", "", "refresh a single 'owner/name' repository")
	timeRange := flag.String("time-range", "", "metrics window: '6 months', '1 year', '2 years', '3 years' or 'all'")
	force := flag.Bool("force-refresh", false, "refetch even when the cache is fresh")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Flags take precedence over the configured owners/repos.
	owners := cfg.Owners
	repos := cfg.Repos
	if *owner != "" || *repo != "" {
		owners = nil
		repos = nil
		if *owner != "" {
			owners = []string{*owner}
		}
		if *repo != "" {
			repos = []string{*repo}
		}
	}
	if *timeRange != "" {
		cfg.TimeRange = *timeRange
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	st := store.NewPostgres(dbpool)
	ghClient := github.NewClient(cfg.GithubToken, logger)

	r, err := refresher.New(st, ghClient, logger, owners, repos, refresher.Options{
		TimeRange:    cfg.TimeRange,
		MaxCacheAge:  cfg.MaxCacheAge(),
		ForceRefresh: *force || cfg.ForceRefresh,
		FullHistory:  cfg.FullHistory,
		Source:       model.SourceInteractive,
	})
	if err != nil {
		return fmt.Errorf("failed to create refresher: %w", err)
	}

	if err := r.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
