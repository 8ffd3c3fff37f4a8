package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/perfdeck/perfdeck/internal/data"
	"github.com/perfdeck/perfdeck/internal/service/scheduler"
)

// SchedulerRunnerConfig contains configuration for the scheduler service.
type SchedulerRunnerConfig struct {
	DB       *sql.DB
	Registry *scheduler.Registry
	Logger   *slog.Logger
}

// RunScheduler loads every persisted schedule into the cron registry and
// keeps it firing until the context is cancelled.
func RunScheduler(ctx context.Context, cfg SchedulerRunnerConfig) error {
	if cfg.Registry == nil {
		return fmt.Errorf("scheduler registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	repo := data.NewScheduleRepo(cfg.DB)
	if err := cfg.Registry.RegisterAll(ctx, repo); err != nil {
		return fmt.Errorf("register schedules: %w", err)
	}

	logger.InfoContext(ctx, "scheduler started", "jobs", cfg.Registry.Len())

	<-ctx.Done()

	logger.Info("shutting down scheduler")
	cfg.Registry.Stop()
	logger.Info("scheduler stopped")

	return nil
}
