package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/osintarchive/archiver/internal/database"
)

// TaskFunc is the signature for all scheduled tasks. The context carries
// the scheduler's cancellation; tasks must respect it.
type TaskFunc func(ctx context.Context) error

// TaskDeps holds the dependencies available to scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
}

// RegisterAllTasks returns the registry of scheduled tasks keyed by the
// names used in the configuration's scheduler section.
func RegisterAllTasks(deps TaskDeps) map[string]TaskFunc {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	tasks := map[string]TaskFunc{
		"sql_maintenance": newSQLMaintenanceTask(deps),
		"stats_reconcile": newStatsReconcileTask(deps),
	}

	deps.Logger.Info("Initialized scheduled tasks", "count", len(tasks))
	return tasks
}

// newSQLMaintenanceTask creates the task that runs database maintenance.
func newSQLMaintenanceTask(deps TaskDeps) TaskFunc {
	log := deps.Logger.With("task", "sql_maintenance")

	return func(ctx context.Context) error {
		log.InfoContext(ctx, "Starting database maintenance")
		start := time.Now()

		if err := deps.Store.RunSQLMaintenance(ctx); err != nil {
			log.ErrorContext(ctx, "Database maintenance failed",
				"error", err, "duration", time.Since(start))
			return fmt.Errorf("sql maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "Database maintenance completed", "duration", time.Since(start))
		return nil
	}
}

// newStatsReconcileTask creates the task that recounts archive statistics
// from the actual message and media rows. Best-effort counter updates
// during ingestion can drift; this is the repair path.
func newStatsReconcileTask(deps TaskDeps) TaskFunc {
	log := deps.Logger.With("task", "stats_reconcile")

	return func(ctx context.Context) error {
		archives, err := deps.Store.ListActiveArchives(ctx)
		if err != nil {
			return fmt.Errorf("failed to list archives for reconciliation: %w", err)
		}

		var failed int
		for _, archive := range archives {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := deps.Store.RecountArchiveStats(ctx, archive.ID); err != nil {
				log.WarnContext(ctx, "Failed to recount archive stats",
					"archive_id", archive.ID, "channel_id", archive.ChannelID, "error", err)
				failed++
			}
		}

		if failed > 0 {
			return fmt.Errorf("stats reconciliation failed for %d of %d archives", failed, len(archives))
		}

		log.InfoContext(ctx, "Archive stats reconciled", "archives", len(archives))
		return nil
	}
}
