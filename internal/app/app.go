// Package app wires the archiver's components together and manages their
// lifecycle: database, content-addressed storage, the Telegram source, the
// ingestion coordinator, and the maintenance scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/osintarchive/archiver/internal/config"
	"github.com/osintarchive/archiver/internal/database"
	"github.com/osintarchive/archiver/internal/ingest"
	"github.com/osintarchive/archiver/internal/scheduler"
	"github.com/osintarchive/archiver/internal/source/export"
	"github.com/osintarchive/archiver/internal/source/telegram"
	"github.com/osintarchive/archiver/internal/storage"
)

// App holds the archiver's long-lived components.
type App struct {
	logger    *slog.Logger
	cfg       *config.Config
	db        *sqlx.DB
	store     database.Store
	media     *storage.Store
	source    *telegram.Source
	queue     *ingest.Queue
	hook      ingest.Hook
	scheduler *scheduler.Scheduler
}

// New wires all components from the configuration. An optional enrichment
// hook receives the ID of every newly archived message through a bounded
// in-order queue; nil disables enrichment notification.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, enrichment ingest.Hook) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &App{
		logger: logger.With("component", "app"),
		cfg:    cfg,
		db:     db,
		store:  database.NewStore(db, logger),
	}

	a.media, err = storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to object storage: %w", err)
	}

	a.source, err = telegram.New(&cfg.Telegram, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create telegram source: %w", err)
	}

	if enrichment != nil {
		a.queue = ingest.NewQueue(enrichment, cfg.Ingest.EnrichmentQueueSize, logger)
		a.hook = a.queue
	}

	a.scheduler, err = scheduler.New(logger, &cfg.Scheduler, scheduler.RegisterAllTasks(scheduler.TaskDeps{
		Logger: logger,
		Store:  a.store,
	}))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return a, nil
}

// Close releases the app's resources. Safe to call after a partial New.
func (a *App) Close() {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.db != nil {
		database.CloseDB(a.db)
	}
}

// newCoordinator builds an ingestion coordinator over the given media
// fetcher, carrying the configured limits and enrichment hook.
func (a *App) newCoordinator(fetcher ingest.MediaFetcher) (*ingest.Coordinator, error) {
	opts := []ingest.Option{
		ingest.WithMediaTimeout(a.cfg.Ingest.MediaTimeout),
		ingest.WithMaxMediaBytes(a.cfg.Ingest.MaxMediaBytes()),
	}
	if a.hook != nil {
		opts = append(opts, ingest.WithHook(a.hook))
	}
	return ingest.NewCoordinator(a.store, a.media, fetcher, a.logger, opts...)
}

// Listen archives all configured channels in real time until ctx is
// cancelled. Channel resolution failures are fatal; per-message failures
// are logged and skipped by the coordinator.
func (a *App) Listen(ctx context.Context) error {
	coordinator, err := a.newCoordinator(a.source)
	if err != nil {
		return err
	}

	type subscription struct {
		archive *database.Archive
		events  <-chan ingest.SourceMessage
	}

	subs := make([]subscription, 0, len(a.cfg.Telegram.Channels))
	for _, identifier := range a.cfg.Telegram.Channels {
		archive, err := coordinator.ResolveArchive(ctx, a.source, identifier)
		if err != nil {
			return fmt.Errorf("failed to resolve channel %q: %w", identifier, err)
		}
		subs = append(subs, subscription{
			archive: archive,
			events:  a.source.Subscribe(archive.ChannelID),
		})
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.source.Run(gCtx)
		a.source.Close()
		if err == nil && gCtx.Err() == nil {
			return fmt.Errorf("telegram source stopped unexpectedly")
		}
		return err
	})

	for _, sub := range subs {
		g.Go(func() error {
			return coordinator.Listen(gCtx, sub.events, sub.archive)
		})
	}

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		<-gCtx.Done()
		return a.scheduler.Stop()
	})

	a.logger.InfoContext(ctx, "Archiver listening", "channels", len(subs))
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Import backfills history from a Telegram Desktop export file, honoring
// the configured import window and an optional message limit.
func (a *App) Import(ctx context.Context, exportPath string, limit int) error {
	reader, err := export.Open(exportPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := reader.Close(); closeErr != nil {
			a.logger.WarnContext(ctx, "Error closing export file", "error", closeErr)
		}
	}()

	coordinator, err := a.newCoordinator(reader)
	if err != nil {
		return err
	}

	info := reader.Channel()
	archive, err := a.store.GetOrCreateArchive(ctx, info.ID, info.Username, info.Title, info.Description)
	if err != nil {
		return fmt.Errorf("failed to resolve archive for export: %w", err)
	}

	var iter ingest.MessageIterator = reader
	if window := a.cfg.Import.WindowDuration(); window > 0 {
		iter = ingest.SinceIterator(iter, time.Now().UTC().Add(-window))
	}
	if limit <= 0 {
		limit = a.cfg.Import.Limit
	}
	iter = ingest.LimitIterator(iter, limit)

	start := time.Now()
	ingested, err := coordinator.ImportHistory(ctx, iter, archive)
	if err != nil {
		return fmt.Errorf("import failed after %d messages: %w", ingested, err)
	}

	a.logger.InfoContext(ctx, "Import completed",
		"channel_id", archive.ChannelID, "ingested", ingested, "duration", time.Since(start))
	return nil
}
