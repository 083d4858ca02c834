package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/osintarchive/archiver/internal/database"
	"github.com/osintarchive/archiver/internal/util"
)

// Outcome is the terminal result of processing one source message.
type Outcome int

const (
	// OutcomeFailed means the message shell could not be persisted.
	OutcomeFailed Outcome = iota
	// OutcomeIngested means a new message row was persisted.
	OutcomeIngested
	// OutcomeDuplicate means the message was already archived. Not an error.
	OutcomeDuplicate
)

// String returns the outcome name for logs and metrics.
func (o Outcome) String() string {
	switch o {
	case OutcomeIngested:
		return "ingested"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// Coordinator orchestrates ingestion: dedup check, metadata persistence,
// media fetch-and-store, and archive statistics. Processing within one
// archive is sequential; multiple archives may run concurrently since the
// only shared state is the underlying stores, and the database uniqueness
// constraint is the sole dedup correctness mechanism.
type Coordinator struct {
	store   database.Store
	media   ContentStore
	fetcher MediaFetcher
	hook    Hook
	logger  *slog.Logger

	mediaTimeout  time.Duration
	maxMediaBytes int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMediaTimeout bounds the fetch-and-store media path per message.
func WithMediaTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.mediaTimeout = d }
}

// WithMaxMediaBytes skips media payloads larger than limit bytes.
// Zero means no limit.
func WithMaxMediaBytes(limit int64) Option {
	return func(c *Coordinator) { c.maxMediaBytes = limit }
}

// WithHook registers an enrichment hook notified after each ingested message.
func WithHook(h Hook) Option {
	return func(c *Coordinator) { c.hook = h }
}

// NewCoordinator creates a Coordinator over the given repository, content
// store, and media fetcher.
func NewCoordinator(store database.Store, media ContentStore, fetcher MediaFetcher, logger *slog.Logger, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if media == nil {
		return nil, fmt.Errorf("media store is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &Coordinator{
		store:        store,
		media:        media,
		fetcher:      fetcher,
		logger:       logger.With("component", "coordinator"),
		mediaTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// ResolveArchive resolves a channel identifier through the source and
// returns its archive row, creating one on first contact. Resolution
// failures are fatal for the operation that needed the archive.
func (c *Coordinator) ResolveArchive(ctx context.Context, resolver ChannelResolver, identifier string) (*database.Archive, error) {
	info, err := resolver.ResolveChannel(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve channel %q: %w", identifier, err)
	}

	archive, err := c.store.GetOrCreateArchive(ctx, info.ID, info.Username, info.Title, info.Description)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive for channel %q: %w", identifier, err)
	}

	return archive, nil
}

// ProcessMessage runs the ingestion state machine for one source message.
// Media failures never fail the message: the shell persists without media.
func (c *Coordinator) ProcessMessage(ctx context.Context, msg SourceMessage, archive *database.Archive) (Outcome, error) {
	if archive == nil {
		return OutcomeFailed, fmt.Errorf("archive is required")
	}

	log := c.logger.With("archive_id", archive.ID, "message_id", msg.ID)

	// Pre-check is an optimization to avoid pointless media fetches; the
	// insert's uniqueness constraint below is the authoritative dedup check.
	exists, err := c.store.MessageExists(ctx, archive.ID, msg.ID)
	if err != nil {
		return OutcomeFailed, err
	}
	if exists {
		log.DebugContext(ctx, "Message already archived, skipping")
		return OutcomeDuplicate, nil
	}

	record := extractMessage(msg, archive.ID)

	if err := c.store.InsertMessage(ctx, record); err != nil {
		if errors.Is(err, database.ErrDuplicateMessage) {
			// A concurrent producer won the insert race.
			log.DebugContext(ctx, "Message inserted concurrently elsewhere, skipping")
			return OutcomeDuplicate, nil
		}
		return OutcomeFailed, err
	}

	mediaStored := int64(0)
	if msg.Media != nil {
		if c.archiveMedia(ctx, msg.Media, record.ID, log) {
			mediaStored = 1
		}
	}

	if err := c.store.UpdateArchiveStats(ctx, archive.ID, 1, mediaStored, msg.Date); err != nil {
		// The message itself is durable; a stats failure is not an ingestion failure.
		log.WarnContext(ctx, "Failed to update archive statistics", "error", err)
	}

	if c.hook != nil {
		if err := c.hook.MessageIngested(ctx, record.ID); err != nil {
			log.WarnContext(ctx, "Enrichment hook rejected message", "error", err)
		}
	}

	log.InfoContext(ctx, "Message ingested",
		"has_media", record.HasMedia, "media_stored", mediaStored == 1,
		"is_forwarded", record.IsForwarded)
	return OutcomeIngested, nil
}

// archiveMedia fetches, hashes, stores, and attaches a message's media.
// Any failure is logged and swallowed; it reports whether media was stored.
func (c *Coordinator) archiveMedia(ctx context.Context, media *Media, messageDBID int64, log *slog.Logger) bool {
	if media.Kind == MediaUnsupported {
		log.DebugContext(ctx, "Unsupported media kind, skipping")
		return false
	}
	if c.fetcher == nil {
		log.WarnContext(ctx, "No media fetcher configured, skipping media")
		return false
	}
	if c.maxMediaBytes > 0 && media.Size > c.maxMediaBytes {
		log.WarnContext(ctx, "Media exceeds size limit, skipping",
			"size", util.FormatSize(media.Size), "limit", util.FormatSize(c.maxMediaBytes))
		return false
	}

	mediaCtx, cancel := context.WithTimeout(ctx, c.mediaTimeout)
	defer cancel()

	// The full byte stream is in hand before the store put, so cancellation
	// mid-fetch can never leave a partially written object behind.
	data, err := c.fetcher.FetchMedia(mediaCtx, media)
	if err != nil {
		log.WarnContext(ctx, "Media fetch failed, message persists without media", "error", err)
		return false
	}
	if c.maxMediaBytes > 0 && int64(len(data)) > c.maxMediaBytes {
		log.WarnContext(ctx, "Fetched media exceeds size limit, skipping",
			"size", util.FormatSize(int64(len(data))))
		return false
	}

	key, digest, err := c.media.Put(mediaCtx, data, media.FileName, media.MimeType)
	if err != nil {
		log.WarnContext(ctx, "Media store write failed, message persists without media", "error", err)
		return false
	}

	record := &database.MediaFile{
		SHA256:       digest,
		StorageKey:   key,
		MimeType:     mediaMimeType(media, data),
		FileSize:     int64(len(data)),
		FileName:     nullString(media.FileName),
		MediaType:    media.Kind.String(),
		Width:        nullInt64(int64(media.Width)),
		Height:       nullInt64(int64(media.Height)),
		Duration:     nullInt64(int64(media.Duration)),
		UploadStatus: database.UploadStatusUploaded,
	}

	if err := c.store.AttachMedia(ctx, messageDBID, record); err != nil {
		log.WarnContext(ctx, "Failed to attach media record, message persists without media",
			"storage_key", key, "error", err)
		return false
	}

	log.DebugContext(ctx, "Media archived",
		"media_type", record.MediaType, "size", record.FileSize, "storage_key", key)
	return true
}

// ImportHistory pulls the iterator until ErrEndOfHistory, processing each
// message in delivery order. It returns the number of newly ingested
// messages; duplicates are not counted and never halt iteration, which
// makes a re-run over an already imported range a no-op. Per-message
// failures are logged and skipped.
func (c *Coordinator) ImportHistory(ctx context.Context, iter MessageIterator, archive *database.Archive) (int, error) {
	if iter == nil {
		return 0, fmt.Errorf("iterator is required")
	}

	log := c.logger.With("archive_id", archive.ID)
	log.InfoContext(ctx, "Starting historical import", "channel_title", archive.ChannelTitle)

	ingested := 0
	for {
		if ctx.Err() != nil {
			return ingested, ctx.Err()
		}

		msg, err := iter.Next(ctx)
		if errors.Is(err, ErrEndOfHistory) {
			break
		}
		if err != nil {
			return ingested, fmt.Errorf("history iteration failed: %w", err)
		}

		outcome, err := c.ProcessMessage(ctx, msg, archive)
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return ingested, err
		case err != nil:
			log.ErrorContext(ctx, "Error importing message, continuing",
				"message_id", msg.ID, "error", err)
			continue
		}

		if outcome == OutcomeIngested {
			ingested++
			if ingested%100 == 0 {
				log.InfoContext(ctx, "Import progress", "ingested", ingested)
			}
		}
	}

	log.InfoContext(ctx, "Import complete", "ingested", ingested)
	return ingested, nil
}

// Listen consumes real-time events for one archive until the channel closes
// or the context is cancelled. Events are processed one at a time in
// delivery order; an in-flight message finishes before Listen returns.
func (c *Coordinator) Listen(ctx context.Context, events <-chan SourceMessage, archive *database.Archive) error {
	log := c.logger.With("archive_id", archive.ID)
	log.InfoContext(ctx, "Listening for new messages", "channel_title", archive.ChannelTitle)

	for {
		select {
		case <-ctx.Done():
			log.InfoContext(ctx, "Listener stopped", "reason", ctx.Err())
			return ctx.Err()
		case msg, ok := <-events:
			if !ok {
				log.InfoContext(ctx, "Event stream closed, listener stopping")
				return nil
			}
			if _, err := c.ProcessMessage(ctx, msg, archive); err != nil {
				log.ErrorContext(ctx, "Error processing message, continuing",
					"message_id", msg.ID, "error", err)
			}
		}
	}
}

// extractMessage is the pure metadata extraction step: no I/O.
func extractMessage(msg SourceMessage, archiveID int64) *database.Message {
	record := &database.Message{
		ArchiveID:   archiveID,
		MessageID:   msg.ID,
		MessageDate: msg.Date.UTC(),
		Text:        nullString(msg.Text),
		HasMedia:    msg.Media != nil,
	}

	if msg.Forward != nil {
		record.IsForwarded = true
		record.ForwardFromChannelID = nullInt64(msg.Forward.FromChannelID)
		record.ForwardFromMessageID = nullInt64(msg.Forward.FromMessageID)
	}

	record.ViewsCount = nullInt64(msg.Views)
	record.ForwardsCount = nullInt64(msg.Forwards)
	record.RepliesCount = nullInt64(msg.Replies)

	// Reaction total is the plain sum of per-emoji counts.
	if len(msg.Reactions) > 0 {
		var total int64
		for _, count := range msg.Reactions {
			total += count
		}
		record.ReactionsCount = sql.NullInt64{Int64: total, Valid: true}
	}

	return record
}

func mediaMimeType(media *Media, data []byte) string {
	if media.MimeType != "" {
		return media.MimeType
	}
	if len(data) > 0 {
		return http.DetectContentType(data)
	}
	return "application/octet-stream"
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}
