package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// ErrDuplicateMessage is returned by InsertMessage when a row with the same
// (archive_id, message_id) pair already exists. Callers treat this as
// "already ingested", not as a failure.
var ErrDuplicateMessage = errors.New("message already archived")

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// GetOrCreateArchive returns the archive for the given channel ID,
	// inserting a new row if none exists. Safe under concurrent callers for
	// the same channel: the loser of the insert race observes the winner's row.
	GetOrCreateArchive(ctx context.Context, channelID int64, username, title, description string) (*Archive, error)

	// GetArchive retrieves an archive by channel ID. Returns nil, nil if not found.
	GetArchive(ctx context.Context, channelID int64) (*Archive, error)

	// ListActiveArchives retrieves all archives with monitoring enabled.
	ListActiveArchives(ctx context.Context) ([]*Archive, error)

	// MessageExists reports whether a message with the given dedup key exists.
	MessageExists(ctx context.Context, archiveID, messageID int64) (bool, error)

	// InsertMessage inserts a new message row. Returns ErrDuplicateMessage if
	// the (archive_id, message_id) pair already exists.
	InsertMessage(ctx context.Context, message *Message) error

	// GetMessage retrieves a message by its dedup key. Returns nil, nil if not found.
	GetMessage(ctx context.Context, archiveID, messageID int64) (*Message, error)

	// AttachMedia inserts the media file row and updates the owning message's
	// media_type in one transaction. If content with the same hash is already
	// recorded, only the message's media_type is updated.
	AttachMedia(ctx context.Context, messageID int64, media *MediaFile) error

	// GetMediaForMessage retrieves the media files attached to a message.
	GetMediaForMessage(ctx context.Context, messageID int64) ([]MediaFile, error)

	// UpdateArchiveStats bumps the archive's message/media counters and
	// advances last_message_date to max(current, lastMessage).
	UpdateArchiveStats(ctx context.Context, archiveID int64, messageDelta, mediaDelta int64, lastMessage time.Time) error

	// RecountArchiveStats resets the archive's counters from the actual row
	// counts. This is the only operation allowed to move counters down.
	RecountArchiveStats(ctx context.Context, archiveID int64) error

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// isUniqueViolation reports whether err is a SQLite unique constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlitelib.SQLITE_CONSTRAINT_UNIQUE ||
			se.Code() == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	// Some driver paths wrap the error without the typed value.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) GetOrCreateArchive(ctx context.Context, channelID int64, username, title, description string) (*Archive, error) {
	if channelID == 0 {
		return nil, fmt.Errorf("channel_id cannot be zero")
	}
	if title == "" {
		return nil, fmt.Errorf("channel title cannot be empty")
	}

	existing, err := s.GetArchive(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.DebugContext(ctx, "Using existing archive",
			"channel_id", channelID, "archive_id", existing.ID)
		return existing, nil
	}

	now := time.Now().UTC()
	archive := &Archive{
		ChannelID:       channelID,
		ChannelUsername: toNullString(username),
		ChannelTitle:    title,
		ChannelDescription: sql.NullString{
			String: description,
			Valid:  description != "",
		},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
        INSERT INTO archives (channel_id, channel_username, channel_title, channel_description,
                              is_active, total_messages, total_media_files, created_at, updated_at)
        VALUES (:channel_id, :channel_username, :channel_title, :channel_description,
                :is_active, 0, 0, :created_at, :updated_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, archive)
	if err != nil {
		if isUniqueViolation(err) {
			// A concurrent caller created the archive first; use their row.
			s.logger.DebugContext(ctx, "Archive insert lost race, fetching existing row",
				"channel_id", channelID)
			winner, getErr := s.GetArchive(ctx, channelID)
			if getErr != nil {
				return nil, getErr
			}
			if winner == nil {
				return nil, fmt.Errorf("archive for channel %d vanished after insert conflict", channelID)
			}
			return winner, nil
		}
		s.logger.ErrorContext(ctx, "Error creating archive", "channel_id", channelID, "error", err)
		return nil, fmt.Errorf("failed to create archive for channel %d: %w", channelID, err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		archive.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after creating archive",
			"channel_id", channelID, "error", idErr)
	}

	s.logger.InfoContext(ctx, "Created new archive",
		"channel_id", channelID, "archive_id", archive.ID, "title", title)
	return archive, nil
}

func (s *sqlxStore) GetArchive(ctx context.Context, channelID int64) (*Archive, error) {
	if channelID == 0 {
		return nil, fmt.Errorf("channel_id cannot be zero")
	}

	var archive Archive
	query := `SELECT * FROM archives WHERE channel_id = ?`

	err := s.db.GetContext(ctx, &archive, query, channelID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting archive", "channel_id", channelID, "error", err)
		return nil, fmt.Errorf("failed to get archive for channel %d: %w", channelID, err)
	}

	return &archive, nil
}

func (s *sqlxStore) ListActiveArchives(ctx context.Context) ([]*Archive, error) {
	var archives []*Archive
	query := `SELECT * FROM archives WHERE is_active = 1 ORDER BY id`

	if err := s.db.SelectContext(ctx, &archives, query); err != nil {
		s.logger.ErrorContext(ctx, "Error listing active archives", "error", err)
		return nil, fmt.Errorf("failed to list active archives: %w", err)
	}

	return archives, nil
}

func (s *sqlxStore) MessageExists(ctx context.Context, archiveID, messageID int64) (bool, error) {
	if archiveID == 0 {
		return false, fmt.Errorf("archive_id cannot be zero")
	}

	var one int
	query := `SELECT 1 FROM messages WHERE archive_id = ? AND message_id = ? LIMIT 1`

	err := s.db.GetContext(ctx, &one, query, archiveID, messageID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error checking message existence",
			"archive_id", archiveID, "message_id", messageID, "error", err)
		return false, fmt.Errorf("failed to check message %d in archive %d: %w", messageID, archiveID, err)
	}

	return true, nil
}

func (s *sqlxStore) InsertMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot insert nil message")
	}
	if message.ArchiveID == 0 {
		return fmt.Errorf("message must have a non-zero archive_id")
	}
	if message.MessageDate.IsZero() {
		return fmt.Errorf("message must have a non-zero message_date")
	}

	now := time.Now().UTC()
	message.CreatedAt = now
	message.UpdatedAt = now

	query := `
        INSERT INTO messages (archive_id, message_id, message_date, text, has_media, media_type,
                              is_forwarded, forward_from_channel_id, forward_from_message_id,
                              views_count, forwards_count, replies_count, reactions_count,
                              created_at, updated_at)
        VALUES (:archive_id, :message_id, :message_date, :text, :has_media, :media_type,
                :is_forwarded, :forward_from_channel_id, :forward_from_message_id,
                :views_count, :forwards_count, :replies_count, :reactions_count,
                :created_at, :updated_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		if isUniqueViolation(err) {
			// This constraint is the authoritative dedup enforcement point.
			s.logger.DebugContext(ctx, "Duplicate message insert rejected",
				"archive_id", message.ArchiveID, "message_id", message.MessageID)
			return ErrDuplicateMessage
		}
		s.logger.ErrorContext(ctx, "Error inserting message",
			"archive_id", message.ArchiveID, "message_id", message.MessageID, "error", err)
		return fmt.Errorf("failed to insert message %d (archive %d): %w",
			message.MessageID, message.ArchiveID, err)
	}

	if id, idErr := result.LastInsertId(); idErr == nil {
		message.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after inserting message",
			"archive_id", message.ArchiveID, "message_id", message.MessageID, "error", idErr)
	}

	s.logger.DebugContext(ctx, "Message inserted",
		"archive_id", message.ArchiveID, "message_id", message.MessageID, "id", message.ID)
	return nil
}

func (s *sqlxStore) GetMessage(ctx context.Context, archiveID, messageID int64) (*Message, error) {
	var message Message
	query := `
        SELECT id, created_at, updated_at, archive_id, message_id, message_date, text,
               has_media, media_type, is_forwarded, forward_from_channel_id, forward_from_message_id,
               views_count, forwards_count, replies_count, reactions_count
        FROM messages
        WHERE archive_id = ? AND message_id = ?`

	err := s.db.GetContext(ctx, &message, query, archiveID, messageID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting message",
			"archive_id", archiveID, "message_id", messageID, "error", err)
		return nil, fmt.Errorf("failed to get message %d (archive %d): %w", messageID, archiveID, err)
	}

	return &message, nil
}

func (s *sqlxStore) AttachMedia(ctx context.Context, messageID int64, media *MediaFile) error {
	if media == nil {
		return fmt.Errorf("cannot attach nil media")
	}
	if messageID == 0 {
		return fmt.Errorf("message_id cannot be zero")
	}
	if len(media.SHA256) != 64 {
		return fmt.Errorf("media sha256 must be a 64-character hex digest, got %d characters", len(media.SHA256))
	}
	if media.StorageKey == "" {
		return fmt.Errorf("media storage_key cannot be empty")
	}

	media.MessageID = messageID
	media.CreatedAt = time.Now().UTC()
	if media.UploadStatus == "" {
		media.UploadStatus = UploadStatusUploaded
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for attaching media",
			"message_id", messageID, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	insertQuery := `
        INSERT INTO media_files (message_id, sha256, storage_key, mime_type, file_size, file_name,
                                 media_type, width, height, duration, upload_status, created_at)
        VALUES (:message_id, :sha256, :storage_key, :mime_type, :file_size, :file_name,
                :media_type, :width, :height, :duration, :upload_status, :created_at);
    `

	result, err := tx.NamedExecContext(ctx, insertQuery, media)
	switch {
	case err != nil && isUniqueViolation(err):
		// Bit-identical content is already recorded; the stored blob and the
		// metadata row are shared. Only the owning message's type is updated.
		s.logger.DebugContext(ctx, "Media content already recorded, reusing existing row",
			"message_id", messageID, "sha256", media.SHA256)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error inserting media file",
			"message_id", messageID, "sha256", media.SHA256, "error", err)
		return fmt.Errorf("failed to insert media file for message %d: %w", messageID, err)
	default:
		if id, idErr := result.LastInsertId(); idErr == nil {
			media.ID = id
		}
	}

	updateQuery := `UPDATE messages SET media_type = ?, updated_at = ? WHERE id = ?`
	updateResult, err := tx.ExecContext(ctx, updateQuery, media.MediaType, time.Now().UTC(), messageID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating message media type",
			"message_id", messageID, "error", err)
		return fmt.Errorf("failed to update media type for message %d: %w", messageID, err)
	}
	if affected, raErr := updateResult.RowsAffected(); raErr == nil && affected != 1 {
		s.logger.WarnContext(ctx, "Unexpected number of rows affected when updating media type",
			"message_id", messageID, "affected", affected)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction",
			"message_id", messageID, "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Media attached",
		"message_id", messageID, "media_type", media.MediaType, "storage_key", media.StorageKey)
	return nil
}

func (s *sqlxStore) GetMediaForMessage(ctx context.Context, messageID int64) ([]MediaFile, error) {
	var media []MediaFile
	query := `SELECT * FROM media_files WHERE message_id = ? ORDER BY id`

	if err := s.db.SelectContext(ctx, &media, query, messageID); err != nil {
		s.logger.ErrorContext(ctx, "Error getting media for message", "message_id", messageID, "error", err)
		return nil, fmt.Errorf("failed to get media for message %d: %w", messageID, err)
	}

	return media, nil
}

func (s *sqlxStore) UpdateArchiveStats(ctx context.Context, archiveID int64, messageDelta, mediaDelta int64, lastMessage time.Time) error {
	if archiveID == 0 {
		return fmt.Errorf("archive_id cannot be zero")
	}
	if messageDelta < 0 || mediaDelta < 0 {
		return fmt.Errorf("archive counters are monotonic, got deltas %d/%d", messageDelta, mediaDelta)
	}

	// last_message_date uses max-merge so out-of-order backfill never
	// regresses the archive's last-seen marker.
	query := `
        UPDATE archives
        SET total_messages = total_messages + ?,
            total_media_files = total_media_files + ?,
            last_message_date = CASE
                WHEN last_message_date IS NULL OR last_message_date < ? THEN ?
                ELSE last_message_date
            END,
            updated_at = ?
        WHERE id = ?;
    `

	lastUTC := lastMessage.UTC()
	result, err := s.db.ExecContext(ctx, query,
		messageDelta, mediaDelta, lastUTC, lastUTC, time.Now().UTC(), archiveID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating archive stats", "archive_id", archiveID, "error", err)
		return fmt.Errorf("failed to update stats for archive %d: %w", archiveID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("archive %d not found", archiveID)
	}

	return nil
}

func (s *sqlxStore) RecountArchiveStats(ctx context.Context, archiveID int64) error {
	if archiveID == 0 {
		return fmt.Errorf("archive_id cannot be zero")
	}

	query := `
        UPDATE archives
        SET total_messages = (SELECT COUNT(*) FROM messages WHERE archive_id = ?),
            total_media_files = (
                SELECT COUNT(*) FROM media_files
                JOIN messages ON messages.id = media_files.message_id
                WHERE messages.archive_id = ?
            ),
            updated_at = ?
        WHERE id = ?;
    `

	result, err := s.db.ExecContext(ctx, query, archiveID, archiveID, time.Now().UTC(), archiveID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error recounting archive stats", "archive_id", archiveID, "error", err)
		return fmt.Errorf("failed to recount stats for archive %d: %w", archiveID, err)
	}

	if affected, raErr := result.RowsAffected(); raErr == nil && affected == 0 {
		return fmt.Errorf("archive %d not found", archiveID)
	}

	s.logger.InfoContext(ctx, "Archive stats recounted", "archive_id", archiveID)
	return nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
