package database

import (
	"database/sql"
	"time"
)

// Media upload status values recorded on MediaFile rows.
const (
	UploadStatusPending  = "pending"
	UploadStatusUploaded = "uploaded"
)

// Archive represents one monitored channel being archived.
// It tracks channel metadata, monitoring status, and running statistics.
type Archive struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	ChannelID          int64          `db:"channel_id"`
	ChannelUsername    sql.NullString `db:"channel_username"`
	ChannelTitle       string         `db:"channel_title"`
	ChannelDescription sql.NullString `db:"channel_description"`

	IsActive        bool         `db:"is_active"`
	LastMessageDate sql.NullTime `db:"last_message_date"`

	TotalMessages   int64 `db:"total_messages"`
	TotalMediaFiles int64 `db:"total_media_files"`
}

// Message represents one archived source message. The pair
// (ArchiveID, MessageID) is unique and is the deduplication key.
// Enrichment columns (spam/score/topics/sentiment) are owned by the
// downstream enrichment pipeline and are not mapped here.
type Message struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	ArchiveID   int64     `db:"archive_id"`
	MessageID   int64     `db:"message_id"`
	MessageDate time.Time `db:"message_date"`

	Text     sql.NullString `db:"text"`
	HasMedia bool           `db:"has_media"`
	// MediaType stays NULL until a media file is attached.
	MediaType sql.NullString `db:"media_type"`

	IsForwarded          bool          `db:"is_forwarded"`
	ForwardFromChannelID sql.NullInt64 `db:"forward_from_channel_id"`
	ForwardFromMessageID sql.NullInt64 `db:"forward_from_message_id"`

	ViewsCount     sql.NullInt64 `db:"views_count"`
	ForwardsCount  sql.NullInt64 `db:"forwards_count"`
	RepliesCount   sql.NullInt64 `db:"replies_count"`
	ReactionsCount sql.NullInt64 `db:"reactions_count"`
}

// MediaFile represents a media attachment stored in the content-addressed
// object store. SHA256 is globally unique: bit-identical content shares one
// stored blob and one metadata row.
type MediaFile struct {
	ID        int64     `db:"id"`
	CreatedAt time.Time `db:"created_at"`

	MessageID  int64  `db:"message_id"`
	SHA256     string `db:"sha256"`
	StorageKey string `db:"storage_key"`

	MimeType string         `db:"mime_type"`
	FileSize int64          `db:"file_size"`
	FileName sql.NullString `db:"file_name"`

	MediaType string        `db:"media_type"`
	Width     sql.NullInt64 `db:"width"`
	Height    sql.NullInt64 `db:"height"`
	Duration  sql.NullInt64 `db:"duration"`

	UploadStatus string `db:"upload_status"`
}
