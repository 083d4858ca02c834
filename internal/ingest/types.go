// Package ingest implements the message ingestion pipeline: deduplication,
// metadata persistence, and content-addressed media archival.
package ingest

import (
	"context"
	"errors"
	"time"
)

// MediaKind is the closed set of media categories a source adapter can
// produce. Unsupported covers anything the archiver does not handle.
type MediaKind int

const (
	MediaUnsupported MediaKind = iota
	MediaPhoto
	MediaVideo
	MediaAudio
	MediaDocument
)

// String returns the persisted name of the media kind.
func (k MediaKind) String() string {
	switch k {
	case MediaPhoto:
		return "photo"
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	case MediaDocument:
		return "document"
	default:
		return "unsupported"
	}
}

// Media describes a message attachment as reported by the source, before
// any bytes are fetched.
type Media struct {
	Kind     MediaKind
	Ref      string // opaque source reference used to fetch the bytes
	FileName string
	MimeType string
	Size     int64
	Width    int
	Height   int
	Duration int // seconds, for audio/video
}

// Forward holds forward provenance for forwarded messages.
type Forward struct {
	FromChannelID int64
	FromMessageID int64
}

// SourceMessage is one message as delivered by the channel source.
type SourceMessage struct {
	ID   int64
	Date time.Time
	Text string

	Media   *Media
	Forward *Forward

	Views     int64
	Forwards  int64
	Replies   int64
	Reactions map[string]int64 // per-emoji counts; total is their sum
}

// ChannelInfo is the resolved identity of a channel.
type ChannelInfo struct {
	ID          int64
	Username    string
	Title       string
	Description string
}

// ErrEndOfHistory is returned by a MessageIterator when the historical
// sequence is exhausted.
var ErrEndOfHistory = errors.New("end of history")

// ChannelResolver resolves a channel identifier to channel metadata.
// Failure to resolve is fatal for the whole operation.
type ChannelResolver interface {
	ResolveChannel(ctx context.Context, identifier string) (ChannelInfo, error)
}

// ContentStore is the content-addressed storage capability the coordinator
// needs: an idempotent put returning the storage key and hex digest.
// Satisfied by *storage.Store.
type ContentStore interface {
	Put(ctx context.Context, data []byte, originalName, contentType string) (key, sha256Hex string, err error)
}

// MediaFetcher fetches the raw bytes for a media reference. Implementations
// must return the complete byte stream; the coordinator never writes a
// partially fetched object to storage.
type MediaFetcher interface {
	FetchMedia(ctx context.Context, media *Media) ([]byte, error)
}

// MessageIterator yields historical messages in the order the source
// delivers them. Next returns ErrEndOfHistory when the sequence ends.
type MessageIterator interface {
	Next(ctx context.Context) (SourceMessage, error)
}

// Hook receives the database ID of each newly persisted message. It is the
// boundary to the downstream enrichment pipeline, which owns all scoring
// and classification fields.
type Hook interface {
	MessageIngested(ctx context.Context, messageID int64) error
}
