// Package export reads Telegram Desktop channel export files (result.json)
// as a historical message source. The export is streamed, not loaded whole;
// media bytes are read from the files bundled next to the export.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/osintarchive/archiver/internal/ingest"
)

// channelIDOffset converts an export's bare channel ID to the Bot API form,
// which prefixes channel IDs with -100.
const channelIDOffset = -1_000_000_000_000

// Reader iterates the messages of one export file in order. It implements
// ingest.MessageIterator and ingest.MediaFetcher.
type Reader struct {
	file    *os.File
	decoder *json.Decoder
	dir     string
	info    ingest.ChannelInfo
	done    bool
}

// exportHeader is the top-level document up to the messages array.
type exportHeader struct {
	Name string `json:"name"`
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// exportMessage is one element of the export's messages array. Telegram
// Desktop encodes text either as a string or as an array of runs.
type exportMessage struct {
	ID           int64           `json:"id"`
	Type         string          `json:"type"`
	DateUnixtime string          `json:"date_unixtime"`
	Text         json.RawMessage `json:"text"`

	Photo           string `json:"photo"`
	File            string `json:"file"`
	FileName        string `json:"file_name"`
	MimeType        string `json:"mime_type"`
	MediaType       string `json:"media_type"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Open opens an export file and positions the reader at its messages array.
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export file: %w", err)
	}

	r := &Reader{
		file:    file,
		decoder: json.NewDecoder(file),
		dir:     filepath.Dir(path),
	}

	if err := r.readHeader(); err != nil {
		file.Close()
		return nil, err
	}

	return r, nil
}

// readHeader consumes top-level fields until the messages array begins.
func (r *Reader) readHeader() error {
	tok, err := r.decoder.Token()
	if err != nil {
		return fmt.Errorf("failed to read export document: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("export file is not a JSON object")
	}

	for r.decoder.More() {
		keyTok, err := r.decoder.Token()
		if err != nil {
			return fmt.Errorf("failed to read export field: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v in export header", keyTok)
		}

		switch key {
		case "name":
			if err := r.decoder.Decode(&r.info.Title); err != nil {
				return fmt.Errorf("failed to decode export name: %w", err)
			}
		case "id":
			var id int64
			if err := r.decoder.Decode(&id); err != nil {
				return fmt.Errorf("failed to decode export id: %w", err)
			}
			r.info.ID = channelIDOffset - id
		case "messages":
			tok, err := r.decoder.Token()
			if err != nil {
				return fmt.Errorf("failed to read messages array: %w", err)
			}
			if delim, ok := tok.(json.Delim); !ok || delim != '[' {
				return fmt.Errorf("export messages field is not an array")
			}
			if r.info.Title == "" {
				return fmt.Errorf("export file has no channel name before messages")
			}
			return nil
		default:
			// Skip unmapped header fields (type, about, ...).
			var skip json.RawMessage
			if err := r.decoder.Decode(&skip); err != nil {
				return fmt.Errorf("failed to skip export field %q: %w", key, err)
			}
		}
	}

	return fmt.Errorf("export file has no messages array")
}

// Channel returns the channel identity recorded in the export header.
func (r *Reader) Channel() ingest.ChannelInfo {
	return r.info
}

// Next returns the next message, skipping service entries. It returns
// ingest.ErrEndOfHistory once the array is exhausted.
func (r *Reader) Next(ctx context.Context) (ingest.SourceMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return ingest.SourceMessage{}, err
		}
		if r.done || !r.decoder.More() {
			r.done = true
			return ingest.SourceMessage{}, ingest.ErrEndOfHistory
		}

		var raw exportMessage
		if err := r.decoder.Decode(&raw); err != nil {
			return ingest.SourceMessage{}, fmt.Errorf("failed to decode export message: %w", err)
		}
		if raw.Type != "message" {
			continue
		}

		msg, err := convertExportMessage(&raw)
		if err != nil {
			return ingest.SourceMessage{}, err
		}
		return msg, nil
	}
}

// FetchMedia reads media bytes from the files bundled with the export. The
// media ref is the path recorded in the export, relative to its directory.
func (r *Reader) FetchMedia(_ context.Context, media *ingest.Media) ([]byte, error) {
	if media == nil || media.Ref == "" {
		return nil, fmt.Errorf("media reference cannot be empty")
	}

	rel := filepath.Clean(media.Ref)
	if filepath.IsAbs(rel) || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("media reference %q escapes the export directory", media.Ref)
	}

	data, err := os.ReadFile(filepath.Join(r.dir, rel))
	if err != nil {
		return nil, fmt.Errorf("failed to read export media %q: %w", media.Ref, err)
	}
	return data, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

func convertExportMessage(raw *exportMessage) (ingest.SourceMessage, error) {
	unix, err := strconv.ParseInt(raw.DateUnixtime, 10, 64)
	if err != nil {
		return ingest.SourceMessage{}, fmt.Errorf("message %d has malformed date_unixtime %q", raw.ID, raw.DateUnixtime)
	}

	msg := ingest.SourceMessage{
		ID:   raw.ID,
		Date: time.Unix(unix, 0).UTC(),
		Text: flattenText(raw.Text),
	}
	msg.Media = extractMedia(raw)

	return msg, nil
}

// flattenText joins the export's text representation into plain text. The
// field is either a string or an array mixing strings and entity objects.
func flattenText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}

	var runs []json.RawMessage
	if err := json.Unmarshal(raw, &runs); err != nil {
		return ""
	}

	var b strings.Builder
	for _, run := range runs {
		var s string
		if err := json.Unmarshal(run, &s); err == nil {
			b.WriteString(s)
			continue
		}
		var entity struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(run, &entity); err == nil {
			b.WriteString(entity.Text)
		}
	}
	return b.String()
}

func extractMedia(raw *exportMessage) *ingest.Media {
	switch {
	case raw.Photo != "":
		return &ingest.Media{
			Kind:     ingest.MediaPhoto,
			Ref:      raw.Photo,
			FileName: filepath.Base(raw.Photo),
			MimeType: "image/jpeg",
			Width:    raw.Width,
			Height:   raw.Height,
		}
	case raw.File != "":
		media := &ingest.Media{
			Kind:     fileKind(raw.MediaType),
			Ref:      raw.File,
			FileName: raw.FileName,
			MimeType: raw.MimeType,
			Width:    raw.Width,
			Height:   raw.Height,
			Duration: raw.DurationSeconds,
		}
		if media.FileName == "" {
			media.FileName = filepath.Base(raw.File)
		}
		return media
	default:
		return nil
	}
}

// fileKind maps the export's media_type names onto the archiver's closed
// media kinds. Unknown types are archived as documents rather than dropped.
func fileKind(mediaType string) ingest.MediaKind {
	switch mediaType {
	case "video_file", "video_message", "animation":
		return ingest.MediaVideo
	case "audio_file", "voice_message":
		return ingest.MediaAudio
	default:
		return ingest.MediaDocument
	}
}
