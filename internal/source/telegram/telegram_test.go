package telegram

import (
	"testing"
	"time"

	"github.com/go-telegram/bot/models"

	"github.com/osintarchive/archiver/internal/ingest"
)

func TestConvertMessageText(t *testing.T) {
	t.Parallel()

	post := &models.Message{
		ID:   42,
		Date: 1717243200, // 2024-06-01T12:00:00Z
		Text: "breaking report",
		Chat: models.Chat{ID: -1001234},
	}

	msg := convertMessage(post)

	if msg.ID != 42 {
		t.Errorf("ID = %d, want 42", msg.ID)
	}
	want := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if !msg.Date.Equal(want) {
		t.Errorf("Date = %v, want %v", msg.Date, want)
	}
	if msg.Text != "breaking report" {
		t.Errorf("Text = %q", msg.Text)
	}
	if msg.Media != nil || msg.Forward != nil {
		t.Error("plain text post should carry no media or forward")
	}
}

func TestConvertMessageCaptionFallback(t *testing.T) {
	t.Parallel()

	post := &models.Message{
		ID:      7,
		Date:    1717243200,
		Caption: "photo caption",
		Photo: []models.PhotoSize{
			{FileID: "small", Width: 90, Height: 60},
			{FileID: "large", Width: 1280, Height: 720},
		},
	}

	msg := convertMessage(post)

	if msg.Text != "photo caption" {
		t.Errorf("Text = %q, want caption fallback", msg.Text)
	}
	if msg.Media == nil {
		t.Fatal("photo post should carry media")
	}
	if msg.Media.Kind != ingest.MediaPhoto {
		t.Errorf("Kind = %v, want photo", msg.Media.Kind)
	}
	if msg.Media.Ref != "large" {
		t.Errorf("Ref = %q, want the largest size", msg.Media.Ref)
	}
	if msg.Media.Width != 1280 || msg.Media.Height != 720 {
		t.Errorf("dimensions = %dx%d, want 1280x720", msg.Media.Width, msg.Media.Height)
	}
}

func TestExtractMediaKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		post     *models.Message
		wantKind ingest.MediaKind
		wantRef  string
	}{
		{
			name:     "video",
			post:     &models.Message{Video: &models.Video{FileID: "vid", Duration: 30, MimeType: "video/mp4"}},
			wantKind: ingest.MediaVideo,
			wantRef:  "vid",
		},
		{
			name:     "animation archived as video",
			post:     &models.Message{Animation: &models.Animation{FileID: "anim", MimeType: "video/mp4"}},
			wantKind: ingest.MediaVideo,
			wantRef:  "anim",
		},
		{
			name:     "audio",
			post:     &models.Message{Audio: &models.Audio{FileID: "aud", MimeType: "audio/mpeg"}},
			wantKind: ingest.MediaAudio,
			wantRef:  "aud",
		},
		{
			name:     "voice archived as audio",
			post:     &models.Message{Voice: &models.Voice{FileID: "voi", MimeType: "audio/ogg"}},
			wantKind: ingest.MediaAudio,
			wantRef:  "voi",
		},
		{
			name:     "document",
			post:     &models.Message{Document: &models.Document{FileID: "doc", FileName: "report.pdf"}},
			wantKind: ingest.MediaDocument,
			wantRef:  "doc",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			media := extractMedia(tc.post)
			if media == nil {
				t.Fatal("expected media")
			}
			if media.Kind != tc.wantKind {
				t.Errorf("Kind = %v, want %v", media.Kind, tc.wantKind)
			}
			if media.Ref != tc.wantRef {
				t.Errorf("Ref = %q, want %q", media.Ref, tc.wantRef)
			}
		})
	}
}

func TestExtractForward(t *testing.T) {
	t.Parallel()

	post := &models.Message{
		ForwardOrigin: &models.MessageOrigin{
			Type: models.MessageOriginTypeChannel,
			MessageOriginChannel: &models.MessageOriginChannel{
				Chat:      models.Chat{ID: -1009999},
				MessageID: 314,
			},
		},
	}

	fwd := extractForward(post)
	if fwd == nil {
		t.Fatal("expected forward provenance")
	}
	if fwd.FromChannelID != -1009999 || fwd.FromMessageID != 314 {
		t.Errorf("forward = %+v", fwd)
	}

	// Forwards from users carry no channel provenance.
	post.ForwardOrigin = &models.MessageOrigin{Type: models.MessageOriginTypeUser}
	if extractForward(post) != nil {
		t.Error("user forward should yield no provenance")
	}
}
