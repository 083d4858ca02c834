// Package telegram adapts the Telegram Bot API to the ingestion pipeline's
// source contracts: channel resolution, real-time channel post delivery, and
// media byte fetching.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/osintarchive/archiver/internal/config"
	"github.com/osintarchive/archiver/internal/ingest"
	"github.com/osintarchive/archiver/internal/resilience"
)

const (
	// eventBuffer bounds each subscriber channel. A slow consumer backs up
	// into the bot's update loop rather than dropping posts.
	eventBuffer = 64

	fileDownloadTimeout = 5 * time.Minute
)

// Source connects to Telegram over the Bot API and feeds channel posts to
// subscribers keyed by channel ID. It implements ingest.ChannelResolver and
// ingest.MediaFetcher.
type Source struct {
	bot     *bot.Bot
	token   string
	client  *http.Client
	logger  *slog.Logger
	breaker *resilience.Breaker
	retry   resilience.RetryConfig

	mu   sync.RWMutex
	subs map[int64]chan ingest.SourceMessage
}

// New creates a Source from the Telegram configuration. The bot does not
// poll until Run is called.
func New(cfg *config.TelegramConfig, logger *slog.Logger) (*Source, error) {
	if cfg == nil || cfg.Token == "" {
		return nil, fmt.Errorf("telegram token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	log := logger.With("component", "telegram_source")
	s := &Source{
		token:  cfg.Token,
		client: http.DefaultClient,
		logger: log,
		breaker: resilience.NewBreaker(resilience.BreakerConfig{
			Name: "telegram_files",
		}, log),
		retry: resilience.DefaultRetryConfig(),
		subs:  make(map[int64]chan ingest.SourceMessage),
	}

	b, err := bot.New(cfg.Token, bot.WithDefaultHandler(s.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	s.bot = b

	return s, nil
}

// Run starts long polling and blocks until ctx is cancelled.
func (s *Source) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting Telegram long polling")
	s.bot.Start(ctx)
	s.logger.InfoContext(ctx, "Telegram long polling stopped")
	return nil
}

// Subscribe returns the event channel for a channel ID, creating it on
// first use. The channel is closed by Close.
func (s *Source) Subscribe(channelID int64) <-chan ingest.SourceMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.subs[channelID]
	if !ok {
		ch = make(chan ingest.SourceMessage, eventBuffer)
		s.subs[channelID] = ch
	}
	return ch
}

// Close closes all subscriber channels. Call only after Run has returned.
func (s *Source) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

// ResolveChannel resolves "@username" or a numeric chat ID to channel
// metadata via GetChat.
func (s *Source) ResolveChannel(ctx context.Context, identifier string) (ingest.ChannelInfo, error) {
	if identifier == "" {
		return ingest.ChannelInfo{}, fmt.Errorf("channel identifier cannot be empty")
	}

	var chatID any = identifier
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		chatID = id
	} else if !strings.HasPrefix(identifier, "@") {
		chatID = "@" + identifier
	}

	chat, err := s.bot.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
	if err != nil {
		return ingest.ChannelInfo{}, fmt.Errorf("failed to resolve channel %q: %w", identifier, err)
	}

	info := ingest.ChannelInfo{
		ID:          chat.ID,
		Username:    chat.Username,
		Title:       chat.Title,
		Description: chat.Description,
	}

	s.logger.InfoContext(ctx, "Resolved channel",
		"identifier", identifier, "channel_id", info.ID, "title", info.Title)
	return info, nil
}

// FetchMedia downloads the media bytes behind a Telegram file reference.
// Transient download failures are retried with backoff; sustained failures
// trip a circuit breaker so metadata ingestion keeps flowing.
func (s *Source) FetchMedia(ctx context.Context, media *ingest.Media) ([]byte, error) {
	if media == nil || media.Ref == "" {
		return nil, fmt.Errorf("media reference cannot be empty")
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("context cancelled before file download: %w", ctx.Err())
	}

	downloadCtx, cancel := context.WithTimeout(ctx, fileDownloadTimeout)
	defer cancel()

	var data []byte
	err := resilience.Retry(downloadCtx, s.retry, func(ctx context.Context) error {
		return s.breaker.Execute(ctx, func(ctx context.Context) error {
			var fetchErr error
			data, fetchErr = s.downloadFile(ctx, media.Ref)
			return fetchErr
		})
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// downloadFile performs one GetFile lookup and HTTP download.
func (s *Source) downloadFile(ctx context.Context, fileID string) (data []byte, err error) {
	fileObj, err := s.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("failed to get file info from Telegram: %w", err)
	}
	if fileObj.FilePath == "" {
		return nil, fmt.Errorf("empty file path returned from Telegram for file ID %s", fileID)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", s.token, fileObj.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close download response body: %w", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d downloading file %s: %s",
			resp.StatusCode, fileID, string(body))
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file body for %s: %w", fileID, err)
	}

	return data, nil
}

// handleUpdate routes channel posts to their subscriber. Posts for channels
// with no subscriber are ignored; the bot may sit in channels it is not
// configured to archive.
func (s *Source) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	post := update.ChannelPost
	if post == nil {
		return
	}

	s.mu.RLock()
	ch, ok := s.subs[post.Chat.ID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	msg := convertMessage(post)
	select {
	case ch <- msg:
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Dropping channel post, shutdown in progress",
			"channel_id", post.Chat.ID, "message_id", msg.ID)
	}
}

// convertMessage maps a Telegram channel post onto the source contract.
// Engagement counters are not exposed over the Bot API and stay zero.
func convertMessage(post *models.Message) ingest.SourceMessage {
	msg := ingest.SourceMessage{
		ID:   int64(post.ID),
		Date: time.Unix(int64(post.Date), 0).UTC(),
		Text: post.Text,
	}
	if msg.Text == "" {
		msg.Text = post.Caption
	}

	msg.Media = extractMedia(post)
	msg.Forward = extractForward(post)

	return msg
}

// extractMedia classifies the post's attachment. Telegram reports at most
// one attachment per message; albums arrive as separate messages.
func extractMedia(post *models.Message) *ingest.Media {
	switch {
	case len(post.Photo) > 0:
		// Sizes are ordered smallest first; archive the original resolution.
		photo := post.Photo[len(post.Photo)-1]
		return &ingest.Media{
			Kind:     ingest.MediaPhoto,
			Ref:      photo.FileID,
			FileName: "photo.jpg",
			MimeType: "image/jpeg",
			Size:     int64(photo.FileSize),
			Width:    photo.Width,
			Height:   photo.Height,
		}
	case post.Video != nil:
		return &ingest.Media{
			Kind:     ingest.MediaVideo,
			Ref:      post.Video.FileID,
			FileName: post.Video.FileName,
			MimeType: post.Video.MimeType,
			Size:     int64(post.Video.FileSize),
			Width:    post.Video.Width,
			Height:   post.Video.Height,
			Duration: post.Video.Duration,
		}
	case post.Animation != nil:
		return &ingest.Media{
			Kind:     ingest.MediaVideo,
			Ref:      post.Animation.FileID,
			FileName: post.Animation.FileName,
			MimeType: post.Animation.MimeType,
			Size:     int64(post.Animation.FileSize),
			Width:    post.Animation.Width,
			Height:   post.Animation.Height,
			Duration: post.Animation.Duration,
		}
	case post.Audio != nil:
		return &ingest.Media{
			Kind:     ingest.MediaAudio,
			Ref:      post.Audio.FileID,
			FileName: post.Audio.FileName,
			MimeType: post.Audio.MimeType,
			Size:     int64(post.Audio.FileSize),
			Duration: post.Audio.Duration,
		}
	case post.Voice != nil:
		return &ingest.Media{
			Kind:     ingest.MediaAudio,
			Ref:      post.Voice.FileID,
			FileName: "voice.ogg",
			MimeType: post.Voice.MimeType,
			Size:     int64(post.Voice.FileSize),
			Duration: post.Voice.Duration,
		}
	case post.Document != nil:
		return &ingest.Media{
			Kind:     ingest.MediaDocument,
			Ref:      post.Document.FileID,
			FileName: post.Document.FileName,
			MimeType: post.Document.MimeType,
			Size:     int64(post.Document.FileSize),
		}
	default:
		return nil
	}
}

// extractForward records provenance for posts forwarded from other channels.
// Forwards from users or hidden senders carry no channel provenance.
func extractForward(post *models.Message) *ingest.Forward {
	origin := post.ForwardOrigin
	if origin == nil || origin.Type != models.MessageOriginTypeChannel {
		return nil
	}
	channel := origin.MessageOriginChannel
	if channel == nil {
		return nil
	}
	return &ingest.Forward{
		FromChannelID: channel.Chat.ID,
		FromMessageID: int64(channel.MessageID),
	}
}
