package database_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/osintarchive/archiver/internal/database"
)

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	return database.NewStore(db, nil)
}

func mustCreateArchive(t *testing.T, store database.Store, channelID int64) *database.Archive {
	t.Helper()

	archive, err := store.GetOrCreateArchive(context.Background(), channelID, "testchan", "Test Channel", "")
	if err != nil {
		t.Fatalf("GetOrCreateArchive failed: %v", err)
	}
	return archive
}

func testMessage(archiveID, messageID int64, date time.Time) *database.Message {
	return &database.Message{
		ArchiveID:   archiveID,
		MessageID:   messageID,
		MessageDate: date,
	}
}

func digestOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestGetOrCreateArchive(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.GetOrCreateArchive(ctx, 100, "chan", "Channel", "about")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if first.ID == 0 {
		t.Error("new archive should have a row ID")
	}
	if !first.IsActive {
		t.Error("new archive should be active")
	}
	if first.TotalMessages != 0 || first.TotalMediaFiles != 0 {
		t.Error("new archive counters should start at zero")
	}

	second, err := store.GetOrCreateArchive(ctx, 100, "renamed", "Renamed", "")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected existing archive %d, got %d", first.ID, second.ID)
	}
	if second.ChannelTitle != "Channel" {
		t.Errorf("existing archive metadata should be returned as stored, got title %q", second.ChannelTitle)
	}
}

func TestGetOrCreateArchiveValidation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetOrCreateArchive(ctx, 0, "u", "Title", ""); err == nil {
		t.Error("zero channel_id should be rejected")
	}
	if _, err := store.GetOrCreateArchive(ctx, 5, "u", "", ""); err == nil {
		t.Error("empty title should be rejected")
	}
}

func TestGetArchiveNotFound(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	archive, err := store.GetArchive(context.Background(), 999)
	if err != nil {
		t.Fatalf("GetArchive failed: %v", err)
	}
	if archive != nil {
		t.Errorf("expected nil for unknown channel, got %+v", archive)
	}
}

func TestInsertMessageDuplicate(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	archive := mustCreateArchive(t, store, 200)
	date := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := store.InsertMessage(ctx, testMessage(archive.ID, 1, date)); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	err := store.InsertMessage(ctx, testMessage(archive.ID, 1, date))
	if !errors.Is(err, database.ErrDuplicateMessage) {
		t.Fatalf("second insert error = %v, want ErrDuplicateMessage", err)
	}

	// The same message ID under a different archive is a distinct message.
	other := mustCreateArchive(t, store, 201)
	if err := store.InsertMessage(ctx, testMessage(other.ID, 1, date)); err != nil {
		t.Fatalf("insert under different archive failed: %v", err)
	}

	exists, err := store.MessageExists(ctx, archive.ID, 1)
	if err != nil || !exists {
		t.Errorf("MessageExists = %v, %v, want true", exists, err)
	}
	exists, err = store.MessageExists(ctx, archive.ID, 2)
	if err != nil || exists {
		t.Errorf("MessageExists for absent message = %v, %v, want false", exists, err)
	}
}

func TestAttachMediaUpdatesMessageType(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	archive := mustCreateArchive(t, store, 300)
	date := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

	msg := testMessage(archive.ID, 10, date)
	msg.HasMedia = true
	if err := store.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	media := &database.MediaFile{
		SHA256:     digestOf("photo bytes"),
		StorageKey: "media/ab/cd/abcd.jpg",
		MimeType:   "image/jpeg",
		FileSize:   512,
		MediaType:  "photo",
	}
	if err := store.AttachMedia(ctx, msg.ID, media); err != nil {
		t.Fatalf("AttachMedia failed: %v", err)
	}

	stored, err := store.GetMessage(ctx, archive.ID, 10)
	if err != nil || stored == nil {
		t.Fatalf("GetMessage failed: %v, %v", stored, err)
	}
	if !stored.MediaType.Valid || stored.MediaType.String != "photo" {
		t.Errorf("media_type = %+v, want photo", stored.MediaType)
	}

	files, err := store.GetMediaForMessage(ctx, msg.ID)
	if err != nil {
		t.Fatalf("GetMediaForMessage failed: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("media rows = %d, want 1", len(files))
	}
	if files[0].UploadStatus != database.UploadStatusUploaded {
		t.Errorf("upload_status = %q, want uploaded", files[0].UploadStatus)
	}
}

func TestAttachMediaDeduplicatesContent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	archive := mustCreateArchive(t, store, 301)
	date := time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)

	msgA := testMessage(archive.ID, 20, date)
	msgB := testMessage(archive.ID, 21, date.Add(time.Minute))
	for _, m := range []*database.Message{msgA, msgB} {
		m.HasMedia = true
		if err := store.InsertMessage(ctx, m); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	shared := digestOf("same bytes either way")
	for i, m := range []*database.Message{msgA, msgB} {
		media := &database.MediaFile{
			SHA256:     shared,
			StorageKey: "media/de/ad/deadbeef.png",
			MimeType:   "image/png",
			FileSize:   128,
			MediaType:  "photo",
		}
		if err := store.AttachMedia(ctx, m.ID, media); err != nil {
			t.Fatalf("AttachMedia #%d failed: %v", i+1, err)
		}
	}

	// The duplicate hash keeps the first metadata row and still updates the
	// second message's media_type.
	files, err := store.GetMediaForMessage(ctx, msgA.ID)
	if err != nil {
		t.Fatalf("GetMediaForMessage failed: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("first message media rows = %d, want 1", len(files))
	}

	storedB, err := store.GetMessage(ctx, archive.ID, 21)
	if err != nil || storedB == nil {
		t.Fatalf("GetMessage failed: %v, %v", storedB, err)
	}
	if !storedB.MediaType.Valid || storedB.MediaType.String != "photo" {
		t.Errorf("second message media_type = %+v, want photo", storedB.MediaType)
	}
}

func TestAttachMediaValidation(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AttachMedia(ctx, 1, nil); err == nil {
		t.Error("nil media should be rejected")
	}
	if err := store.AttachMedia(ctx, 1, &database.MediaFile{SHA256: "short", StorageKey: "k"}); err == nil {
		t.Error("malformed sha256 should be rejected")
	}
	if err := store.AttachMedia(ctx, 1, &database.MediaFile{SHA256: digestOf("x")}); err == nil {
		t.Error("empty storage_key should be rejected")
	}
}

func TestUpdateArchiveStats(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	archive := mustCreateArchive(t, store, 400)

	newer := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	older := newer.Add(-48 * time.Hour)

	if err := store.UpdateArchiveStats(ctx, archive.ID, 2, 1, newer); err != nil {
		t.Fatalf("UpdateArchiveStats failed: %v", err)
	}
	// A backfilled older message bumps counters but must not regress
	// last_message_date.
	if err := store.UpdateArchiveStats(ctx, archive.ID, 1, 0, older); err != nil {
		t.Fatalf("UpdateArchiveStats with older date failed: %v", err)
	}

	got, err := store.GetArchive(ctx, archive.ChannelID)
	if err != nil {
		t.Fatalf("GetArchive failed: %v", err)
	}
	if got.TotalMessages != 3 {
		t.Errorf("total_messages = %d, want 3", got.TotalMessages)
	}
	if got.TotalMediaFiles != 1 {
		t.Errorf("total_media_files = %d, want 1", got.TotalMediaFiles)
	}
	if !got.LastMessageDate.Valid || !got.LastMessageDate.Time.Equal(newer) {
		t.Errorf("last_message_date = %+v, want %v", got.LastMessageDate, newer)
	}
}

func TestUpdateArchiveStatsRejectsNegativeDeltas(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	archive := mustCreateArchive(t, store, 401)

	if err := store.UpdateArchiveStats(context.Background(), archive.ID, -1, 0, time.Now()); err == nil {
		t.Error("negative message delta should be rejected")
	}
	if err := store.UpdateArchiveStats(context.Background(), archive.ID, 0, -1, time.Now()); err == nil {
		t.Error("negative media delta should be rejected")
	}
}

func TestUpdateArchiveStatsUnknownArchive(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	if err := store.UpdateArchiveStats(context.Background(), 12345, 1, 0, time.Now()); err == nil {
		t.Error("unknown archive should be an error")
	}
}

func TestRecountArchiveStats(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	archive := mustCreateArchive(t, store, 500)
	date := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)

	for i := int64(1); i <= 3; i++ {
		msg := testMessage(archive.ID, i, date.Add(time.Duration(i)*time.Minute))
		if err := store.InsertMessage(ctx, msg); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
		if i == 1 {
			media := &database.MediaFile{
				SHA256:     digestOf("recount media"),
				StorageKey: "media/aa/bb/aabb.bin",
				MimeType:   "application/octet-stream",
				FileSize:   64,
				MediaType:  "document",
			}
			if err := store.AttachMedia(ctx, msg.ID, media); err != nil {
				t.Fatalf("AttachMedia failed: %v", err)
			}
		}
	}

	// Drift the counters, then reconcile from the actual rows.
	if err := store.UpdateArchiveStats(ctx, archive.ID, 10, 10, date); err != nil {
		t.Fatalf("UpdateArchiveStats failed: %v", err)
	}
	if err := store.RecountArchiveStats(ctx, archive.ID); err != nil {
		t.Fatalf("RecountArchiveStats failed: %v", err)
	}

	got, err := store.GetArchive(ctx, archive.ChannelID)
	if err != nil {
		t.Fatalf("GetArchive failed: %v", err)
	}
	if got.TotalMessages != 3 {
		t.Errorf("total_messages after recount = %d, want 3", got.TotalMessages)
	}
	if got.TotalMediaFiles != 1 {
		t.Errorf("total_media_files after recount = %d, want 1", got.TotalMediaFiles)
	}
}

func TestListActiveArchives(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	mustCreateArchive(t, store, 600)
	mustCreateArchive(t, store, 601)

	archives, err := store.ListActiveArchives(context.Background())
	if err != nil {
		t.Fatalf("ListActiveArchives failed: %v", err)
	}
	if len(archives) != 2 {
		t.Errorf("active archives = %d, want 2", len(archives))
	}
}

func TestRunSQLMaintenance(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)

	if err := store.RunSQLMaintenance(context.Background()); err != nil {
		t.Fatalf("RunSQLMaintenance failed: %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := store.RunSQLMaintenance(cancelled); err == nil {
		t.Error("cancelled context should abort maintenance")
	}
}
