package ingest_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/osintarchive/archiver/internal/ingest"
)

func drain(t *testing.T, iter ingest.MessageIterator) []ingest.SourceMessage {
	t.Helper()

	var out []ingest.SourceMessage
	for {
		msg, err := iter.Next(context.Background())
		if errors.Is(err, ingest.ErrEndOfHistory) {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, msg)
	}
}

func TestLimitIterator(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	messages := []ingest.SourceMessage{
		{ID: 1, Date: base},
		{ID: 2, Date: base.Add(time.Minute)},
		{ID: 3, Date: base.Add(2 * time.Minute)},
	}

	got := drain(t, ingest.LimitIterator(&sliceIterator{messages: messages}, 2))
	if len(got) != 2 || got[0].ID != 1 || got[1].ID != 2 {
		t.Errorf("limited iteration = %+v", got)
	}

	got = drain(t, ingest.LimitIterator(&sliceIterator{messages: messages}, 0))
	if len(got) != 3 {
		t.Errorf("non-positive limit should pass through, got %d messages", len(got))
	}
}

func TestSinceIterator(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	messages := []ingest.SourceMessage{
		{ID: 1, Date: base.Add(-time.Hour)},
		{ID: 2, Date: base},
		{ID: 3, Date: base.Add(time.Hour)},
	}

	got := drain(t, ingest.SinceIterator(&sliceIterator{messages: messages}, base))
	if len(got) != 2 || got[0].ID != 2 {
		t.Errorf("windowed iteration = %+v", got)
	}

	got = drain(t, ingest.SinceIterator(&sliceIterator{messages: messages}, time.Time{}))
	if len(got) != 3 {
		t.Errorf("zero cutoff should pass through, got %d messages", len(got))
	}
}
