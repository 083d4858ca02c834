package ingest_test

import (
	"context"
	"sync"
	"testing"

	"github.com/osintarchive/archiver/internal/ingest"
)

type blockingHook struct {
	mu      sync.Mutex
	ids     []int64
	release chan struct{}
}

func (h *blockingHook) MessageIngested(_ context.Context, messageID int64) error {
	if h.release != nil {
		<-h.release
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ids = append(h.ids, messageID)
	return nil
}

func (h *blockingHook) snapshot() []int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int64(nil), h.ids...)
}

func TestQueueDeliversInOrder(t *testing.T) {
	t.Parallel()

	hook := &blockingHook{}
	q := ingest.NewQueue(hook, 16, nil)

	ctx := context.Background()
	for i := int64(1); i <= 10; i++ {
		if err := q.MessageIngested(ctx, i); err != nil {
			t.Fatalf("MessageIngested(%d) failed: %v", i, err)
		}
	}
	q.Close()

	got := hook.snapshot()
	if len(got) != 10 {
		t.Fatalf("delivered %d notifications, want 10", len(got))
	}
	for i, id := range got {
		if id != int64(i+1) {
			t.Fatalf("delivery order broken at %d: got %d", i, id)
		}
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	t.Parallel()

	hook := &blockingHook{release: make(chan struct{})}
	q := ingest.NewQueue(hook, 1, nil)

	// The worker blocks on the first delivery; once the buffer also holds
	// one pending ID, further enqueues must drop without blocking ingestion.
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		if err := q.MessageIngested(ctx, i); err != nil {
			t.Fatalf("MessageIngested(%d) failed: %v", i, err)
		}
	}

	close(hook.release)
	q.Close()

	got := hook.snapshot()
	if len(got) == 0 || len(got) > 3 {
		t.Fatalf("delivered %d notifications, want between 1 and 3", len(got))
	}
}
