package ingest

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// Queue is a bounded, in-order dispatch queue between the coordinator and a
// downstream enrichment hook. Enqueueing never blocks ingestion: when the
// queue is full the notification is dropped with a warning, since enrichment
// is best-effort and reconcilable downstream.
type Queue struct {
	hook   Hook
	events chan int64
	logger *slog.Logger

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

// NewQueue creates a queue of the given capacity in front of hook and starts
// its single dispatch worker, preserving enqueue order.
func NewQueue(hook Hook, capacity int, logger *slog.Logger) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	q := &Queue{
		hook:   hook,
		events: make(chan int64, capacity),
		logger: logger.With("component", "enrichment_queue"),
		done:   make(chan struct{}),
	}

	q.wg.Add(1)
	go q.dispatch()

	return q
}

// MessageIngested implements Hook by queueing the message ID for the
// downstream hook.
func (q *Queue) MessageIngested(ctx context.Context, messageID int64) error {
	select {
	case q.events <- messageID:
		return nil
	default:
		q.logger.WarnContext(ctx, "Enrichment queue full, dropping notification",
			"message_id", messageID)
		return nil
	}
}

func (q *Queue) dispatch() {
	defer q.wg.Done()

	for {
		select {
		case <-q.done:
			// Drain anything already queued before exiting.
			for {
				select {
				case id := <-q.events:
					q.deliver(id)
				default:
					return
				}
			}
		case id := <-q.events:
			q.deliver(id)
		}
	}
}

func (q *Queue) deliver(messageID int64) {
	if err := q.hook.MessageIngested(context.Background(), messageID); err != nil {
		q.logger.Warn("Enrichment hook failed", "message_id", messageID, "error", err)
	}
}

// Close stops the dispatch worker after draining queued notifications.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
}
