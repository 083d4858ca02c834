package ingest

import (
	"context"
	"time"
)

// LimitIterator caps an iterator at n messages. A non-positive n passes the
// underlying iterator through unchanged.
func LimitIterator(iter MessageIterator, n int) MessageIterator {
	if n <= 0 {
		return iter
	}
	return &limitIterator{iter: iter, remaining: n}
}

type limitIterator struct {
	iter      MessageIterator
	remaining int
}

func (it *limitIterator) Next(ctx context.Context) (SourceMessage, error) {
	if it.remaining <= 0 {
		return SourceMessage{}, ErrEndOfHistory
	}
	msg, err := it.iter.Next(ctx)
	if err != nil {
		return SourceMessage{}, err
	}
	it.remaining--
	return msg, nil
}

// SinceIterator drops messages dated before cutoff. A zero cutoff passes the
// underlying iterator through unchanged.
func SinceIterator(iter MessageIterator, cutoff time.Time) MessageIterator {
	if cutoff.IsZero() {
		return iter
	}
	return &sinceIterator{iter: iter, cutoff: cutoff}
}

type sinceIterator struct {
	iter   MessageIterator
	cutoff time.Time
}

func (it *sinceIterator) Next(ctx context.Context) (SourceMessage, error) {
	for {
		msg, err := it.iter.Next(ctx)
		if err != nil {
			return SourceMessage{}, err
		}
		if msg.Date.Before(it.cutoff) {
			continue
		}
		return msg, nil
	}
}
