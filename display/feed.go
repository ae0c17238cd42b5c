package display

import (
	"sync/atomic"

	"go.uber.org/zap"

	"trial-capture-recorder/trial"
)

// Update is one item on the preview feed: a decimated frame, a progress
// string, or both.
type Update struct {
	Frame    *trial.Frame
	Progress string
}

// Feed is a non-blocking fan-out of preview updates. Publishers (the
// capture worker and the trial controller) never wait on a consumer: when
// the buffer is full the update is dropped and counted. A preview that
// skips frames is fine; a capture loop stalled on rendering is not.
type Feed struct {
	ch      chan Update
	logger  *zap.Logger
	dropped atomic.Uint64
}

// NewFeed creates a feed with the given buffer capacity.
func NewFeed(capacity int, logger *zap.Logger) *Feed {
	if capacity <= 0 {
		capacity = 1
	}
	return &Feed{
		ch:     make(chan Update, capacity),
		logger: logger,
	}
}

// Frame publishes a preview frame without blocking.
func (f *Feed) Frame(frame *trial.Frame) {
	select {
	case f.ch <- Update{Frame: frame}:
	default:
		f.dropped.Add(1)
	}
}

// Progress publishes a progress string without blocking.
func (f *Feed) Progress(text string) {
	select {
	case f.ch <- Update{Progress: text}:
	default:
		f.dropped.Add(1)
	}
}

// Updates returns the consumer side of the feed.
func (f *Feed) Updates() <-chan Update {
	return f.ch
}

// Dropped returns how many updates were discarded because no consumer
// kept up.
func (f *Feed) Dropped() uint64 {
	return f.dropped.Load()
}
