package display

import (
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"trial-capture-recorder/trial"
)

// TestFeedNeverBlocks verifies publishing with no consumer drops instead
// of stalling the capture pipeline.
func TestFeedNeverBlocks(t *testing.T) {
	feed := NewFeed(2, zaptest.NewLogger(t))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			feed.Frame(&trial.Frame{Index: i})
			feed.Progress("still going")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publishing blocked with no consumer")
	}

	if feed.Dropped() == 0 {
		t.Error("expected dropped updates with a full buffer and no consumer")
	}
}

// TestFeedDeliversToConsumer verifies updates reach a listening consumer
// in order.
func TestFeedDeliversToConsumer(t *testing.T) {
	feed := NewFeed(4, zaptest.NewLogger(t))

	feed.Frame(&trial.Frame{Index: 3})
	feed.Progress("trial 0: frame 3 of 10")

	update := <-feed.Updates()
	if update.Frame == nil || update.Frame.Index != 3 {
		t.Errorf("first update = %+v, want frame 3", update)
	}
	update = <-feed.Updates()
	if update.Progress != "trial 0: frame 3 of 10" {
		t.Errorf("second update progress = %q", update.Progress)
	}
}
