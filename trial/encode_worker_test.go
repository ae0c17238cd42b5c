package trial

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// TestEncodeCloseIsBarrier verifies every frame pushed before the
// sentinel is written before Close, and Close is the last sink call.
func TestEncodeCloseIsBarrier(t *testing.T) {
	sink := newRecordSink()
	ch := NewFrameChannel(0)
	w := NewEncodeWorker(sink, ch, zaptest.NewLogger(t))

	for i := 0; i < 7; i++ {
		ch.Push(makeFrame(i))
	}
	ch.Close()
	w.Run()

	order := sink.callOrder()
	if len(order) != 8 {
		t.Fatalf("got %d sink calls, want 7 writes + close", len(order))
	}
	if order[len(order)-1] != "close" {
		t.Errorf("last sink call = %q, want close", order[len(order)-1])
	}
	for i := 0; i < 7; i++ {
		want := fmt.Sprintf("write:%d", i)
		if order[i] != want {
			t.Errorf("sink call %d = %q, want %q", i, order[i], want)
		}
	}
	if w.Written() != 7 {
		t.Errorf("written = %d, want 7", w.Written())
	}
}

// TestEncodeWaitsForLateFrames verifies the worker blocks on an empty
// open channel instead of closing early.
func TestEncodeWaitsForLateFrames(t *testing.T) {
	sink := newRecordSink()
	ch := NewFrameChannel(0)
	w := NewEncodeWorker(sink, ch, zaptest.NewLogger(t))

	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if sink.closed() {
		t.Fatal("sink closed before the sentinel")
	}

	ch.Push(makeFrame(0))
	ch.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not finish after sentinel")
	}
	if got := sink.writtenIndices(); len(got) != 1 || got[0] != 0 {
		t.Errorf("written indices = %v, want [0]", got)
	}
}

// TestEncodeFaultDrainsAndReports verifies a sink failure stops writing,
// drains the queue to release memory, still closes the sink, and surfaces
// the fault.
func TestEncodeFaultDrainsAndReports(t *testing.T) {
	sink := newRecordSink()
	sink.failAfter = 3
	ch := NewFrameChannel(0)
	w := NewEncodeWorker(sink, ch, zaptest.NewLogger(t))

	for i := 0; i < 10; i++ {
		ch.Push(makeFrame(i))
	}
	ch.Close()
	w.Run()

	if got := len(sink.writtenIndices()); got != 3 {
		t.Errorf("written %d frames, want 3 before the fault", got)
	}
	if ch.Len() != 0 {
		t.Errorf("channel still holds %d frames, want fully drained", ch.Len())
	}
	if !sink.closed() {
		t.Error("sink not closed after fault")
	}
	var fault *EncodeFault
	if !errors.As(w.fault, &fault) {
		t.Errorf("fault = %v, want an *EncodeFault", w.fault)
	}
	if w.discarded != 7 {
		t.Errorf("discarded = %d, want 7", w.discarded)
	}
}
