package trial

import (
	"go.uber.org/zap"
)

// EncodeWorker drains the frame channel into the encode sink on its own
// goroutine. It owns the sink handle for the trial's duration and closes
// it once the sentinel arrives, so that Close doubles as the
// everything-is-on-disk barrier.
type EncodeWorker struct {
	sink   EncodeSink
	ch     *FrameChannel
	logger *zap.Logger

	// outcome, read by the controller only after the worker is joined
	written   int
	discarded int
	fault     error
}

// NewEncodeWorker creates an encode worker for one trial.
func NewEncodeWorker(sink EncodeSink, ch *FrameChannel, logger *zap.Logger) *EncodeWorker {
	return &EncodeWorker{sink: sink, ch: ch, logger: logger}
}

// Run pops frames until the sentinel and forwards each to the sink. A sink
// error ends encoding early, but the loop keeps draining so queued frames
// release their memory and a backpressured producer is never deadlocked;
// the discarded count is reported, never silent.
func (w *EncodeWorker) Run() {
	for {
		frame, ok := w.ch.Pop()
		if !ok {
			break
		}
		if w.fault != nil {
			w.discarded++
			continue
		}
		if err := w.sink.Write(frame); err != nil {
			w.fault = &EncodeFault{Err: err}
			w.logger.Error("sink write failed, discarding remaining frames",
				zap.Int("frames_written", w.written),
				zap.Error(err))
			w.discarded++
			continue
		}
		w.written++
	}

	if err := w.sink.Close(); err != nil && w.fault == nil {
		w.fault = &EncodeFault{Err: err}
		w.logger.Error("sink close failed", zap.Int("frames_written", w.written), zap.Error(err))
	}

	if w.discarded > 0 {
		w.logger.Warn("frames captured but not written", zap.Int("discarded", w.discarded))
	}
}

// Written returns the number of frames confirmed written to the sink.
func (w *EncodeWorker) Written() int {
	return w.written
}
