package trial

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CaptureWorker drives the acquisition port for one trial: it blocks on
// frame retrieval, copies each buffer into an owned Frame, hands it to the
// frame channel and returns the buffer to the driver pool. It runs on its
// own goroutine and owns the device's streaming window for the trial's
// duration.
type CaptureWorker struct {
	port          AcquisitionPort
	ch            *FrameChannel
	trial         *Trial
	timeout       time.Duration
	display       Display
	frameInterval int
	logger        *zap.Logger

	// outcome, read by the controller only after the worker is joined
	reason Reason
	fault  error
}

// NewCaptureWorker creates a capture worker for one trial. frameInterval
// decimates the preview feed; zero or a nil display disables it.
func NewCaptureWorker(port AcquisitionPort, ch *FrameChannel, t *Trial, timeout time.Duration, display Display, frameInterval int, logger *zap.Logger) *CaptureWorker {
	return &CaptureWorker{
		port:          port,
		ch:            ch,
		trial:         t,
		timeout:       timeout,
		display:       display,
		frameInterval: frameInterval,
		logger:        logger,
	}
}

// Run loops until the target frame count is reached, the trigger source
// stalls, the context is cancelled or the device faults. Whatever the exit
// path, the end-of-stream sentinel is pushed so the encode side is never
// left blocked.
func (w *CaptureWorker) Run(ctx context.Context) {
	defer w.ch.Close()

	for i := 0; i < w.trial.Target; i++ {
		// The very first frame waits forever: the trial starts before the
		// DAQ begins sending triggers. Every later frame gets the bounded
		// timeout, which doubles as the stalled-trigger detector.
		timeout := w.timeout
		if i == 0 {
			timeout = 0
		}

		buf, timedOut, err := w.port.Retrieve(ctx, timeout)
		if timedOut {
			w.reason = ReasonTriggerTimeout
			w.logger.Info("trigger stream stalled, ending trial",
				zap.Int("frames_captured", i),
				zap.Duration("timeout", w.timeout))
			return
		}
		if err != nil {
			if ctx.Err() != nil {
				w.reason = ReasonCancelled
				w.logger.Info("capture cancelled", zap.Int("frames_captured", i))
			} else {
				w.reason = ReasonFaulted
				w.fault = &DeviceFault{Err: err}
				w.logger.Error("frame retrieval failed", zap.Int("frames_captured", i), zap.Error(err))
			}
			return
		}

		frame := newFrame(buf, i)
		w.ch.Push(frame)
		w.port.Release(buf)
		w.trial.addCaptured()

		if w.display != nil && w.frameInterval > 0 && (i+1)%w.frameInterval == 0 {
			w.display.Frame(frame)
		}
	}

	w.reason = ReasonCompleted
	w.logger.Info("target frame count reached", zap.Int("frames_captured", w.trial.Target))
}
