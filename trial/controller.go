package trial

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ControllerOptions carries the per-trial tuning the controller hands to
// its workers.
type ControllerOptions struct {
	// FrameTimeout bounds every retrieval after the first frame.
	FrameTimeout time.Duration

	// ChannelCapacity selects the hand-off policy; 0 means unbounded.
	ChannelCapacity int

	// ProgressInterval is the cadence of the controller's monitor loop.
	ProgressInterval time.Duration

	// FrameInterval decimates the preview feed (every Nth frame).
	FrameInterval int
}

// Controller owns one trial's lifecycle: it starts the capture/encode
// worker pair, monitors progress without ever blocking on acquisition,
// observes operator cancellation, and finalizes the device window and the
// sink exactly once on every exit path.
//
// The trial moves through waiting-for-trigger, acquiring, then one of
// completed, timed-out, cancelled or faulted, and finally finalizing. The
// controller thread learns about termination only from the workers
// exiting; the workers learn about cancellation only from their context.
type Controller struct {
	port    AcquisitionPort
	sink    EncodeSink
	trial   *Trial
	display Display
	opts    ControllerOptions
	logger  *zap.Logger
}

// NewController creates a controller for one trial. The controller owns
// the port's streaming window and the sink from here until Run returns.
func NewController(port AcquisitionPort, sink EncodeSink, t *Trial, display Display, opts ControllerOptions, logger *zap.Logger) *Controller {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 200 * time.Millisecond
	}
	return &Controller{
		port:    port,
		sink:    sink,
		trial:   t,
		display: display,
		opts:    opts,
		logger:  logger.With(zap.Int("trial", t.Index)),
	}
}

// Run executes the trial to completion. Cancelling ctx requests an
// operator cancel; the in-flight driver wait is allowed to return before
// finalization proceeds, so cancellation latency is bounded by the current
// retrieval timeout. Run always leaves the device streaming window closed
// and the sink flushed, and returns the trial's fault if it has one.
func (c *Controller) Run(ctx context.Context) error {
	t := c.trial
	t.Start = time.Now()

	if err := c.port.BeginStreaming(); err != nil {
		// No workers started; close the sink ourselves so the output file
		// is finalized even for a trial that never captured anything.
		t.Reason = ReasonFaulted
		t.Fault = &DeviceFault{Err: err}
		if cerr := c.sink.Close(); cerr != nil {
			c.logger.Error("sink close failed", zap.Error(cerr))
		}
		t.End = time.Now()
		return t.Fault
	}

	trialCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch := NewFrameChannel(c.opts.ChannelCapacity)
	capture := NewCaptureWorker(c.port, ch, t, c.opts.FrameTimeout, c.display, c.opts.FrameInterval, c.logger)
	encode := NewEncodeWorker(c.sink, ch, c.logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		capture.Run(trialCtx)
	}()
	go func() {
		defer wg.Done()
		encode.Run()
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	c.logger.Info("waiting for first trigger", zap.Int("target_frames", t.Target))

	ticker := time.NewTicker(c.opts.ProgressInterval)
	defer ticker.Stop()

	cancelled := false
	waiting := true
	cancelWait := ctx.Done()
	for running := true; running; {
		select {
		case <-done:
			running = false
		case <-cancelWait:
			// Request a cooperative stop, then keep looping until the
			// workers have drained and exited.
			cancelled = true
			cancelWait = nil
			cancel()
			c.logger.Info("operator cancel observed, stopping trial")
		case <-ticker.C:
			n := t.Captured()
			if waiting && n > 0 {
				waiting = false
				c.logger.Info("first trigger received, acquiring")
			}
			if c.display != nil && !waiting {
				c.display.Progress(fmt.Sprintf("trial %d: frame %d of %d", t.Index, n, t.Target))
			}
		}
	}

	// Finalizing: both workers have exited, so the handles are back under
	// controller ownership. The encode worker already closed the sink; the
	// extra Close is a no-op by the sink contract.
	if err := c.port.EndStreaming(); err != nil {
		c.logger.Error("failed to end device streaming", zap.Error(err))
	}
	if err := c.sink.Close(); err != nil {
		c.logger.Error("sink close failed", zap.Error(err))
	}

	t.End = time.Now()
	t.Written = encode.Written()

	switch {
	case cancelled || capture.reason == ReasonCancelled:
		t.Reason = ReasonCancelled
	case capture.fault != nil:
		t.Reason = ReasonFaulted
		t.Fault = capture.fault
	case encode.fault != nil:
		t.Reason = ReasonFaulted
		t.Fault = encode.fault
	default:
		t.Reason = capture.reason
	}

	c.logger.Info("trial finalized",
		zap.String("reason", t.Reason.String()),
		zap.Int("frames_captured", t.Captured()),
		zap.Int("frames_written", t.Written),
		zap.Duration("elapsed", t.Elapsed()),
		zap.String("output", t.OutputPath))

	return t.Fault
}
