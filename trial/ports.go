package trial

import (
	"context"
	"time"
)

// AcquisitionPort abstracts the camera driver. Implementations live in the
// acquire package; the pipeline only depends on this contract.
type AcquisitionPort interface {
	// Open applies the device configuration and claims the hardware.
	Open(ctx context.Context) error

	// BeginStreaming and EndStreaming bracket one trial's active-capture
	// window.
	BeginStreaming() error
	EndStreaming() error

	// Retrieve blocks until the next triggered frame arrives. A timeout of
	// zero means wait forever; this is used only for the first frame of a
	// trial, while the DAQ has not started sending triggers yet. A bounded
	// timeout expiring is reported through timedOut, not err: a stalled
	// trigger source is the designed end-of-trial signal, not a fault.
	// Cancelling ctx unblocks either wait.
	Retrieve(ctx context.Context, timeout time.Duration) (buf *RawBuffer, timedOut bool, err error)

	// Release returns a retrieved buffer to the port's pool. It must be
	// called exactly once per successful Retrieve.
	Release(buf *RawBuffer)

	// Close releases the device handle.
	Close() error
}

// EncodeSink abstracts the video writer. Close is a barrier: every frame
// passed to Write before Close is flushed to the container before Close
// returns. Close must be safe to call more than once.
type EncodeSink interface {
	Write(frame *Frame) error
	Close() error
}

// Display receives a decimated subsequence of frames and throttled
// progress text. Implementations must never block the caller.
type Display interface {
	Frame(frame *Frame)
	Progress(text string)
}
