package trial

import "fmt"

// Reason records how a trial ended.
type Reason int

const (
	// ReasonUnknown is the zero value; a finalized trial never keeps it.
	ReasonUnknown Reason = iota

	// ReasonCompleted means the target frame count was reached.
	ReasonCompleted

	// ReasonTriggerTimeout means the trigger source went silent for longer
	// than the bounded retrieval timeout. This is a normal ending: frames
	// captured before the stall are preserved.
	ReasonTriggerTimeout

	// ReasonCancelled means the operator ended the trial.
	ReasonCancelled

	// ReasonFaulted means a device or encode fault ended the trial early.
	// The fault detail is carried on the Trial record.
	ReasonFaulted
)

func (r Reason) String() string {
	switch r {
	case ReasonCompleted:
		return "completed"
	case ReasonTriggerTimeout:
		return "trigger-timeout"
	case ReasonCancelled:
		return "cancelled"
	case ReasonFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// DeviceFault wraps an acquisition error that is fatal to the current
// trial. The trial's partial output is still flushed and closed.
type DeviceFault struct {
	Err error
}

func (f *DeviceFault) Error() string { return fmt.Sprintf("device fault: %v", f.Err) }
func (f *DeviceFault) Unwrap() error { return f.Err }

// EncodeFault wraps a sink error that is fatal to the current trial.
// Frames still queued when it occurs are drained and discarded rather than
// risking an indefinite block, and the loss is reported, never silent.
type EncodeFault struct {
	Err error
}

func (f *EncodeFault) Error() string { return fmt.Sprintf("encode fault: %v", f.Err) }
func (f *EncodeFault) Unwrap() error { return f.Err }
