package trial

import (
	"sync/atomic"
	"time"
)

// Trial is the record of one bounded recording, producing one output file.
// It is created by the session loop, owned by the controller while the
// workers run, and immutable after finalization.
type Trial struct {
	Index      int
	Target     int
	OutputPath string

	Start time.Time
	End   time.Time

	// Reason, Fault and Written are set during finalization, after both
	// workers have been joined.
	Reason  Reason
	Fault   error
	Written int

	// captured is advanced by the capture worker and polled by the
	// controller thread while the trial is live.
	captured atomic.Int64
}

// Captured returns the number of frames retrieved so far. Safe to call
// from the controller thread while the capture worker runs.
func (t *Trial) Captured() int {
	return int(t.captured.Load())
}

func (t *Trial) addCaptured() {
	t.captured.Add(1)
}

// Elapsed returns the trial's duration, or the time since start if it has
// not finished yet.
func (t *Trial) Elapsed() time.Duration {
	if t.End.IsZero() {
		if t.Start.IsZero() {
			return 0
		}
		return time.Since(t.Start)
	}
	return t.End.Sub(t.Start)
}
