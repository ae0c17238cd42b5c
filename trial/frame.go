package trial

import "time"

// Frame is a single captured image, copied out of driver-owned memory.
// It is immutable once built: the capture worker hands it to the frame
// channel and never touches it again, so the encode side may hold it for
// as long as it needs.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Index     int
	Timestamp time.Time
}

// RawBuffer is a frame as delivered by an acquisition port. Its Data slice
// belongs to the port's buffer pool and must not be referenced after
// Release; callers copy it into a Frame first.
type RawBuffer struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// newFrame copies a raw buffer into an owned Frame with the given
// per-trial sequence index.
func newFrame(buf *RawBuffer, index int) *Frame {
	return &Frame{
		Data:      append([]byte(nil), buf.Data...),
		Width:     buf.Width,
		Height:    buf.Height,
		Index:     index,
		Timestamp: buf.Timestamp,
	}
}
