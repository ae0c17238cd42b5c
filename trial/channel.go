package trial

import "sync"

// FrameChannel is the ordered hand-off queue between the capture and
// encode stages: single producer, single consumer, strict FIFO. Closing it
// is the end-of-stream sentinel and is always the last thing the consumer
// observes.
//
// Capacity selects the queue policy. Zero keeps the queue unbounded, so a
// slow encoder delays frames but never stalls capture; a positive capacity
// bounds memory and instead blocks the producer when the encoder falls
// behind.
type FrameChannel struct {
	mu       sync.Mutex
	cond     *sync.Cond
	frames   []*Frame
	capacity int
	closed   bool
}

// NewFrameChannel creates a frame channel. capacity == 0 means unbounded.
func NewFrameChannel(capacity int) *FrameChannel {
	c := &FrameChannel{capacity: capacity}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Push appends a frame. In bounded mode it blocks until the consumer makes
// room. Pushing after Close is a programming error and panics.
func (c *FrameChannel) Push(frame *Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.capacity > 0 && len(c.frames) >= c.capacity && !c.closed {
		c.cond.Wait()
	}
	if c.closed {
		panic("trial: push on closed frame channel")
	}
	c.frames = append(c.frames, frame)
	c.cond.Broadcast()
}

// Pop removes and returns the oldest frame, blocking while the channel is
// open and empty. It returns ok == false only once the sentinel has been
// seen and every frame pushed before it has been consumed.
func (c *FrameChannel) Pop() (frame *Frame, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.frames) == 0 && !c.closed {
		c.cond.Wait()
	}
	if len(c.frames) == 0 {
		return nil, false
	}
	frame = c.frames[0]
	c.frames[0] = nil
	c.frames = c.frames[1:]
	c.cond.Broadcast()
	return frame, true
}

// Close pushes the end-of-stream sentinel. Frames already queued remain
// poppable; only after the queue drains does Pop report end of stream.
func (c *FrameChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.cond.Broadcast()
}

// Len returns the number of frames currently queued.
func (c *FrameChannel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}
