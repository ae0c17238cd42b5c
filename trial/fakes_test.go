package trial

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakePort is a scripted acquisition port: it delivers a fixed number of
// frames immediately, then either times out, blocks until cancelled, or
// faults.
const (
	thenTimeout = "timeout"
	thenBlock   = "block"
	thenFault   = "fault"
)

type fakePort struct {
	frames int
	then   string
	width  int
	height int

	mu        sync.Mutex
	delivered int
	released  int
	begun     bool
	ended     bool
	timeouts  []time.Duration
}

func newFakePort(frames int, then string) *fakePort {
	return &fakePort{frames: frames, then: then, width: 4, height: 2}
}

func (p *fakePort) Open(ctx context.Context) error { return nil }

func (p *fakePort) BeginStreaming() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.begun = true
	return nil
}

func (p *fakePort) EndStreaming() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ended = true
	return nil
}

func (p *fakePort) Retrieve(ctx context.Context, timeout time.Duration) (*RawBuffer, bool, error) {
	p.mu.Lock()
	p.timeouts = append(p.timeouts, timeout)
	exhausted := p.delivered >= p.frames
	seq := p.delivered
	if !exhausted {
		p.delivered++
	}
	p.mu.Unlock()

	if !exhausted {
		data := make([]byte, p.width*p.height)
		for i := range data {
			data[i] = byte(seq)
		}
		return &RawBuffer{Data: data, Width: p.width, Height: p.height, Timestamp: time.Now()}, false, nil
	}

	switch p.then {
	case thenTimeout:
		if timeout == 0 {
			<-ctx.Done()
			return nil, false, ctx.Err()
		}
		return nil, true, nil
	case thenBlock:
		<-ctx.Done()
		return nil, false, ctx.Err()
	case thenFault:
		return nil, false, fmt.Errorf("device disconnected")
	default:
		panic("fakePort: unknown script " + p.then)
	}
}

func (p *fakePort) Release(buf *RawBuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released++
}

func (p *fakePort) Close() error { return nil }

func (p *fakePort) releasedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

func (p *fakePort) recordedTimeouts() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]time.Duration, len(p.timeouts))
	copy(out, p.timeouts)
	return out
}

func (p *fakePort) streamingEnded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ended
}

// recordSink records write/close call order so tests can verify the
// close-is-a-barrier guarantee.
type recordSink struct {
	mu         sync.Mutex
	ops        []string
	indices    []int
	failAfter  int // fail writes once this many succeeded; -1 disables
	closeCalls int
}

func newRecordSink() *recordSink {
	return &recordSink{failAfter: -1}
}

func (s *recordSink) Write(frame *Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAfter >= 0 && len(s.indices) >= s.failAfter {
		return fmt.Errorf("encoder process crashed")
	}
	s.ops = append(s.ops, fmt.Sprintf("write:%d", frame.Index))
	s.indices = append(s.indices, frame.Index)
	return nil
}

func (s *recordSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCalls == 0 {
		s.ops = append(s.ops, "close")
	}
	s.closeCalls++
	return nil
}

func (s *recordSink) writtenIndices() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.indices))
	copy(out, s.indices)
	return out
}

func (s *recordSink) callOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ops))
	copy(out, s.ops)
	return out
}

func (s *recordSink) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls > 0
}
