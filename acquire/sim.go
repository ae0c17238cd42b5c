package acquire

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"trial-capture-recorder/trial"
)

// SimulatedPort is a deterministic trigger source for bench-less runs and
// tests. It delivers a fixed number of frames at a fixed interval and then
// goes silent, behaving exactly like a DAQ that stopped sending triggers:
// a bounded Retrieve times out, an infinite one blocks until cancelled.
type SimulatedPort struct {
	width    int
	height   int
	frames   int
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	opened    bool
	streaming bool
	delivered int

	released atomic.Int64
	pool     sync.Pool
}

// NewSimulatedPort creates a simulated source of synthetic gradient
// frames. frames is the total trigger budget across the whole session.
func NewSimulatedPort(width, height, frames int, interval time.Duration, logger *zap.Logger) *SimulatedPort {
	return &SimulatedPort{
		width:    width,
		height:   height,
		frames:   frames,
		interval: interval,
		logger:   logger,
		pool: sync.Pool{
			New: func() interface{} {
				return &trial.RawBuffer{Data: make([]byte, width*height)}
			},
		},
	}
}

// Open claims the simulated device.
func (p *SimulatedPort) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.opened {
		return fmt.Errorf("simulated port already open")
	}
	p.opened = true
	p.logger.Info("simulated acquisition port opened",
		zap.Int("width", p.width), zap.Int("height", p.height),
		zap.Int("trigger_budget", p.frames), zap.Duration("interval", p.interval))
	return nil
}

// BeginStreaming opens the active-capture window.
func (p *SimulatedPort) BeginStreaming() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.opened {
		return fmt.Errorf("simulated port not open")
	}
	p.streaming = true
	return nil
}

// EndStreaming closes the active-capture window.
func (p *SimulatedPort) EndStreaming() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streaming = false
	return nil
}

// Retrieve waits one trigger interval and delivers the next synthetic
// frame, or behaves like a stalled source once the trigger budget is
// spent.
func (p *SimulatedPort) Retrieve(ctx context.Context, timeout time.Duration) (*trial.RawBuffer, bool, error) {
	p.mu.Lock()
	if !p.streaming {
		p.mu.Unlock()
		return nil, false, fmt.Errorf("not streaming")
	}
	exhausted := p.delivered >= p.frames
	seq := p.delivered
	p.mu.Unlock()

	if exhausted {
		// No more triggers are coming. Mirror the driver contract: bounded
		// waits time out, infinite waits block until cancelled.
		if timeout == 0 {
			<-ctx.Done()
			return nil, false, ctx.Err()
		}
		select {
		case <-time.After(timeout):
			return nil, true, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	wait := p.interval
	if timeout > 0 && timeout < wait {
		select {
		case <-time.After(timeout):
			return nil, true, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	buf := p.pool.Get().(*trial.RawBuffer)
	fill(buf.Data, p.width, p.height, seq)
	buf.Width = p.width
	buf.Height = p.height
	buf.Timestamp = time.Now()

	p.mu.Lock()
	p.delivered++
	p.mu.Unlock()
	return buf, false, nil
}

// Release returns a buffer to the pool.
func (p *SimulatedPort) Release(buf *trial.RawBuffer) {
	p.released.Add(1)
	p.pool.Put(buf)
}

// Close releases the simulated device.
func (p *SimulatedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = false
	p.streaming = false
	return nil
}

// Delivered returns the number of frames handed out so far.
func (p *SimulatedPort) Delivered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delivered
}

// Released returns the number of buffers returned to the pool.
func (p *SimulatedPort) Released() int {
	return int(p.released.Load())
}

// fill paints a moving gradient so successive frames differ visibly in the
// preview and in the encoded output.
func fill(data []byte, width, height, seq int) {
	for y := 0; y < height; y++ {
		row := data[y*width : (y+1)*width]
		for x := range row {
			row[x] = byte((x + y + seq) & 0xff)
		}
	}
}
