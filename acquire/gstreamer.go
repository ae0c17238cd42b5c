package acquire

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"trial-capture-recorder/config"
	"trial-capture-recorder/trial"
)

// shutdownTimeout bounds how long EndStreaming waits for gst-launch to
// exit after SIGINT before killing it.
const shutdownTimeout = 5 * time.Second

// GStreamerPort acquires triggered frames through a gst-launch subprocess
// writing raw GRAY8 frames to stdout. A reader goroutine slices stdout
// into fixed-size buffers and feeds an internal channel; Retrieve waits on
// that channel under the caller's timeout policy.
//
// Exposure, gain and the trigger line mapping are applied through v4l2
// extra-controls; how a given driver names its trigger controls is
// device-specific, which is exactly why the pipeline above this port only
// sees the AcquisitionPort contract.
type GStreamerPort struct {
	cfg    config.CameraConfig
	logger *zap.Logger

	mu        sync.Mutex
	opened    bool
	streaming bool

	cmd      *exec.Cmd
	stdout   io.ReadCloser
	ctx      context.Context
	cancel   context.CancelFunc
	frames   chan *trial.RawBuffer
	readErr  error
	readDone chan struct{}

	pool sync.Pool
}

// NewGStreamerPort creates a port for the configured device. The device is
// not touched until Open.
func NewGStreamerPort(cfg config.CameraConfig, logger *zap.Logger) *GStreamerPort {
	frameSize := cfg.Width * cfg.Height
	return &GStreamerPort{
		cfg:    cfg,
		logger: logger,
		pool: sync.Pool{
			New: func() interface{} {
				return &trial.RawBuffer{Data: make([]byte, frameSize)}
			},
		},
	}
}

// Open verifies the toolchain is present and claims the device. A device
// that rejects the configured controls surfaces here, before any trial
// starts.
func (p *GStreamerPort) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.opened {
		return fmt.Errorf("acquisition port already open")
	}
	if _, err := exec.LookPath("gst-launch-1.0"); err != nil {
		return fmt.Errorf("gst-launch-1.0 not found: %w", err)
	}

	p.logger.Info("acquisition port opened",
		zap.String("device", p.cfg.Device),
		zap.Int("width", p.cfg.Width),
		zap.Int("height", p.cfg.Height),
		zap.Int("exposure_us", p.cfg.ExposureUs),
		zap.Float64("gain_db", p.cfg.GainDB),
		zap.String("trigger_line", p.cfg.TriggerLine),
		zap.String("trigger_edge", p.cfg.TriggerEdge))
	p.opened = true
	return nil
}

// BeginStreaming launches the capture subprocess and the stdout reader.
func (p *GStreamerPort) BeginStreaming() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.opened {
		return fmt.Errorf("acquisition port not open")
	}
	if p.streaming {
		return fmt.Errorf("already streaming")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	pipeline := p.buildPipeline()
	args := append([]string{"-q"}, strings.Fields(pipeline)...)
	p.cmd = exec.CommandContext(p.ctx, "gst-launch-1.0", args...)

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		p.cancel()
		return fmt.Errorf("failed to get stdout pipe from gst-launch: %w", err)
	}
	p.stdout = stdout

	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		p.cancel()
		return fmt.Errorf("failed to get stderr pipe from gst-launch: %w", err)
	}

	p.logger.Info("starting capture pipeline", zap.String("pipeline", pipeline))
	if err := p.cmd.Start(); err != nil {
		p.cancel()
		return fmt.Errorf("failed to start gst-launch: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			p.logger.Warn("gstreamer_stderr", zap.String("line", scanner.Text()))
		}
	}()

	p.frames = make(chan *trial.RawBuffer, 4)
	p.readErr = nil
	p.readDone = make(chan struct{})
	go p.readLoop(p.frames, p.readDone)

	p.streaming = true
	return nil
}

// readLoop slices stdout into fixed-size GRAY8 frames. The channel is
// closed when the stream ends; a non-EOF error is kept for Retrieve to
// report.
func (p *GStreamerPort) readLoop(frames chan<- *trial.RawBuffer, done chan struct{}) {
	defer close(done)
	defer close(frames)

	reader := bufio.NewReaderSize(p.stdout, p.cfg.Width*p.cfg.Height)
	for {
		buf := p.pool.Get().(*trial.RawBuffer)
		if _, err := io.ReadFull(reader, buf.Data); err != nil {
			p.pool.Put(buf)
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || p.ctx.Err() != nil {
				return
			}
			p.mu.Lock()
			p.readErr = err
			p.mu.Unlock()
			p.logger.Error("error reading frame from gst-launch stdout", zap.Error(err))
			return
		}
		buf.Width = p.cfg.Width
		buf.Height = p.cfg.Height
		buf.Timestamp = time.Now()

		select {
		case frames <- buf:
		case <-p.ctx.Done():
			p.pool.Put(buf)
			return
		}
	}
}

// Retrieve waits for the next triggered frame. timeout == 0 waits forever;
// a bounded timeout expiring reports timedOut. A closed frame stream is a
// device fault unless it was us shutting the pipeline down.
func (p *GStreamerPort) Retrieve(ctx context.Context, timeout time.Duration) (*trial.RawBuffer, bool, error) {
	p.mu.Lock()
	frames := p.frames
	p.mu.Unlock()
	if frames == nil {
		return nil, false, fmt.Errorf("not streaming")
	}

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case buf, ok := <-frames:
		if !ok {
			p.mu.Lock()
			err := p.readErr
			p.mu.Unlock()
			if err == nil {
				err = fmt.Errorf("capture stream ended")
			}
			return nil, false, err
		}
		return buf, false, nil
	case <-timer:
		return nil, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Release returns a buffer to the pool. Must be called exactly once per
// successful Retrieve.
func (p *GStreamerPort) Release(buf *trial.RawBuffer) {
	p.pool.Put(buf)
}

// EndStreaming stops the subprocess, trying SIGINT first and killing after
// a bounded wait.
func (p *GStreamerPort) EndStreaming() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.streaming {
		return nil
	}
	p.streaming = false

	if p.cancel != nil {
		p.cancel()
	}
	if p.stdout != nil {
		_ = p.stdout.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Signal(syscall.SIGINT)

		waitCtx, waitCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer waitCancel()

		errCh := make(chan error, 1)
		go func() {
			errCh <- p.cmd.Wait()
		}()

		select {
		case <-waitCtx.Done():
			p.logger.Warn("gst-launch did not exit within timeout, killing")
			if err := p.cmd.Process.Kill(); err != nil {
				p.logger.Error("failed to kill gst-launch", zap.Error(err))
			}
		case err := <-errCh:
			if err != nil {
				p.logger.Debug("gst-launch exited with error during shutdown", zap.Error(err))
			}
		}
	}

	// Let the reader goroutine finish before the next trial reuses the port.
	if p.readDone != nil {
		p.mu.Unlock()
		<-p.readDone
		p.mu.Lock()
	}
	p.frames = nil

	p.logger.Info("capture pipeline stopped")
	return nil
}

// Close releases the device handle.
func (p *GStreamerPort) Close() error {
	if err := p.EndStreaming(); err != nil {
		p.logger.Error("error ending streaming during close", zap.Error(err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = false
	p.logger.Info("acquisition port closed")
	return nil
}

// buildPipeline constructs the gst-launch pipeline string from the device
// configuration.
func (p *GStreamerPort) buildPipeline() string {
	var pipeline strings.Builder

	if strings.HasPrefix(p.cfg.Device, "/dev/video") {
		pipeline.WriteString(fmt.Sprintf(`v4l2src device=%s`, p.cfg.Device))
		pipeline.WriteString(fmt.Sprintf(` extra-controls=controls,exposure_time_absolute=%d,analogue_gain=%d,gamma=%d`,
			p.cfg.ExposureUs, int(p.cfg.GainDB), int(p.cfg.Gamma*100)))
	} else {
		pipeline.WriteString(fmt.Sprintf(`libcamerasrc camera-name="%s"`, p.cfg.Device))
	}

	pipeline.WriteString(" ! videoconvert")
	if p.cfg.OffsetX > 0 || p.cfg.OffsetY > 0 {
		pipeline.WriteString(fmt.Sprintf(" ! videocrop left=%d top=%d", p.cfg.OffsetX, p.cfg.OffsetY))
	}
	pipeline.WriteString(fmt.Sprintf(" ! video/x-raw,format=GRAY8,width=%d,height=%d",
		p.cfg.Width, p.cfg.Height))
	pipeline.WriteString(" ! queue ! fdsink fd=1 sync=false")

	return pipeline.String()
}
