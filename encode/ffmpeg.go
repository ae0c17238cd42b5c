package encode

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"trial-capture-recorder/config"
	"trial-capture-recorder/trial"
)

// closeTimeout bounds how long Close waits for ffmpeg to flush the
// container after stdin is closed.
const closeTimeout = 30 * time.Second

// FFmpegSink compresses Mono8 frames into a video container through an
// ffmpeg subprocess. Frames are piped to stdin as raw gray video; Close
// closes the pipe and waits for ffmpeg to finish writing the container,
// which makes Close the everything-is-on-disk barrier the encode worker
// relies on.
type FFmpegSink struct {
	path   string
	logger *zap.Logger

	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu        sync.Mutex
	written   int
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

// NewFFmpegSink starts an ffmpeg process writing to path. It refuses a
// destination that already exists rather than silently overwriting a
// previous trial's video.
func NewFFmpegSink(path string, width, height int, cfg config.EncodingConfig, logger *zap.Logger) (*FFmpegSink, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("output file already exists: %s", path)
	}

	args := buildArgs(path, width, height, cfg)
	cmd := exec.Command(cfg.FFmpegPath, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stdin pipe to ffmpeg: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to get stderr pipe from ffmpeg: %w", err)
	}

	logger.Info("starting encoder", zap.String("output", path), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			logger.Debug("ffmpeg_stderr", zap.String("line", scanner.Text()))
		}
	}()

	return &FFmpegSink{
		path:   path,
		logger: logger,
		cmd:    cmd,
		stdin:  stdin,
	}, nil
}

// buildArgs assembles the ffmpeg invocation: raw gray frames in, libx264
// (or the configured codec) out, with the CRF/preset/threads tradeoffs
// exposed in the config.
func buildArgs(path string, width, height int, cfg config.EncodingConfig) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "gray",
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-framerate", strconv.Itoa(cfg.FPS),
		"-i", "-",
		"-c:v", cfg.Codec,
		"-crf", strconv.Itoa(cfg.CRF),
		"-preset", cfg.Preset,
		"-threads", strconv.Itoa(cfg.Threads),
		"-pix_fmt", "yuv420p",
		"-n",
		path,
	}
}

// Write pipes one frame to the encoder.
func (s *FFmpegSink) Write(frame *trial.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("write on closed encoder sink")
	}
	if _, err := s.stdin.Write(frame.Data); err != nil {
		return fmt.Errorf("failed to write frame %d to ffmpeg: %w", frame.Index, err)
	}
	s.written++
	return nil
}

// Close flushes and finalizes the container. Safe to call more than once;
// later calls return the first result.
func (s *FFmpegSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if err := s.stdin.Close(); err != nil {
			s.logger.Error("failed to close ffmpeg stdin", zap.Error(err))
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- s.cmd.Wait()
		}()

		select {
		case err := <-errCh:
			if err != nil {
				s.closeErr = fmt.Errorf("ffmpeg exited with error: %w", err)
				return
			}
			s.logger.Info("encoder finished", zap.String("output", s.path), zap.Int("frames_written", s.written))
		case <-time.After(closeTimeout):
			s.logger.Warn("ffmpeg did not exit within timeout, killing")
			if err := s.cmd.Process.Kill(); err != nil {
				s.logger.Error("failed to kill ffmpeg", zap.Error(err))
			}
			s.closeErr = fmt.Errorf("ffmpeg did not finalize %s within %s", s.path, closeTimeout)
		}
	})
	return s.closeErr
}

// Written returns the number of frames piped to the encoder so far.
func (s *FFmpegSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
