package trial

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"trial-capture-recorder/config"
)

// SinkFactory builds a fresh encode sink for one trial's output file.
type SinkFactory func(path string, width, height int) (EncodeSink, error)

// Session iterates trials against one opened device, naming each trial's
// output file deterministically from the session identifier, the session
// date and the trial index. It stops early on operator cancellation and,
// depending on configuration, on a trial fault. Failed trials are never
// retried.
type Session struct {
	cfg     *config.Config
	port    AcquisitionPort
	newSink SinkFactory
	display Display
	logger  *zap.Logger

	start  time.Time
	trials []*Trial
}

// NewSession creates a session over an already-opened acquisition port.
func NewSession(cfg *config.Config, port AcquisitionPort, newSink SinkFactory, display Display, logger *zap.Logger) *Session {
	return &Session{
		cfg:     cfg,
		port:    port,
		newSink: newSink,
		display: display,
		logger:  logger,
	}
}

// OutputDir returns the directory that receives this session's trial
// files: <output_root>/<session_id>/<YYYY_MM_DD>.
func (s *Session) OutputDir() string {
	rec := s.cfg.Recording
	return filepath.Join(rec.OutputRoot, rec.SessionID, s.start.Format("2006_01_02"))
}

// trialPath returns the deterministic filename for one trial.
func (s *Session) trialPath(index int) string {
	rec := s.cfg.Recording
	name := fmt.Sprintf("%s_%s_%s_%d.%s",
		rec.SessionID, s.start.Format("2006_01_02"), rec.Label, index, s.cfg.Encoding.Container)
	return filepath.Join(s.OutputDir(), name)
}

// Run executes trials until the configured maximum, an operator cancel, or
// a fault with continue_on_fault disabled. It returns the trial records
// for every trial that started.
func (s *Session) Run(ctx context.Context) ([]*Trial, error) {
	rec := s.cfg.Recording
	s.start = time.Now()

	dir := s.OutputDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	s.logger.Info("session started",
		zap.String("session_id", rec.SessionID),
		zap.String("output_dir", dir),
		zap.Int("max_trials", rec.MaxTrials),
		zap.Int("target_frames", rec.TargetFrames))

	opts := ControllerOptions{
		FrameTimeout:     time.Duration(rec.FrameTimeoutMs) * time.Millisecond,
		ChannelCapacity:  rec.FrameChannelCapacity,
		ProgressInterval: time.Duration(rec.ProgressIntervalMs) * time.Millisecond,
		FrameInterval:    s.cfg.Display.FrameInterval,
	}
	if !s.cfg.Display.Enabled {
		opts.FrameInterval = 0
	}

	for i := 0; i < rec.MaxTrials; i++ {
		if ctx.Err() != nil {
			s.logger.Info("session cancelled before next trial", zap.Int("trials_recorded", len(s.trials)))
			break
		}

		path := s.trialPath(i)
		if _, err := os.Stat(path); err == nil {
			return s.trials, fmt.Errorf("refusing to overwrite existing trial file %s", path)
		}

		sink, err := s.newSink(path, s.cfg.Camera.Width, s.cfg.Camera.Height)
		if err != nil {
			return s.trials, fmt.Errorf("failed to create sink for trial %d: %w", i, err)
		}

		t := &Trial{Index: i, Target: rec.TargetFrames, OutputPath: path}
		ctrl := NewController(s.port, sink, t, s.display, opts, s.logger)
		ctrl.Run(ctx)
		s.trials = append(s.trials, t)

		if t.Reason == ReasonCancelled {
			break
		}
		if t.Reason == ReasonFaulted && !rec.ContinueOnFault {
			s.summarize()
			return s.trials, fmt.Errorf("trial %d failed: %w", i, t.Fault)
		}
	}

	s.summarize()
	return s.trials, nil
}

func (s *Session) summarize() {
	var frames int
	for _, t := range s.trials {
		frames += t.Written
	}
	s.logger.Info("session finished",
		zap.String("session_id", s.cfg.Recording.SessionID),
		zap.Int("trials_recorded", len(s.trials)),
		zap.Int("frames_written", frames),
		zap.Duration("elapsed", time.Since(s.start)))
}
