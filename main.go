package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"trial-capture-recorder/acquire"
	"trial-capture-recorder/config"
	"trial-capture-recorder/display"
	"trial-capture-recorder/encode"
	"trial-capture-recorder/trial"
	"trial-capture-recorder/web"
)

const (
	DefaultConfigPath = "config.toml"
	AppName           = "Trial Capture Recorder"
	AppVersion        = "1.0.0"
)

func main() {
	var (
		configPath = flag.String("config", DefaultConfigPath, "Path to configuration file")
		logLevel   = flag.String("log-level", "", "Log level override (debug, info, warn, error)")
		simulate   = flag.Bool("simulate", false, "Use a simulated trigger source instead of the camera")
		version    = flag.Bool("version", false, "Show version information")
		help       = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	if *help {
		fmt.Printf("%s v%s\n\n", AppName, AppVersion)
		fmt.Println("Records hardware-triggered camera trials to compressed video files.")
		fmt.Println("Start it first, then start the DAQ trigger output; each trial waits")
		fmt.Println("indefinitely for its first trigger and ends when triggers stop.")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger, err := createLogger(cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting trial capture recorder",
		zap.String("version", AppVersion),
		zap.String("go_version", runtime.Version()),
		zap.String("session_id", cfg.Recording.SessionID))

	// Configuration errors abort the session before any hardware streaming
	// begins and before any file is created.
	if err := cfg.Validate(); err != nil {
		logger.Fatal("configuration rejected", zap.Error(err))
	}

	// Operator cancellation: Ctrl-C ends the current trial gracefully and
	// finalizes everything before exit.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalCh
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := run(ctx, cfg, *simulate, logger); err != nil {
		logger.Fatal("session failed", zap.Error(err))
	}
	logger.Info("done")
}

func run(ctx context.Context, cfg *config.Config, simulate bool, logger *zap.Logger) error {
	var port trial.AcquisitionPort
	if simulate {
		// Enough triggers for every configured trial to complete.
		budget := cfg.Recording.TargetFrames * cfg.Recording.MaxTrials
		port = acquire.NewSimulatedPort(cfg.Camera.Width, cfg.Camera.Height, budget, 2*time.Millisecond, logger)
	} else {
		port = acquire.NewGStreamerPort(cfg.Camera, logger)
	}

	if err := port.Open(ctx); err != nil {
		return fmt.Errorf("failed to open acquisition port: %w", err)
	}
	defer func() {
		if err := port.Close(); err != nil {
			logger.Error("error closing acquisition port", zap.Error(err))
		}
	}()

	newSink := func(path string, width, height int) (trial.EncodeSink, error) {
		if cfg.Encoding.Codec == "rawvideo" {
			return encode.NewRawSink(path)
		}
		return encode.NewFFmpegSink(path, width, height, cfg.Encoding, logger)
	}

	var feed *display.Feed
	if cfg.Display.Enabled {
		feed = display.NewFeed(cfg.Display.FeedCapacity, logger)
	}

	session := trial.NewSession(cfg, port, newSink, displayOrNil(feed), logger)

	var server *web.Server
	if cfg.Server.Enabled {
		server = web.NewServer(cfg, feed, logger)
		server.SetStatusFunc(func() map[string]interface{} {
			return map[string]interface{}{
				"output_dir": session.OutputDir(),
			}
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start web server: %w", err)
		}
		defer func() {
			if err := server.Stop(); err != nil {
				logger.Error("error stopping web server", zap.Error(err))
			}
		}()
	}

	trials, err := session.Run(ctx)
	if err != nil {
		return err
	}

	for _, t := range trials {
		logger.Info("trial summary",
			zap.Int("trial", t.Index),
			zap.String("reason", t.Reason.String()),
			zap.Int("frames_written", t.Written),
			zap.Duration("elapsed", t.Elapsed()))
	}
	return nil
}

// displayOrNil keeps the typed-nil interface pitfall out of the session:
// a disabled feed must be a nil trial.Display, not a non-nil interface
// wrapping a nil *display.Feed.
func displayOrNil(feed *display.Feed) trial.Display {
	if feed == nil {
		return nil
	}
	return feed
}

// createLogger creates a structured logger writing to stdout and a
// timestamped file, pruning old log files.
func createLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch cfg.Level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	ts := time.Now().Format("20060102-150405")
	logFile := filepath.Join(cfg.Dir, fmt.Sprintf("trial-capture-%s.log", ts))

	files, _ := filepath.Glob(filepath.Join(cfg.Dir, "trial-capture-*.log"))
	if cfg.MaxLogFiles > 0 && len(files) > cfg.MaxLogFiles {
		sort.Strings(files) // lexicographic order matches timestamp
		for _, f := range files[:len(files)-cfg.MaxLogFiles] {
			_ = os.Remove(f)
		}
	}

	zcfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout", logFile},
		ErrorOutputPaths: []string{"stderr", logFile},
	}

	return zcfg.Build()
}
