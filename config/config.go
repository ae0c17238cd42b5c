package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

// Config represents the application configuration
type Config struct {
	Camera    CameraConfig    `toml:"camera" json:"camera"`
	Recording RecordingConfig `toml:"recording" json:"recording"`
	Encoding  EncodingConfig  `toml:"encoding" json:"encoding"`
	Display   DisplayConfig   `toml:"display" json:"display"`
	Server    ServerConfig    `toml:"server" json:"server"`
	Logging   LoggingConfig   `toml:"logging" json:"logging"`
}

// CameraConfig holds the device settings applied once per device open.
// The trigger lines follow the bench wiring: the DAQ drives the trigger
// input line, and the exposure-active signal is routed back out on the
// output line so the DAQ can timestamp each frame.
type CameraConfig struct {
	Device       string  `toml:"device" json:"device"`
	ExposureUs   int     `toml:"exposure_us" json:"exposure_us"`
	GainDB       float64 `toml:"gain_db" json:"gain_db"`
	Gamma        float64 `toml:"gamma" json:"gamma"`
	BitDepth     int     `toml:"bit_depth" json:"bit_depth"`
	Width        int     `toml:"width" json:"width"`
	Height       int     `toml:"height" json:"height"`
	OffsetX      int     `toml:"offset_x" json:"offset_x"`
	OffsetY      int     `toml:"offset_y" json:"offset_y"`
	TriggerLine  string  `toml:"trigger_line" json:"trigger_line"`
	TriggerEdge  string  `toml:"trigger_edge" json:"trigger_edge"`
	OutputLine   string  `toml:"output_line" json:"output_line"`
	OutputSignal string  `toml:"output_signal" json:"output_signal"`
}

// RecordingConfig holds per-session recording settings.
// FrameChannelCapacity selects the hand-off policy between the capture and
// encode stages: 0 keeps the queue unbounded (slow encoders cost memory),
// any positive value bounds it and applies backpressure to the capture loop
// (slow encoders risk missed triggers).
type RecordingConfig struct {
	SessionID            string `toml:"session_id" json:"session_id"`
	Label                string `toml:"label" json:"label"`
	OutputRoot           string `toml:"output_root" json:"output_root"`
	TargetFrames         int    `toml:"target_frames" json:"target_frames"`
	MaxTrials            int    `toml:"max_trials" json:"max_trials"`
	FrameTimeoutMs       int    `toml:"frame_timeout_ms" json:"frame_timeout_ms"`
	FrameChannelCapacity int    `toml:"frame_channel_capacity" json:"frame_channel_capacity"`
	ContinueOnFault      bool   `toml:"continue_on_fault" json:"continue_on_fault"`
	ProgressIntervalMs   int    `toml:"progress_interval_ms" json:"progress_interval_ms"`
}

// EncodingConfig holds video encoding settings for the ffmpeg sink
type EncodingConfig struct {
	Codec      string `toml:"codec" json:"codec"`
	Container  string `toml:"container" json:"container"`
	CRF        int    `toml:"crf" json:"crf"`
	Preset     string `toml:"preset" json:"preset"`
	Threads    int    `toml:"threads" json:"threads"`
	FPS        int    `toml:"fps" json:"fps"`
	FFmpegPath string `toml:"ffmpeg_path" json:"ffmpeg_path"`
}

// DisplayConfig holds preview feed settings
type DisplayConfig struct {
	Enabled       bool `toml:"enabled" json:"enabled"`
	FrameInterval int  `toml:"frame_interval" json:"frame_interval"`
	FeedCapacity  int  `toml:"feed_capacity" json:"feed_capacity"`
}

// ServerConfig holds status web server settings
type ServerConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	BindIP  string `toml:"bind_ip" json:"bind_ip"`
	WebPort int    `toml:"web_port" json:"web_port"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level       string `toml:"level" json:"level"`
	Dir         string `toml:"dir" json:"dir"`
	MaxLogFiles int    `toml:"max_log_files" json:"max_log_files"`
}

// ValidationError describes a setting the device or the encoder would
// reject. A non-nil ValidationError aborts the session before any trial
// starts and before any hardware streaming begins.
type ValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s = %v (%s)", e.Field, e.Value, e.Reason)
}

// Load loads configuration from a TOML file, falling back to defaults for
// anything the file does not set. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	config := &Config{
		Camera: CameraConfig{
			Device:       "/dev/video0",
			ExposureUs:   2000,
			GainDB:       25,
			Gamma:        0.5,
			BitDepth:     8,
			Width:        720,
			Height:       540,
			TriggerLine:  "line0",
			TriggerEdge:  "rising",
			OutputLine:   "line1",
			OutputSignal: "exposure-active",
		},
		Recording: RecordingConfig{
			Label:              "bottom",
			OutputRoot:         "video",
			TargetFrames:       10000,
			MaxTrials:          1000,
			FrameTimeoutMs:     100,
			ProgressIntervalMs: 200,
		},
		Encoding: EncodingConfig{
			Codec:      "libx264",
			Container:  "mp4",
			CRF:        23,
			Preset:     "veryfast",
			Threads:    4,
			FPS:        25,
			FFmpegPath: "ffmpeg",
		},
		Display: DisplayConfig{
			Enabled:       true,
			FrameInterval: 20,
			FeedCapacity:  8,
		},
		Server: ServerConfig{
			Enabled: false,
			BindIP:  "0.0.0.0",
			WebPort: 8080,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Dir:         "logs",
			MaxLogFiles: 20,
		},
	}

	// Load from file if it exists
	if _, err := os.Stat(configPath); err == nil {
		if _, err := toml.DecodeFile(configPath, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	// Generate a session ID when the operator did not supply one
	if config.Recording.SessionID == "" {
		config.Recording.SessionID = uuid.NewString()[:8]
	}

	return config, nil
}

// Validate checks every setting against the limits the device and the
// encoder accept. It returns the first violation as a *ValidationError.
func (c *Config) Validate() error {
	if c.Camera.ExposureUs <= 0 {
		return &ValidationError{"camera.exposure_us", c.Camera.ExposureUs, "must be positive"}
	}
	if c.Camera.GainDB < 0 || c.Camera.GainDB > 40 {
		return &ValidationError{"camera.gain_db", c.Camera.GainDB, "must be within 0-40 dB"}
	}
	if c.Camera.Gamma < 0.25 || c.Camera.Gamma > 1.0 {
		return &ValidationError{"camera.gamma", c.Camera.Gamma, "must be within 0.25-1.0"}
	}
	if c.Camera.BitDepth != 8 {
		return &ValidationError{"camera.bit_depth", c.Camera.BitDepth, "only 8-bit mono is supported"}
	}
	if c.Camera.Width <= 0 || c.Camera.Height <= 0 {
		return &ValidationError{"camera.width/height", fmt.Sprintf("%dx%d", c.Camera.Width, c.Camera.Height), "must be positive"}
	}
	if c.Camera.OffsetX < 0 || c.Camera.OffsetY < 0 {
		return &ValidationError{"camera.offset_x/offset_y", fmt.Sprintf("%d,%d", c.Camera.OffsetX, c.Camera.OffsetY), "must not be negative"}
	}
	switch c.Camera.TriggerEdge {
	case "rising", "falling":
	default:
		return &ValidationError{"camera.trigger_edge", c.Camera.TriggerEdge, `must be "rising" or "falling"`}
	}
	if c.Recording.TargetFrames <= 0 {
		return &ValidationError{"recording.target_frames", c.Recording.TargetFrames, "must be positive"}
	}
	if c.Recording.MaxTrials <= 0 {
		return &ValidationError{"recording.max_trials", c.Recording.MaxTrials, "must be positive"}
	}
	if c.Recording.FrameTimeoutMs <= 0 {
		return &ValidationError{"recording.frame_timeout_ms", c.Recording.FrameTimeoutMs, "must be positive"}
	}
	if c.Recording.FrameChannelCapacity < 0 {
		return &ValidationError{"recording.frame_channel_capacity", c.Recording.FrameChannelCapacity, "must not be negative (0 means unbounded)"}
	}
	if c.Recording.ProgressIntervalMs <= 0 {
		return &ValidationError{"recording.progress_interval_ms", c.Recording.ProgressIntervalMs, "must be positive"}
	}
	if c.Encoding.CRF < 0 || c.Encoding.CRF > 51 {
		return &ValidationError{"encoding.crf", c.Encoding.CRF, "must be within 0-51"}
	}
	if c.Encoding.FPS <= 0 {
		return &ValidationError{"encoding.fps", c.Encoding.FPS, "must be positive"}
	}
	if c.Encoding.Threads < 0 {
		return &ValidationError{"encoding.threads", c.Encoding.Threads, "must not be negative"}
	}
	if c.Display.Enabled && c.Display.FrameInterval <= 0 {
		return &ValidationError{"display.frame_interval", c.Display.FrameInterval, "must be positive"}
	}
	return nil
}

// Save saves the current configuration to a file
func Save(config *Config, configPath string) error {
	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}
