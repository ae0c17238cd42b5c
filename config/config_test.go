package config

import (
	"errors"
	"os"
	"testing"
)

// TestLoadDefaults tests default configuration loading
func TestLoadDefaults(t *testing.T) {
	// Use non-existent file to trigger defaults
	cfg, err := Load("non-existent-config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Camera.Width != 720 {
		t.Errorf("Default Camera.Width = %d, want 720", cfg.Camera.Width)
	}
	if cfg.Camera.Height != 540 {
		t.Errorf("Default Camera.Height = %d, want 540", cfg.Camera.Height)
	}
	if cfg.Camera.ExposureUs != 2000 {
		t.Errorf("Default Camera.ExposureUs = %d, want 2000", cfg.Camera.ExposureUs)
	}
	if cfg.Camera.TriggerEdge != "rising" {
		t.Errorf("Default Camera.TriggerEdge = %s, want rising", cfg.Camera.TriggerEdge)
	}
	if cfg.Recording.FrameTimeoutMs != 100 {
		t.Errorf("Default Recording.FrameTimeoutMs = %d, want 100", cfg.Recording.FrameTimeoutMs)
	}
	if cfg.Recording.FrameChannelCapacity != 0 {
		t.Errorf("Default Recording.FrameChannelCapacity = %d, want 0 (unbounded)", cfg.Recording.FrameChannelCapacity)
	}
	if cfg.Encoding.CRF != 23 {
		t.Errorf("Default Encoding.CRF = %d, want 23", cfg.Encoding.CRF)
	}
	if cfg.Display.FrameInterval != 20 {
		t.Errorf("Default Display.FrameInterval = %d, want 20", cfg.Display.FrameInterval)
	}
}

// TestLoadGeneratesSessionID tests session ID generation when unset
func TestLoadGeneratesSessionID(t *testing.T) {
	cfg, err := Load("non-existent-config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Recording.SessionID == "" {
		t.Error("SessionID should be generated when not configured")
	}
	if len(cfg.Recording.SessionID) != 8 {
		t.Errorf("Generated SessionID length = %d, want 8", len(cfg.Recording.SessionID))
	}
}

// TestLoadFromFile tests loading config from TOML file
func TestLoadFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "test-config-*.toml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	configContent := `
[camera]
width = 320
height = 240
exposure_us = 500
gain_db = 12.5

[recording]
session_id = "mj42"
target_frames = 5000
frame_timeout_ms = 250

[encoding]
crf = 18
preset = "p7"
`
	if _, err := tmpFile.WriteString(configContent); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Camera.Width != 320 || cfg.Camera.Height != 240 {
		t.Errorf("Camera size = %dx%d, want 320x240", cfg.Camera.Width, cfg.Camera.Height)
	}
	if cfg.Camera.GainDB != 12.5 {
		t.Errorf("Camera.GainDB = %v, want 12.5", cfg.Camera.GainDB)
	}
	if cfg.Recording.SessionID != "mj42" {
		t.Errorf("Recording.SessionID = %s, want mj42", cfg.Recording.SessionID)
	}
	if cfg.Recording.TargetFrames != 5000 {
		t.Errorf("Recording.TargetFrames = %d, want 5000", cfg.Recording.TargetFrames)
	}
	if cfg.Encoding.CRF != 18 {
		t.Errorf("Encoding.CRF = %d, want 18", cfg.Encoding.CRF)
	}
	// Values the file does not set keep their defaults
	if cfg.Encoding.Codec != "libx264" {
		t.Errorf("Encoding.Codec = %s, want default libx264", cfg.Encoding.Codec)
	}
}

// TestValidateAcceptsDefaults tests that the default config is valid
func TestValidateAcceptsDefaults(t *testing.T) {
	cfg, err := Load("non-existent-config.toml")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration rejected: %v", err)
	}
}

// TestValidateGainRange tests the out-of-range gain rejection that must
// abort a session before any trial starts
func TestValidateGainRange(t *testing.T) {
	cfg, _ := Load("non-existent-config.toml")
	cfg.Camera.GainDB = 55

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected out-of-range gain to be rejected")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %T, want *ValidationError", err)
	}
	if verr.Field != "camera.gain_db" {
		t.Errorf("Field = %s, want camera.gain_db", verr.Field)
	}
}

// TestValidateRejections tests the remaining device limits
func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero exposure", func(c *Config) { c.Camera.ExposureUs = 0 }},
		{"gamma too low", func(c *Config) { c.Camera.Gamma = 0.1 }},
		{"unsupported bit depth", func(c *Config) { c.Camera.BitDepth = 12 }},
		{"zero width", func(c *Config) { c.Camera.Width = 0 }},
		{"negative offset", func(c *Config) { c.Camera.OffsetX = -4 }},
		{"bad trigger edge", func(c *Config) { c.Camera.TriggerEdge = "both" }},
		{"zero target frames", func(c *Config) { c.Recording.TargetFrames = 0 }},
		{"zero trials", func(c *Config) { c.Recording.MaxTrials = 0 }},
		{"zero frame timeout", func(c *Config) { c.Recording.FrameTimeoutMs = 0 }},
		{"negative channel capacity", func(c *Config) { c.Recording.FrameChannelCapacity = -1 }},
		{"crf out of range", func(c *Config) { c.Encoding.CRF = 60 }},
		{"zero fps", func(c *Config) { c.Encoding.FPS = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, _ := Load("non-existent-config.toml")
			tc.mutate(cfg)
			err := cfg.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Validate = %v, want a *ValidationError", err)
			}
		})
	}
}
