// Package config loads and validates daemon configuration
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fenwick-labs/earmark/internal/audio"
)

// Chunk interval bounds in seconds. Shorter chunks lose sentence context,
// longer ones delay the transcript past usefulness.
const (
	MinChunkIntervalSeconds     = 10
	MaxChunkIntervalSeconds     = 120
	DefaultChunkIntervalSeconds = 30
)

// Audio source selection values
const (
	SourceMic    = "mic"
	SourceSystem = "system"
	SourceBoth   = "both"
)

// Config represents the complete daemon configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Transcript    TranscriptConfig    `yaml:"transcript"`
	Segmentation  SegmentationConfig  `yaml:"segmentation"`
	AppWatch      AppWatchConfig      `yaml:"appwatch"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains the API server configuration
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// CaptureConfig contains audio capture and chunking parameters
type CaptureConfig struct {
	Source               string       `yaml:"source"` // mic, system, or both
	ChunkIntervalSeconds int          `yaml:"chunk_interval_seconds"`
	SilenceThreshold     float64      `yaml:"silence_threshold"`
	Autostart            bool         `yaml:"autostart"`
	Mic                  MicConfig    `yaml:"mic"`
	System               SystemConfig `yaml:"system"`
}

// MicConfig contains microphone device parameters
type MicConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
}

// SystemConfig contains system-audio loopback parameters
type SystemConfig struct {
	ExcludedDevices []string `yaml:"excluded_devices"`
	FramesPerBuffer int      `yaml:"frames_per_buffer"`
}

// TranscriptionConfig contains inference server connection settings
type TranscriptionConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	APIKey         string  `yaml:"api_key"`
	Language       string  `yaml:"language"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	MaxRetries     int     `yaml:"max_retries"`
	MaxConcurrent  int     `yaml:"max_concurrent"`
	Temperature    float64 `yaml:"temperature"`
}

// TranscriptConfig contains fragment store settings
type TranscriptConfig struct {
	MaxFragments int               `yaml:"max_fragments"`
	EventBuffer  int               `yaml:"event_buffer"`
	Dictionary   map[string]string `yaml:"dictionary"`
}

// SegmentationConfig contains meeting grouping gaps
type SegmentationConfig struct {
	SoftGapMinutes int `yaml:"soft_gap_minutes"`
	HardGapMinutes int `yaml:"hard_gap_minutes"`
}

// AppWatchConfig contains foreground application polling settings
type AppWatchConfig struct {
	Enabled             bool `yaml:"enabled"`
	PollIntervalSeconds int  `yaml:"poll_interval_seconds"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{Addr: ":8788"},
		Capture: CaptureConfig{
			Source:               SourceBoth,
			ChunkIntervalSeconds: DefaultChunkIntervalSeconds,
			SilenceThreshold:     audio.DefaultSilenceThreshold,
			Autostart:            true,
			Mic:                  MicConfig{SampleRate: 48000, Channels: 1},
			System:               SystemConfig{FramesPerBuffer: 1024},
		},
		Transcription: TranscriptionConfig{
			Endpoint:       "http://localhost:8090/inference",
			TimeoutSeconds: 30,
			MaxRetries:     3,
			MaxConcurrent:  4,
		},
		Transcript: TranscriptConfig{
			MaxFragments: 10000,
			EventBuffer:  256,
		},
		Segmentation: SegmentationConfig{
			SoftGapMinutes: 5,
			HardGapMinutes: 30,
		},
		AppWatch: AppWatchConfig{
			Enabled:             true,
			PollIntervalSeconds: 5,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults, so a partial file only
// overrides what it names.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}
	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}
	if err := c.Transcript.Validate(); err != nil {
		return fmt.Errorf("transcript config: %w", err)
	}
	if err := c.Segmentation.Validate(); err != nil {
		return fmt.Errorf("segmentation config: %w", err)
	}
	if err := c.AppWatch.Validate(); err != nil {
		return fmt.Errorf("appwatch config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Addr == "" {
		return fmt.Errorf("addr cannot be empty")
	}
	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	switch c.Source {
	case SourceMic, SourceSystem, SourceBoth:
	default:
		return fmt.Errorf("source must be one of [mic, system, both], got %q", c.Source)
	}

	if c.ChunkIntervalSeconds < MinChunkIntervalSeconds || c.ChunkIntervalSeconds > MaxChunkIntervalSeconds {
		return fmt.Errorf("chunk_interval_seconds must be between %d and %d, got %d",
			MinChunkIntervalSeconds, MaxChunkIntervalSeconds, c.ChunkIntervalSeconds)
	}

	if c.SilenceThreshold <= 0 || c.SilenceThreshold >= 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1 (exclusive), got %g", c.SilenceThreshold)
	}

	if c.Mic.SampleRate < 8000 || c.Mic.SampleRate > 192000 {
		return fmt.Errorf("mic sample_rate must be between 8000 and 192000, got %d", c.Mic.SampleRate)
	}
	if c.Mic.Channels < 1 || c.Mic.Channels > 8 {
		return fmt.Errorf("mic channels must be between 1 and 8, got %d", c.Mic.Channels)
	}

	if c.System.FramesPerBuffer < 64 || c.System.FramesPerBuffer > 16384 {
		return fmt.Errorf("system frames_per_buffer must be between 64 and 16384, got %d", c.System.FramesPerBuffer)
	}
	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	if t.TimeoutSeconds < 1 {
		return fmt.Errorf("timeout_seconds must be at least 1, got %d", t.TimeoutSeconds)
	}
	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}
	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}
	if t.Temperature < 0 || t.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %g", t.Temperature)
	}
	return nil
}

// Validate validates transcript store configuration
func (t *TranscriptConfig) Validate() error {
	if t.MaxFragments < 1 {
		return fmt.Errorf("max_fragments must be at least 1, got %d", t.MaxFragments)
	}
	if t.EventBuffer < 1 {
		return fmt.Errorf("event_buffer must be at least 1, got %d", t.EventBuffer)
	}
	return nil
}

// Validate validates segmentation configuration
func (s *SegmentationConfig) Validate() error {
	if s.SoftGapMinutes < 1 {
		return fmt.Errorf("soft_gap_minutes must be at least 1, got %d", s.SoftGapMinutes)
	}
	if s.HardGapMinutes <= s.SoftGapMinutes {
		return fmt.Errorf("hard_gap_minutes (%d) must be greater than soft_gap_minutes (%d)",
			s.HardGapMinutes, s.SoftGapMinutes)
	}
	return nil
}

// Validate validates appwatch configuration
func (a *AppWatchConfig) Validate() error {
	if a.Enabled && a.PollIntervalSeconds < 1 {
		return fmt.Errorf("poll_interval_seconds must be at least 1 when enabled, got %d", a.PollIntervalSeconds)
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("level must be one of [debug, info, warn, error], got %q", l.Level)
	}
}

// ChunkInterval returns the chunk interval as a time.Duration
func (c *CaptureConfig) ChunkInterval() time.Duration {
	return time.Duration(c.ChunkIntervalSeconds) * time.Second
}

// Timeout returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}

// SoftGap returns the soft gap as a time.Duration
func (s *SegmentationConfig) SoftGap() time.Duration {
	return time.Duration(s.SoftGapMinutes) * time.Minute
}

// HardGap returns the hard gap as a time.Duration
func (s *SegmentationConfig) HardGap() time.Duration {
	return time.Duration(s.HardGapMinutes) * time.Minute
}

// PollInterval returns the poll interval as a time.Duration
func (a *AppWatchConfig) PollInterval() time.Duration {
	return time.Duration(a.PollIntervalSeconds) * time.Second
}

// SlogLevel maps the configured level onto slog.
func (l *LoggingConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
