// Package config provides configuration management for reelpipe using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultSlots           = 8
	defaultProgressEvery   = 250
	defaultControlPort     = 8089
	defaultShutdownTimeout = 5 * time.Second
	defaultMaxOpenConns    = 4
	defaultMaxIdleConns    = 2
	defaultMaxMemory       = 512 * 1024 * 1024 // 512MB
	defaultLedgerRetention = 90 * 24 * time.Hour
)

// Config holds all configuration for the application.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Input    InputConfig    `mapstructure:"input"`
	Encode   EncodeConfig   `mapstructure:"encode"`
	Output   OutputConfig   `mapstructure:"output"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Filters  []FilterConfig `mapstructure:"filters"`
	Control  ControlConfig  `mapstructure:"control"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text, auto
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// InputConfig selects the video and audio sources.
// A path may name a file, a directory of units, or a comma separated list.
// An empty path selects the synthetic generator.
type InputConfig struct {
	Video       string          `mapstructure:"video"`
	Audio       string          `mapstructure:"audio"`
	VideoFormat string          `mapstructure:"video_format"` // auto, y4m, synthetic
	AudioFormat string          `mapstructure:"audio_format"` // auto, wav, synthetic
	FrameRate   string          `mapstructure:"frame_rate"`   // overrides the probed video rate, e.g. "30000/1001"
	Synthetic   SyntheticConfig `mapstructure:"synthetic"`
}

// SyntheticConfig configures generated input.
type SyntheticConfig struct {
	Frames     int64  `mapstructure:"frames"`
	FailAt     int64  `mapstructure:"fail_at"`
	FailKind   string `mapstructure:"fail_kind"` // video, audio, empty = both
	Width      int    `mapstructure:"width"`
	Height     int    `mapstructure:"height"`
	Colorspace string `mapstructure:"colorspace"`
	FrameRate  string `mapstructure:"frame_rate"`
	SampleRate int    `mapstructure:"sample_rate"`
	Channels   int    `mapstructure:"channels"`
	Bits       int    `mapstructure:"bits"`
}

// EncodeConfig holds codec and range configuration.
type EncodeConfig struct {
	VideoCodec    string            `mapstructure:"video_codec"`
	AudioCodec    string            `mapstructure:"audio_codec"`
	Ranges        string            `mapstructure:"ranges"` // e.g. "0-100,200-300" or "00:00:10-00:00:20"
	Cluster       bool              `mapstructure:"cluster"`
	ProgressEvery int64             `mapstructure:"progress_every"`
	Options       map[string]string `mapstructure:"options"`
}

// OutputConfig holds multiplexer and rotation configuration.
type OutputConfig struct {
	Path      string `mapstructure:"path"`
	AudioPath string `mapstructure:"audio_path"` // separate audio output, empty = same as path
	Mux       string `mapstructure:"mux"`        // raw, null, mpegts
	// SplitFrames rotates the output every N frames (0 = never).
	SplitFrames int64 `mapstructure:"split_frames"`
	// SplitBytes rotates the output once a chunk reaches this size.
	// Supports human-readable values like "64MB" or raw byte counts.
	SplitBytes ByteSize `mapstructure:"split_bytes"`
}

// PipelineConfig holds frame exchange sizing.
type PipelineConfig struct {
	Slots int `mapstructure:"slots"` // frame slots per media kind
	// FrameWorkers is the number of filter workers per media kind.
	// 0 runs filters on the import goroutine, -1 sizes from the CPU count.
	FrameWorkers int `mapstructure:"frame_workers"`
	// MaxMemory caps the memory held by frame slots.
	MaxMemory ByteSize `mapstructure:"max_memory"`
}

// FilterConfig configures one filter instance.
type FilterConfig struct {
	Name    string            `mapstructure:"name" yaml:"name"`
	Kind    string            `mapstructure:"kind" yaml:"kind"`   // video, audio
	Stage   string            `mapstructure:"stage" yaml:"stage"` // pre, post
	Options map[string]string `mapstructure:"options" yaml:"options,omitempty"`
}

// ControlConfig holds the run control HTTP API configuration.
type ControlConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Host            string   `mapstructure:"host"`
	Port            int      `mapstructure:"port"`
	ShutdownTimeout Duration `mapstructure:"shutdown_timeout"`
}

// LedgerConfig holds the run history database configuration.
type LedgerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
	// Retention is how long finished runs are kept, e.g. "90d" (0 = forever).
	Retention Duration `mapstructure:"retention"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with REELPIPE_ and use underscores for nesting.
// Example: REELPIPE_OUTPUT_SPLIT_BYTES=64MB.
func Load(configPath string) (*Config, error) {
	v, err := NewViper(configPath)
	if err != nil {
		return nil, err
	}
	return Unmarshal(v)
}

// NewViper returns a viper instance with defaults, environment binding and
// the config file (if any) read.
func NewViper(configPath string) (*viper.Viper, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("reelpipe")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.reelpipe")
		v.AddConfigPath("/etc/reelpipe")
	}

	v.SetEnvPrefix("REELPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return v, nil
}

// Unmarshal decodes and validates the configuration held by v.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "auto")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Input defaults
	v.SetDefault("input.video", "")
	v.SetDefault("input.audio", "")
	v.SetDefault("input.video_format", "auto")
	v.SetDefault("input.audio_format", "auto")
	v.SetDefault("input.frame_rate", "")
	v.SetDefault("input.synthetic.frames", 100)
	v.SetDefault("input.synthetic.fail_at", -1)
	v.SetDefault("input.synthetic.fail_kind", "")
	v.SetDefault("input.synthetic.width", 64)
	v.SetDefault("input.synthetic.height", 48)
	v.SetDefault("input.synthetic.colorspace", "yuv420p")
	v.SetDefault("input.synthetic.frame_rate", "25")
	v.SetDefault("input.synthetic.sample_rate", 48000)
	v.SetDefault("input.synthetic.channels", 2)
	v.SetDefault("input.synthetic.bits", 16)

	// Encode defaults
	v.SetDefault("encode.video_codec", "raw")
	v.SetDefault("encode.audio_codec", "raw")
	v.SetDefault("encode.ranges", "")
	v.SetDefault("encode.cluster", false)
	v.SetDefault("encode.progress_every", defaultProgressEvery)

	// Output defaults
	v.SetDefault("output.path", "")
	v.SetDefault("output.audio_path", "")
	v.SetDefault("output.mux", "raw")
	v.SetDefault("output.split_frames", 0)
	v.SetDefault("output.split_bytes", 0)

	// Pipeline defaults
	v.SetDefault("pipeline.slots", defaultSlots)
	v.SetDefault("pipeline.frame_workers", 0)
	v.SetDefault("pipeline.max_memory", defaultMaxMemory)

	// Control defaults
	v.SetDefault("control.enabled", false)
	v.SetDefault("control.host", "127.0.0.1")
	v.SetDefault("control.port", defaultControlPort)
	v.SetDefault("control.shutdown_timeout", defaultShutdownTimeout.String())

	// Ledger defaults
	v.SetDefault("ledger.enabled", false)
	v.SetDefault("ledger.driver", "sqlite")
	v.SetDefault("ledger.dsn", "reelpipe.db")
	v.SetDefault("ledger.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("ledger.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("ledger.conn_max_lifetime", time.Hour)
	v.SetDefault("ledger.log_level", "warn")
	v.SetDefault("ledger.retention", Duration(defaultLedgerRetention).String())
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	// Logging validation
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "auto": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text, auto")
	}

	// Input validation
	if c.Input.FrameRate != "" {
		if _, err := ParseRate(c.Input.FrameRate); err != nil {
			return fmt.Errorf("input.frame_rate: %w", err)
		}
	}
	if c.Input.Video == "" || c.Input.Audio == "" {
		if _, err := ParseRate(c.Input.Synthetic.FrameRate); err != nil {
			return fmt.Errorf("input.synthetic.frame_rate: %w", err)
		}
		if c.Input.Synthetic.Frames < 0 {
			return fmt.Errorf("input.synthetic.frames must not be negative")
		}
		if k := c.Input.Synthetic.FailKind; k != "" && k != "video" && k != "audio" {
			return fmt.Errorf("input.synthetic.fail_kind must be video, audio or empty")
		}
	}

	// Encode validation
	if c.Encode.VideoCodec == "" || c.Encode.AudioCodec == "" {
		return fmt.Errorf("encode.video_codec and encode.audio_codec are required")
	}
	if c.Encode.ProgressEvery < 0 {
		return fmt.Errorf("encode.progress_every must not be negative")
	}

	// Output validation
	validMux := map[string]bool{"raw": true, "null": true, "mpegts": true}
	if !validMux[c.Output.Mux] {
		return fmt.Errorf("output.mux must be one of: raw, null, mpegts")
	}
	if c.Output.SplitFrames < 0 || c.Output.SplitBytes < 0 {
		return fmt.Errorf("output split limits must not be negative")
	}
	if c.Output.SplitFrames > 0 && c.Output.SplitBytes > 0 {
		return fmt.Errorf("output.split_frames and output.split_bytes are mutually exclusive")
	}

	// Pipeline validation
	if c.Pipeline.Slots < 1 {
		return fmt.Errorf("pipeline.slots must be at least 1")
	}
	if c.Pipeline.FrameWorkers < -1 {
		return fmt.Errorf("pipeline.frame_workers must be -1 (auto), 0 (none) or positive")
	}

	// Filter validation
	for i, f := range c.Filters {
		if f.Name == "" {
			return fmt.Errorf("filters[%d].name is required", i)
		}
		if f.Kind != "video" && f.Kind != "audio" {
			return fmt.Errorf("filters[%d].kind must be video or audio", i)
		}
	}

	// Control validation
	const maxPort = 65535
	if c.Control.Enabled && (c.Control.Port < 1 || c.Control.Port > maxPort) {
		return fmt.Errorf("control.port must be between 1 and %d", maxPort)
	}

	// Ledger validation
	if c.Ledger.Enabled {
		validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
		if !validDrivers[c.Ledger.Driver] {
			return fmt.Errorf("ledger.driver must be one of: sqlite, postgres, mysql")
		}
		if c.Ledger.DSN == "" {
			return fmt.Errorf("ledger.dsn is required")
		}
	}

	return nil
}

// Address returns the control server address in host:port format.
func (c *ControlConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ParseRate parses a frame rate written as "25", "29.97" or "30000/1001"
// into numerator and denominator.
func ParseRate(s string) ([2]int64, error) {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseInt(num, 10, 64)
		d, err2 := strconv.ParseInt(den, 10, 64)
		if err1 != nil || err2 != nil || n <= 0 || d <= 0 {
			return [2]int64{}, fmt.Errorf("invalid rate %q", s)
		}
		return [2]int64{n, d}, nil
	}
	switch s {
	case "23.976":
		return [2]int64{24000, 1001}, nil
	case "29.97":
		return [2]int64{30000, 1001}, nil
	case "59.94":
		return [2]int64{60000, 1001}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return [2]int64{}, fmt.Errorf("invalid rate %q", s)
	}
	return [2]int64{n, 1}, nil
}
