package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Input: InputConfig{
			Synthetic: SyntheticConfig{Frames: 10, FrameRate: "25"},
		},
		Encode:   EncodeConfig{VideoCodec: "raw", AudioCodec: "raw"},
		Output:   OutputConfig{Mux: "raw"},
		Pipeline: PipelineConfig{Slots: 4},
		Control:  ControlConfig{Host: "127.0.0.1", Port: 8089},
		Ledger:   LedgerConfig{Driver: "sqlite", DSN: "test.db"},
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Load without config file should use defaults
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "auto", cfg.Logging.Format)

	// Input defaults
	assert.Equal(t, "auto", cfg.Input.VideoFormat)
	assert.Equal(t, int64(100), cfg.Input.Synthetic.Frames)
	assert.Equal(t, int64(-1), cfg.Input.Synthetic.FailAt)
	assert.Equal(t, "25", cfg.Input.Synthetic.FrameRate)

	// Encode defaults
	assert.Equal(t, "raw", cfg.Encode.VideoCodec)
	assert.Equal(t, "raw", cfg.Encode.AudioCodec)
	assert.Equal(t, int64(250), cfg.Encode.ProgressEvery)

	// Output defaults
	assert.Equal(t, "raw", cfg.Output.Mux)
	assert.Equal(t, int64(0), cfg.Output.SplitFrames)
	assert.Equal(t, ByteSize(0), cfg.Output.SplitBytes)

	// Pipeline defaults
	assert.Equal(t, 8, cfg.Pipeline.Slots)
	assert.Equal(t, ByteSize(512*1024*1024), cfg.Pipeline.MaxMemory)

	// Control defaults
	assert.False(t, cfg.Control.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Control.ShutdownTimeout.Duration())

	// Ledger defaults
	assert.False(t, cfg.Ledger.Enabled)
	assert.Equal(t, "sqlite", cfg.Ledger.Driver)
	assert.Equal(t, 90*24*time.Hour, cfg.Ledger.Retention.Duration())
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "reelpipe.yaml")

	configContent := `
logging:
  level: debug
  format: text
input:
  video: /media/clip.y4m
  audio: /media/clip.wav
encode:
  ranges: "0-100,200-300"
  cluster: true
output:
  path: /out/clip
  mux: mpegts
  split_bytes: 64MiB
pipeline:
  slots: 16
  frame_workers: 2
filters:
  - name: skip
    kind: video
    stage: pre
    options:
      every: "5"
ledger:
  enabled: true
  retention: 2w
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "/media/clip.y4m", cfg.Input.Video)
	assert.Equal(t, "0-100,200-300", cfg.Encode.Ranges)
	assert.True(t, cfg.Encode.Cluster)
	assert.Equal(t, "mpegts", cfg.Output.Mux)
	assert.Equal(t, ByteSize(64*1024*1024), cfg.Output.SplitBytes)
	assert.Equal(t, 16, cfg.Pipeline.Slots)
	assert.Equal(t, 2, cfg.Pipeline.FrameWorkers)
	require.Len(t, cfg.Filters, 1)
	assert.Equal(t, "skip", cfg.Filters[0].Name)
	assert.Equal(t, "5", cfg.Filters[0].Options["every"])
	assert.True(t, cfg.Ledger.Enabled)
	assert.Equal(t, 14*24*time.Hour, cfg.Ledger.Retention.Duration())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("REELPIPE_LOGGING_LEVEL", "warn")
	t.Setenv("REELPIPE_OUTPUT_SPLIT_FRAMES", "100")
	t.Setenv("REELPIPE_PIPELINE_MAX_MEMORY", "1GB")
	t.Setenv("REELPIPE_ENCODE_VIDEO_CODEC", "null")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, int64(100), cfg.Output.SplitFrames)
	assert.Equal(t, ByteSize(1000*1000*1000), cfg.Pipeline.MaxMemory)
	assert.Equal(t, "null", cfg.Encode.VideoCodec)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "reelpipe.yaml")

	configContent := `
output:
  mux: raw
pipeline:
  slots: 4
`
	err := os.WriteFile(configPath, []byte(configContent), 0o600)
	require.NoError(t, err)

	t.Setenv("REELPIPE_PIPELINE_SLOTS", "32")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Pipeline.Slots)
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "reelpipe.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("logging: [unclosed"), 0o600))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/reelpipe.yaml")
	assert.Error(t, err)
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validTestConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"frame rate", func(c *Config) { c.Input.FrameRate = "fast" }},
		{"synthetic rate", func(c *Config) { c.Input.Synthetic.FrameRate = "0" }},
		{"negative frames", func(c *Config) { c.Input.Synthetic.Frames = -1 }},
		{"missing codec", func(c *Config) { c.Encode.AudioCodec = "" }},
		{"mux", func(c *Config) { c.Output.Mux = "mp4" }},
		{"both split limits", func(c *Config) {
			c.Output.SplitFrames = 100
			c.Output.SplitBytes = 1024
		}},
		{"negative split", func(c *Config) { c.Output.SplitFrames = -1 }},
		{"slots", func(c *Config) { c.Pipeline.Slots = 0 }},
		{"workers", func(c *Config) { c.Pipeline.FrameWorkers = -2 }},
		{"filter kind", func(c *Config) { c.Filters = []FilterConfig{{Name: "skip", Kind: "subtitle"}} }},
		{"filter name", func(c *Config) { c.Filters = []FilterConfig{{Kind: "video"}} }},
		{"control port", func(c *Config) {
			c.Control.Enabled = true
			c.Control.Port = 70000
		}},
		{"ledger driver", func(c *Config) {
			c.Ledger.Enabled = true
			c.Ledger.Driver = "oracle"
		}},
		{"ledger dsn", func(c *Config) {
			c.Ledger.Enabled = true
			c.Ledger.DSN = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_SyntheticIgnoredWithRealInputs(t *testing.T) {
	cfg := validTestConfig()
	cfg.Input.Video = "a.y4m"
	cfg.Input.Audio = "a.wav"
	cfg.Input.Synthetic.FrameRate = ""
	assert.NoError(t, cfg.Validate())
}

func TestConfig_AllDrivers(t *testing.T) {
	for _, driver := range []string{"sqlite", "postgres", "mysql"} {
		t.Run(driver, func(t *testing.T) {
			cfg := validTestConfig()
			cfg.Ledger.Enabled = true
			cfg.Ledger.Driver = driver
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestControlConfig_Address(t *testing.T) {
	c := ControlConfig{Host: "0.0.0.0", Port: 9000}
	assert.Equal(t, "0.0.0.0:9000", c.Address())
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		in      string
		want    [2]int64
		wantErr bool
	}{
		{"25", [2]int64{25, 1}, false},
		{"30000/1001", [2]int64{30000, 1001}, false},
		{"29.97", [2]int64{30000, 1001}, false},
		{"0", [2]int64{}, true},
		{"1/0", [2]int64{}, true},
		{"abc", [2]int64{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
