// Package cmd implements the CLI commands for reelpipe.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jmylchreest/reelpipe/internal/config"
	"github.com/jmylchreest/reelpipe/internal/observability"
	"github.com/jmylchreest/reelpipe/internal/version"
)

var (
	// cfgFile holds the config file path from CLI flag.
	cfgFile string

	// v holds the configuration layers (defaults, file, environment).
	// It is built before any subcommand runs.
	v *viper.Viper
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "reelpipe",
	Short:   "Streaming audio/video encode pipeline",
	Version: version.Short(),
	Long: `reelpipe reads raw video and audio frames, runs them through per-media
filters and codecs, and writes a multiplexed output that can be rotated into
chunks by frame count or size.

Inputs may be single files, directories of units or synthetic generators.
A running encode can be paused, resumed and stopped over a local HTTP API,
and every run can be recorded in a run ledger.`,
	SilenceUsage: true,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// initLogging references rootCmd.PersistentFlags
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		if err := initConfig(); err != nil {
			return withExitCode(exitConfig, err)
		}
		return initLogging()
	}

	// Global flags are not bound to viper. They only override config and
	// environment values when explicitly set, so the priority stays
	// CLI flag > env var > config > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./reelpipe.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "auto", "log format (text, json, auto)")
}

// initConfig reads in the config file and REELPIPE_ environment variables.
func initConfig() error {
	nv, err := config.NewViper(cfgFile)
	if err != nil {
		return err
	}
	v = nv
	if used := v.ConfigFileUsed(); used != "" {
		fmt.Fprintln(os.Stderr, "Using config file:", used)
	}
	return nil
}

// initLogging configures the default slog logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format) - only if explicitly provided
//  2. Environment variables (REELPIPE_LOGGING_LEVEL, REELPIPE_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults
func initLogging() error {
	applyFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level":  "logging.level",
		"log-format": "logging.format",
	})

	logCfg := config.LoggingConfig{
		Level:      strings.ToLower(v.GetString("logging.level")),
		Format:     strings.ToLower(v.GetString("logging.format")),
		AddSource:  v.GetBool("logging.add_source"),
		TimeFormat: v.GetString("logging.time_format"),
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
		v.Set("logging.level", "warn")
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	observability.SetDefault(logger)
	return nil
}

// applyFlags copies explicitly set flags onto their viper keys.
func applyFlags(flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			continue
		}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			v.Set(key, sv.GetSlice())
			continue
		}
		v.Set(key, f.Value.String())
	}
}

// loadConfig applies flag overrides and decodes the configuration.
func loadConfig(flags *pflag.FlagSet, keys map[string]string) (*config.Config, error) {
	applyFlags(flags, keys)
	cfg, err := config.Unmarshal(v)
	if err != nil {
		return nil, withExitCode(exitConfig, err)
	}
	return cfg, nil
}
