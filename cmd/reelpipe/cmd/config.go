package cmd

import (
	"encoding"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/reelpipe/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing reelpipe configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the configuration in YAML format: defaults merged with the config
file and environment. Redirect the output to create a configuration template:

  reelpipe config dump > reelpipe.yaml

Configuration can be set via:
  - Config file (reelpipe.yaml, $HOME/.reelpipe/reelpipe.yaml, /etc/reelpipe/reelpipe.yaml)
  - Environment variables (REELPIPE_OUTPUT_MUX, REELPIPE_LEDGER_DSN, etc.)
  - Command-line flags on encode

Environment variables use the REELPIPE_ prefix and underscores for nesting.
Example: output.split_bytes -> REELPIPE_OUTPUT_SPLIT_BYTES`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

var textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations and sizes in their human-readable form.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)

		key := fieldType.Tag.Get("mapstructure")
		if key == "" {
			key = fieldType.Tag.Get("yaml")
		}
		if key == "" {
			key = fieldType.Name
		}
		result[key] = plainValue(field)
	}
	return result
}

func plainValue(field reflect.Value) any {
	if field.Type().Implements(textMarshalerType) {
		text, err := field.Interface().(encoding.TextMarshaler).MarshalText()
		if err == nil {
			return string(text)
		}
	}
	switch x := field.Interface().(type) {
	case time.Duration:
		return x.String()
	}
	switch field.Kind() {
	case reflect.Struct:
		return toMap(field.Interface())
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.Struct {
			return field.Interface()
		}
		items := make([]any, field.Len())
		for i := range items {
			items[i] = toMap(field.Index(i).Interface())
		}
		return items
	default:
		return field.Interface()
	}
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Unmarshal(v)
	if err != nil {
		return withExitCode(exitConfig, fmt.Errorf("loading config: %w", err))
	}
	return dumpConfig(cmd.OutOrStdout(), cfg)
}

func dumpConfig(w io.Writer, cfg *config.Config) error {
	yamlData, err := yaml.Marshal(toMap(cfg))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(w, "# reelpipe Configuration File")
	fmt.Fprintln(w, "# ===========================")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Duration format: 30s, 5m, 1h, 30d")
	fmt.Fprintln(w, "# Size format: 64MB, 1GiB")
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "# Environment variable overrides:")
	fmt.Fprintln(w, "#   REELPIPE_INPUT_VIDEO, REELPIPE_INPUT_AUDIO")
	fmt.Fprintln(w, "#   REELPIPE_OUTPUT_PATH, REELPIPE_OUTPUT_MUX")
	fmt.Fprintln(w, "#   REELPIPE_LOGGING_LEVEL, REELPIPE_LOGGING_FORMAT")
	fmt.Fprintln(w, "#   etc.")
	fmt.Fprintln(w)
	_, err = w.Write(yamlData)
	return err
}
