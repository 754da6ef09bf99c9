package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/reelpipe/internal/config"
	"github.com/jmylchreest/reelpipe/internal/frame"
	"github.com/jmylchreest/reelpipe/internal/source"
)

var (
	probeFormat    string
	probeFrameRate string
)

var probeCmd = &cobra.Command{
	Use:   "probe PATH...",
	Short: "Describe input files",
	Long: `Print the format of each input unit: geometry, frame rate and
colorspace for video, sample layout for audio, and the frame size the import
loop would read. Directories and comma separated lists are expanded into
their units and checked for compatibility with the first unit.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVar(&probeFormat, "format", "yaml", "output format (yaml, json)")
	probeCmd.Flags().StringVar(&probeFrameRate, "frame-rate", "25", "video frame rate used to size audio frames")
}

// unitProbe is the probe report for one unit.
type unitProbe struct {
	Path       string        `json:"path" yaml:"path"`
	Kind       string        `json:"kind" yaml:"kind"`
	Probe      *source.Probe `json:"probe,omitempty" yaml:"probe,omitempty"`
	FrameBytes int           `json:"frame_bytes,omitempty" yaml:"frame_bytes,omitempty"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// inputProbe is the probe report for one argument.
type inputProbe struct {
	Input      string      `json:"input" yaml:"input"`
	Units      []unitProbe `json:"units" yaml:"units"`
	Compatible bool        `json:"compatible" yaml:"compatible"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	rate, err := config.ParseRate(probeFrameRate)
	if err != nil {
		return withExitCode(exitConfig, fmt.Errorf("--frame-rate: %w", err))
	}
	fps := frame.Rational{Num: rate[0], Den: rate[1]}

	var (
		reports []inputProbe
		failed  bool
	)
	for _, arg := range args {
		r, err := probeInput(arg, fps)
		if err != nil {
			return withExitCode(exitFailed, err)
		}
		if !r.Compatible {
			failed = true
		}
		reports = append(reports, r)
	}

	if err := writeProbes(cmd.OutOrStdout(), probeFormat, reports); err != nil {
		return err
	}
	if failed {
		return withExitCode(exitProbeError, source.ErrProbeMismatch)
	}
	return nil
}

// probeInput probes every unit of arg against the first one.
func probeInput(arg string, fps frame.Rational) (inputProbe, error) {
	units, err := source.ExpandUnits(arg)
	if err != nil {
		return inputProbe{}, err
	}
	out := inputProbe{Input: arg, Compatible: true}

	var ref *source.Probe
	for _, path := range units {
		up := unitProbe{Path: path}
		kind, ok := kindOf(path)
		if !ok {
			up.Error = fmt.Sprintf("%v: %s", source.ErrUnknownFormat, source.DetectFormat(path))
			out.Compatible = false
			out.Units = append(out.Units, up)
			continue
		}
		up.Kind = kind.String()

		p, err := source.ProbeFile(path, kind, fps)
		if err != nil {
			up.Error = err.Error()
			out.Compatible = false
			out.Units = append(out.Units, up)
			continue
		}
		up.Probe = &p
		if kind == frame.Video {
			up.FrameBytes = source.VideoFrameSize(p.Width, p.Height, p.Colorspace)
		} else {
			up.FrameBytes = source.MaxAudioFrameSize(p.Track(), fps)
		}

		if ref == nil {
			ref = &p
		} else if err := ref.Compatible(p); err != nil {
			up.Error = err.Error()
			out.Compatible = false
		}
		out.Units = append(out.Units, up)
	}
	return out, nil
}

func kindOf(path string) (frame.Kind, bool) {
	switch source.DetectFormat(path) {
	case "y4m":
		return frame.Video, true
	case "wav":
		return frame.Audio, true
	default:
		return 0, false
	}
}

func writeProbes(w io.Writer, format string, reports []inputProbe) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case "yaml", "":
		return yaml.NewEncoder(w).Encode(reports)
	default:
		return withExitCode(exitConfig, fmt.Errorf("unknown output format %q", format))
	}
}
