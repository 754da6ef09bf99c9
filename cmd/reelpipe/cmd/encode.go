package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/reelpipe/internal/config"
	"github.com/jmylchreest/reelpipe/internal/control"
	"github.com/jmylchreest/reelpipe/internal/ledger"
	"github.com/jmylchreest/reelpipe/internal/observability"
	"github.com/jmylchreest/reelpipe/internal/pipeline"
	"github.com/jmylchreest/reelpipe/internal/source"
	"github.com/jmylchreest/reelpipe/internal/version"
)

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Run an encode",
	Long: `Run one encode from the configured inputs to the configured output.

Inputs left empty are generated synthetically. A directory or a comma
separated list of files is read as consecutive units of one stream.

Examples:
  reelpipe encode --video in.y4m --audio in.wav -o out.raw
  reelpipe encode --video clips/ --audio clips.wav -o out.ts --mux mpegts --split-frames 750
  reelpipe encode --ranges 00:00:10-00:00:20 --cluster -o cut.raw --control`,
	RunE: runEncode,
}

// encodeFlagKeys maps encode flags onto configuration keys.
var encodeFlagKeys = map[string]string{
	"video":         "input.video",
	"audio":         "input.audio",
	"frame-rate":    "input.frame_rate",
	"video-codec":   "encode.video_codec",
	"audio-codec":   "encode.audio_codec",
	"ranges":        "encode.ranges",
	"cluster":       "encode.cluster",
	"output":        "output.path",
	"audio-output":  "output.audio_path",
	"mux":           "output.mux",
	"split-frames":  "output.split_frames",
	"split-bytes":   "output.split_bytes",
	"slots":         "pipeline.slots",
	"frame-workers": "pipeline.frame_workers",
	"control":       "control.enabled",
	"control-port":  "control.port",
	"ledger":        "ledger.enabled",
	"ledger-dsn":    "ledger.dsn",
}

var encodeReport string

func init() {
	rootCmd.AddCommand(encodeCmd)

	f := encodeCmd.Flags()
	f.String("video", "", "video input file, directory or list (empty = synthetic)")
	f.String("audio", "", "audio input file, directory or list (empty = synthetic)")
	f.String("frame-rate", "", "override the probed video frame rate, e.g. 30000/1001")
	f.String("video-codec", "raw", "video codec module")
	f.String("audio-codec", "raw", "audio codec module")
	f.String("ranges", "", "frame or timecode ranges to encode, e.g. 0-100,200-300")
	f.Bool("cluster", false, "stop after the last range")
	f.StringP("output", "o", "", "output path")
	f.String("audio-output", "", "separate audio output path")
	f.String("mux", "raw", "multiplexer (raw, null, mpegts)")
	f.Int64("split-frames", 0, "rotate the output every N frames")
	f.String("split-bytes", "", "rotate the output once a chunk reaches this size, e.g. 64MB")
	f.Int("slots", 8, "frame slots per media kind")
	f.Int("frame-workers", 0, "filter workers per media kind (-1 = auto)")
	f.Bool("control", false, "serve the run control API")
	f.Int("control-port", 8089, "run control API port")
	f.Bool("ledger", false, "record the run in the run ledger")
	f.String("ledger-dsn", "", "run ledger DSN")
	f.StringVar(&encodeReport, "report", "text", "result report format (text, json, yaml, none)")
}

func runEncode(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Flags(), encodeFlagKeys)
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := pipeline.New(ctx, cfg, logger)
	if err != nil {
		return withExitCode(setupExitCode(err), err)
	}
	defer p.Close()
	logger = observability.WithRunID(logger, p.RunID())

	var (
		runs *ledger.Ledger
		rec  *ledger.RunRecord
	)
	if cfg.Ledger.Enabled {
		runs, rec, err = startLedger(ctx, cfg, p.RunID(), logger)
		if err != nil {
			return withExitCode(exitFailed, err)
		}
		defer runs.Close()
	}

	var (
		g         errgroup.Group
		stopServe = func() {}
	)
	if cfg.Control.Enabled {
		srv := control.NewServer(controlServerConfig(cfg.Control), p, logger, version.Short())
		if err := srv.Listen(); err != nil {
			return withExitCode(exitConfig, err)
		}
		var serveCtx context.Context
		serveCtx, stopServe = context.WithCancel(context.Background())
		g.Go(func() error { return srv.ListenAndServe(serveCtx) })
	}

	res, runErr := p.Run(ctx)
	stopServe()
	if err := g.Wait(); err != nil {
		logger.Warn("control server error", slog.String("error", err.Error()))
	}
	if res == nil {
		return withExitCode(exitFailed, runErr)
	}

	if runs != nil {
		// The run context may already be cancelled; the record is still written.
		recordCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := runs.Finish(recordCtx, rec, res); err != nil {
			logger.Error("recording run result failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	if err := writeReport(cmd.OutOrStdout(), encodeReport, res); err != nil {
		return err
	}
	if code := outcomeExitCode(res.Outcome); code != exitOK {
		if runErr == nil {
			runErr = fmt.Errorf("run ended with outcome %s", res.Outcome)
		}
		return withExitCode(code, runErr)
	}
	return nil
}

// setupExitCode picks the exit code for an error building the pipeline.
func setupExitCode(err error) int {
	var cfgErr *pipeline.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.Is(err, source.ErrProbeMismatch):
		return exitProbeError
	default:
		return exitFailed
	}
}

func controlServerConfig(c config.ControlConfig) control.ServerConfig {
	sc := control.DefaultServerConfig()
	sc.Host = c.Host
	sc.Port = c.Port
	if d := c.ShutdownTimeout.Duration(); d > 0 {
		sc.ShutdownTimeout = d
	}
	return sc
}

func startLedger(ctx context.Context, cfg *config.Config, runID string, logger *slog.Logger) (*ledger.Ledger, *ledger.RunRecord, error) {
	runs, err := ledger.Open(ctx, cfg.Ledger, logger)
	if err != nil {
		return nil, nil, err
	}
	if n, err := runs.PruneRetention(ctx, time.Now()); err != nil {
		logger.Warn("pruning run ledger failed", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("pruned run ledger", slog.Int64("removed", n))
	}
	rec, err := runs.Start(ctx, runID, cfg, time.Now())
	if err != nil {
		_ = runs.Close()
		return nil, nil, err
	}
	return runs, rec, nil
}

// writeReport prints the run result in the requested format.
func writeReport(w io.Writer, format string, res *pipeline.Result) error {
	switch format {
	case "none":
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reportOf(res))
	case "yaml":
		return yaml.NewEncoder(w).Encode(reportOf(res))
	case "text", "":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		st := res.Encoder
		fmt.Fprintf(tw, "run\t%s\n", res.RunID)
		fmt.Fprintf(tw, "outcome\t%s\n", res.Outcome)
		fmt.Fprintf(tw, "encoded\t%s frames\n", humanize.Comma(st.Encoded))
		fmt.Fprintf(tw, "skipped\t%s\n", humanize.Comma(st.Skipped))
		fmt.Fprintf(tw, "dropped\t%s\n", humanize.Comma(st.Dropped))
		fmt.Fprintf(tw, "cloned\t%s\n", humanize.Comma(st.Cloned))
		fmt.Fprintf(tw, "written\t%s in %d chunk(s)\n", humanize.IBytes(uint64(max(st.Bytes, 0))), st.Chunks)
		fmt.Fprintf(tw, "duration\t%s\n", res.Duration.Round(time.Millisecond))
		if msg := res.ErrMessage(); msg != "" {
			fmt.Fprintf(tw, "error\t%s\n", msg)
		}
		return tw.Flush()
	default:
		return withExitCode(exitConfig, fmt.Errorf("unknown report format %q", format))
	}
}

// report is the serialized form of a run result.
type report struct {
	RunID    string                  `json:"run_id" yaml:"run_id"`
	Outcome  string                  `json:"outcome" yaml:"outcome"`
	Encoded  int64                   `json:"encoded" yaml:"encoded"`
	Skipped  int64                   `json:"skipped" yaml:"skipped"`
	Dropped  int64                   `json:"dropped" yaml:"dropped"`
	Cloned   int64                   `json:"cloned" yaml:"cloned"`
	Delayed  int64                   `json:"delayed" yaml:"delayed"`
	Bytes    int64                   `json:"bytes" yaml:"bytes"`
	Chunks   int                     `json:"chunks" yaml:"chunks"`
	Imports  []pipeline.ImportResult `json:"imports" yaml:"imports"`
	Duration string                  `json:"duration" yaml:"duration"`
	Error    string                  `json:"error,omitempty" yaml:"error,omitempty"`
}

func reportOf(res *pipeline.Result) report {
	st := res.Encoder
	return report{
		RunID:    res.RunID,
		Outcome:  string(res.Outcome),
		Encoded:  st.Encoded,
		Skipped:  st.Skipped,
		Dropped:  st.Dropped,
		Cloned:   st.Cloned,
		Delayed:  st.Delayed,
		Bytes:    st.Bytes,
		Chunks:   st.Chunks,
		Imports:  []pipeline.ImportResult{res.Video, res.Audio},
		Duration: res.Duration.String(),
		Error:    res.ErrMessage(),
	}
}
