package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/reelpipe/internal/config"
	"github.com/jmylchreest/reelpipe/internal/ledger"
)

var (
	runsLimit  int
	runsOffset int
	runsJSON   bool
	pruneOlder string
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run ledger",
	Long:  `Commands for listing, showing and pruning recorded encode runs.`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs, newest first",
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Show one recorded run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished runs older than a duration",
	Long: `Delete finished runs that started before the given age. Without
--older-than the configured ledger.retention is used.`,
	RunE: runRunsPrune,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsPruneCmd)

	runsCmd.PersistentFlags().String("ledger-dsn", "", "run ledger DSN")
	runsCmd.PersistentFlags().String("ledger-driver", "", "run ledger driver (sqlite, postgres, mysql)")
	runsCmd.PersistentFlags().BoolVar(&runsJSON, "json", false, "output as JSON")

	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	runsListCmd.Flags().IntVar(&runsOffset, "offset", 0, "runs to skip")

	runsPruneCmd.Flags().StringVar(&pruneOlder, "older-than", "", "age of runs to delete, e.g. 30d")
}

// openLedger opens the configured ledger regardless of ledger.enabled.
func openLedger(cmd *cobra.Command) (*ledger.Ledger, error) {
	v.Set("ledger.enabled", true)
	cfg, err := loadConfig(cmd.Flags(), map[string]string{
		"ledger-dsn":    "ledger.dsn",
		"ledger-driver": "ledger.driver",
	})
	if err != nil {
		return nil, err
	}
	l, err := ledger.Open(cmd.Context(), cfg.Ledger, slog.Default())
	if err != nil {
		return nil, withExitCode(exitFailed, err)
	}
	return l, nil
}

func runRunsList(cmd *cobra.Command, _ []string) error {
	l, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer l.Close()

	runs, total, err := l.List(cmd.Context(), runsOffset, runsLimit)
	if err != nil {
		return err
	}
	if runsJSON {
		return writeJSON(cmd.OutOrStdout(), map[string]any{"total": total, "runs": runs})
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tOUTCOME\tENCODED\tWRITTEN\tOUTPUT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			humanize.Time(r.StartedAt),
			r.Outcome,
			humanize.Comma(r.Encoded),
			humanize.IBytes(uint64(max(r.Bytes, 0))),
			r.OutputPath)
	}
	fmt.Fprintf(tw, "\n%d of %d run(s)\n", len(runs), total)
	return tw.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	l, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer l.Close()

	r, err := l.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if runsJSON {
		return writeJSON(cmd.OutOrStdout(), r)
	}
	return writeRun(cmd.OutOrStdout(), r)
}

func runRunsPrune(cmd *cobra.Command, _ []string) error {
	l, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer l.Close()

	var n int64
	if pruneOlder != "" {
		age, perr := config.ParseDuration(pruneOlder)
		if perr != nil {
			return withExitCode(exitConfig, fmt.Errorf("--older-than: %w", perr))
		}
		n, err = l.Prune(cmd.Context(), time.Now().Add(-age.Duration()))
	} else {
		n, err = l.PruneRetention(cmd.Context(), time.Now())
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %d run(s)\n", n)
	return nil
}

func writeRun(w io.Writer, r *ledger.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", r.ID)
	fmt.Fprintf(tw, "outcome\t%s\n", r.Outcome)
	fmt.Fprintf(tw, "started\t%s\n", r.StartedAt.Format(time.RFC3339))
	if r.FinishedAt != nil {
		fmt.Fprintf(tw, "finished\t%s (%s)\n", r.FinishedAt.Format(time.RFC3339), time.Duration(r.DurationMs)*time.Millisecond)
	}
	fmt.Fprintf(tw, "video\t%s (%s)\n", inputLabel(r.VideoInput), r.VideoCodec)
	fmt.Fprintf(tw, "audio\t%s (%s)\n", inputLabel(r.AudioInput), r.AudioCodec)
	fmt.Fprintf(tw, "output\t%s (%s, %d chunk(s))\n", r.OutputPath, r.Mux, r.Chunks)
	if r.Ranges != "" {
		fmt.Fprintf(tw, "ranges\t%s\n", r.Ranges)
	}
	fmt.Fprintf(tw, "encoded\t%s\n", humanize.Comma(r.Encoded))
	fmt.Fprintf(tw, "skipped/dropped/cloned\t%d/%d/%d\n", r.Skipped, r.Dropped, r.Cloned)
	fmt.Fprintf(tw, "written\t%s\n", humanize.IBytes(uint64(max(r.Bytes, 0))))
	if r.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", r.Error)
	}
	return tw.Flush()
}

func inputLabel(path string) string {
	if path == "" {
		return "synthetic"
	}
	return path
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
