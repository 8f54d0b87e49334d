package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/faceattend/faceattend/internal/engine"
	"github.com/spf13/cobra"
)

func newHistoryCommand(opts *options) *cobra.Command {
	var (
		limit     int
		source    string
		jsonOut   bool
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent liveness checks and totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engine.Open(cmd.Context(), opts.config, opts.logger, true)
			if err != nil {
				return err
			}
			defer func() {
				if err := e.Close(); err != nil {
					opts.logger.Errorf("Failed to close engine: %v", err)
				}
			}()

			out := cmd.OutOrStdout()

			if olderThan > 0 {
				n, err := e.Prune(olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted %d checks older than %s\n", n, olderThan)
				return nil
			}

			checks, err := e.History(source, limit)
			if err != nil {
				return err
			}
			stats, err := e.Stats()
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"checks": checks,
					"stats":  stats,
				})
			}

			if len(checks) == 0 {
				fmt.Fprintln(out, "No checks recorded.")
			} else {
				w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "ID\tSOURCE\tSCORE\tLIVE\tREASON\tCREATED")
				fmt.Fprintln(w, "--\t------\t-----\t----\t------\t-------")
				for _, c := range checks {
					reason := c.ErrorMessage
					if reason == "" && len(c.Reasons) > 0 {
						reason = c.Reasons[0]
					}
					fmt.Fprintf(w, "%s\t%s\t%.3f\t%v\t%s\t%s\n",
						c.ID, c.Source, c.Score, c.IsLive, reason, c.CreatedAt.Local().Format("2006-01-02 15:04:05"))
				}
				_ = w.Flush()
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Statistics")
			fmt.Fprintln(out, "==========")
			fmt.Fprintf(out, "Total checks: %d\n", stats.Total)
			if stats.Total > 0 {
				fmt.Fprintf(out, "Live: %d (%.1f%%)\n", stats.Live, float64(stats.Live)/float64(stats.Total)*100)
				fmt.Fprintf(out, "Spoof: %d (%.1f%%)\n", stats.Spoof, float64(stats.Spoof)/float64(stats.Total)*100)
				fmt.Fprintf(out, "Failed: %d\n", stats.Failed)
				fmt.Fprintf(out, "Average score: %.3f\n", stats.AverageScore)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Number of checks to show (default from config)")
	cmd.Flags().StringVar(&source, "source", "", "Only show checks from this source")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print history as JSON")
	cmd.Flags().DurationVar(&olderThan, "prune", 0, "Delete checks older than this age instead of listing")

	return cmd
}
