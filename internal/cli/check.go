package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"text/tabwriter"

	"github.com/faceattend/faceattend/internal/api"
	"github.com/faceattend/faceattend/internal/engine"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// fileResult is the outcome of checking one file
type fileResult struct {
	File   string             `json:"file"`
	Result *api.CheckResponse `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

func (r fileResult) live() bool {
	return r.Result != nil && r.Result.IsLive
}

type checkOptions struct {
	record   bool
	jsonOut  bool
	source   string
	workers  int
	progress bool
}

func newCheckCommand(opts *options) *cobra.Command {
	co := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check <image>...",
		Short: "Score image files for liveness",
		Long: "Score image files for liveness. Files are checked concurrently and the\n" +
			"command exits non-zero when any file is not judged live.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := engine.Open(cmd.Context(), opts.config, opts.logger, co.record)
			if err != nil {
				return err
			}
			defer func() {
				if err := e.Close(); err != nil {
					opts.logger.Errorf("Failed to close engine: %v", err)
				}
			}()

			results, err := checkFiles(cmd.Context(), e, args, co, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			if co.jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return err
				}
			} else {
				printResults(cmd.OutOrStdout(), results)
			}

			notLive := 0
			for _, r := range results {
				if !r.live() {
					notLive++
				}
			}
			if notLive > 0 {
				return fmt.Errorf("%d of %d images failed the liveness check", notLive, len(results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&co.record, "record", false, "Record results in the check history")
	cmd.Flags().BoolVar(&co.jsonOut, "json", false, "Print results as JSON")
	cmd.Flags().StringVar(&co.source, "source", "", "Source to attribute checks to (default: the file path)")
	cmd.Flags().IntVarP(&co.workers, "workers", "w", runtime.NumCPU(), "Number of files checked concurrently")
	cmd.Flags().BoolVar(&co.progress, "progress", true, "Show a progress bar")

	return cmd
}

// checkFiles scores every file, keeping results in argument order
func checkFiles(ctx context.Context, e *engine.Engine, files []string, co *checkOptions, progress io.Writer) ([]fileResult, error) {
	results := make([]fileResult, len(files))

	if !co.progress {
		progress = io.Discard
	}
	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Checking"),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	workers := co.workers
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			defer func() { _ = bar.Add(1) }()

			results[i] = checkFile(ctx, e, file, co.source)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	_ = bar.Finish()

	return results, nil
}

// checkFile never fails the batch: per-file problems are reported in the result
func checkFile(ctx context.Context, e *engine.Engine, file, source string) fileResult {
	res := fileResult{File: file}

	data, err := os.ReadFile(file)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	if source == "" {
		source = file
	}
	result, err := e.Check(ctx, source, data)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	resp := api.NewCheckResponse(result)
	res.Result = &resp
	return res
}

func printResults(w io.Writer, results []fileResult) {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "FILE\tSCORE\tLIVE\tREASON")
	fmt.Fprintln(tw, "----\t-----\t----\t------")

	for _, r := range results {
		switch {
		case r.Result == nil:
			fmt.Fprintf(tw, "%s\t-\t-\t%s\n", r.File, r.Error)
		case r.Result.Skipped:
			fmt.Fprintf(tw, "%s\t-\t%v\t%s\n", r.File, r.Result.IsLive, "liveness detection disabled")
		default:
			fmt.Fprintf(tw, "%s\t%.3f\t%v\t%s\n", r.File, *r.Result.LivenessScore, r.Result.IsLive, r.Result.Reason)
		}
	}
	_ = tw.Flush()
}
