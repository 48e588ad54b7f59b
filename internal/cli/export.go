package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chronicle-db/sensorcache"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output string
}

// ExportResult is the output of the export command.
type ExportResult struct {
	TaskID string `json:"task_id"`
	Output string `json:"output"`
	Bytes  int    `json:"bytes"`
	Series int    `json:"series"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export <task-id>",
		Short: "Export a task's readings as a Prometheus remote-write body",
		Long: `Export the readings of a task as a snappy-compressed Prometheus
remote-write request, ready to POST to a remote-write endpoint.

Only values holding a JSON list of readings are exported.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "file to write the request body to (required)")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command, taskID string) error {
	return runWithCache(opts.RootOptions, cmd, func(ctx context.Context, c *sensorcache.Cache, f *OutputFormatter) error {
		body, err := c.Export(ctx, taskID)
		if err != nil {
			return err
		}
		req, err := sensorcache.DecodeWriteRequest(body)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.Output, body, 0o644); err != nil {
			return WrapExitError(ExitCommandError, "failed to write output", err)
		}

		res := ExportResult{TaskID: taskID, Output: opts.Output, Bytes: len(body), Series: len(req.Timeseries)}
		return f.Success(res, func(w io.Writer) error {
			_, err := fmt.Fprintf(w, "✓ Wrote %d series (%s) to %s\n", res.Series, humanize.Bytes(uint64(res.Bytes)), res.Output)
			return err
		})
	})
}
