package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chronicle-db/sensorcache"
)

// SizeResult is the output of the size command.
type SizeResult struct {
	Bytes int64  `json:"bytes"`
	Human string `json:"human"`
	Tasks int    `json:"tasks"`
}

// NewSizeCommand creates the size command.
func NewSizeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "size",
		Short: "Estimate the stored size of all values",
		Long: `Sum the stored length of every value in every task.

Values are counted as stored, so compressed values count with their
encoded size. Task metadata is not included.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithCache(rootOpts, cmd, func(ctx context.Context, c *sensorcache.Cache, f *OutputFormatter) error {
				size, err := c.EstimateTotalSize(ctx)
				if err != nil {
					return err
				}
				tasks, err := c.ListTaskIDs(ctx)
				if err != nil {
					return err
				}
				res := SizeResult{Bytes: size, Human: humanize.Bytes(uint64(size)), Tasks: len(tasks)}
				return f.Success(res, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s in %d task(s)\n", res.Human, res.Tasks)
					return err
				})
			})
		},
	}
}
