package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chronicle-db/sensorcache"
)

// DropOptions holds flags for the drop command.
type DropOptions struct {
	*RootOptions
	Meta bool
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DropOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drop <task-id>...",
		Short: "Delete every value stored under tasks",
		Long: `Delete every value stored under the given tasks.

Task metadata is kept unless --meta is given. Dropping a task that has no
data is not an error.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithCache(opts.RootOptions, cmd, func(ctx context.Context, c *sensorcache.Cache, f *OutputFormatter) error {
				for _, taskID := range args {
					f.VerboseLog("Dropping task %s", taskID)
					if err := c.DeleteAllForTask(ctx, taskID); err != nil {
						return err
					}
					if opts.Meta {
						if err := c.DeleteMeta(ctx, taskID); err != nil {
							return err
						}
					}
				}
				return f.Success(args, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "✓ Dropped %d task(s)\n", len(args))
					return err
				})
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Meta, "meta", false, "also delete task metadata")

	return cmd
}
