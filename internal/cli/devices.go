package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chronicle-db/sensorcache"
)

// NewDevicesCommand creates the devices command.
func NewDevicesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "devices <task-id>",
		Short:         "List the devices stored under a task",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			return runWithCache(rootOpts, cmd, func(ctx context.Context, c *sensorcache.Cache, f *OutputFormatter) error {
				ids, err := c.ListDeviceIDs(ctx, taskID)
				if err != nil {
					return err
				}
				return f.Success(ids, func(w io.Writer) error {
					for _, id := range ids {
						if _, err := fmt.Fprintln(w, id); err != nil {
							return err
						}
					}
					return nil
				})
			})
		},
	}
}
