package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chronicle-db/sensorcache"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Raw bool
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <task-id> <device-id>",
		Short: "Print the value stored for a device",
		Long: `Print the value stored for a device.

With --raw the value is printed as stored, without decompression.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, cmd, args[0], args[1])
		},
	}

	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "print the stored form of the value")

	return cmd
}

func runGet(opts *GetOptions, cmd *cobra.Command, taskID, deviceID string) error {
	return runWithCache(opts.RootOptions, cmd, func(ctx context.Context, c *sensorcache.Cache, f *OutputFormatter) error {
		get := c.Get
		if opts.Raw {
			get = c.Records().Get
		}
		value, ok, err := get(ctx, taskID, deviceID)
		if err != nil {
			return err
		}
		if !ok {
			msg := fmt.Sprintf("no value for device %q in task %q", deviceID, taskID)
			return f.report(ErrCodeNotFound, NewExitError(ExitFailure, msg))
		}
		return f.Success(value, func(w io.Writer) error {
			_, err := fmt.Fprintln(w, value)
			return err
		})
	})
}
