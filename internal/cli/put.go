package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chronicle-db/sensorcache"
)

// NewPutCommand creates the put command.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <task-id> <device-id> <value|->",
		Short: "Store a value for a device",
		Long: `Store a value for a device, creating the task if needed.

A value of "-" reads the value from standard input.

Examples:
  sensorcachectl put T1 D1 '[{"timestamp":1704067200000,"temperature":21.5,"humidity":48}]'
  sensorcachectl put T1 D2 - < readings.json`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID, deviceID, value := args[0], args[1], args[2]
			if value == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read value", err)
				}
				value = string(data)
			}

			return runWithCache(rootOpts, cmd, func(ctx context.Context, c *sensorcache.Cache, f *OutputFormatter) error {
				if err := c.Put(ctx, taskID, deviceID, value); err != nil {
					return err
				}
				return f.Success(map[string]string{"task_id": taskID, "device_id": deviceID}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "✓ Stored %s/%s\n", taskID, deviceID)
					return err
				})
			})
		},
	}
}
