package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/chronicle-db/sensorcache"
)

// TaskSummary describes one task in the tasks listing.
type TaskSummary struct {
	TaskID  string `json:"task_id"`
	Devices int    `json:"devices"`
	HasMeta bool   `json:"has_meta"`
}

// NewTasksCommand creates the tasks command.
func NewTasksCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "tasks",
		Short:         "List tasks with stored data",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithCache(rootOpts, cmd, func(ctx context.Context, c *sensorcache.Cache, f *OutputFormatter) error {
				ids, err := c.ListTaskIDs(ctx)
				if err != nil {
					return err
				}

				summaries := make([]TaskSummary, 0, len(ids))
				for _, id := range ids {
					devices, err := c.ListDeviceIDs(ctx, id)
					if err != nil {
						return err
					}
					meta, err := c.GetMeta(ctx, id)
					if err != nil {
						return err
					}
					summaries = append(summaries, TaskSummary{TaskID: id, Devices: len(devices), HasMeta: meta != nil})
				}

				return f.Success(summaries, func(w io.Writer) error {
					if len(summaries) == 0 {
						_, err := fmt.Fprintln(w, "No tasks found")
						return err
					}
					rows := make([][]string, 0, len(summaries))
					for _, s := range summaries {
						rows = append(rows, []string{s.TaskID, fmt.Sprint(s.Devices), fmt.Sprint(s.HasMeta)})
					}
					return renderTable(w, []string{"Task", "Devices", "Metadata"}, rows)
				})
			})
		},
	}
}
