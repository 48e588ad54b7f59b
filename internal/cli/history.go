package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chronicle-db/sensorcache"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the schema version history",
		Long: `Show every schema version of the cache with the namespaces it created
and deleted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithCache(rootOpts, cmd, func(ctx context.Context, c *sensorcache.Cache, f *OutputFormatter) error {
				history, err := c.History(ctx)
				if err != nil {
					return err
				}
				return f.Success(history, func(w io.Writer) error {
					rows := make([][]string, 0, len(history))
					for _, h := range history {
						rows = append(rows, []string{
							fmt.Sprint(h.Version),
							strings.Join(h.Created, ", "),
							strings.Join(h.Deleted, ", "),
							humanize.Time(h.At),
						})
					}
					return renderTable(w, []string{"Version", "Created", "Deleted", "When"}, rows)
				})
			})
		},
	}
}
