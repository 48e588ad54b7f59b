package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chronicle-db/sensorcache"
)

// NewMetaCommand creates the meta command with its get and set subcommands.
func NewMetaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Read or write task metadata",
	}

	cmd.AddCommand(newMetaGetCommand(rootOpts))
	cmd.AddCommand(newMetaSetCommand(rootOpts))

	return cmd
}

func newMetaGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <task-id>",
		Short:         "Print the metadata of a task",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			return runWithCache(rootOpts, cmd, func(ctx context.Context, c *sensorcache.Cache, f *OutputFormatter) error {
				rec, err := c.GetMeta(ctx, taskID)
				if err != nil {
					return err
				}
				if rec == nil {
					msg := fmt.Sprintf("no metadata for task %q", taskID)
					return f.report(ErrCodeNotFound, NewExitError(ExitFailure, msg))
				}
				return f.Success(rec, func(w io.Writer) error {
					enc := json.NewEncoder(w)
					enc.SetIndent("", "  ")
					return enc.Encode(rec.Meta)
				})
			})
		},
	}
}

func newMetaSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <task-id> <key=value>...",
		Short: "Replace the metadata of a task",
		Long: `Replace the metadata of a task with the given key=value pairs.

Values that parse as JSON are stored as such; anything else is stored as a
string.

Examples:
  sensorcachectl meta set T1 site=warehouse-4 devices=12 active=true`,
		Args:          cobra.MinimumNArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			taskID := args[0]
			meta, err := parseMetaPairs(args[1:])
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid metadata", err)
			}
			return runWithCache(rootOpts, cmd, func(ctx context.Context, c *sensorcache.Cache, f *OutputFormatter) error {
				if err := c.PutMeta(ctx, taskID, meta); err != nil {
					return err
				}
				return f.Success(meta, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "✓ Stored %d metadata field(s) for %s\n", len(meta), taskID)
					return err
				})
			})
		},
	}
}

func parseMetaPairs(pairs []string) (map[string]any, error) {
	meta := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		meta[key] = v
	}
	return meta, nil
}
