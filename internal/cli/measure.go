package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chronicle-db/sensorcache"
)

// MeasureOptions holds flags for the measure command.
type MeasureOptions struct {
	*RootOptions
	Readings   int
	Iterations int
	SampleFile string
}

// NewMeasureCommand creates the measure command.
func NewMeasureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MeasureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Measure compression cost and benefit",
		Long: `Write and read a sample through the cache, compressed and plain, and
report sizes and average latencies.

The sample is a generated list of temperature and humidity readings unless
--sample-file is given. Measuring works in a scratch task that is removed
afterwards.

Examples:
  sensorcachectl measure
  sensorcachectl measure --readings 5000 --iterations 50
  sensorcachectl measure --sample-file readings.json --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMeasure(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Readings, "readings", "n", 1000, "number of generated readings in the sample")
	cmd.Flags().IntVarP(&opts.Iterations, "iterations", "i", 10, "number of write/read rounds")
	cmd.Flags().StringVar(&opts.SampleFile, "sample-file", "", "measure the contents of this file instead")

	return cmd
}

func runMeasure(opts *MeasureOptions, cmd *cobra.Command) error {
	sample := sensorcache.SampleReadings(opts.Readings)
	if opts.SampleFile != "" {
		data, err := os.ReadFile(opts.SampleFile)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read sample", err)
		}
		sample = string(data)
	}

	return runWithCache(opts.RootOptions, cmd, func(ctx context.Context, c *sensorcache.Cache, f *OutputFormatter) error {
		f.VerboseLog("Measuring %s sample over %d iteration(s)", humanize.Bytes(uint64(len(sample))), opts.Iterations)

		res, err := c.Measure(ctx, sample, opts.Iterations)
		if err != nil {
			return err
		}
		return f.Success(res, func(w io.Writer) error {
			return renderTable(w, []string{"Metric", "Value"}, measureRows(res))
		})
	})
}

func measureRows(res *sensorcache.MeasureResult) [][]string {
	return [][]string{
		{"Original size", humanize.Bytes(uint64(res.OriginalSize))},
		{"Compressed size", humanize.Bytes(uint64(res.CompressedSize))},
		{"Space saved", fmt.Sprintf("%.1f%%", res.CompressionRatio)},
		{"Save (compressed)", formatDuration(res.SaveTime)},
		{"Load (compressed)", formatDuration(res.LoadTime)},
		{"Parse", formatDuration(res.ParseTime)},
		{"Save (plain)", formatDuration(res.PlainSaveTime)},
		{"Load (plain)", formatDuration(res.PlainLoadTime)},
		{"Total save", formatDuration(res.TotalSaveTime)},
		{"Total load", formatDuration(res.TotalLoadTime)},
		{"Iterations", fmt.Sprint(res.Iterations)},
	}
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.3fms", float64(d)/float64(time.Millisecond))
}
