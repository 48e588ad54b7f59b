package cli

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/chronicle-db/sensorcache"
)

// loadConfig returns the configuration selected by the global flags.
func loadConfig(opts *RootOptions) (sensorcache.Config, error) {
	if opts.ConfigPath == "" {
		cfg := sensorcache.DefaultConfig(opts.DBPath)
		cfg.Logging.Level = "warn"
		return cfg, nil
	}
	cfg, err := sensorcache.LoadConfig(opts.ConfigPath)
	if err != nil {
		return sensorcache.Config{}, err
	}
	return *cfg, nil
}

// openCache opens the cache selected by the global flags. Logs go to logw.
func openCache(ctx context.Context, opts *RootOptions, logw io.Writer) (*sensorcache.Cache, *ExitError) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logging := cfg.Logging
	if opts.Verbose {
		logging.Level = "debug"
	}
	cfg.Logger = logging.NewLogger(logw)

	c, err := sensorcache.Open(ctx, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open cache", err)
	}
	return c, nil
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// runWithCache opens the cache, runs fn and reports its error through the
// formatter.
func runWithCache(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, c *sensorcache.Cache, f *OutputFormatter) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts, cmd)

	c, err := openCache(ctx, opts, f.GetErrWriter())
	if err != nil {
		return f.report(ErrCodeConfig, err)
	}
	defer c.Close()

	if err := fn(ctx, c, f); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return f.report(ErrCodeGeneric, exitErr)
		}
		return f.report(errorCode(err), WrapExitError(ExitFailure, cmd.Name()+" failed", err))
	}
	return nil
}
