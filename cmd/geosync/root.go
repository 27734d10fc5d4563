package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/spachava753/geosync/internal/telemetry"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "geosync",
		Short:         "Reconcile local rasters and tables with a remote geospatial catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := telemetry.NewLogger(opts.logLevel, opts.logFormat, os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML or TOML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn or error (default info)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "Log format: text or json (default text)")

	cmd.AddCommand(newUploadCommand(opts))
	cmd.AddCommand(newTabupCommand(opts))
	cmd.AddCommand(newTasksCommand(opts))
	cmd.AddCommand(newCancelCommand(opts))
	cmd.AddCommand(newZipshapeCommand())
	return cmd
}
