package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/spachava753/geosync/internal/catalog"
	"github.com/spachava753/geosync/internal/config"
	"github.com/spachava753/geosync/internal/models"
	"github.com/spachava753/geosync/internal/report"
)

type catalogFlags struct {
	url     string
	project string
}

func (f *catalogFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.url, "catalog-url", "", "Catalog API base URL (overrides config and GEOSYNC_CATALOG_URL)")
	fs.StringVar(&f.project, "project", "", "Project whose operations are listed")
}

// client builds a catalog client from the config file, env and flags, in that order.
func (f *catalogFlags) client(ctx context.Context, root *rootOptions) (*catalog.Client, error) {
	cfg := config.DefaultUploadConfig(models.ModeRaster)
	if root.configPath != "" {
		var err error
		if cfg, err = config.LoadUploadConfig(root.configPath, models.ModeRaster); err != nil {
			return nil, err
		}
	}
	if err := config.ApplyEnv(ctx, &cfg); err != nil {
		return nil, err
	}
	if f.url != "" {
		cfg.Catalog.URL = f.url
	}
	if f.project != "" {
		cfg.Catalog.Project = f.project
	}
	return newCatalogClient(cfg)
}

func newTasksCommand(root *rootOptions) *cobra.Command {
	var (
		cf      catalogFlags
		state   string
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List ingestion operations or summarize them by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cf.client(cmd.Context(), root)
			if err != nil {
				return err
			}
			ops, err := client.ListOperations(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing operations: %w", err)
			}
			if summary {
				return report.RenderOperationSummary(cmd.OutOrStdout(), catalog.Summarize(ops))
			}
			if state != "" {
				ops = filterState(ops, state)
			}
			return report.RenderOperations(cmd.OutOrStdout(), ops)
		},
	}

	cf.register(cmd.Flags())
	cmd.Flags().StringVar(&state, "state", "", "Only list operations in this state, e.g. RUNNING or FAILED")
	cmd.Flags().BoolVar(&summary, "summary", false, "Print counts per state instead of a listing")
	return cmd
}

func filterState(ops []catalog.Operation, state string) []catalog.Operation {
	var out []catalog.Operation
	for _, op := range ops {
		if strings.EqualFold(op.Metadata.State, state) {
			out = append(out, op)
		}
	}
	return out
}

func newCancelCommand(root *rootOptions) *cobra.Command {
	var (
		cf       catalogFlags
		parallel int64
	)

	cmd := &cobra.Command{
		Use:   "cancel <all|running|pending|operation-id>",
		Short: "Cancel active ingestion operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := cf.client(cmd.Context(), root)
			if err != nil {
				return err
			}
			ops, err := client.ListOperations(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing operations: %w", err)
			}

			selected := catalog.Selection(ops, args[0])
			if len(selected) == 0 {
				slog.Info("nothing to cancel", "selection", args[0])
				return nil
			}
			slog.Info("cancelling operations", "selection", args[0], "count", len(selected))

			n, err := catalog.CancelAll(cmd.Context(), client, selected, parallel)
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d of %d operations\n", n, len(selected))
			return err
		},
	}

	cf.register(cmd.Flags())
	cmd.Flags().Int64Var(&parallel, "parallel", 8, "Cancel requests in flight at once")
	return cmd
}
