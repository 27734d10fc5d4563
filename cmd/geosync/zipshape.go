package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spachava753/geosync/internal/report"
	"github.com/spachava753/geosync/internal/shapefile"
)

func newZipshapeCommand() *cobra.Command {
	var cfg shapefile.BundleConfig

	cmd := &cobra.Command{
		Use:   "zipshape",
		Short: "Zip every shapefile in a directory together with its sidecar files",
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := shapefile.Bundle(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if err := report.RenderBundle(cmd.OutOrStdout(), summary); err != nil {
				return err
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%d of %d shapefiles could not be bundled", summary.Failed, summary.Total)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.InputDir, "input", "", "Directory searched recursively for .shp files")
	cmd.Flags().StringVar(&cfg.OutputDir, "output", "", "Directory for the zip files (default: the input directory)")
	cmd.Flags().BoolVar(&cfg.Overwrite, "overwrite", false, "Replace zip files that already exist")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
