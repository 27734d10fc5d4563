package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/spachava753/geosync/internal/catalog"
	"github.com/spachava753/geosync/internal/config"
	"github.com/spachava753/geosync/internal/events"
	"github.com/spachava753/geosync/internal/executor"
	"github.com/spachava753/geosync/internal/models"
	"github.com/spachava753/geosync/internal/namespace"
	"github.com/spachava753/geosync/internal/report"
	"github.com/spachava753/geosync/internal/storage"
	"github.com/spachava753/geosync/internal/telemetry"
)

// uploadFlags holds the values of flags shared by upload and tabup. Only flags the
// operator actually set override the config file.
type uploadFlags struct {
	source      string
	dest        string
	metadata    string
	idColumn    string
	overwrite   string
	workers     int
	maxInflight int
	pollSec     float64
	resume      bool
	retryFailed bool
	dryRun      bool
	yes         bool
	storage     string
	bucket      string
	prefix      string
	metricsFile string
	eventsNATS  string

	pyramiding string
	nodata     float64
	mask       bool

	xColumn     string
	yColumn     string
	maxError    float64
	maxVertices int
}

func newUploadCommand(root *rootOptions) *cobra.Command {
	f := &uploadFlags{}
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload GeoTIFF rasters from a directory into an image collection",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, root, f, models.ModeRaster)
		},
	}
	addCommonUploadFlags(cmd.Flags(), f)
	addRasterFlags(cmd.Flags(), f)
	return cmd
}

func newTabupCommand(root *rootOptions) *cobra.Command {
	f := &uploadFlags{}
	cmd := &cobra.Command{
		Use:   "tabup",
		Short: "Upload CSV or zipped shapefile tables from a directory into a folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, root, f, models.ModeTable)
		},
	}
	addCommonUploadFlags(cmd.Flags(), f)
	addTableFlags(cmd.Flags(), f)
	return cmd
}

func addCommonUploadFlags(fs *pflag.FlagSet, f *uploadFlags) {
	fs.StringVar(&f.source, "source", "", "Directory with the files to upload")
	fs.StringVar(&f.dest, "dest", "", "Destination collection or folder")
	fs.StringVar(&f.metadata, "metadata", "", "CSV file with per-asset properties")
	fs.StringVar(&f.idColumn, "id-column", "", "Metadata column holding the asset id (default: first column)")
	fs.StringVar(&f.overwrite, "overwrite", "no", "Replace assets that already exist: yes or no")
	fs.IntVar(&f.workers, "workers", 1, "Number of assets processed concurrently")
	fs.IntVar(&f.maxInflight, "max-inflight", 0, "Ceiling on active remote ingestions (default depends on mode)")
	fs.Float64Var(&f.pollSec, "poll-interval", config.DefaultPollIntervalSec, "Seconds between capacity checks while throttled")
	fs.BoolVar(&f.resume, "resume", false, "Skip assets the state file records as succeeded or running")
	fs.BoolVar(&f.retryFailed, "retry-failed", false, "Only retry assets the state file records as failed")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Report what would be uploaded without changing anything")
	fs.BoolVarP(&f.yes, "yes", "y", false, "Answer yes to confirmation prompts")
	fs.StringVar(&f.storage, "storage", "", "Staging storage: signed_url or s3")
	fs.StringVar(&f.bucket, "bucket", "", "S3 staging bucket")
	fs.StringVar(&f.prefix, "prefix", "", "S3 staging key prefix")
	fs.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus text metrics here when the run ends")
	fs.StringVar(&f.eventsNATS, "events-nats", "", "NATS server URL for per-asset progress events")
}

func addRasterFlags(fs *pflag.FlagSet, f *uploadFlags) {
	fs.StringVar(&f.pyramiding, "pyramiding", "MEAN", "Pyramiding policy: MEAN, MODE, MIN, MAX or SAMPLE")
	fs.Float64Var(&f.nodata, "nodata", 0, "Value to mark as missing data")
	fs.BoolVar(&f.mask, "mask", false, "Use the last band as a mask")
}

func addTableFlags(fs *pflag.FlagSet, f *uploadFlags) {
	fs.StringVar(&f.xColumn, "x-column", "", "CSV column holding longitude")
	fs.StringVar(&f.yColumn, "y-column", "", "CSV column holding latitude")
	fs.Float64Var(&f.maxError, "max-error", 1.0, "Maximum reprojection error in meters")
	fs.IntVar(&f.maxVertices, "max-vertices", 0, "Split geometries above this many vertices (0 keeps them whole)")
}

// buildUploadConfig layers defaults, the config file, GEOSYNC_* env and changed flags.
func buildUploadConfig(ctx context.Context, root *rootOptions, fs *pflag.FlagSet, f *uploadFlags, mode models.Mode) (models.UploadConfig, error) {
	cfg := config.DefaultUploadConfig(mode)
	if root.configPath != "" {
		var err error
		cfg, err = config.LoadUploadConfig(root.configPath, mode)
		if err != nil {
			return cfg, err
		}
	}
	if err := config.ApplyEnv(ctx, &cfg); err != nil {
		return cfg, err
	}

	changed := fs.Changed
	if changed("source") {
		cfg.SourceDir = f.source
	}
	if changed("dest") {
		cfg.Destination = f.dest
	}
	if changed("metadata") {
		cfg.MetadataPath = f.metadata
	}
	if changed("id-column") {
		cfg.IDColumn = f.idColumn
	}
	if changed("overwrite") {
		overwrite, err := config.ParseOverwrite(f.overwrite)
		if err != nil {
			return cfg, err
		}
		cfg.Overwrite = overwrite
	}
	if changed("workers") {
		cfg.Workers = f.workers
	}
	if changed("max-inflight") {
		cfg.MaxInflight = f.maxInflight
	}
	if changed("poll-interval") {
		cfg.PollIntervalSec = f.pollSec
	}
	if changed("resume") {
		cfg.Resume = f.resume
	}
	if changed("retry-failed") {
		cfg.RetryFailed = f.retryFailed
	}
	if changed("dry-run") {
		cfg.DryRun = f.dryRun
	}
	if changed("yes") {
		cfg.AssumeYes = f.yes
	}
	if changed("storage") {
		cfg.Storage.Type = f.storage
	}
	if changed("bucket") {
		cfg.Storage.Bucket = f.bucket
	}
	if changed("prefix") {
		cfg.Storage.Prefix = f.prefix
	}
	if changed("metrics-file") {
		cfg.MetricsFile = f.metricsFile
	}
	if changed("events-nats") {
		cfg.Events.NATSURL = f.eventsNATS
	}

	switch mode {
	case models.ModeRaster:
		if changed("pyramiding") {
			cfg.Raster.Pyramiding = f.pyramiding
		}
		if changed("nodata") {
			nodata := f.nodata
			cfg.Raster.NoData = &nodata
		}
		if changed("mask") {
			cfg.Raster.Mask = f.mask
		}
	case models.ModeTable:
		if changed("x-column") {
			cfg.Table.XColumn = f.xColumn
		}
		if changed("y-column") {
			cfg.Table.YColumn = f.yColumn
		}
		if changed("max-error") {
			cfg.Table.MaxErrorMeters = f.maxError
		}
		if changed("max-vertices") {
			cfg.Table.MaxVertices = f.maxVertices
		}
	}

	if root.logLevel != "" {
		cfg.LogLevel = root.logLevel
	}
	if root.logFormat != "" {
		cfg.LogFormat = root.logFormat
	}
	return cfg, nil
}

func runUpload(cmd *cobra.Command, root *rootOptions, f *uploadFlags, mode models.Mode) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := buildUploadConfig(ctx, root, cmd.Flags(), f, mode)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	shutdown, err := telemetry.InitTracing(ctx, "geosync")
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			slog.Warn("flushing traces", "error", err)
		}
	}()

	deps, closeDeps, err := buildDeps(ctx, cfg, cmd)
	if err != nil {
		return err
	}
	defer closeDeps()

	result, runErr := executor.Upload(ctx, cfg, deps)
	if result != nil {
		if err := report.Render(cmd.OutOrStdout(), result); err != nil {
			slog.Warn("rendering summary", "error", err)
		}
	}
	if cfg.MetricsFile != "" && !cfg.DryRun {
		if err := deps.Metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			slog.Warn("writing metrics file", "path", cfg.MetricsFile, "error", err)
		}
	}

	switch {
	case runErr != nil:
		return runErr
	case result.Cancelled:
		return errInterrupted
	case result.HasFailures():
		return fmt.Errorf("%w: %d of %d", errAssetsFailed, result.Failed, result.Queued)
	}
	return nil
}

// buildDeps constructs the remote collaborators of a run. The returned func releases them.
func buildDeps(ctx context.Context, cfg models.UploadConfig, cmd *cobra.Command) (executor.Deps, func(), error) {
	client, err := newCatalogClient(cfg)
	if err != nil {
		return executor.Deps{}, nil, err
	}

	var uploader storage.Uploader
	switch cfg.Storage.Type {
	case models.StorageS3:
		s3cfg, err := storage.S3ConfigFromEnv(ctx, cfg.Storage.Bucket, cfg.Storage.Prefix)
		if err != nil {
			return executor.Deps{}, nil, err
		}
		uploader, err = storage.NewS3Uploader(ctx, s3cfg)
		if err != nil {
			return executor.Deps{}, nil, fmt.Errorf("s3 client: %w", err)
		}
	default:
		uploader = storage.NewSignedURLUploader(cfg.Catalog.UploadURL, cfg.Catalog.Token, &http.Client{
			Transport: telemetry.HTTPTransport(http.DefaultTransport),
		})
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.Events.NATSURL != "" && !cfg.DryRun {
		p, err := events.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.SubjectPrefix)
		if err != nil {
			return executor.Deps{}, nil, fmt.Errorf("connecting to nats: %w", err)
		}
		publisher = p
	}

	var prompter namespace.Prompter = namespace.LinePrompter{In: cmd.InOrStdin(), Out: cmd.ErrOrStderr()}
	if cfg.AssumeYes {
		prompter = namespace.Accept{}
	}

	deps := executor.Deps{
		Catalog:   client,
		Uploader:  uploader,
		Prompter:  prompter,
		Publisher: publisher,
		Metrics:   telemetry.NewMetrics(),
	}
	return deps, publisher.Close, nil
}

func newCatalogClient(cfg models.UploadConfig) (*catalog.Client, error) {
	timeout := time.Duration(cfg.Catalog.TimeoutSec * float64(time.Second))
	return catalog.NewClient(catalog.ClientConfig{
		BaseURL: cfg.Catalog.URL,
		Project: cfg.Catalog.Project,
		Token:   cfg.Catalog.Token,
		Timeout: timeout,
		Retry:   cfg.Retry,
		HTTPClient: &http.Client{
			Timeout:   timeout,
			Transport: telemetry.HTTPTransport(http.DefaultTransport),
		},
	})
}
