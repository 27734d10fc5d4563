package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spachava753/geosync/internal/catalog"
	"github.com/spachava753/geosync/internal/config"
	"github.com/spachava753/geosync/internal/dataset"
	"github.com/spachava753/geosync/internal/events"
	"github.com/spachava753/geosync/internal/ledger"
	"github.com/spachava753/geosync/internal/metadata"
	"github.com/spachava753/geosync/internal/models"
	"github.com/spachava753/geosync/internal/namespace"
	"github.com/spachava753/geosync/internal/reconcile"
	"github.com/spachava753/geosync/internal/storage"
	"github.com/spachava753/geosync/internal/telemetry"
	"github.com/spachava753/geosync/internal/throttle"
	"github.com/spachava753/geosync/internal/util"
)

// Deps are the collaborators of a run that are built outside of the config file.
type Deps struct {
	Catalog   catalog.Catalog
	Uploader  storage.Uploader
	Prompter  namespace.Prompter
	Publisher events.Publisher
	Metrics   *telemetry.Metrics

	// ThrottleSleep replaces the wait between capacity polls.
	ThrottleSleep func(ctx context.Context, d time.Duration) error
}

// Upload validates cfg, reconciles the source directory against the destination and
// ingests whatever is missing. Configuration problems are returned before anything
// remote is modified. A dry run stops after planning.
func Upload(ctx context.Context, cfg models.UploadConfig, deps Deps) (*models.RunResult, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	tasks, err := dataset.NewLoader(cfg.Mode).LoadFromPath(ctx, cfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("scanning source: %w", err)
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: no %s files found in %s", models.ErrInvalidConfig, cfg.Mode, cfg.SourceDir)
	}
	names := make([]string, len(tasks))
	var totalBytes int64
	for i, t := range tasks {
		names[i] = t.Name
		totalBytes += t.SizeBytes
	}
	slog.Info("scanned source", "dir", cfg.SourceDir, "files", len(tasks), "size", util.HumanSize(totalBytes))

	binder, err := loadMetadata(cfg, names)
	if err != nil {
		return nil, err
	}

	normalizer, err := namespace.NewFromCatalog(ctx, deps.Catalog, deps.Prompter)
	if err != nil {
		return nil, fmt.Errorf("listing legacy roots: %w", err)
	}

	opts := reconcile.Options{Overwrite: cfg.Overwrite, Resume: cfg.Resume, RetryFailed: cfg.RetryFailed}
	ledgerPath := ledger.PathFor(cfg.SourceDir, cfg.Mode)

	if cfg.DryRun {
		return plan(ctx, cfg, deps, normalizer, tasks, opts, ledgerPath, totalBytes)
	}

	lock, err := ledger.AcquireLock(cfg.SourceDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			slog.Warn("releasing lock", "error", err)
		}
	}()

	containerType := catalog.TypeImageCollection
	if cfg.Mode == models.ModeTable {
		containerType = catalog.TypeFolder
	}
	dest, err := normalizer.EnsureContainer(ctx, cfg.Destination, containerType)
	if err != nil {
		return nil, err
	}
	slog.Info("destination ready", "path", dest)

	remote, err := reconcile.FetchRemoteState(ctx, deps.Catalog, dest)
	if err != nil {
		return nil, err
	}

	l, err := openLedger(ledgerPath, dest)
	if err != nil {
		return nil, err
	}
	if _, err := reconcile.PromoteFinished(l, remote); err != nil {
		return nil, fmt.Errorf("updating ledger: %w", err)
	}

	ws := reconcile.ComputeWorkSet(tasks, remote, opts, l)
	slog.Info("computed work set",
		"local", len(tasks),
		"existing", ws.Existing,
		"in_flight", ws.InFlight,
		"ledger_excluded", ws.LedgerExcluded,
		"to_upload", len(ws.Tasks))

	if len(ws.Tasks) == 0 {
		if err := l.Save(); err != nil {
			return nil, err
		}
		now := time.Now()
		return &models.RunResult{
			Destination: dest,
			LocalAssets: len(tasks),
			StartedAt:   now,
			EndedAt:     now,
			Results:     []models.AssetSummary{},
		}, nil
	}

	throttleOpts := []throttle.Option{}
	if deps.Metrics != nil {
		throttleOpts = append(throttleOpts, throttle.WithOnWait(func(int) { deps.Metrics.ThrottleWait() }))
	}
	if deps.ThrottleSleep != nil {
		throttleOpts = append(throttleOpts, throttle.WithSleep(deps.ThrottleSleep))
	}
	interval := time.Duration(cfg.PollIntervalSec * float64(time.Second))

	exec := &AssetExecutor{
		Catalog:     deps.Catalog,
		Uploader:    deps.Uploader,
		Throttle:    throttle.New(deps.Catalog, cfg.MaxInflight, interval, throttleOpts...),
		Binder:      binder,
		Destination: dest,
		Overwrite:   cfg.Overwrite,
		Manifest:    ManifestOptions{Raster: cfg.Raster, Table: cfg.Table},
	}
	orch := NewAssetOrchestrator(exec, l, cfg.Workers,
		WithPublisher(deps.Publisher),
		WithMetrics(deps.Metrics),
	)

	rr, err := orch.Run(ctx, ws.Tasks)
	if rr != nil {
		rr.LocalAssets = len(tasks)
	}
	return rr, err
}

// loadMetadata returns nil when the run has no metadata file. Every local asset must
// have a row; rows matching no asset are only reported.
func loadMetadata(cfg models.UploadConfig, names []string) (metadata.Binder, error) {
	if cfg.MetadataPath == "" {
		return nil, nil
	}
	coll, err := metadata.LoadCSV(cfg.MetadataPath, cfg.IDColumn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidConfig, err)
	}
	if missing := coll.Missing(names); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %d assets have no metadata row: %s", models.ErrInvalidConfig, len(missing), preview(missing, 10))
	}
	if extra := coll.Extra(names); len(extra) > 0 {
		slog.Warn("metadata rows match no local file", "count", len(extra), "ids", preview(extra, 10))
	}
	return coll, nil
}

// openLedger loads the ledger for dest. A ledger written for another destination is
// discarded rather than mixed into this run.
func openLedger(path, dest string) (*ledger.Ledger, error) {
	l, err := ledger.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading ledger: %w", err)
	}
	switch prev := l.Destination(); {
	case prev == "":
		l.SetDestination(dest)
	case prev != dest:
		slog.Warn("ledger belongs to another destination, starting fresh", "ledger", path, "previous", prev, "destination", dest)
		l = ledger.New(path, dest)
	}
	return l, nil
}

// plan reports what a run would do. It only reads from the catalog.
func plan(ctx context.Context, cfg models.UploadConfig, deps Deps, n *namespace.Normalizer, tasks []models.AssetTask, opts reconcile.Options, ledgerPath string, totalBytes int64) (*models.RunResult, error) {
	now := time.Now()
	dest, err := n.Normalize(ctx, cfg.Destination)
	if err != nil {
		return nil, fmt.Errorf("normalizing destination: %w", err)
	}

	remote, err := reconcile.FetchRemoteState(ctx, deps.Catalog, dest)
	if err != nil {
		return nil, err
	}

	var view reconcile.LedgerView
	if opts.Resume || opts.RetryFailed {
		l, err := ledger.Load(ledgerPath)
		if err != nil {
			return nil, fmt.Errorf("loading ledger: %w", err)
		}
		if prev := l.Destination(); prev == "" || prev == dest {
			view = l
		}
	}

	ws := reconcile.ComputeWorkSet(tasks, remote, opts, view)
	return &models.RunResult{
		Destination: dest,
		DryRun:      true,
		LocalAssets: len(tasks),
		Queued:      len(ws.Tasks),
		StartedAt:   now,
		EndedAt:     time.Now(),
		Plan: &models.Plan{
			TotalBytes:     totalBytes,
			Existing:       ws.Existing,
			InFlight:       ws.InFlight,
			LedgerExcluded: ws.LedgerExcluded,
			ToUpload:       ws.Names(),
		},
		Results: []models.AssetSummary{},
	}, nil
}

func preview(names []string, n int) string {
	if len(names) <= n {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(names[:n], ", "), len(names)-n)
}
