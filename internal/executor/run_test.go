package executor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spachava753/geosync/internal/catalog"
	"github.com/spachava753/geosync/internal/catalog/catalogtest"
	"github.com/spachava753/geosync/internal/config"
	"github.com/spachava753/geosync/internal/executor"
	"github.com/spachava753/geosync/internal/ledger"
	"github.com/spachava753/geosync/internal/models"
	"github.com/spachava753/geosync/internal/storage"
	"github.com/spachava753/geosync/internal/telemetry"
)

const collection = "projects/demo/assets/col"

type fixture struct {
	srv    *catalogtest.Server
	client *catalog.Client
	cfg    models.UploadConfig
	deps   executor.Deps
}

func newFixture(t *testing.T, mode models.Mode, files ...string) *fixture {
	t.Helper()
	srv := catalogtest.New(t, "demo")
	srv.CompleteImmediately = true
	srv.AddRoot("projects/demo/assets")
	srv.AddAsset(collection, catalog.TypeImageCollection)

	dir := t.TempDir()
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("contents of "+f), 0644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.DefaultUploadConfig(mode)
	cfg.SourceDir = dir
	cfg.Destination = collection
	cfg.Catalog.URL = srv.URL
	cfg.Catalog.UploadURL = srv.URL
	cfg.PollIntervalSec = 0.01

	client, err := catalog.NewClient(catalog.ClientConfig{
		BaseURL: srv.URL,
		Project: "demo",
		Timeout: 5 * time.Second,
		Retry:   models.RetryConfig{MaxAttempts: 1},
	})
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}

	return &fixture{
		srv:    srv,
		client: client,
		cfg:    cfg,
		deps: executor.Deps{
			Catalog:  client,
			Uploader: storage.NewSignedURLUploader(srv.URL, "", srv.Client()),
		},
	}
}

func (f *fixture) ledger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Load(ledger.PathFor(f.cfg.SourceDir, f.cfg.Mode))
	if err != nil {
		t.Fatalf("loading ledger: %v", err)
	}
	return l
}

func importedNames(srv *catalogtest.Server) []string {
	var names []string
	for _, imp := range srv.Imports() {
		names = append(names, imp.Name)
	}
	return names
}

func TestUploadSkipsExistingAndInFlight(t *testing.T) {
	f := newFixture(t, models.ModeRaster, "a.tif", "b.tif", "c.tif", "notes.txt")
	f.srv.AddAsset(collection+"/a", catalog.TypeImage)
	f.srv.AddIngestion(collection + "/b")

	rr, err := executor.Upload(context.Background(), f.cfg, f.deps)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	if got := importedNames(f.srv); !slices.Equal(got, []string{collection + "/c"}) {
		t.Fatalf("expected only c to be ingested, got %v", got)
	}
	imp := f.srv.Imports()[0]
	if imp.Image == nil || !strings.HasPrefix(imp.Image.Tilesets[0].Sources[0].URIs[0], "gs://staging/") {
		t.Errorf("manifest does not point at the staged file: %+v", imp.Image)
	}
	if imp.RequestID == "" {
		t.Error("expected a request id")
	}
	if imp.Overwrite {
		t.Error("overwrite must not be requested by default")
	}

	if rr.LocalAssets != 3 || rr.Queued != 1 || rr.Succeeded != 1 || rr.HasFailures() {
		t.Errorf("unexpected run result %+v", rr)
	}

	l := f.ledger(t)
	if s, _ := l.State("c"); s != models.StateSucceeded {
		t.Errorf("expected c succeeded in ledger, got %q", s)
	}
	for _, name := range []string{"a", "b"} {
		if _, ok := l.State(name); ok {
			t.Errorf("%s was never processed and must not be in the ledger", name)
		}
	}
	if l.Destination() != collection {
		t.Errorf("expected ledger destination %s, got %s", collection, l.Destination())
	}

	f.cfg.Resume = true
	rr, err = executor.Upload(context.Background(), f.cfg, f.deps)
	if err != nil {
		t.Fatalf("resumed Upload failed: %v", err)
	}
	if rr.Queued != 0 {
		t.Errorf("resumed run should have nothing to do, queued %d", rr.Queued)
	}
	if got := len(f.srv.Imports()); got != 1 {
		t.Errorf("resumed run submitted again: %d imports", got)
	}
}

func TestUploadOverwriteResubmitsEverything(t *testing.T) {
	f := newFixture(t, models.ModeRaster, "a.tif", "b.tif")
	f.srv.AddAsset(collection+"/a", catalog.TypeImage)
	f.cfg.Overwrite = true

	if _, err := executor.Upload(context.Background(), f.cfg, f.deps); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if got := importedNames(f.srv); !slices.Equal(got, []string{collection + "/a", collection + "/b"}) {
		t.Fatalf("expected both assets, got %v", got)
	}
	for _, imp := range f.srv.Imports() {
		if !imp.Overwrite {
			t.Errorf("%s submitted without overwrite", imp.Name)
		}
	}
}

func TestUploadRecordsRejection(t *testing.T) {
	f := newFixture(t, models.ModeRaster, "a.tif", "c.tif")
	f.srv.Reject(collection+"/c", "Projection is not supported")

	rr, err := executor.Upload(context.Background(), f.cfg, f.deps)
	if err != nil {
		t.Fatalf("a rejected asset must not fail the run: %v", err)
	}
	if rr.Succeeded != 1 || rr.Failed != 1 || !rr.HasFailures() {
		t.Errorf("unexpected counts %+v", rr)
	}

	l := f.ledger(t)
	if s, _ := l.State("c"); s != models.StateFailed {
		t.Errorf("expected c failed, got %q", s)
	}
	if reason := l.Reason("c"); !strings.Contains(reason, "Projection is not supported") {
		t.Errorf("reason should keep the server message, got %q", reason)
	}

	// retry-failed only picks up c
	f.srv.Reject(collection+"/c", "")
	f.cfg.RetryFailed = true
	rr, err = executor.Upload(context.Background(), f.cfg, f.deps)
	if err != nil {
		t.Fatal(err)
	}
	if rr.Queued != 1 {
		t.Errorf("expected only the failed asset to be retried, queued %d", rr.Queued)
	}
}

func TestUploadAbortsWhenUnauthenticated(t *testing.T) {
	f := newFixture(t, models.ModeRaster, "a.tif", "b.tif", "c.tif")
	f.srv.Token = "secret"
	client, err := catalog.NewClient(catalog.ClientConfig{BaseURL: f.srv.URL, Project: "demo", Token: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	f.deps.Catalog = client
	f.deps.Uploader = storage.NewSignedURLUploader(f.srv.URL, "expired", f.srv.Client())

	rr, err := executor.Upload(context.Background(), f.cfg, f.deps)
	if !errors.Is(err, catalog.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if rr == nil || rr.NotStarted != 2 {
		t.Errorf("expected the remaining assets to stay undispatched, got %+v", rr)
	}
	if len(f.srv.Imports()) != 0 {
		t.Error("nothing may be submitted")
	}
	if s, _ := f.ledger(t).State("a"); s != models.StateFailed {
		t.Errorf("expected a failed, got %q", s)
	}
}

// interruptingUploader cancels the run on its first call and then blocks until the
// cancellation is observed, like a transfer cut off by SIGINT.
type interruptingUploader struct {
	cancel context.CancelFunc
	calls  atomic.Int32
}

func (u *interruptingUploader) Upload(ctx context.Context, path, field string) (string, error) {
	u.calls.Add(1)
	u.cancel()
	<-ctx.Done()
	return "", ctx.Err()
}

func TestUploadInterrupted(t *testing.T) {
	f := newFixture(t, models.ModeRaster, "a.tif", "b.tif", "c.tif")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	up := &interruptingUploader{cancel: cancel}
	f.deps.Uploader = up

	rr, err := executor.Upload(ctx, f.cfg, f.deps)
	if err != nil {
		t.Fatalf("interruption is reported in the result, got error %v", err)
	}
	if !rr.Cancelled || rr.NotStarted != 2 || rr.Failed != 1 {
		t.Errorf("unexpected result %+v", rr)
	}
	if up.calls.Load() != 1 {
		t.Errorf("expected one upload attempt, got %d", up.calls.Load())
	}

	l := f.ledger(t)
	if s, _ := l.State("a"); s != models.StateFailed {
		t.Errorf("expected a failed, got %q", s)
	}
	if reason := l.Reason("a"); reason != "interrupted" {
		t.Errorf("expected reason interrupted, got %q", reason)
	}
	for _, name := range []string{"b", "c"} {
		if _, ok := l.State(name); ok {
			t.Errorf("%s was never dispatched and must not be in the ledger", name)
		}
	}
}

func TestUploadDryRun(t *testing.T) {
	f := newFixture(t, models.ModeRaster, "a.tif", "b.tif", "c.tif")
	f.srv.AddAsset(collection+"/a", catalog.TypeImage)
	f.cfg.DryRun = true

	rr, err := executor.Upload(context.Background(), f.cfg, f.deps)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if !rr.DryRun || rr.Plan == nil {
		t.Fatalf("expected a plan, got %+v", rr)
	}
	if rr.Plan.Existing != 1 || !slices.Equal(rr.Plan.ToUpload, []string{"b", "c"}) {
		t.Errorf("unexpected plan %+v", rr.Plan)
	}
	if rr.Plan.TotalBytes == 0 {
		t.Error("expected total size to be reported")
	}
	if len(f.srv.Imports()) != 0 || len(f.srv.Uploads()) != 0 {
		t.Error("dry run must not write remotely")
	}
	if _, err := os.Stat(ledger.PathFor(f.cfg.SourceDir, models.ModeRaster)); !os.IsNotExist(err) {
		t.Errorf("dry run must not write a ledger, stat returned %v", err)
	}
}

func TestUploadConfigErrorsBeforeRemoteWrites(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		edit  func(t *testing.T, cfg *models.UploadConfig)
	}{
		{
			name:  "resume with retry failed",
			files: []string{"a.tif"},
			edit: func(t *testing.T, cfg *models.UploadConfig) {
				cfg.Resume, cfg.RetryFailed = true, true
			},
		},
		{
			name:  "no matching files",
			files: []string{"readme.md"},
			edit:  func(t *testing.T, cfg *models.UploadConfig) {},
		},
		{
			name:  "metadata missing a row",
			files: []string{"a.tif", "b.tif"},
			edit: func(t *testing.T, cfg *models.UploadConfig) {
				p := filepath.Join(t.TempDir(), "meta.csv")
				if err := os.WriteFile(p, []byte("id,cloud\na,3\n"), 0644); err != nil {
					t.Fatal(err)
				}
				cfg.MetadataPath = p
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, models.ModeRaster, tt.files...)
			tt.edit(t, &f.cfg)

			_, err := executor.Upload(context.Background(), f.cfg, f.deps)
			if !errors.Is(err, models.ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if len(f.srv.Uploads()) != 0 || len(f.srv.Imports()) != 0 {
				t.Error("configuration errors must stop before remote writes")
			}
		})
	}
}

func TestUploadBindsMetadata(t *testing.T) {
	f := newFixture(t, models.ModeRaster, "scene_1.tif")
	p := filepath.Join(t.TempDir(), "meta.csv")
	csv := "id,cloud,system:time_start,system:time_end\nscene_1,12.5,2024-01-01,2024-01-02T12:00:00\n"
	if err := os.WriteFile(p, []byte(csv), 0644); err != nil {
		t.Fatal(err)
	}
	f.cfg.MetadataPath = p

	if _, err := executor.Upload(context.Background(), f.cfg, f.deps); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	imports := f.srv.Imports()
	if len(imports) != 1 {
		t.Fatalf("expected 1 import, got %d", len(imports))
	}
	m := imports[0].Image
	if m.Properties["cloud"] != 12.5 {
		t.Errorf("expected cloud 12.5, got %v", m.Properties["cloud"])
	}
	if _, ok := m.Properties["system:time_start"]; ok {
		t.Error("time fields belong in startTime, not properties")
	}
	if m.StartTime == nil || m.StartTime.Seconds != 1704067200 {
		t.Errorf("unexpected start time %+v", m.StartTime)
	}
	if m.EndTime == nil || m.EndTime.Seconds != 1704196800 {
		t.Errorf("unexpected end time %+v", m.EndTime)
	}
}

func TestUploadWaitsForCapacity(t *testing.T) {
	f := newFixture(t, models.ModeRaster, "c.tif")
	op := f.srv.AddIngestion("projects/demo/assets/other/x")
	f.cfg.MaxInflight = 1

	var sleeps atomic.Int32
	f.deps.ThrottleSleep = func(ctx context.Context, d time.Duration) error {
		sleeps.Add(1)
		return f.client.CancelOperation(ctx, op.Name)
	}
	f.deps.Metrics = telemetry.NewMetrics()

	rr, err := executor.Upload(context.Background(), f.cfg, f.deps)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if rr.Succeeded != 1 {
		t.Errorf("expected c to succeed, got %+v", rr)
	}
	if sleeps.Load() != 1 {
		t.Errorf("expected one throttle sleep, got %d", sleeps.Load())
	}

	out := filepath.Join(t.TempDir(), "run.prom")
	if err := f.deps.Metrics.WriteTextfile(out); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(out)
	if !strings.Contains(string(data), "geosync_throttle_waits_total 1") {
		t.Errorf("throttle wait not counted:\n%s", data)
	}
}

func TestTableUploadCreatesFolder(t *testing.T) {
	f := newFixture(t, models.ModeTable, "points.csv", "parcels.zip")
	f.cfg.Destination = "projects/demo/assets/tables"
	f.cfg.Table.XColumn = "lon"
	f.cfg.Table.YColumn = "lat"
	f.cfg.Table.MaxVertices = 500

	rr, err := executor.Upload(context.Background(), f.cfg, f.deps)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if rr.Succeeded != 2 {
		t.Errorf("expected 2 tables ingested, got %+v", rr)
	}
	if typ := f.srv.AssetType("projects/demo/assets/tables"); typ != catalog.TypeFolder {
		t.Errorf("expected destination folder, got %q", typ)
	}

	fields := map[string]string{}
	for _, up := range f.srv.Uploads() {
		fields[up.Filename] = up.Field
	}
	if fields["points.csv"] != "csv_file" || fields["parcels.zip"] != "zip_file" {
		t.Errorf("unexpected upload fields %v", fields)
	}

	for _, imp := range f.srv.Imports() {
		src := imp.Table.Sources[0]
		switch imp.Name {
		case "projects/demo/assets/tables/points":
			if src.XColumn != "lon" || src.YColumn != "lat" {
				t.Errorf("csv source missing coordinate columns: %+v", src)
			}
		case "projects/demo/assets/tables/parcels":
			if src.MaxVertices != 500 {
				t.Errorf("zip source missing max vertices: %+v", src)
			}
		default:
			t.Errorf("unexpected import %s", imp.Name)
		}
	}

	if _, err := os.Stat(ledger.PathFor(f.cfg.SourceDir, models.ModeTable)); err != nil {
		t.Errorf("expected table ledger: %v", err)
	}
}
