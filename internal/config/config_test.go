package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spachava753/geosync/internal/config"
	"github.com/spachava753/geosync/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestLoadUploadConfigYAML(t *testing.T) {
	uploadYaml := `source_dir: /data/tiles
destination: users/alice/col
workers: 4
max_inflight: 100
poll_interval_sec: 5
overwrite: true
raster:
  pyramiding: MODE
  nodata: -9999
  mask: true
storage:
  type: s3
  bucket: staging
retry:
  max_attempts: 5
  initial_delay_ms: 10
  max_delay_ms: 100
  multiplier: 1.5
`
	cfg, err := config.LoadUploadConfig(writeFile(t, "upload.yaml", uploadYaml), models.ModeRaster)
	if err != nil {
		t.Fatalf("LoadUploadConfig failed: %v", err)
	}

	if cfg.SourceDir != "/data/tiles" {
		t.Errorf("expected source_dir /data/tiles, got %s", cfg.SourceDir)
	}
	if cfg.Workers != 4 {
		t.Errorf("expected workers 4, got %d", cfg.Workers)
	}
	if cfg.MaxInflight != 100 {
		t.Errorf("expected max_inflight 100, got %d", cfg.MaxInflight)
	}
	if !cfg.Overwrite {
		t.Error("expected overwrite to be set")
	}
	if cfg.Raster.Pyramiding != "MODE" {
		t.Errorf("expected pyramiding MODE, got %s", cfg.Raster.Pyramiding)
	}
	if cfg.Raster.NoData == nil || *cfg.Raster.NoData != -9999 {
		t.Errorf("expected nodata -9999, got %v", cfg.Raster.NoData)
	}
	if cfg.Storage.Type != models.StorageS3 || cfg.Storage.Bucket != "staging" {
		t.Errorf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("expected retry max_attempts 5, got %d", cfg.Retry.MaxAttempts)
	}
	// Untouched sections keep their defaults.
	if cfg.Catalog.URL != config.DefaultCatalogURL {
		t.Errorf("expected default catalog url, got %s", cfg.Catalog.URL)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("expected default log format text, got %s", cfg.LogFormat)
	}
}

func TestLoadUploadConfigTOML(t *testing.T) {
	uploadToml := `source_dir = "/data/tables"
destination = "projects/demo/tables"
workers = 2

[table]
x_column = "lon"
y_column = "lat"
max_vertices = 5000

[events]
nats_url = "nats://localhost:4222"
`
	cfg, err := config.LoadUploadConfig(writeFile(t, "upload.toml", uploadToml), models.ModeTable)
	if err != nil {
		t.Fatalf("LoadUploadConfig failed: %v", err)
	}

	if cfg.Mode != models.ModeTable {
		t.Errorf("expected table mode, got %s", cfg.Mode)
	}
	if cfg.MaxInflight != config.DefaultTableMaxInflight {
		t.Errorf("expected table max in-flight default %d, got %d", config.DefaultTableMaxInflight, cfg.MaxInflight)
	}
	if cfg.Table.XColumn != "lon" || cfg.Table.YColumn != "lat" {
		t.Errorf("unexpected coordinate columns: %+v", cfg.Table)
	}
	if cfg.Table.MaxVertices != 5000 {
		t.Errorf("expected max_vertices 5000, got %d", cfg.Table.MaxVertices)
	}
	if cfg.Table.Charset != "UTF-8" {
		t.Errorf("expected default charset UTF-8, got %s", cfg.Table.Charset)
	}
	if cfg.Events.NATSURL != "nats://localhost:4222" {
		t.Errorf("expected nats url, got %s", cfg.Events.NATSURL)
	}
	if cfg.Events.SubjectPrefix != config.DefaultSubjectPrefix {
		t.Errorf("expected default subject prefix, got %s", cfg.Events.SubjectPrefix)
	}
}

func TestLoadUploadConfigTOMLUnknownKey(t *testing.T) {
	_, err := config.LoadUploadConfig(writeFile(t, "upload.toml", "wokers = 3\n"), models.ModeRaster)
	if !errors.Is(err, models.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestDefaultUploadConfig(t *testing.T) {
	cfg := config.DefaultUploadConfig(models.ModeRaster)

	if cfg.Workers != 1 {
		t.Errorf("expected default workers 1, got %d", cfg.Workers)
	}
	if cfg.MaxInflight != config.DefaultRasterMaxInflight {
		t.Errorf("expected default max in-flight %d, got %d", config.DefaultRasterMaxInflight, cfg.MaxInflight)
	}
	if cfg.PollIntervalSec != config.DefaultPollIntervalSec {
		t.Errorf("expected default poll interval %d, got %v", config.DefaultPollIntervalSec, cfg.PollIntervalSec)
	}
	if cfg.Storage.Type != models.StorageSignedURL {
		t.Errorf("expected default storage signed_url, got %s", cfg.Storage.Type)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("GEOSYNC_CATALOG_URL", "http://catalog.local")
	t.Setenv("GEOSYNC_TOKEN", "secret")

	t.Setenv("GEOSYNC_PROJECT", "  ")

	cfg := config.DefaultUploadConfig(models.ModeRaster)
	if err := config.ApplyEnv(context.Background(), &cfg); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if cfg.Catalog.URL != "http://catalog.local" {
		t.Errorf("expected env catalog url, got %s", cfg.Catalog.URL)
	}
	if cfg.Catalog.Token != "secret" {
		t.Errorf("expected env token, got %q", cfg.Catalog.Token)
	}
	if cfg.Catalog.Project != "" {
		t.Errorf("expected blank env project to be ignored, got %q", cfg.Catalog.Project)
	}
	if cfg.Catalog.UploadURL != config.DefaultUploadURL {
		t.Errorf("expected unset env to keep default upload url, got %s", cfg.Catalog.UploadURL)
	}
}

func TestParseOverwrite(t *testing.T) {
	tests := []struct {
		in      string
		want    bool
		wantErr bool
	}{
		{"yes", true, false},
		{"Y", true, false},
		{"no", false, false},
		{"", false, false},
		{"maybe", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := config.ParseOverwrite(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOverwrite(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseOverwrite(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	source := t.TempDir()

	valid := func() models.UploadConfig {
		cfg := config.DefaultUploadConfig(models.ModeRaster)
		cfg.SourceDir = source
		cfg.Destination = "users/alice/col"
		return cfg
	}

	if err := config.Validate(valid()); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*models.UploadConfig)
	}{
		{"missing source", func(c *models.UploadConfig) { c.SourceDir = filepath.Join(source, "nope") }},
		{"missing destination", func(c *models.UploadConfig) { c.Destination = " " }},
		{"resume with retry-failed", func(c *models.UploadConfig) { c.Resume, c.RetryFailed = true, true }},
		{"zero workers", func(c *models.UploadConfig) { c.Workers = 0 }},
		{"bad pyramiding", func(c *models.UploadConfig) { c.Raster.Pyramiding = "AVERAGE" }},
		{"s3 without bucket", func(c *models.UploadConfig) { c.Storage.Type = models.StorageS3 }},
		{"unknown storage", func(c *models.UploadConfig) { c.Storage.Type = "ftp" }},
		{"bad log format", func(c *models.UploadConfig) { c.LogFormat = "xml" }},
		{"missing metadata file", func(c *models.UploadConfig) { c.MetadataPath = filepath.Join(source, "meta.csv") }},
		{"unpaired coordinate column", func(c *models.UploadConfig) {
			c.Mode = models.ModeTable
			c.Table.XColumn = "lon"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := config.Validate(cfg)
			if !errors.Is(err, models.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}
