package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"

	"github.com/spachava753/geosync/internal/models"
)

const (
	DefaultCatalogURL        = "https://earthengine.googleapis.com"
	DefaultUploadURL         = "https://code.earthengine.google.com"
	DefaultRasterMaxInflight = 2800
	DefaultTableMaxInflight  = 2500
	DefaultPollIntervalSec   = 300
	DefaultSubjectPrefix     = "geosync.assets"
)

// PyramidingPolicies are the accepted raster pyramiding policies.
var PyramidingPolicies = []string{"MEAN", "MODE", "MIN", "MAX", "SAMPLE"}

// DefaultUploadConfig returns an UploadConfig with default values for the given mode.
func DefaultUploadConfig(mode models.Mode) models.UploadConfig {
	cfg := models.UploadConfig{
		Mode:            mode,
		Workers:         1,
		MaxInflight:     DefaultRasterMaxInflight,
		PollIntervalSec: DefaultPollIntervalSec,
		LogLevel:        "info",
		LogFormat:       "text",
		Raster: models.RasterOptions{
			Pyramiding: "MEAN",
		},
		Table: models.TableOptions{
			MaxErrorMeters: 1.0,
			Charset:        "UTF-8",
		},
		Catalog: models.CatalogConfig{
			URL:        DefaultCatalogURL,
			UploadURL:  DefaultUploadURL,
			TimeoutSec: 60,
		},
		Storage: models.StorageConfig{
			Type: models.StorageSignedURL,
		},
		Retry: models.RetryConfig{
			MaxAttempts:    3,
			InitialDelayMs: 1000,
			MaxDelayMs:     30000,
			Multiplier:     2.0,
		},
		Events: models.EventsConfig{
			SubjectPrefix: DefaultSubjectPrefix,
		},
	}
	if mode == models.ModeTable {
		cfg.MaxInflight = DefaultTableMaxInflight
	}
	return cfg
}

// LoadUploadConfig loads a YAML or TOML config file, chosen by extension, on top of the defaults.
func LoadUploadConfig(path string, mode models.Mode) (models.UploadConfig, error) {
	cfg := DefaultUploadConfig(mode)

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading upload config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return cfg, fmt.Errorf("parsing upload config: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return cfg, fmt.Errorf("%w: unknown keys in %s: %v", models.ErrInvalidConfig, path, undecoded)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing upload config: %w", err)
		}
	}

	// The file may not switch a tabup run into raster mode or vice versa.
	cfg.Mode = mode
	applyDefaults(&cfg)

	return cfg, nil
}

func applyDefaults(cfg *models.UploadConfig) {
	def := DefaultUploadConfig(cfg.Mode)
	if cfg.Workers == 0 {
		cfg.Workers = def.Workers
	}
	if cfg.PollIntervalSec == 0 {
		cfg.PollIntervalSec = def.PollIntervalSec
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}
	if cfg.Raster.Pyramiding == "" {
		cfg.Raster.Pyramiding = def.Raster.Pyramiding
	}
	if cfg.Table.Charset == "" {
		cfg.Table.Charset = def.Table.Charset
	}
	if cfg.Catalog.URL == "" {
		cfg.Catalog.URL = def.Catalog.URL
	}
	if cfg.Catalog.UploadURL == "" {
		cfg.Catalog.UploadURL = def.Catalog.UploadURL
	}
	if cfg.Catalog.TimeoutSec == 0 {
		cfg.Catalog.TimeoutSec = def.Catalog.TimeoutSec
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = def.Storage.Type
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = def.Events.SubjectPrefix
	}
}

// CatalogEnv holds the catalog settings that may come from the environment. Unset
// variables leave the file or default value in place.
type CatalogEnv struct {
	URL       string `env:"GEOSYNC_CATALOG_URL"`
	UploadURL string `env:"GEOSYNC_UPLOAD_URL"`
	Project   string `env:"GEOSYNC_PROJECT"`
	Token     string `env:"GEOSYNC_TOKEN"`
}

// ApplyEnv overrides catalog settings from GEOSYNC_* environment variables when they are set.
func ApplyEnv(ctx context.Context, cfg *models.UploadConfig) error {
	var env CatalogEnv
	if err := envconfig.Process(ctx, &env); err != nil {
		return fmt.Errorf("%w: reading environment: %w", models.ErrInvalidConfig, err)
	}
	override(&cfg.Catalog.URL, env.URL)
	override(&cfg.Catalog.UploadURL, env.UploadURL)
	override(&cfg.Catalog.Project, env.Project)
	override(&cfg.Catalog.Token, env.Token)
	return nil
}

func override(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// ParseOverwrite accepts the yes/no spellings the CLI documents.
func ParseOverwrite(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "no", "n", "false":
		return false, nil
	case "yes", "y", "true":
		return true, nil
	default:
		return false, fmt.Errorf("%w: overwrite must be yes or no, got %q", models.ErrInvalidConfig, s)
	}
}

// Validate checks a fully merged config. Every error wraps models.ErrInvalidConfig.
func Validate(cfg models.UploadConfig) error {
	if cfg.Mode != models.ModeRaster && cfg.Mode != models.ModeTable {
		return invalid("unknown mode %q", cfg.Mode)
	}
	if cfg.SourceDir == "" {
		return invalid("source directory is required")
	}
	info, err := os.Stat(cfg.SourceDir)
	if err != nil {
		return invalid("source directory %s: %v", cfg.SourceDir, err)
	}
	if !info.IsDir() {
		return invalid("source %s is not a directory", cfg.SourceDir)
	}
	if strings.TrimSpace(cfg.Destination) == "" {
		return invalid("destination is required")
	}
	if cfg.MetadataPath != "" {
		if _, err := os.Stat(cfg.MetadataPath); err != nil {
			return invalid("metadata file %s: %v", cfg.MetadataPath, err)
		}
	}
	if cfg.Resume && cfg.RetryFailed {
		return invalid("--resume and --retry-failed cannot be combined")
	}
	if cfg.Workers < 1 {
		return invalid("workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.MaxInflight < 0 {
		return invalid("max in-flight must not be negative, got %d", cfg.MaxInflight)
	}
	if cfg.PollIntervalSec <= 0 {
		return invalid("poll interval must be positive, got %v", cfg.PollIntervalSec)
	}
	if cfg.Mode == models.ModeRaster && !slices.Contains(PyramidingPolicies, strings.ToUpper(cfg.Raster.Pyramiding)) {
		return invalid("pyramiding policy must be one of %v, got %q", PyramidingPolicies, cfg.Raster.Pyramiding)
	}
	if cfg.Mode == models.ModeTable {
		if (cfg.Table.XColumn == "") != (cfg.Table.YColumn == "") {
			return invalid("x column and y column must be given together")
		}
		if cfg.Table.MaxErrorMeters < 0 {
			return invalid("max error must not be negative")
		}
		if cfg.Table.MaxVertices < 0 {
			return invalid("max vertices must not be negative")
		}
	}
	if cfg.Catalog.URL == "" {
		return invalid("catalog url is required")
	}
	switch cfg.Storage.Type {
	case models.StorageSignedURL:
		if cfg.Catalog.UploadURL == "" {
			return invalid("upload url is required for signed_url storage")
		}
	case models.StorageS3:
		if cfg.Storage.Bucket == "" {
			return invalid("bucket is required for s3 storage")
		}
	default:
		return invalid("unknown storage type %q", cfg.Storage.Type)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return invalid("log format must be text or json, got %q", cfg.LogFormat)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrInvalidConfig, fmt.Sprintf(format, args...))
}
