package models

// UploadConfig is the parsed run configuration for the upload and tabup commands.
type UploadConfig struct {
	Mode         Mode   `yaml:"mode" json:"mode" toml:"mode"`
	SourceDir    string `yaml:"source_dir" json:"source_dir" toml:"source_dir"`
	Destination  string `yaml:"destination" json:"destination" toml:"destination"`
	MetadataPath string `yaml:"metadata_path,omitempty" json:"metadata_path,omitempty" toml:"metadata_path"`
	IDColumn     string `yaml:"id_column,omitempty" json:"id_column,omitempty" toml:"id_column"`

	Overwrite   bool `yaml:"overwrite" json:"overwrite" toml:"overwrite"`
	Resume      bool `yaml:"resume" json:"resume" toml:"resume"`
	RetryFailed bool `yaml:"retry_failed" json:"retry_failed" toml:"retry_failed"`
	DryRun      bool `yaml:"dry_run" json:"dry_run" toml:"dry_run"`
	AssumeYes   bool `yaml:"assume_yes" json:"assume_yes" toml:"assume_yes"`

	Workers         int     `yaml:"workers" json:"workers" toml:"workers"`
	MaxInflight     int     `yaml:"max_inflight" json:"max_inflight" toml:"max_inflight"`
	PollIntervalSec float64 `yaml:"poll_interval_sec" json:"poll_interval_sec" toml:"poll_interval_sec"`

	LogLevel    string `yaml:"log_level,omitempty" json:"log_level,omitempty" toml:"log_level"`
	LogFormat   string `yaml:"log_format,omitempty" json:"log_format,omitempty" toml:"log_format"`
	MetricsFile string `yaml:"metrics_file,omitempty" json:"metrics_file,omitempty" toml:"metrics_file"`

	Raster  RasterOptions `yaml:"raster,omitempty" json:"raster,omitempty" toml:"raster"`
	Table   TableOptions  `yaml:"table,omitempty" json:"table,omitempty" toml:"table"`
	Catalog CatalogConfig `yaml:"catalog" json:"catalog" toml:"catalog"`
	Storage StorageConfig `yaml:"storage" json:"storage" toml:"storage"`
	Retry   RetryConfig   `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry"`
	Events  EventsConfig  `yaml:"events,omitempty" json:"events,omitempty" toml:"events"`
}

type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`
	InitialDelayMs int     `yaml:"initial_delay_ms" json:"initial_delay_ms" toml:"initial_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms" json:"max_delay_ms" toml:"max_delay_ms"`
	Multiplier     float64 `yaml:"multiplier" json:"multiplier" toml:"multiplier"`
}

// RasterOptions shape image manifests.
type RasterOptions struct {
	Pyramiding string   `yaml:"pyramiding" json:"pyramiding" toml:"pyramiding"`
	NoData     *float64 `yaml:"nodata,omitempty" json:"nodata,omitempty" toml:"nodata"`
	Mask       bool     `yaml:"mask" json:"mask" toml:"mask"`
}

// TableOptions shape table manifests.
type TableOptions struct {
	XColumn        string  `yaml:"x_column,omitempty" json:"x_column,omitempty" toml:"x_column"`
	YColumn        string  `yaml:"y_column,omitempty" json:"y_column,omitempty" toml:"y_column"`
	MaxErrorMeters float64 `yaml:"max_error_meters" json:"max_error_meters" toml:"max_error_meters"`
	MaxVertices    int     `yaml:"max_vertices" json:"max_vertices" toml:"max_vertices"`
	Charset        string  `yaml:"charset" json:"charset" toml:"charset"`
}

type CatalogConfig struct {
	URL        string  `yaml:"url" json:"url" toml:"url"`
	UploadURL  string  `yaml:"upload_url,omitempty" json:"upload_url,omitempty" toml:"upload_url"`
	Project    string  `yaml:"project,omitempty" json:"project,omitempty" toml:"project"`
	Token      string  `yaml:"-" json:"-" toml:"-"`
	TimeoutSec float64 `yaml:"timeout_sec" json:"timeout_sec" toml:"timeout_sec"`
}

// StorageConfig selects where file bytes are staged before ingestion.
type StorageConfig struct {
	Type   string `yaml:"type" json:"type" toml:"type"` // signed_url | s3
	Bucket string `yaml:"bucket,omitempty" json:"bucket,omitempty" toml:"bucket"`
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty" toml:"prefix"`
}

type EventsConfig struct {
	NATSURL       string `yaml:"nats_url,omitempty" json:"nats_url,omitempty" toml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty" json:"subject_prefix,omitempty" toml:"subject_prefix"`
}

const (
	StorageSignedURL = "signed_url"
	StorageS3        = "s3"
)
