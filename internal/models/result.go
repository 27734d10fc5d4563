package models

import "time"

// AssetResult contains the outcome of processing a single asset.
type AssetResult struct {
	Name        string      `json:"name"`
	Kind        string      `json:"kind"`
	State       AssetState  `json:"state"`
	OperationID string      `json:"operation_id,omitempty"`
	Reference   string      `json:"reference,omitempty"`
	SizeBytes   int64       `json:"size_bytes"`
	Error       *AssetError `json:"error"`
	Durations   Durations   `json:"durations"`
	Timestamps  Timestamps  `json:"timestamps"`
}

type AssetError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

// Reason is the text recorded in the ledger for a failed or skipped asset.
func (r *AssetResult) Reason() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Message
}

type Durations struct {
	TotalSec      float64  `json:"total_sec"`
	ThrottleSec   *float64 `json:"throttle_sec"`
	UploadSec     *float64 `json:"upload_sec"`
	SubmissionSec *float64 `json:"submission_sec"`
}

type Timestamps struct {
	StartedAt           time.Time  `json:"started_at"`
	UploadStartedAt     *time.Time `json:"upload_started_at"`
	UploadEndedAt       *time.Time `json:"upload_ended_at"`
	SubmissionStartedAt *time.Time `json:"submission_started_at"`
	SubmissionEndedAt   *time.Time `json:"submission_ended_at"`
	EndedAt             time.Time  `json:"ended_at"`
}

// RunResult contains aggregate counts across all assets of a run.
type RunResult struct {
	Destination      string         `json:"destination"`
	Cancelled        bool           `json:"cancelled"`
	DryRun           bool           `json:"dry_run"`
	LocalAssets      int            `json:"local_assets"`
	Queued           int            `json:"queued"`
	Succeeded        int            `json:"succeeded"`
	Running          int            `json:"running"`
	Failed           int            `json:"failed"`
	Skipped          int            `json:"skipped"`
	NotStarted       int            `json:"not_started"`
	UploadedBytes    int64          `json:"uploaded_bytes"`
	TotalDurationSec float64        `json:"total_duration_sec"`
	StartedAt        time.Time      `json:"started_at"`
	EndedAt          time.Time      `json:"ended_at"`
	Plan             *Plan          `json:"plan,omitempty"`
	Results          []AssetSummary `json:"results"`
}

type AssetSummary struct {
	Name   string     `json:"name"`
	State  AssetState `json:"state"`
	Reason string     `json:"reason,omitempty"`
}

// Plan describes what a run would do without mutating anything remotely.
type Plan struct {
	TotalBytes     int64    `json:"total_bytes"`
	Existing       int      `json:"existing"`
	InFlight       int      `json:"in_flight"`
	LedgerExcluded int      `json:"ledger_excluded"`
	ToUpload       []string `json:"to_upload"`
}

// HasFailures reports whether the run should exit non-zero.
func (r *RunResult) HasFailures() bool {
	return r.Failed > 0 || r.Cancelled
}

// LedgerFile is the on-disk layout of a run ledger.
type LedgerFile struct {
	Assets         map[string]AssetState `json:"assets"`
	FailedReasons  map[string]string     `json:"failed_reasons"`
	Timestamp      time.Time             `json:"timestamp"`
	CollectionPath string                `json:"collection_path"`
}
