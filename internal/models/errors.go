package models

import "errors"

// ErrInvalidConfig marks failures that must stop a run before any remote mutation.
var ErrInvalidConfig = errors.New("invalid configuration")

// ErrorType identifies the category of error that occurred.
type ErrorType string

const (
	// Upload phase
	ErrUploadSlotFailed ErrorType = "upload_slot_failed"
	ErrUploadFailed     ErrorType = "upload_failed"

	// Submission phase
	ErrSubmissionRejected ErrorType = "submission_rejected"
	ErrSubmissionFailed   ErrorType = "submission_failed"

	// Pre-upload
	ErrMetadataMissing ErrorType = "metadata_missing"
	ErrThrottleFailed  ErrorType = "throttle_failed"

	// Run-level
	ErrInterrupted     ErrorType = "interrupted"
	ErrUnauthenticated ErrorType = "unauthenticated"

	// Catch-all
	ErrInternalError ErrorType = "internal_error"
)
