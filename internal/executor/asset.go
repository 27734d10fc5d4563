package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spachava753/geosync/internal/catalog"
	"github.com/spachava753/geosync/internal/metadata"
	"github.com/spachava753/geosync/internal/models"
	"github.com/spachava753/geosync/internal/storage"
	"github.com/spachava753/geosync/internal/telemetry"
	"github.com/spachava753/geosync/internal/throttle"
)

// interruptedReason is the ledger reason for assets cut short by cancellation.
const interruptedReason = "interrupted"

// AssetExecutor runs a single asset through throttle, upload and submission.
type AssetExecutor struct {
	Catalog     catalog.Catalog
	Uploader    storage.Uploader
	Throttle    *throttle.Throttle
	Binder      metadata.Binder
	Destination string
	Overwrite   bool
	Manifest    ManifestOptions

	// NewRequestID returns the idempotency key sent with a submission. Defaults to a UUID.
	NewRequestID func() string
}

// Execute processes task and reports the outcome. Per-asset failures are carried in the
// result, never returned as errors.
func (e *AssetExecutor) Execute(ctx context.Context, task models.AssetTask) *models.AssetResult {
	result := &models.AssetResult{
		Name:      task.Name,
		Kind:      task.Kind.String(),
		State:     models.StatePending,
		SizeBytes: task.SizeBytes,
		Timestamps: models.Timestamps{
			StartedAt: time.Now(),
		},
	}

	ctx, span := telemetry.Tracer().Start(ctx, "geosync.asset",
		trace.WithAttributes(
			attribute.String("asset.name", task.Name),
			attribute.String("asset.kind", task.Kind.String()),
			attribute.Int64("asset.size_bytes", task.SizeBytes),
		))
	defer func() {
		result.Timestamps.EndedAt = time.Now()
		result.Durations.TotalSec = result.Timestamps.EndedAt.Sub(result.Timestamps.StartedAt).Seconds()
		span.SetAttributes(attribute.String("asset.state", string(result.State)))
		if result.Error != nil {
			span.SetStatus(codes.Error, result.Error.Message)
		}
		span.End()
	}()

	// Phase 1: wait for room in the ingestion queue
	throttleStart := time.Now()
	err := e.Throttle.WaitForCapacity(ctx)
	throttleDur := time.Since(throttleStart).Seconds()
	result.Durations.ThrottleSec = &throttleDur
	if err != nil {
		fail(result, classify(ctx, err, models.ErrThrottleFailed))
		return result
	}

	// Phase 2: metadata
	var binding *metadata.Binding
	if e.Binder != nil {
		b, ok := e.Binder.Lookup(task.Name)
		if !ok {
			result.State = models.StateSkipped
			result.Error = &models.AssetError{
				Type:    models.ErrMetadataMissing,
				Message: fmt.Sprintf("no metadata for %s", task.Name),
			}
			slog.Warn("skipping asset without metadata", "asset", task.Name)
			return result
		}
		binding = &b
	}

	// Phase 3: stage the bytes
	uploadStart := time.Now()
	result.Timestamps.UploadStartedAt = &uploadStart
	ref, err := e.Uploader.Upload(ctx, task.LocalPath, task.Kind.UploadField())
	uploadEnd := time.Now()
	result.Timestamps.UploadEndedAt = &uploadEnd
	uploadDur := uploadEnd.Sub(uploadStart).Seconds()
	result.Durations.UploadSec = &uploadDur
	if err != nil {
		fallback := models.ErrUploadFailed
		if errors.Is(err, storage.ErrSlot) {
			fallback = models.ErrUploadSlotFailed
		}
		fail(result, classify(ctx, err, fallback))
		return result
	}
	result.Reference = ref

	// Phase 4: submit
	assetName := e.Destination + "/" + task.Name
	manifest, err := BuildManifest(task, assetName, ref, binding, e.Manifest)
	if err != nil {
		fail(result, &models.AssetError{Type: models.ErrInternalError, Message: err.Error()})
		return result
	}

	requestID := e.requestID()
	submitStart := time.Now()
	result.Timestamps.SubmissionStartedAt = &submitStart
	var op *catalog.Operation
	if manifest.Image != nil {
		op, err = e.Catalog.StartImageIngestion(ctx, requestID, *manifest.Image, e.Overwrite)
	} else {
		op, err = e.Catalog.StartTableIngestion(ctx, requestID, *manifest.Table, e.Overwrite)
	}
	submitEnd := time.Now()
	result.Timestamps.SubmissionEndedAt = &submitEnd
	submitDur := submitEnd.Sub(submitStart).Seconds()
	result.Durations.SubmissionSec = &submitDur
	if err != nil {
		fallback := models.ErrSubmissionFailed
		if catalog.IsRejection(err) {
			fallback = models.ErrSubmissionRejected
		}
		fail(result, classify(ctx, err, fallback))
		return result
	}

	result.OperationID = op.Name
	span.SetAttributes(attribute.String("asset.operation", op.Name))
	switch {
	case op.Done && op.Metadata.State == catalog.StateSucceeded:
		result.State = models.StateSucceeded
	case op.Done && op.Error != nil:
		fail(result, &models.AssetError{Type: models.ErrSubmissionFailed, Message: op.Error.Message})
		return result
	default:
		result.State = models.StateRunning
	}

	slog.Info("ingestion started", "asset", task.Name, "operation", op.Name, "state", result.State)
	return result
}

func (e *AssetExecutor) requestID() string {
	if e.NewRequestID != nil {
		return e.NewRequestID()
	}
	return uuid.NewString()
}

func fail(result *models.AssetResult, assetErr *models.AssetError) {
	result.State = models.StateFailed
	result.Error = assetErr
	slog.Error("asset failed", "asset", result.Name, "type", assetErr.Type, "error", assetErr.Message)
}

// classify maps an error to its ledger category. Cancellation wins over whatever the
// cancelled call happened to return.
func classify(ctx context.Context, err error, fallback models.ErrorType) *models.AssetError {
	switch {
	case ctx.Err() != nil:
		return &models.AssetError{Type: models.ErrInterrupted, Message: interruptedReason}
	case errors.Is(err, catalog.ErrUnauthenticated):
		return &models.AssetError{Type: models.ErrUnauthenticated, Message: err.Error()}
	}
	return &models.AssetError{Type: fallback, Message: err.Error()}
}
