package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/spachava753/geosync/internal/catalog"
	"github.com/spachava753/geosync/internal/events"
	"github.com/spachava753/geosync/internal/ledger"
	"github.com/spachava753/geosync/internal/models"
	"github.com/spachava753/geosync/internal/telemetry"
)

// Executor processes a single asset and returns its result.
type Executor interface {
	Execute(ctx context.Context, task models.AssetTask) *models.AssetResult
}

// AssetOrchestrator fans a work set out to a bounded pool of workers and records every
// state change in the ledger.
type AssetOrchestrator struct {
	executor  Executor
	ledger    *ledger.Ledger
	workers   int
	publisher events.Publisher
	metrics   *telemetry.Metrics
}

type OrchestratorOption func(*AssetOrchestrator)

func WithPublisher(p events.Publisher) OrchestratorOption {
	return func(o *AssetOrchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

func WithMetrics(m *telemetry.Metrics) OrchestratorOption {
	return func(o *AssetOrchestrator) {
		o.metrics = m
	}
}

// NewAssetOrchestrator creates an orchestrator running workers executors concurrently.
func NewAssetOrchestrator(exec Executor, l *ledger.Ledger, workers int, opts ...OrchestratorOption) *AssetOrchestrator {
	o := &AssetOrchestrator{
		executor:  exec,
		ledger:    l,
		workers:   max(workers, 1),
		publisher: events.Nop{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes tasks in order of dispatch. Cancelling ctx stops dispatch; assets already
// in progress are recorded as interrupted. An unauthenticated response aborts the run and
// is returned as an error alongside the partial result.
func (o *AssetOrchestrator) Run(ctx context.Context, tasks []models.AssetTask) (*models.RunResult, error) {
	startTime := time.Now()

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	nWorkers := min(o.workers, max(len(tasks), 1))
	results, skipped := o.runConcurrent(runCtx, cancel, tasks, nWorkers)

	rr := o.aggregateResults(tasks, results, startTime)
	rr.NotStarted = skipped
	if skipped > 0 || ctx.Err() != nil {
		rr.Cancelled = true
	}

	if cause := context.Cause(runCtx); cause != nil && errors.Is(cause, catalog.ErrUnauthenticated) {
		return rr, cause
	}
	return rr, nil
}

// runConcurrent executes tasks using a fan-out/fan-in pattern.
// Returns collected results and count of tasks never dispatched.
func (o *AssetOrchestrator) runConcurrent(ctx context.Context, cancel context.CancelCauseFunc, tasks []models.AssetTask, nWorkers int) ([]*models.AssetResult, int) {
	taskChan := make(chan models.AssetTask) // unbuffered
	resultChan := make(chan *models.AssetResult, len(tasks))

	var wg sync.WaitGroup

	for range nWorkers {
		wg.Go(func() {
			for task := range taskChan {
				// The feeder can win a race against cancellation; such tasks were never started.
				if ctx.Err() != nil {
					continue
				}

				o.record(ctx, task, models.StatePending, nil)

				result := o.executor.Execute(ctx, task)
				if result == nil {
					result = &models.AssetResult{
						Name:  task.Name,
						Kind:  task.Kind.String(),
						State: models.StateFailed,
						Error: &models.AssetError{
							Type:    models.ErrInternalError,
							Message: "executor returned no result",
						},
					}
				}

				o.record(ctx, task, result.State, result.Error)
				if o.metrics != nil {
					o.metrics.ObserveAsset(result.Kind, result.State, time.Duration(result.Durations.TotalSec*float64(time.Second)))
					if result.Reference != "" {
						o.metrics.AddUploadBytes(result.SizeBytes)
					}
				}

				if result.Error != nil && result.Error.Type == models.ErrUnauthenticated {
					slog.Error("catalog rejected credentials, stopping run", "asset", task.Name)
					cancel(fmt.Errorf("%w: %s", catalog.ErrUnauthenticated, result.Error.Message))
				}

				resultChan <- result
			}
		})
	}

	// Feeder goroutine: sends tasks to workers, respects context cancellation
	go func() {
		defer close(taskChan)
		for _, task := range tasks {
			select {
			case <-ctx.Done():
				return
			case taskChan <- task:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var results []*models.AssetResult
	for result := range resultChan {
		results = append(results, result)
	}

	skipped := max(len(tasks)-len(results), 0)
	return results, skipped
}

// record persists a transition and publishes it. Ledger errors are logged, not fatal:
// the catalog is the source of truth and the next run reconciles against it.
func (o *AssetOrchestrator) record(ctx context.Context, task models.AssetTask, state models.AssetState, assetErr *models.AssetError) {
	ev := events.Event{
		Asset:       task.Name,
		State:       state,
		Destination: o.ledger.Destination(),
		Kind:        task.Kind.String(),
		Time:        time.Now().UTC(),
	}
	if assetErr != nil {
		ev.Reason = assetErr.Message
		ev.ErrorType = assetErr.Type
	}

	if err := o.ledger.Transition(task.Name, state, ev.Reason); err != nil {
		slog.Error("updating ledger", "asset", task.Name, "state", state, "error", err)
	}
	// Publishing must not be skipped just because the run is being torn down.
	if err := o.publisher.Publish(context.WithoutCancel(ctx), ev); err != nil {
		slog.Warn("publishing asset event", "asset", task.Name, "error", err)
	}
}

func (o *AssetOrchestrator) aggregateResults(tasks []models.AssetTask, results []*models.AssetResult, startTime time.Time) *models.RunResult {
	rr := &models.RunResult{
		Destination: o.ledger.Destination(),
		Queued:      len(tasks),
		StartedAt:   startTime,
		EndedAt:     time.Now(),
		Results:     make([]models.AssetSummary, 0, len(results)),
	}
	rr.TotalDurationSec = rr.EndedAt.Sub(rr.StartedAt).Seconds()

	order := make(map[string]int, len(tasks))
	for i, t := range tasks {
		order[t.Name] = i
	}

	for _, r := range results {
		switch r.State {
		case models.StateSucceeded:
			rr.Succeeded++
		case models.StateRunning:
			rr.Running++
		case models.StateFailed:
			rr.Failed++
		case models.StateSkipped:
			rr.Skipped++
		}
		if r.Reference != "" {
			rr.UploadedBytes += r.SizeBytes
		}
		rr.Results = append(rr.Results, models.AssetSummary{
			Name:   r.Name,
			State:  r.State,
			Reason: r.Reason(),
		})
	}

	slices.SortFunc(rr.Results, func(a, b models.AssetSummary) int {
		return order[a.Name] - order[b.Name]
	})
	return rr
}
