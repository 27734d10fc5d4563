package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"
)

// IsActive reports whether an operation still occupies an ingestion slot.
func IsActive(op Operation) bool {
	if op.Done {
		return false
	}
	switch op.Metadata.State {
	case StatePending, StateReady, StateRunning:
		return true
	}
	return false
}

// CountActive counts operations that are queued or running.
func CountActive(ops []Operation) int {
	n := 0
	for _, op := range ops {
		if IsActive(op) {
			n++
		}
	}
	return n
}

// TargetFromDescription extracts the destination asset path from an ingestion
// description such as `Asset ingestion: "projects/p/assets/col/x"`.
func TargetFromDescription(desc string) string {
	if idx := strings.LastIndex(desc, ":"); idx >= 0 {
		desc = desc[idx+1:]
	}
	desc = strings.ReplaceAll(desc, `"`, "")
	return strings.TrimSpace(desc)
}

func isIngestion(op Operation) bool {
	t := strings.ToUpper(op.Metadata.Type)
	return strings.HasPrefix(t, "INGEST") || strings.HasPrefix(t, "IMPORT")
}

// IngestionTargets returns the names of active ingestions writing directly into container.
func IngestionTargets(ops []Operation, container string) map[string]struct{} {
	prefix := strings.TrimSuffix(container, "/") + "/"
	targets := make(map[string]struct{})
	for _, op := range ops {
		if !IsActive(op) || !isIngestion(op) {
			continue
		}
		target := TargetFromDescription(op.Metadata.Description)
		rest, ok := strings.CutPrefix(target, prefix)
		if !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		targets[rest] = struct{}{}
	}
	return targets
}

// Selection picks operations for the cancel command: "all", "running", "pending", or an operation name.
func Selection(ops []Operation, which string) []Operation {
	var out []Operation
	for _, op := range ops {
		switch which {
		case "all":
			if IsActive(op) {
				out = append(out, op)
			}
		case "running":
			if !op.Done && op.Metadata.State == StateRunning {
				out = append(out, op)
			}
		case "pending":
			if !op.Done && (op.Metadata.State == StatePending || op.Metadata.State == StateReady) {
				out = append(out, op)
			}
		default:
			if op.Name == which || strings.HasSuffix(op.Name, "/"+which) {
				out = append(out, op)
			}
		}
	}
	return out
}

// Summarize counts operations per state.
func Summarize(ops []Operation) map[string]int {
	counts := make(map[string]int)
	for _, op := range ops {
		state := op.Metadata.State
		if state == "" {
			state = "UNKNOWN"
		}
		counts[state]++
	}
	return counts
}

// CancelAll cancels ops with at most parallel requests in flight and returns how many succeeded.
func CancelAll(ctx context.Context, c Catalog, ops []Operation, parallel int64) (int, error) {
	if parallel <= 0 {
		parallel = 1
	}
	sem := semaphore.NewWeighted(parallel)

	var (
		mu        sync.Mutex
		cancelled int
		errs      []error
		wg        sync.WaitGroup
	)
	for _, op := range ops {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Go(func() {
			defer sem.Release(1)
			err := c.CancelOperation(ctx, op.Name)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("cancel failed", "operation", op.Name, "error", err)
				errs = append(errs, err)
				return
			}
			cancelled++
		})
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return cancelled, fmt.Errorf("cancelled %d of %d operations: %w", cancelled, len(ops), errors.Join(errs...))
	}
	return cancelled, nil
}
