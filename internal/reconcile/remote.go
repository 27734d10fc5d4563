// Package reconcile decides which local assets still need to be ingested.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/spachava753/geosync/internal/catalog"
	"github.com/spachava753/geosync/internal/ledger"
	"github.com/spachava753/geosync/internal/models"
)

// RemoteState is what the catalog holds for one container at the start of a run.
type RemoteState struct {
	CanonicalPath string
	Existing      map[string]struct{}
	InFlight      map[string]struct{}
}

// Has reports whether name exists or is being ingested.
func (s RemoteState) Has(name string) bool {
	if _, ok := s.Existing[name]; ok {
		return true
	}
	_, ok := s.InFlight[name]
	return ok
}

// FetchRemoteState lists the container's children and the active ingestions concurrently.
// A container that does not exist yet has no children.
func FetchRemoteState(ctx context.Context, c catalog.Catalog, container string) (RemoteState, error) {
	state := RemoteState{
		CanonicalPath: container,
		Existing:      make(map[string]struct{}),
		InFlight:      make(map[string]struct{}),
	}

	var (
		children []catalog.Asset
		ops      []catalog.Operation
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		children, err = c.ListChildren(gctx, container)
		if errors.Is(err, catalog.ErrNotFound) {
			children, err = nil, nil
		}
		return err
	})
	g.Go(func() error {
		var err error
		ops, err = c.ListOperations(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return RemoteState{}, fmt.Errorf("fetching remote state of %s: %w", container, err)
	}

	for _, child := range children {
		state.Existing[path.Base(child.Name)] = struct{}{}
	}
	state.InFlight = catalog.IngestionTargets(ops, container)

	slog.Debug("fetched remote state", "container", container, "existing", len(state.Existing), "in_flight", len(state.InFlight))
	return state, nil
}

// PromoteFinished marks ledger entries recorded as running as succeeded once their
// asset exists remotely. It returns how many entries changed.
func PromoteFinished(l *ledger.Ledger, remote RemoteState) (int, error) {
	promoted := 0
	for _, name := range l.Names(models.StateRunning) {
		if _, ok := remote.Existing[name]; !ok {
			continue
		}
		if err := l.Transition(name, models.StateSucceeded, ""); err != nil {
			return promoted, err
		}
		promoted++
	}
	if promoted > 0 {
		slog.Info("ledger entries confirmed by catalog", "promoted", promoted)
	}
	if stale := StaleRunning(l, remote); len(stale) > 0 {
		slog.Warn("running ledger entries are missing remotely; rerun without --resume or --retry-failed to upload them",
			"count", len(stale), "names", stale)
	}
	return promoted, nil
}

// StaleRunning lists ledger entries recorded as running whose asset is neither present
// in the container nor the target of an active ingestion, usually because the
// ingestion failed after the run that submitted it exited.
func StaleRunning(l *ledger.Ledger, remote RemoteState) []string {
	var stale []string
	for _, name := range l.Names(models.StateRunning) {
		if !remote.Has(name) {
			stale = append(stale, name)
		}
	}
	slices.Sort(stale)
	return stale
}
