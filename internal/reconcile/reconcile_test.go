package reconcile_test

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/spachava753/geosync/internal/catalog"
	"github.com/spachava753/geosync/internal/catalog/catalogtest"
	"github.com/spachava753/geosync/internal/ledger"
	"github.com/spachava753/geosync/internal/models"
	"github.com/spachava753/geosync/internal/reconcile"
)

type mapLedger map[string]models.AssetState

func (m mapLedger) State(name string) (models.AssetState, bool) {
	s, ok := m[name]
	return s, ok
}

func tasks(names ...string) []models.AssetTask {
	out := make([]models.AssetTask, len(names))
	for i, n := range names {
		out[i] = models.AssetTask{Name: n, LocalPath: "/src/" + n + ".tif", Kind: models.KindRaster}
	}
	return out
}

func set(names ...string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}

func TestComputeWorkSet(t *testing.T) {
	local := tasks("a", "b", "c", "d", "e")
	remote := reconcile.RemoteState{Existing: set("a"), InFlight: set("b")}
	led := mapLedger{
		"c": models.StateSucceeded,
		"d": models.StateFailed,
		"e": models.StateRunning,
	}

	tests := []struct {
		name string
		opts reconcile.Options
		led  reconcile.LedgerView
		want []string
	}{
		{"excludes remote", reconcile.Options{}, nil, []string{"c", "d", "e"}},
		{"ledger ignored without flags", reconcile.Options{}, led, []string{"c", "d", "e"}},
		{"overwrite takes everything", reconcile.Options{Overwrite: true, Resume: true}, led, []string{"a", "b", "c", "d", "e"}},
		{"resume skips succeeded and running", reconcile.Options{Resume: true}, led, []string{"d"}},
		{"retry failed only", reconcile.Options{RetryFailed: true}, led, []string{"d"}},
		{"resume with empty ledger", reconcile.Options{Resume: true}, mapLedger{}, []string{"c", "d", "e"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := reconcile.ComputeWorkSet(local, remote, tt.opts, tt.led)
			if got := ws.Names(); !slices.Equal(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestComputeWorkSetRemoteWinsOverLedger(t *testing.T) {
	local := tasks("a", "b")
	remote := reconcile.RemoteState{Existing: set("a"), InFlight: set()}
	led := mapLedger{"a": models.StateFailed, "b": models.StateFailed}

	ws := reconcile.ComputeWorkSet(local, remote, reconcile.Options{RetryFailed: true}, led)
	if got := ws.Names(); !slices.Equal(got, []string{"b"}) {
		t.Errorf("expected [b], got %v", got)
	}
	if ws.Existing != 1 {
		t.Errorf("expected 1 excluded as existing, got %d", ws.Existing)
	}
}

func TestComputeWorkSetIsPure(t *testing.T) {
	local := tasks("x", "y")
	remote := reconcile.RemoteState{Existing: set(), InFlight: set()}
	first := reconcile.ComputeWorkSet(local, remote, reconcile.Options{}, nil)
	second := reconcile.ComputeWorkSet(local, remote, reconcile.Options{}, nil)
	if !slices.Equal(first.Names(), second.Names()) {
		t.Errorf("repeated calls disagree: %v vs %v", first.Names(), second.Names())
	}
}

func newClient(t *testing.T, srv *catalogtest.Server) *catalog.Client {
	t.Helper()
	c, err := catalog.NewClient(catalog.ClientConfig{
		BaseURL: srv.URL,
		Project: "demo",
		Timeout: 5 * time.Second,
		Retry:   models.RetryConfig{MaxAttempts: 1},
	})
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	return c
}

func TestFetchRemoteState(t *testing.T) {
	srv := catalogtest.New(t, "demo")
	srv.AddRoot("projects/demo/assets")
	srv.AddAsset("projects/demo/assets/col", catalog.TypeImageCollection)
	srv.AddAsset("projects/demo/assets/col/a", catalog.TypeImage)
	srv.AddIngestion("projects/demo/assets/col/b")
	srv.AddIngestion("projects/demo/assets/elsewhere/z")

	state, err := reconcile.FetchRemoteState(context.Background(), newClient(t, srv), "projects/demo/assets/col")
	if err != nil {
		t.Fatalf("FetchRemoteState failed: %v", err)
	}
	if _, ok := state.Existing["a"]; !ok || len(state.Existing) != 1 {
		t.Errorf("unexpected existing set %v", state.Existing)
	}
	if _, ok := state.InFlight["b"]; !ok || len(state.InFlight) != 1 {
		t.Errorf("unexpected in-flight set %v", state.InFlight)
	}
	if !state.Has("a") || !state.Has("b") || state.Has("c") {
		t.Error("Has disagrees with the fetched sets")
	}
}

func TestFetchRemoteStateMissingContainer(t *testing.T) {
	srv := catalogtest.New(t, "demo")
	srv.AddRoot("projects/demo/assets")

	state, err := reconcile.FetchRemoteState(context.Background(), newClient(t, srv), "projects/demo/assets/new")
	if err != nil {
		t.Fatalf("FetchRemoteState failed: %v", err)
	}
	if len(state.Existing) != 0 || len(state.InFlight) != 0 {
		t.Errorf("expected empty sets, got %+v", state)
	}
}

func TestPromoteFinished(t *testing.T) {
	l := ledger.New(filepath.Join(t.TempDir(), ledger.RasterFileName), "dest")
	for _, n := range []string{"a", "b"} {
		if err := l.Transition(n, models.StatePending, ""); err != nil {
			t.Fatal(err)
		}
		if err := l.Transition(n, models.StateRunning, ""); err != nil {
			t.Fatal(err)
		}
	}

	n, err := reconcile.PromoteFinished(l, reconcile.RemoteState{Existing: set("a"), InFlight: set("b")})
	if err != nil {
		t.Fatalf("PromoteFinished failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 promotion, got %d", n)
	}
	if s, _ := l.State("a"); s != models.StateSucceeded {
		t.Errorf("expected a succeeded, got %s", s)
	}
	if s, _ := l.State("b"); s != models.StateRunning {
		t.Errorf("expected b still running, got %s", s)
	}
}

func TestStaleRunning(t *testing.T) {
	l := ledger.New(filepath.Join(t.TempDir(), ledger.RasterFileName), "dest")
	for _, n := range []string{"c", "a", "b"} {
		if err := l.Transition(n, models.StatePending, ""); err != nil {
			t.Fatal(err)
		}
		if err := l.Transition(n, models.StateRunning, ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Transition("d", models.StatePending, ""); err != nil {
		t.Fatal(err)
	}

	remote := reconcile.RemoteState{Existing: set("a"), InFlight: set("b")}
	if got := reconcile.StaleRunning(l, remote); !slices.Equal(got, []string{"c"}) {
		t.Errorf("expected [c], got %v", got)
	}

	// PromoteFinished leaves the stale entry running for a plain run to requeue.
	if _, err := reconcile.PromoteFinished(l, remote); err != nil {
		t.Fatalf("PromoteFinished failed: %v", err)
	}
	if s, _ := l.State("c"); s != models.StateRunning {
		t.Errorf("expected c still running, got %s", s)
	}
	ws := reconcile.ComputeWorkSet(tasks("a", "b", "c", "d"), remote, reconcile.Options{}, l)
	if got := ws.Names(); !slices.Equal(got, []string{"c", "d"}) {
		t.Errorf("expected plain run to queue [c d], got %v", got)
	}
}

func TestComputeWorkSetRetryFailedFixture(t *testing.T) {
	local := tasks("A", "B", "C")
	remote := reconcile.RemoteState{Existing: set(), InFlight: set()}
	led := mapLedger{
		"A": models.StateFailed,
		"B": models.StateSucceeded,
		"C": models.StatePending,
	}

	if got := reconcile.ComputeWorkSet(local, remote, reconcile.Options{RetryFailed: true}, led).Names(); !slices.Equal(got, []string{"A"}) {
		t.Errorf("retry failed: expected [A], got %v", got)
	}
	if got := reconcile.ComputeWorkSet(local, remote, reconcile.Options{Resume: true}, led).Names(); !slices.Equal(got, []string{"A", "C"}) {
		t.Errorf("resume: expected [A C], got %v", got)
	}
}
