package catalog_test

import (
	"context"
	"testing"

	"github.com/spachava753/geosync/internal/catalog"
	"github.com/spachava753/geosync/internal/catalog/catalogtest"
)

func op(name, typ, state, target string) catalog.Operation {
	return catalog.Operation{
		Name: name,
		Done: state == catalog.StateSucceeded || state == catalog.StateFailed,
		Metadata: catalog.OperationMetadata{
			Type:        typ,
			State:       state,
			Description: `Asset ingestion: "` + target + `"`,
		},
	}
}

func TestIngestionTargets(t *testing.T) {
	container := "projects/demo/assets/col"
	ops := []catalog.Operation{
		op("op1", "INGEST_IMAGE", catalog.StateRunning, container+"/a"),
		op("op2", "INGEST_IMAGE", catalog.StatePending, container+"/b"),
		op("op3", "INGEST_IMAGE", catalog.StateSucceeded, container+"/c"),
		op("op4", "INGEST_IMAGE", catalog.StateRunning, "projects/demo/assets/other/d"),
		op("op5", "EXPORT_IMAGE", catalog.StateRunning, container+"/e"),
		op("op6", "INGEST_TABLE", catalog.StateRunning, container+"/nested/f"),
	}

	got := catalog.IngestionTargets(ops, container)
	if len(got) != 2 {
		t.Fatalf("expected 2 targets, got %v", got)
	}
	for _, name := range []string{"a", "b"} {
		if _, ok := got[name]; !ok {
			t.Errorf("expected %s in targets", name)
		}
	}
	if n := catalog.CountActive(ops); n != 5 {
		t.Errorf("expected 5 active operations, got %d", n)
	}
}

func TestSelectionAndSummary(t *testing.T) {
	ops := []catalog.Operation{
		op("projects/demo/operations/A", "INGEST_IMAGE", catalog.StateRunning, "x"),
		op("projects/demo/operations/B", "INGEST_IMAGE", catalog.StatePending, "y"),
		op("projects/demo/operations/C", "INGEST_IMAGE", catalog.StateSucceeded, "z"),
	}
	tests := []struct {
		which string
		want  int
	}{
		{"all", 2},
		{"running", 1},
		{"pending", 1},
		{"C", 1},
		{"projects/demo/operations/B", 1},
		{"missing", 0},
	}
	for _, tt := range tests {
		t.Run(tt.which, func(t *testing.T) {
			if got := len(catalog.Selection(ops, tt.which)); got != tt.want {
				t.Errorf("Selection(%q) = %d ops, want %d", tt.which, got, tt.want)
			}
		})
	}

	summary := catalog.Summarize(ops)
	if summary[catalog.StateRunning] != 1 || summary[catalog.StateSucceeded] != 1 {
		t.Errorf("unexpected summary %v", summary)
	}
}

func TestCancelAll(t *testing.T) {
	srv := catalogtest.New(t, "demo")
	a := srv.AddIngestion("projects/demo/assets/col/a")
	b := srv.AddIngestion("projects/demo/assets/col/b")
	c := newClient(t, srv.URL, "")

	n, err := catalog.CancelAll(context.Background(), c, []catalog.Operation{a, b}, 2)
	if err != nil {
		t.Fatalf("CancelAll failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 cancelled, got %d", n)
	}
	for _, o := range srv.Operations() {
		if o.Metadata.State != catalog.StateCancelled {
			t.Errorf("%s: expected CANCELLED, got %s", o.Name, o.Metadata.State)
		}
	}

	// Unknown operations surface as errors without hiding the successful count.
	n, err = catalog.CancelAll(context.Background(), c, []catalog.Operation{{Name: "projects/demo/operations/nope"}}, 1)
	if err == nil || n != 0 {
		t.Errorf("expected error and zero cancelled, got %d, %v", n, err)
	}
}
