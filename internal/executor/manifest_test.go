package executor

import (
	"reflect"
	"testing"

	"github.com/spachava753/geosync/internal/catalog"
	"github.com/spachava753/geosync/internal/metadata"
	"github.com/spachava753/geosync/internal/models"
)

func ptr[T any](v T) *T {
	return &v
}

func TestBuildManifestRaster(t *testing.T) {
	binding := &metadata.Binding{
		Properties:  map[string]any{"cloud": 12.5, "sensor": "PS2"},
		StartMillis: ptr(int64(1704067200123)),
		EndMillis:   ptr(int64(1704153600000)),
	}
	opts := ManifestOptions{Raster: models.RasterOptions{Pyramiding: "mode", NoData: ptr(-9999.0), Mask: true}}

	m, err := BuildManifest(models.AssetTask{Name: "s1", Kind: models.KindRaster}, "projects/p/assets/col/s1", "gs://b/s1.tif", binding, opts)
	if err != nil {
		t.Fatalf("BuildManifest failed: %v", err)
	}
	if m.Table != nil || m.Image == nil {
		t.Fatalf("expected an image manifest, got %+v", m)
	}

	want := &catalog.ImageManifest{
		Name:             "projects/p/assets/col/s1",
		Tilesets:         []catalog.Tileset{{Sources: []catalog.Source{{URIs: []string{"gs://b/s1.tif"}}}}},
		PyramidingPolicy: "MODE",
		Properties:       map[string]any{"cloud": 12.5, "sensor": "PS2"},
		StartTime:        &catalog.Timestamp{Seconds: 1704067200},
		EndTime:          &catalog.Timestamp{Seconds: 1704153600},
		MissingData:      &catalog.MissingData{Values: []float64{-9999}},
		MaskBands:        []catalog.MaskBand{{TilesetID: ""}},
	}
	if !reflect.DeepEqual(m.Image, want) {
		t.Errorf("unexpected manifest\n got: %+v\nwant: %+v", m.Image, want)
	}
}

func TestBuildManifestRasterWithoutMetadata(t *testing.T) {
	m, err := BuildManifest(models.AssetTask{Name: "s1", Kind: models.KindRaster}, "dest/s1", "ref", nil, ManifestOptions{Raster: models.RasterOptions{Pyramiding: "MEAN"}})
	if err != nil {
		t.Fatal(err)
	}
	if m.Image.StartTime != nil || m.Image.EndTime != nil || m.Image.Properties != nil {
		t.Errorf("expected no metadata fields, got %+v", m.Image)
	}
	if m.Image.MissingData != nil || m.Image.MaskBands != nil {
		t.Errorf("expected no nodata or mask, got %+v", m.Image)
	}
}

func TestBuildManifestTables(t *testing.T) {
	opts := ManifestOptions{Table: models.TableOptions{
		XColumn:        "lon",
		YColumn:        "lat",
		MaxErrorMeters: 2.5,
		MaxVertices:    1000,
	}}

	tests := []struct {
		name string
		kind models.Kind
		want catalog.TableSource
	}{
		{
			name: "zip carries max vertices",
			kind: models.KindTableZip,
			want: catalog.TableSource{URIs: []string{"ref"}, Charset: "UTF-8", MaxErrorMeters: 2.5, MaxVertices: 1000},
		},
		{
			name: "csv carries coordinate columns",
			kind: models.KindTableCSV,
			want: catalog.TableSource{URIs: []string{"ref"}, Charset: "UTF-8", MaxErrorMeters: 2.5, XColumn: "lon", YColumn: "lat"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			binding := &metadata.Binding{Properties: map[string]any{"region": "north"}}
			m, err := BuildManifest(models.AssetTask{Name: "t", Kind: tt.kind}, "dest/t", "ref", binding, opts)
			if err != nil {
				t.Fatalf("BuildManifest failed: %v", err)
			}
			if m.Image != nil || m.Table == nil {
				t.Fatalf("expected a table manifest, got %+v", m)
			}
			if len(m.Table.Sources) != 1 || !reflect.DeepEqual(m.Table.Sources[0], tt.want) {
				t.Errorf("unexpected source %+v, want %+v", m.Table.Sources, tt.want)
			}
			if m.Table.Properties["region"] != "north" {
				t.Errorf("properties not carried: %v", m.Table.Properties)
			}
		})
	}
}

func TestBuildManifestCSVNeedsBothColumns(t *testing.T) {
	opts := ManifestOptions{Table: models.TableOptions{XColumn: "lon", Charset: "latin1"}}
	m, err := BuildManifest(models.AssetTask{Name: "t", Kind: models.KindTableCSV}, "dest/t", "ref", nil, opts)
	if err != nil {
		t.Fatal(err)
	}
	src := m.Table.Sources[0]
	if src.XColumn != "" || src.YColumn != "" {
		t.Errorf("expected no coordinate columns, got %q/%q", src.XColumn, src.YColumn)
	}
	if src.Charset != "latin1" {
		t.Errorf("expected charset latin1, got %q", src.Charset)
	}
}

func TestBuildManifestUnknownKind(t *testing.T) {
	if _, err := BuildManifest(models.AssetTask{Name: "x", Kind: models.Kind(42)}, "d/x", "ref", nil, ManifestOptions{}); err == nil {
		t.Error("expected error for unknown kind")
	}
}
