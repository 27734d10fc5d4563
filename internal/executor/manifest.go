package executor

import (
	"fmt"
	"strings"

	"github.com/spachava753/geosync/internal/catalog"
	"github.com/spachava753/geosync/internal/metadata"
	"github.com/spachava753/geosync/internal/models"
)

// ManifestOptions are the run-wide settings copied into every manifest.
type ManifestOptions struct {
	Raster models.RasterOptions
	Table  models.TableOptions
}

// Manifest is an ingestion request body. Exactly one of Image and Table is set.
type Manifest struct {
	Image *catalog.ImageManifest
	Table *catalog.TableManifest
}

// BuildManifest assembles the ingestion payload for task, stored at assetName and
// read from ref. binding may be nil when the run has no metadata.
func BuildManifest(task models.AssetTask, assetName, ref string, binding *metadata.Binding, opts ManifestOptions) (Manifest, error) {
	var (
		props      map[string]any
		start, end *catalog.Timestamp
	)
	if binding != nil {
		props = binding.Properties
		start = timestamp(binding.StartMillis)
		end = timestamp(binding.EndMillis)
	}

	switch task.Kind {
	case models.KindRaster:
		m := &catalog.ImageManifest{
			Name:             assetName,
			Tilesets:         []catalog.Tileset{{Sources: []catalog.Source{{URIs: []string{ref}}}}},
			PyramidingPolicy: strings.ToUpper(opts.Raster.Pyramiding),
			Properties:       props,
			StartTime:        start,
			EndTime:          end,
		}
		if opts.Raster.NoData != nil {
			m.MissingData = &catalog.MissingData{Values: []float64{*opts.Raster.NoData}}
		}
		if opts.Raster.Mask {
			m.MaskBands = []catalog.MaskBand{{TilesetID: ""}}
		}
		return Manifest{Image: m}, nil

	case models.KindTableZip:
		src := tableSource(ref, opts.Table)
		src.MaxVertices = opts.Table.MaxVertices
		return Manifest{Table: tableManifest(assetName, src, props, start, end)}, nil

	case models.KindTableCSV:
		src := tableSource(ref, opts.Table)
		if opts.Table.XColumn != "" && opts.Table.YColumn != "" {
			src.XColumn = opts.Table.XColumn
			src.YColumn = opts.Table.YColumn
		}
		return Manifest{Table: tableManifest(assetName, src, props, start, end)}, nil
	}
	return Manifest{}, fmt.Errorf("unsupported asset kind %s", task.Kind)
}

func tableSource(ref string, opts models.TableOptions) catalog.TableSource {
	charset := opts.Charset
	if charset == "" {
		charset = "UTF-8"
	}
	return catalog.TableSource{
		URIs:           []string{ref},
		Charset:        charset,
		MaxErrorMeters: opts.MaxErrorMeters,
	}
}

func tableManifest(name string, src catalog.TableSource, props map[string]any, start, end *catalog.Timestamp) *catalog.TableManifest {
	return &catalog.TableManifest{
		Name:       name,
		Sources:    []catalog.TableSource{src},
		Properties: props,
		StartTime:  start,
		EndTime:    end,
	}
}

func timestamp(ms *int64) *catalog.Timestamp {
	if ms == nil {
		return nil
	}
	return &catalog.Timestamp{Seconds: metadata.MillisToSeconds(*ms)}
}
