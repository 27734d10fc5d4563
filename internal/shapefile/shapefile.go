// Package shapefile packs ESRI shapefiles and their sidecar files into one zip per layer,
// the form table ingestion accepts.
package shapefile

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/zip"
)

var (
	requiredExts = []string{".shp", ".shx", ".dbf", ".prj"}
	optionalExts = []string{".cpg", ".sbn", ".sbx", ".qix", ".fix", ".shp.xml", ".xml"}
)

// ErrMissingComponents is returned for a layer lacking one of the required sidecars.
var ErrMissingComponents = errors.New("missing shapefile components")

type BundleConfig struct {
	InputDir  string
	OutputDir string
	Overwrite bool
}

// Summary counts layers by outcome. Failures maps a layer's .shp path to its error.
type Summary struct {
	Total    int
	Created  int
	Skipped  int
	Failed   int
	Failures map[string]string
}

// Bundle finds every .shp below cfg.InputDir and writes <stem>.zip into cfg.OutputDir.
// Existing archives are left alone unless Overwrite is set. A layer that cannot be
// bundled is counted and reported, it does not stop the others.
func Bundle(ctx context.Context, cfg BundleConfig) (Summary, error) {
	summary := Summary{Failures: make(map[string]string)}
	if cfg.InputDir == "" {
		return summary, errors.New("input directory is required")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = cfg.InputDir
	}

	layers, err := findLayers(ctx, cfg.InputDir)
	if err != nil {
		return summary, err
	}
	summary.Total = len(layers)
	if len(layers) == 0 {
		return summary, nil
	}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return summary, fmt.Errorf("create output dir: %w", err)
	}

	for _, shp := range layers {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		stem := strings.TrimSuffix(filepath.Base(shp), filepath.Ext(shp))
		out := filepath.Join(cfg.OutputDir, stem+".zip")
		if _, err := os.Stat(out); err == nil && !cfg.Overwrite {
			slog.Debug("archive exists, skipping", "layer", stem, "archive", out)
			summary.Skipped++
			continue
		}

		components, err := components(shp)
		if err == nil {
			err = writeArchive(out, components)
		}
		if err != nil {
			slog.Warn("could not bundle shapefile", "layer", shp, "error", err)
			summary.Failed++
			summary.Failures[shp] = err.Error()
			continue
		}
		slog.Info("bundled shapefile", "layer", stem, "files", len(components), "archive", out)
		summary.Created++
	}
	return summary, nil
}

func findLayers(ctx context.Context, root string) ([]string, error) {
	var layers []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".shp") {
			layers = append(layers, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	slices.Sort(layers)
	return layers, nil
}

// components lists the files that make up the layer at shp, required sidecars first.
func components(shp string) ([]string, error) {
	base := strings.TrimSuffix(shp, filepath.Ext(shp))

	var files, missing []string
	for _, ext := range requiredExts {
		if p, ok := sidecar(base, ext); ok {
			files = append(files, p)
		} else {
			missing = append(missing, ext)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingComponents, strings.Join(missing, ", "))
	}
	for _, ext := range optionalExts {
		if p, ok := sidecar(base, ext); ok && !slices.Contains(files, p) {
			files = append(files, p)
		}
	}
	return files, nil
}

// sidecar finds base+ext in lower or upper case.
func sidecar(base, ext string) (string, bool) {
	for _, candidate := range []string{base + ext, base + strings.ToUpper(ext)} {
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

// writeArchive writes to a temporary file next to out and renames it into place.
func writeArchive(out string, files []string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(out), ".zipshape-*")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	zw := zip.NewWriter(tmp)
	for _, f := range files {
		if err := addFile(zw, f); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	return os.Rename(tmp.Name(), out)
}

func addFile(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %q: %w", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %q: %w", path, err)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("header for %q: %w", path, err)
	}
	hdr.Name = filepath.Base(path)
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("add %q: %w", path, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("write %q: %w", path, err)
	}
	return nil
}
