// Package dataset scans a source directory for files to ingest.
package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spachava753/geosync/internal/models"
)

// Loader finds ingestible files in a local directory.
type Loader struct {
	kinds map[string]models.Kind
}

// NewLoader creates a loader for the file family of mode.
func NewLoader(mode models.Mode) *Loader {
	if mode == models.ModeTable {
		return &Loader{kinds: map[string]models.Kind{
			".csv": models.KindTableCSV,
			".zip": models.KindTableZip,
		}}
	}
	return &Loader{kinds: map[string]models.Kind{
		".tif":  models.KindRaster,
		".tiff": models.KindRaster,
	}}
}

// LoadFromPath lists the matching files directly inside dir in natural sort order.
// Subdirectories are not searched.
func (l *Loader) LoadFromPath(ctx context.Context, dir string) ([]models.AssetTask, error) {
	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading source directory: %w", err)
	}

	var tasks []models.AssetTask
	seen := make(map[string]string)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		ext := filepath.Ext(entry.Name())
		kind, ok := l.kinds[strings.ToLower(ext)]
		if !ok {
			continue
		}

		name := strings.TrimSuffix(entry.Name(), ext)
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: %s and %s map to the same asset name %q", models.ErrInvalidConfig, prev, entry.Name(), name)
		}
		seen[name] = entry.Name()

		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}

		tasks = append(tasks, models.AssetTask{
			Name:      name,
			LocalPath: filepath.Join(absPath, entry.Name()),
			Kind:      kind,
			SizeBytes: info.Size(),
		})
	}

	slices.SortFunc(tasks, func(a, b models.AssetTask) int {
		return NaturalCompare(a.Name, b.Name)
	})
	return tasks, nil
}
