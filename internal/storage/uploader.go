// Package storage stages local files somewhere the catalog can ingest them from.
package storage

import (
	"context"
	"errors"
)

// ErrSlot is returned when no upload destination could be obtained for a file.
var ErrSlot = errors.New("obtaining upload slot")

// Uploader transfers one file and returns the reference an ingestion manifest points at.
// field names the multipart form field the file travels under, where that matters.
type Uploader interface {
	Upload(ctx context.Context, path, field string) (string, error)
}
