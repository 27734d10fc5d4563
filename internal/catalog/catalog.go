// Package catalog talks to the remote asset catalog: asset lookup and creation,
// listings, and ingestion operations.
package catalog

import "context"

// AssetType is the kind of entity stored at a catalog path.
type AssetType string

const (
	TypeFolder          AssetType = "FOLDER"
	TypeImageCollection AssetType = "IMAGE_COLLECTION"
	TypeImage           AssetType = "IMAGE"
	TypeTable           AssetType = "TABLE"
)

type Asset struct {
	Name string    `json:"name"`
	ID   string    `json:"id,omitempty"`
	Type AssetType `json:"type"`
}

// Operation is a long-running ingestion job tracked by the catalog.
type Operation struct {
	Name     string            `json:"name"`
	Done     bool              `json:"done"`
	Metadata OperationMetadata `json:"metadata"`
	Error    *Status           `json:"error,omitempty"`
}

type OperationMetadata struct {
	Type        string `json:"type"`
	State       string `json:"state"`
	Description string `json:"description"`
	CreateTime  string `json:"createTime,omitempty"`
	UpdateTime  string `json:"updateTime,omitempty"`
}

type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	StatePending    = "PENDING"
	StateReady      = "READY"
	StateRunning    = "RUNNING"
	StateSucceeded  = "SUCCEEDED"
	StateFailed     = "FAILED"
	StateCancelling = "CANCELLING"
	StateCancelled  = "CANCELLED"
)

// ImageManifest is the ingestion payload for a raster.
type ImageManifest struct {
	Name             string         `json:"name"`
	Tilesets         []Tileset      `json:"tilesets"`
	PyramidingPolicy string         `json:"pyramidingPolicy,omitempty"`
	Properties       map[string]any `json:"properties,omitempty"`
	StartTime        *Timestamp     `json:"startTime,omitempty"`
	EndTime          *Timestamp     `json:"endTime,omitempty"`
	MissingData      *MissingData   `json:"missingData,omitempty"`
	MaskBands        []MaskBand     `json:"maskBands,omitempty"`
}

type Tileset struct {
	ID      string   `json:"id,omitempty"`
	Sources []Source `json:"sources"`
}

type Source struct {
	URIs []string `json:"uris"`
}

// Timestamp carries whole epoch seconds.
type Timestamp struct {
	Seconds int64 `json:"seconds"`
}

type MissingData struct {
	Values []float64 `json:"values"`
}

type MaskBand struct {
	TilesetID string   `json:"tilesetId"`
	BandIDs   []string `json:"bandIds,omitempty"`
}

// TableManifest is the ingestion payload for a CSV or zipped shapefile table.
type TableManifest struct {
	Name       string         `json:"name"`
	Sources    []TableSource  `json:"sources"`
	Properties map[string]any `json:"properties,omitempty"`
	StartTime  *Timestamp     `json:"startTime,omitempty"`
	EndTime    *Timestamp     `json:"endTime,omitempty"`
}

type TableSource struct {
	URIs           []string `json:"uris"`
	Charset        string   `json:"charset,omitempty"`
	MaxErrorMeters float64  `json:"maxErrorMeters,omitempty"`
	MaxVertices    int      `json:"maxVertices,omitempty"`
	XColumn        string   `json:"xColumn,omitempty"`
	YColumn        string   `json:"yColumn,omitempty"`
}

// Catalog is the remote asset catalog.
//
// Lookups return an error wrapping ErrNotFound when the path does not exist and
// ErrPermissionDenied when it exists but is not readable. ErrUnauthenticated is fatal
// for a whole run.
type Catalog interface {
	GetAsset(ctx context.Context, name string) (*Asset, error)
	ListLegacyRoots(ctx context.Context) ([]string, error)
	CreateAsset(ctx context.Context, name string, typ AssetType) (*Asset, error)
	ListChildren(ctx context.Context, name string) ([]Asset, error)
	ListOperations(ctx context.Context) ([]Operation, error)
	CountActiveOperations(ctx context.Context) (int, error)
	StartImageIngestion(ctx context.Context, requestID string, m ImageManifest, overwrite bool) (*Operation, error)
	StartTableIngestion(ctx context.Context, requestID string, m TableManifest, overwrite bool) (*Operation, error)
	CancelOperation(ctx context.Context, name string) error
}
