package models

import "fmt"

// Kind is the payload shape an asset is ingested with.
type Kind int

const (
	KindRaster Kind = iota
	KindTableCSV
	KindTableZip
)

func (k Kind) String() string {
	switch k {
	case KindRaster:
		return "raster"
	case KindTableCSV:
		return "table_csv"
	case KindTableZip:
		return "table_zip"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsTable reports whether the asset is ingested as a feature table.
func (k Kind) IsTable() bool {
	return k == KindTableCSV || k == KindTableZip
}

// UploadField is the multipart form field the staging endpoint expects for this kind.
func (k Kind) UploadField() string {
	switch k {
	case KindTableCSV:
		return "csv_file"
	case KindTableZip:
		return "zip_file"
	default:
		return "image_file"
	}
}

// AssetTask is a single local file scheduled for ingestion.
type AssetTask struct {
	Name      string // filename stem, unique within a run
	LocalPath string
	Kind      Kind
	SizeBytes int64
}

// Mode selects which family of files a run considers.
type Mode string

const (
	ModeRaster Mode = "raster"
	ModeTable  Mode = "table"
)
