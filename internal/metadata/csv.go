package metadata

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	validID          = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	validPropertyKey = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	numberLiteral    = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

	systemProperties = map[string]bool{
		KeyIndex:              true,
		"system:description":  true,
		"system:provider_url": true,
		"system:tags":         true,
		KeyTimeEnd:            true,
		KeyTimeStart:          true,
		"system:title":        true,
	}

	isoLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02",
	}
)

// ErrInvalidMetadata wraps every validation failure in a metadata file.
var ErrInvalidMetadata = errors.New("invalid metadata")

// LoadCSV reads a metadata table. An empty idColumn selects the first column.
func LoadCSV(path, idColumn string) (*Collection, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening metadata file: %w", err)
	}
	defer f.Close()

	c, err := ParseCSV(f, idColumn)
	if err != nil {
		return nil, fmt.Errorf("loading metadata %s: %w", path, err)
	}
	slog.Info("loaded metadata", "path", path, "assets", c.Len())
	return c, nil
}

// ParseCSV parses a metadata table: one row per asset, the id column names the asset,
// every other non-empty cell becomes a property.
func ParseCSV(r io.Reader, idColumn string) (*Collection, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: file is empty or has no header", ErrInvalidMetadata)
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	idIdx := 0
	if idColumn != "" {
		idIdx = -1
		for i, col := range header {
			if col == idColumn {
				idIdx = i
				break
			}
		}
		if idIdx < 0 {
			return nil, fmt.Errorf("%w: id column %q not found, available columns: %v", ErrInvalidMetadata, idColumn, header)
		}
	}

	for i, col := range header {
		if i != idIdx && !isValidPropertyKey(col) {
			return nil, fmt.Errorf("%w: invalid column name %q: must be a system property or contain only letters, numbers and underscores", ErrInvalidMetadata, col)
		}
	}

	c := &Collection{entries: make(map[string]Binding)}
	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", row, err)
		}

		id := strings.TrimSpace(record[idIdx])
		if id == "" {
			slog.Warn("skipping metadata row with empty asset id", "row", row)
			continue
		}
		b, err := parseRow(id, header, record, idIdx)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrInvalidMetadata, row, err)
		}
		if _, dup := c.entries[id]; dup {
			slog.Warn("duplicate metadata row, later row wins", "asset", id, "row", row)
		}
		c.entries[id] = b
	}
	return c, nil
}

func parseRow(id string, header, record []string, idIdx int) (Binding, error) {
	if !validID.MatchString(id) {
		return Binding{}, fmt.Errorf("asset id %q contains invalid characters: only letters, numbers, hyphens and underscores are allowed", id)
	}

	b := Binding{Properties: make(map[string]any)}
	for i, col := range header {
		if i == idIdx || i >= len(record) {
			continue
		}
		raw := strings.TrimSpace(record[i])
		if raw == "" {
			continue
		}

		switch col {
		case KeyTimeStart, KeyTimeEnd:
			ms, err := parseTimestamp(raw)
			if err != nil {
				return Binding{}, fmt.Errorf("%s must be an ISO date or milliseconds since epoch: %w", col, err)
			}
			if col == KeyTimeStart {
				b.StartMillis = &ms
			} else {
				b.EndMillis = &ms
			}
		case KeyIndex:
			// The catalog derives the index from the asset name.
		default:
			b.Properties[col] = parseValue(raw)
		}
	}

	if b.StartMillis != nil && b.EndMillis != nil && *b.StartMillis > *b.EndMillis {
		return Binding{}, fmt.Errorf("%s must be before or equal to %s", KeyTimeStart, KeyTimeEnd)
	}
	return b, nil
}

func isValidPropertyKey(key string) bool {
	return systemProperties[key] || validPropertyKey.MatchString(key)
}

// parseValue turns a cell into a number, boolean, list, object, epoch milliseconds
// for ISO dates, or leaves it as a string.
func parseValue(raw string) any {
	if numberLiteral.MatchString(raw) {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsInf(f, 0) {
			return f
		}
	}
	switch raw {
	case "True", "true":
		return true
	case "False", "false":
		return false
	}
	if strings.HasPrefix(raw, "[") || strings.HasPrefix(raw, "{") {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err == nil {
			return v
		}
	}
	if ms, ok := parseISO(raw); ok {
		return ms
	}
	return raw
}

func parseTimestamp(raw string) (int64, error) {
	if ms, ok := parseISO(raw); ok {
		return ms, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse %q", raw)
	}
	return ms, nil
}

// parseISO parses an ISO-8601 date or date-time. Values without a zone are UTC.
func parseISO(raw string) (int64, bool) {
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}
