// Package metadata binds per-asset properties and acquisition times from a CSV file.
package metadata

import (
	"maps"
	"slices"
)

const (
	KeyIndex     = "system:index"
	KeyTimeStart = "system:time_start"
	KeyTimeEnd   = "system:time_end"
)

// Binding is the metadata attached to one asset.
type Binding struct {
	Properties  map[string]any
	StartMillis *int64
	EndMillis   *int64
}

// Binder looks up the metadata for an asset by name.
type Binder interface {
	Lookup(name string) (Binding, bool)
}

// Collection is a Binder loaded from a metadata table.
type Collection struct {
	entries map[string]Binding
}

func (c *Collection) Lookup(name string) (Binding, bool) {
	if c == nil {
		return Binding{}, false
	}
	b, ok := c.entries[name]
	if !ok {
		return Binding{}, false
	}
	b.Properties = maps.Clone(b.Properties)
	return b, true
}

func (c *Collection) Len() int {
	return len(c.entries)
}

// Missing returns the names that have no metadata row, in input order.
func (c *Collection) Missing(names []string) []string {
	var missing []string
	for _, n := range names {
		if _, ok := c.entries[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

// Extra returns metadata ids that match none of names, sorted.
func (c *Collection) Extra(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		seen[n] = struct{}{}
	}
	var extra []string
	for id := range c.entries {
		if _, ok := seen[id]; !ok {
			extra = append(extra, id)
		}
	}
	slices.Sort(extra)
	return extra
}

// MillisToSeconds truncates epoch milliseconds to whole seconds.
func MillisToSeconds(ms int64) int64 {
	return ms / 1000
}

func SecondsToMillis(s int64) int64 {
	return s * 1000
}
