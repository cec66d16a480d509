package source

import (
	"encoding/json"
	"path/filepath"
	"slices"
	"strings"

	"github.com/paulmach/orb"
)

// propertiesPrefix addresses GeoJSON feature properties explicitly.
const propertiesPrefix = "properties."

// Record is one raw source row.  Property values are strings, numbers,
// booleans, bytes, nested maps, or nil.  Malformed marks a row the parser
// could only partly read, such as a delimited line with more fields than the
// header.
type Record struct {
	Properties map[string]any
	Geometry   orb.Geometry
	Malformed  bool
}

// Lookup returns the value of a column.  Column names may be dotted paths
// into nested objects ("geo_point_2d.lon") and may carry a "properties."
// prefix.  An exact match on the full name wins over a path.
func (r *Record) Lookup(column string) (any, bool) {
	return lookup(r.Properties, column)
}

func lookup(properties map[string]any, column string) (any, bool) {
	if value, ok := properties[column]; ok {
		return value, true
	}
	if strings.HasPrefix(column, propertiesPrefix) {
		if value, ok := lookup(properties, strings.TrimPrefix(column, propertiesPrefix)); ok {
			return value, true
		}
	}

	for i := strings.IndexByte(column, '.'); i > 0; {
		head, tail := column[:i], column[i+1:]
		if nested, ok := nestedObject(properties[head]); ok {
			if value, ok := lookup(nested, tail); ok {
				return value, true
			}
		}
		next := strings.IndexByte(tail, '.')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, false
}

func nestedObject(value any) (map[string]any, bool) {
	switch v := value.(type) {
	case map[string]any:
		return v, true
	case json.RawMessage:
		object := map[string]any{}
		if err := json.Unmarshal(v, &object); err != nil {
			return nil, false
		}
		return object, true
	case string:
		trimmed := strings.TrimSpace(v)
		if !strings.HasPrefix(trimmed, "{") {
			return nil, false
		}
		object := map[string]any{}
		if err := json.Unmarshal([]byte(trimmed), &object); err != nil {
			return nil, false
		}
		return object, true
	}
	return nil, false
}

// Layer is one table of a source.  GeometryColumn names the native geometry
// column, if the format has one, and CRS is the embedded CRS identifier.
type Layer struct {
	Name           string
	Columns        []string
	GeometryColumn string
	CRS            string
	Records        []*Record
}

// HasColumn reports whether the layer can resolve a column name, either
// directly or as a path into a nested object column.
func (l *Layer) HasColumn(column string) bool {
	if column == "" {
		return false
	}
	if slices.Contains(l.Columns, column) || column == l.GeometryColumn {
		return true
	}
	if strings.HasPrefix(column, propertiesPrefix) && l.HasColumn(strings.TrimPrefix(column, propertiesPrefix)) {
		return true
	}
	for i := strings.IndexByte(column, '.'); i > 0; {
		if slices.Contains(l.Columns, column[:i]) {
			return true
		}
		next := strings.IndexByte(column[i+1:], '.')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return false
}

// columnSet collects column names in first seen order.
type columnSet struct {
	names []string
	seen  map[string]bool
}

func newColumnSet() *columnSet {
	return &columnSet{seen: map[string]bool{}}
}

func (c *columnSet) add(name string) {
	if c.seen[name] {
		return
	}
	c.seen[name] = true
	c.names = append(c.names, name)
}

// addKeys adds the keys of a map in sorted order so the result does not
// depend on map iteration.
func (c *columnSet) addKeys(properties map[string]any) {
	keys := make([]string, 0, len(properties))
	for key := range properties {
		if !c.seen[key] {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	for _, key := range keys {
		c.add(key)
	}
}

func layerName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
