package source_test

import (
	"encoding/json"
	"testing"

	"github.com/planetlabs/treeq/internal/source"
	"github.com/stretchr/testify/assert"
)

func TestLookup(t *testing.T) {
	record := &source.Record{Properties: map[string]any{
		"name":         "Acer",
		"a.b":          "exact",
		"a":            map[string]any{"b": "nested"},
		"geo_point_2d": json.RawMessage(`{"lon": 4.9, "lat": 52.3}`),
		"location":     `{"coordinates": {"x": 1}}`,
		"plain":        "not an object",
	}}

	cases := []struct {
		column string
		value  any
		found  bool
	}{
		{column: "name", value: "Acer", found: true},
		{column: "properties.name", value: "Acer", found: true},
		{column: "a.b", value: "exact", found: true},
		{column: "geo_point_2d.lat", value: 52.3, found: true},
		{column: "location.coordinates.x", value: float64(1), found: true},
		{column: "plain.x", found: false},
		{column: "missing", found: false},
		{column: "a.c", found: false},
	}

	for _, c := range cases {
		t.Run(c.column, func(t *testing.T) {
			value, found := record.Lookup(c.column)
			assert.Equal(t, c.found, found)
			assert.Equal(t, c.value, value)
		})
	}
}

func TestHasColumn(t *testing.T) {
	layer := &source.Layer{Columns: []string{"name", "geo_point_2d"}, GeometryColumn: "geom"}

	assert.True(t, layer.HasColumn("name"))
	assert.True(t, layer.HasColumn("geom"))
	assert.True(t, layer.HasColumn("properties.name"))
	assert.True(t, layer.HasColumn("geo_point_2d.lon"))
	assert.False(t, layer.HasColumn("height"))
	assert.False(t, layer.HasColumn(""))
	assert.False(t, layer.HasColumn("location.lon"))
}
