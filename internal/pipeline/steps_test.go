package pipeline_test

import (
	"context"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/planetlabs/treeq/internal/config"
	"github.com/planetlabs/treeq/internal/crs"
	"github.com/planetlabs/treeq/internal/geo"
	"github.com/planetlabs/treeq/internal/pipeline"
	"github.com/planetlabs/treeq/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func layer(name string, columns []string, rows ...map[string]any) *source.Layer {
	l := &source.Layer{Name: name, Columns: columns}
	for _, properties := range rows {
		l.Records = append(l.Records, &source.Record{Properties: properties})
	}
	return l
}

func mapping(t *testing.T, dataset *config.Dataset) *config.FieldMapping {
	m, err := config.NewFieldMapping(dataset, config.DefaultAttributes())
	require.NoError(t, err)
	return m
}

func TestMergeSingleLayer(t *testing.T) {
	only := layer("trees", []string{"species"}, map[string]any{"species": "Acer"})

	merged, err := pipeline.Merge([]*source.Layer{only}, []string{"missing"})
	require.NoError(t, err)
	assert.Same(t, only, merged)
}

func TestMergeResolvesColumnsAcrossLayers(t *testing.T) {
	first := layer("north", []string{"height_m"},
		map[string]any{"height_m": 10.0},
		map[string]any{"height_m": 12.0},
		map[string]any{"height_m": 8.0},
	)
	second := layer("south", []string{"height_m", "species"},
		map[string]any{"height_m": 4.0, "species": "Tilia"},
		map[string]any{"height_m": 5.0, "species": "Ulmus"},
	)

	merged, err := pipeline.Merge([]*source.Layer{first, second}, []string{"height_m", "species"})
	require.NoError(t, err)
	assert.Len(t, merged.Records, len(first.Records)+len(second.Records))
	assert.Equal(t, []string{"height_m", "species"}, merged.Columns)
	assert.Equal(t, 10.0, merged.Records[0].Properties["height_m"])
	assert.Equal(t, "Ulmus", merged.Records[4].Properties["species"])

	value, ok := merged.Records[0].Lookup("species")
	assert.False(t, ok)
	assert.Nil(t, value)
}

func TestMergeIncompatible(t *testing.T) {
	first := layer("north", []string{"height_m"}, map[string]any{"height_m": 10.0})
	second := layer("south", []string{"height_m"}, map[string]any{"height_m": 4.0})

	_, err := pipeline.Merge([]*source.Layer{first, second}, []string{"species"})
	assert.ErrorIs(t, err, pipeline.ErrIncompatibleSchema)
	assert.Equal(t, pipeline.KindIncompatibleSchema, pipeline.KindOf(err))
}

func TestMergeCRS(t *testing.T) {
	first := layer("a", []string{"x"})
	second := layer("b", []string{"x"})
	third := layer("c", []string{"x"})

	first.CRS, second.CRS = "EPSG:4326", "OGC:CRS84"
	merged, err := pipeline.Merge([]*source.Layer{first, second, third}, nil)
	require.NoError(t, err)
	assert.Equal(t, "EPSG:4326", merged.CRS)

	second.CRS = "EPSG:28992"
	_, err = pipeline.Merge([]*source.Layer{first, second}, nil)
	assert.ErrorIs(t, err, pipeline.ErrIncompatibleSchema)
}

func TestMapCoordinates(t *testing.T) {
	dataset := &config.Dataset{Name: "Amsterdam", ColumnMapping: map[string]string{
		"Municipality":     "Amsterdam",
		"Lat":              "lat",
		"Lon":              "lon",
		"Latin_name":       "species",
		"Height":           "height",
		"Year_of_planting": "planted",
	}}
	trees := layer("trees", []string{"lat", "lon", "species", "height", "planted"},
		map[string]any{"lat": "52,37", "lon": "4,90", "species": " Quercus robur ", "height": "12,5", "planted": "1987"},
		map[string]any{"lat": 999.0, "lon": 4.9, "species": "Tilia", "height": "tall", "planted": 1990.5},
		map[string]any{"lat": 52.0, "lon": nil, "species": "Acer"},
		map[string]any{"lat": "north", "lon": "east"},
	)

	rows, err := pipeline.Map(trees, mapping(t, dataset), true)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	first := rows[0]
	assert.Empty(t, first.Invalid)
	assert.Equal(t, orb.Point{4.90, 52.37}, first.Feature.Geometry)
	assert.Equal(t, map[string]any{
		"Municipality":     "Amsterdam",
		"Latin_name":       "Quercus robur",
		"Height":           12.5,
		"Year_of_planting": int64(1987),
		"Trunk_diameter":   nil,
	}, first.Feature.Properties)

	assert.Equal(t, geo.ReasonOutOfRange, rows[1].Invalid)
	assert.Nil(t, rows[1].Feature.Properties["Height"])
	assert.Nil(t, rows[1].Feature.Properties["Year_of_planting"])
	assert.Equal(t, pipeline.ReasonMissingCoordinate, rows[2].Invalid)
	assert.Equal(t, pipeline.ReasonInvalidCoordinate, rows[3].Invalid)
}

func TestMapMalformedRow(t *testing.T) {
	dataset := &config.Dataset{Name: "Delft", ColumnMapping: map[string]string{"Lat": "lat", "Lon": "lon"}}
	trees := layer("trees", []string{"lat", "lon"},
		map[string]any{"lat": "52.01", "lon": "4.36"},
		map[string]any{"lat": "52.02", "lon": "4.37"},
	)
	trees.Records[1].Malformed = true

	rows, err := pipeline.Map(trees, mapping(t, dataset), true)
	require.NoError(t, err)
	assert.Empty(t, rows[0].Invalid)
	assert.Equal(t, pipeline.ReasonMalformedRow, rows[1].Invalid)
	assert.Nil(t, rows[1].Feature.Geometry)
}

func TestMapProjectedCoordinatesAreNotRangeChecked(t *testing.T) {
	dataset := &config.Dataset{Name: "Utrecht", ColumnMapping: map[string]string{"Lat": "y", "Lon": "x"}}
	trees := layer("trees", []string{"x", "y"}, map[string]any{"x": "136000", "y": "455000"})

	rows, err := pipeline.Map(trees, mapping(t, dataset), false)
	require.NoError(t, err)
	assert.Empty(t, rows[0].Invalid)
	assert.Equal(t, orb.Point{136000, 455000}, rows[0].Feature.Geometry)
}

func TestMapGeometryColumn(t *testing.T) {
	point, err := wkb.Marshal(orb.Point{5.1, 52.1})
	require.NoError(t, err)

	dataset := &config.Dataset{Name: "Mixed", ColumnMapping: map[string]string{"Lat": "shape", "Lon": "shape"}}
	trees := layer("trees", []string{"shape"},
		map[string]any{"shape": "POINT (5.1 52.1)"},
		map[string]any{"shape": hex.EncodeToString(point)},
		map[string]any{"shape": point},
		map[string]any{"shape": map[string]any{"type": "Point", "coordinates": []any{5.1, 52.1}}},
		map[string]any{"shape": `{"type": "Point", "coordinates": [5.1, 52.1]}`},
		map[string]any{"shape": "POINT (oops"},
		map[string]any{"shape": nil},
	)

	rows, err := pipeline.Map(trees, mapping(t, dataset), true)
	require.NoError(t, err)
	for i := 0; i < 5; i += 1 {
		assert.Empty(t, rows[i].Invalid, fmt.Sprintf("row %d", i))
		assert.Equal(t, orb.Point{5.1, 52.1}, rows[i].Feature.Geometry, fmt.Sprintf("row %d", i))
	}
	assert.Equal(t, pipeline.ReasonUndecodable, rows[5].Invalid)
	assert.Empty(t, rows[6].Invalid)
	assert.Nil(t, rows[6].Feature.Geometry)
}

func TestMapNativeGeometry(t *testing.T) {
	native := &source.Layer{
		Name:           "trees",
		Columns:        []string{"soort"},
		GeometryColumn: "geom",
		Records:        []*source.Record{{Properties: map[string]any{"soort": "Fagus"}, Geometry: orb.Point{5.85, 51.84}}},
	}

	for _, dataset := range []*config.Dataset{
		{Name: "Implicit", ColumnMapping: map[string]string{"Latin_name": "soort"}},
		{Name: "Declared", GeometryColumn: "geom", ColumnMapping: map[string]string{"Latin_name": "soort"}},
	} {
		rows, err := pipeline.Map(native, mapping(t, dataset), true)
		require.NoError(t, err)
		assert.Equal(t, orb.Point{5.85, 51.84}, rows[0].Feature.Geometry)
		assert.Equal(t, "Fagus", rows[0].Feature.Properties["Latin_name"])
	}
}

func TestMapErrors(t *testing.T) {
	dataset := &config.Dataset{Name: "Missing", ColumnMapping: map[string]string{"Latin_name": "species", "Lat": "lat", "Lon": "lon"}}

	_, err := pipeline.Map(layer("trees", []string{"lat", "lon"}, map[string]any{"lat": 1.0, "lon": 1.0}), mapping(t, dataset), true)
	assert.ErrorIs(t, err, pipeline.ErrMapping)
	assert.Equal(t, pipeline.KindMapping, pipeline.KindOf(err))

	_, err = pipeline.Map(layer("trees", []string{"lat", "lon", "species"}), mapping(t, dataset), true)
	assert.ErrorIs(t, err, pipeline.ErrEmptyDataset)
}

func TestReprojectAndFilter(t *testing.T) {
	reprojector, err := crs.NewReprojector(&crs.CRS{Authority: crs.AuthorityEPSG, Code: "28992"})
	require.NoError(t, err)

	rows := []*pipeline.Row{
		{Feature: &geo.Feature{Geometry: orb.Point{155000, 463000}}},
		{Feature: &geo.Feature{Geometry: nil}},
		{Feature: &geo.Feature{Geometry: orb.Point{1, 1}}, Invalid: pipeline.ReasonMissingCoordinate},
		{Feature: &geo.Feature{Geometry: orb.Polygon{{{155000, 463000}, {155010, 463000}, {155010, 463010}, {155000, 463010}}}}},
	}
	pipeline.Reproject(rows, reprojector)

	point, ok := rows[0].Feature.Geometry.(orb.Point)
	require.True(t, ok)
	assert.InDelta(t, 5.3872, point.X(), 1e-3)
	assert.InDelta(t, 52.1552, point.Y(), 1e-3)
	assert.Equal(t, orb.Point{1, 1}, rows[2].Feature.Geometry)

	features, stats, err := pipeline.Filter(rows)
	require.NoError(t, err)
	assert.Len(t, features, 1)
	assert.Equal(t, &pipeline.Stats{
		Total:   4,
		Dropped: 3,
		Valid:   1,
		Reasons: map[string]int{
			geo.ReasonMissing:                1,
			pipeline.ReasonMissingCoordinate: 1,
			geo.ReasonUnclosedRing:           1,
		},
	}, stats)
}

func TestFilterConservation(t *testing.T) {
	geometries := []orb.Geometry{
		orb.Point{4.9, 52.3},
		nil,
		orb.LineString{},
		orb.Point{200, 10},
		orb.LineString{{0, 0}, {0, 0}},
		orb.Polygon{{{0, 0}, {2, 2}, {2, 0}, {0, 2}, {0, 0}}},
		orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}},
		orb.MultiPoint{{1, 1}, {2, 2}},
	}

	for size := 0; size <= len(geometries); size += 1 {
		rows := []*pipeline.Row{}
		for _, geometry := range geometries[:size] {
			rows = append(rows, &pipeline.Row{Feature: &geo.Feature{Geometry: geometry}})
		}
		features, stats, err := pipeline.Filter(rows)
		assert.Equal(t, size, stats.Total)
		assert.Equal(t, stats.Total, stats.Dropped+stats.Valid)
		assert.Len(t, features, stats.Valid)
		if stats.Valid == 0 {
			assert.ErrorIs(t, err, pipeline.ErrEmptyDataset)
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestFilterMultiPolygonWithEmptyMember(t *testing.T) {
	park := orb.Polygon{{{4.90, 52.30}, {4.91, 52.30}, {4.91, 52.31}, {4.90, 52.31}, {4.90, 52.30}}}
	bowTie := orb.Polygon{{{4.90, 52.30}, {4.92, 52.32}, {4.92, 52.30}, {4.90, 52.31}, {4.90, 52.30}}}
	rows := []*pipeline.Row{
		{Feature: &geo.Feature{Geometry: orb.MultiPolygon{orb.Polygon{}, park}}},
		{Feature: &geo.Feature{Geometry: orb.Point{4.9, 52.3}}},
		{Feature: &geo.Feature{Geometry: orb.MultiPolygon{orb.Polygon{}, bowTie}}},
	}

	features, stats, err := pipeline.Filter(rows)
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.Equal(t, rows[0].Feature, features[0])
	assert.Equal(t, rows[1].Feature, features[1])
	assert.Equal(t, 1, stats.Dropped)
	assert.Equal(t, map[string]int{geo.ReasonSelfIntersection: 1}, stats.Reasons)
}

func TestSortIsDeterministic(t *testing.T) {
	points := []orb.Point{{5.1, 52.1}, {4.9, 52.3}, {5.0, 52.0}, {4.8, 52.4}, {5.2, 51.9}}
	forward := make([]*geo.Feature, len(points))
	backward := make([]*geo.Feature, len(points))
	for i, point := range points {
		forward[i] = &geo.Feature{Geometry: point}
		backward[len(points)-1-i] = &geo.Feature{Geometry: point}
	}

	first, err := pipeline.Sort(forward)
	require.NoError(t, err)
	second, err := pipeline.Sort(backward)
	require.NoError(t, err)
	again, err := pipeline.Sort(first)
	require.NoError(t, err)

	require.Len(t, first, len(points))
	for i := range first {
		assert.Equal(t, first[i].Geometry, second[i].Geometry)
		assert.Same(t, first[i], again[i])
	}
}

func TestSourceCRS(t *testing.T) {
	declared, err := pipeline.SourceCRS("EPSG:28992", "EPSG:4326", "csv")
	require.NoError(t, err)
	assert.Equal(t, "EPSG:28992", declared.String())

	embedded, err := pipeline.SourceCRS("", "EPSG:3857", "gpkg")
	require.NoError(t, err)
	assert.Equal(t, "EPSG:3857", embedded.String())

	geographic, err := pipeline.SourceCRS("", "", "geojson")
	require.NoError(t, err)
	assert.True(t, geographic.IsWGS84())

	_, err = pipeline.SourceCRS("", "", "csv")
	assert.ErrorIs(t, err, crs.ErrReprojection)
	assert.Equal(t, pipeline.KindReprojection, pipeline.KindOf(err))
}

func TestKindOf(t *testing.T) {
	cases := map[pipeline.Kind]error{
		pipeline.KindFetch:           fmt.Errorf("%w: 404", source.ErrFetch),
		pipeline.KindParse:           fmt.Errorf("%w: bad csv", source.ErrParse),
		pipeline.KindMapping:         fmt.Errorf("%w: unknown attribute", config.ErrInvalidMapping),
		pipeline.KindEmptyDataset:    pipeline.ErrEmptyDataset,
		pipeline.KindWriteValidation: fmt.Errorf("%w: rows", pipeline.ErrWriteValidation),
		pipeline.KindCanceled:        fmt.Errorf("not started: %w", context.Canceled),
		pipeline.KindOther:           fmt.Errorf("boom"),
	}
	for kind, err := range cases {
		assert.Equal(t, kind, pipeline.KindOf(err), err.Error())
	}
	assert.Equal(t, pipeline.Kind(""), pipeline.KindOf(nil))
}
