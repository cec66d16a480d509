package pipeline

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	orbjson "github.com/paulmach/orb/geojson"
	"github.com/planetlabs/treeq/internal/config"
	"github.com/planetlabs/treeq/internal/geo"
	"github.com/planetlabs/treeq/internal/source"
)

const (
	ReasonMissingCoordinate = "missing coordinate"
	ReasonInvalidCoordinate = "non-numeric coordinate"
	ReasonUndecodable       = "undecodable geometry"
	ReasonMalformedRow      = "malformed row"
)

// Row is a standardized record on its way through the pipeline.  Invalid
// holds the reason the geometry could not be built; such rows are kept until
// the geometry filter drops them.
type Row struct {
	Feature *geo.Feature
	Invalid string
}

// Map projects every record of the layer onto the output attributes and
// builds its geometry.  Coordinate ranges are checked here only when the
// coordinates are geographic.
func Map(layer *source.Layer, mapping *config.FieldMapping, geographic bool) ([]*Row, error) {
	if len(layer.Records) == 0 {
		return nil, fmt.Errorf("%w: the source has no rows", ErrEmptyDataset)
	}
	for _, column := range mapping.SourceColumns() {
		if !layer.HasColumn(column) {
			return nil, fmt.Errorf("%w: column %q is not in the source, available columns are %s", ErrMapping, column, strings.Join(layer.Columns, ", "))
		}
	}

	native := mapping.Native() || (mapping.GeometryColumn != "" && mapping.GeometryColumn == layer.GeometryColumn)
	rows := make([]*Row, len(layer.Records))
	for i, record := range layer.Records {
		properties := make(map[string]any, len(mapping.Attributes))
		for _, attribute := range mapping.Attributes {
			if constant, ok := mapping.Constants[attribute.Name]; ok {
				properties[attribute.Name] = attribute.Coerce(constant)
				continue
			}
			column, ok := mapping.Columns[attribute.Name]
			if !ok {
				properties[attribute.Name] = nil
				continue
			}
			value, _ := record.Lookup(column)
			properties[attribute.Name] = attribute.Coerce(value)
		}

		row := &Row{Feature: &geo.Feature{Type: "Feature", Properties: properties}}
		switch {
		case record.Malformed:
			row.Invalid = ReasonMalformedRow
		case native:
			row.Feature.Geometry = record.Geometry
		case mapping.Coordinates():
			row.Feature.Geometry, row.Invalid = coordinatePoint(record, mapping, geographic)
		default:
			value, _ := record.Lookup(mapping.GeometryColumn)
			geometry, err := decodeGeometry(value)
			if err != nil {
				row.Invalid = ReasonUndecodable
			}
			row.Feature.Geometry = geometry
		}
		rows[i] = row
	}
	return rows, nil
}

// coordinatePoint builds a point from the coordinate columns.  A row where
// only one coordinate is usable is invalid.
func coordinatePoint(record *source.Record, mapping *config.FieldMapping, geographic bool) (orb.Geometry, string) {
	lonValue, _ := record.Lookup(mapping.LonColumn)
	latValue, _ := record.Lookup(mapping.LatColumn)
	if isBlank(lonValue) || isBlank(latValue) {
		return nil, ReasonMissingCoordinate
	}
	lon, lonOk := config.ToFloat(lonValue)
	lat, latOk := config.ToFloat(latValue)
	if !lonOk || !latOk {
		return nil, ReasonInvalidCoordinate
	}
	if geographic && (math.Abs(lat) > 90 || math.Abs(lon) > 180) {
		return nil, geo.ReasonOutOfRange
	}
	return orb.Point{lon, lat}, ""
}

func isBlank(value any) bool {
	if value == nil {
		return true
	}
	if str, ok := value.(string); ok {
		return strings.TrimSpace(str) == ""
	}
	return false
}

// decodeGeometry accepts WKB bytes, hex WKB, WKT, or GeoJSON given as text
// or as a decoded object.
func decodeGeometry(value any) (orb.Geometry, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case orb.Geometry:
		return v, nil
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return decodeGeoJSON(data)
	case json.RawMessage:
		return decodeGeoJSON(v)
	}

	g, err := geo.DecodeGeometry(value, "")
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, nil
	}
	return g.Geometry(), nil
}

func decodeGeoJSON(data []byte) (orb.Geometry, error) {
	g, err := orbjson.UnmarshalGeometry(data)
	if err != nil {
		return nil, err
	}
	return g.Geometry(), nil
}
