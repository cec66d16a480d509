package source

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/paulmach/orb"
)

var (
	flatGeobufMagic = []byte("fgb")
	errTruncated    = errors.New("truncated FlatGeobuf data")
)

const (
	flatGeobufMagicSize = 8
	packedNodeSize      = 40
)

// packedRTreeSize is the byte size of the optional spatial index that
// precedes the features.
func packedRTreeSize(count uint64, nodeSize uint16) uint64 {
	size := uint64(max(nodeSize, 2))
	n := count
	nodes := n
	for {
		n = (n + size - 1) / size
		nodes += n
		if n <= 1 {
			break
		}
	}
	return nodes * packedNodeSize
}

func sizePrefixed(data []byte, offset uint64) ([]byte, uint64, error) {
	if uint64(len(data)) < offset+4 {
		return nil, 0, errTruncated
	}
	size := uint64(binary.LittleEndian.Uint32(data[offset:]))
	start := offset + 4
	if uint64(len(data)) < start+size {
		return nil, 0, errTruncated
	}
	return data[start : start+size], start + size, nil
}

// readFlatGeobuf walks the features sequentially, skipping the index when
// present, so files without an index read the same as indexed ones.
func readFlatGeobuf(path string, options *Options) ([]*Layer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < flatGeobufMagicSize || !bytes.Equal(data[:3], flatGeobufMagic) || !bytes.Equal(data[4:7], flatGeobufMagic) {
		return nil, fmt.Errorf("%w: not a FlatGeobuf file", ErrParse)
	}

	headerData, offset, err := sizePrefixed(data, flatGeobufMagicSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	header := flattypes.GetRootAsHeader(headerData, 0)

	columns := make([]string, header.ColumnsLength())
	columnTypes := make([]flattypes.ColumnType, header.ColumnsLength())
	for i := range columns {
		column := &flattypes.Column{}
		if !header.Columns(column, i) {
			return nil, fmt.Errorf("%w: missing column %d", ErrParse, i)
		}
		columns[i] = string(column.Name())
		columnTypes[i] = column.Type()
	}

	name := string(header.Name())
	if name == "" {
		name = layerName(path)
	}
	layer := &Layer{Name: name, Columns: columns, GeometryColumn: geometryColumn}
	crs := &flattypes.Crs{}
	if header.Crs(crs) != nil && crs.Code() > 0 {
		org := string(crs.Org())
		if org == "" {
			org = "EPSG"
		}
		layer.CRS = fmt.Sprintf("%s:%d", org, crs.Code())
	}

	count := header.FeaturesCount()
	if nodeSize := header.IndexNodeSize(); nodeSize > 0 && count > 0 {
		offset += packedRTreeSize(count, nodeSize)
	}

	geometryType := header.GeometryType()
	for offset < uint64(len(data)) {
		featureData, next, err := sizePrefixed(data, offset)
		if err != nil {
			return nil, fmt.Errorf("%w: feature %d: %w", ErrParse, len(layer.Records), err)
		}
		offset = next

		feature := flattypes.GetRootAsFeature(featureData, 0)
		properties, err := decodeFlatGeobufProperties(feature, columns, columnTypes)
		if err != nil {
			return nil, fmt.Errorf("%w: feature %d: %w", ErrParse, len(layer.Records), err)
		}
		record := &Record{Properties: properties}
		if geometry := feature.Geometry(&flattypes.Geometry{}); geometry != nil {
			record.Geometry = flatGeobufGeometry(geometry, geometryType)
		}
		layer.Records = append(layer.Records, record)
	}

	if count > 0 && uint64(len(layer.Records)) != count {
		return nil, fmt.Errorf("%w: expected %d features, found %d", ErrParse, count, len(layer.Records))
	}
	return []*Layer{layer}, nil
}

func decodeFlatGeobufProperties(feature *flattypes.Feature, columns []string, columnTypes []flattypes.ColumnType) (map[string]any, error) {
	properties := make(map[string]any, len(columns))
	for _, column := range columns {
		properties[column] = nil
	}

	data := make([]byte, feature.PropertiesLength())
	for i := range data {
		data[i] = feature.Properties(i)
	}

	for offset := 0; offset < len(data); {
		if offset+2 > len(data) {
			return nil, errTruncated
		}
		index := int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2
		if index >= len(columns) {
			return nil, fmt.Errorf("property refers to unknown column %d", index)
		}
		value, size, err := flatGeobufValue(data[offset:], columnTypes[index])
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", columns[index], err)
		}
		offset += size
		properties[columns[index]] = value
	}
	return properties, nil
}

func fixedSize(columnType flattypes.ColumnType) int {
	switch columnType {
	case flattypes.ColumnTypeBool, flattypes.ColumnTypeByte, flattypes.ColumnTypeUByte:
		return 1
	case flattypes.ColumnTypeShort, flattypes.ColumnTypeUShort:
		return 2
	case flattypes.ColumnTypeInt, flattypes.ColumnTypeUInt, flattypes.ColumnTypeFloat:
		return 4
	case flattypes.ColumnTypeLong, flattypes.ColumnTypeULong, flattypes.ColumnTypeDouble:
		return 8
	}
	return 0
}

func flatGeobufValue(data []byte, columnType flattypes.ColumnType) (any, int, error) {
	if size := fixedSize(columnType); size > 0 {
		if len(data) < size {
			return nil, 0, errTruncated
		}
		switch columnType {
		case flattypes.ColumnTypeBool:
			return data[0] != 0, 1, nil
		case flattypes.ColumnTypeByte:
			return int64(int8(data[0])), 1, nil
		case flattypes.ColumnTypeUByte:
			return int64(data[0]), 1, nil
		case flattypes.ColumnTypeShort:
			return int64(int16(binary.LittleEndian.Uint16(data))), 2, nil
		case flattypes.ColumnTypeUShort:
			return int64(binary.LittleEndian.Uint16(data)), 2, nil
		case flattypes.ColumnTypeInt:
			return int64(int32(binary.LittleEndian.Uint32(data))), 4, nil
		case flattypes.ColumnTypeUInt:
			return int64(binary.LittleEndian.Uint32(data)), 4, nil
		case flattypes.ColumnTypeFloat:
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(data))), 4, nil
		case flattypes.ColumnTypeLong:
			return int64(binary.LittleEndian.Uint64(data)), 8, nil
		case flattypes.ColumnTypeULong:
			value := binary.LittleEndian.Uint64(data)
			if value > math.MaxInt64 {
				return float64(value), 8, nil
			}
			return int64(value), 8, nil
		case flattypes.ColumnTypeDouble:
			return math.Float64frombits(binary.LittleEndian.Uint64(data)), 8, nil
		}
	}

	if len(data) < 4 {
		return nil, 0, errTruncated
	}
	length := int(binary.LittleEndian.Uint32(data))
	if len(data) < 4+length {
		return nil, 0, errTruncated
	}
	raw := data[4 : 4+length]
	size := 4 + length

	switch columnType {
	case flattypes.ColumnTypeString, flattypes.ColumnTypeDateTime:
		return string(raw), size, nil
	case flattypes.ColumnTypeJson:
		var value any
		if err := json.Unmarshal(raw, &value); err != nil {
			return string(raw), size, nil
		}
		return value, size, nil
	case flattypes.ColumnTypeBinary:
		return bytes.Clone(raw), size, nil
	}
	return nil, 0, fmt.Errorf("unsupported column type %d", columnType)
}

func flatGeobufPoints(geometry *flattypes.Geometry, start int, end int) []orb.Point {
	points := make([]orb.Point, 0, end-start)
	for i := start; i < end; i += 1 {
		points = append(points, orb.Point{geometry.Xy(2 * i), geometry.Xy(2*i + 1)})
	}
	return points
}

// flatGeobufRings splits the coordinates at the ends offsets.  Without ends
// all coordinates form a single part.
func flatGeobufRings(geometry *flattypes.Geometry) [][]orb.Point {
	count := geometry.XyLength() / 2
	if geometry.EndsLength() == 0 {
		return [][]orb.Point{flatGeobufPoints(geometry, 0, count)}
	}
	parts := make([][]orb.Point, 0, geometry.EndsLength())
	start := 0
	for i := 0; i < geometry.EndsLength(); i += 1 {
		end := min(max(int(geometry.Ends(i)), start), count)
		parts = append(parts, flatGeobufPoints(geometry, start, end))
		start = end
	}
	return parts
}

func flatGeobufPolygon(geometry *flattypes.Geometry) orb.Polygon {
	polygon := orb.Polygon{}
	for _, part := range flatGeobufRings(geometry) {
		polygon = append(polygon, orb.Ring(part))
	}
	return polygon
}

// flatGeobufGeometry converts a geometry.  Features of a file with a single
// geometry type may omit the type on each geometry.
func flatGeobufGeometry(geometry *flattypes.Geometry, headerType flattypes.GeometryType) orb.Geometry {
	geometryType := geometry.Type()
	if geometryType == flattypes.GeometryTypeUnknown {
		geometryType = headerType
	}

	switch geometryType {
	case flattypes.GeometryTypePoint:
		if geometry.XyLength() < 2 {
			return nil
		}
		return orb.Point{geometry.Xy(0), geometry.Xy(1)}
	case flattypes.GeometryTypeMultiPoint:
		return orb.MultiPoint(flatGeobufPoints(geometry, 0, geometry.XyLength()/2))
	case flattypes.GeometryTypeLineString:
		return orb.LineString(flatGeobufPoints(geometry, 0, geometry.XyLength()/2))
	case flattypes.GeometryTypeMultiLineString:
		multi := orb.MultiLineString{}
		for _, part := range flatGeobufRings(geometry) {
			multi = append(multi, orb.LineString(part))
		}
		return multi
	case flattypes.GeometryTypePolygon:
		return flatGeobufPolygon(geometry)
	case flattypes.GeometryTypeMultiPolygon:
		if geometry.PartsLength() == 0 {
			return orb.MultiPolygon{flatGeobufPolygon(geometry)}
		}
		multi := orb.MultiPolygon{}
		for i := 0; i < geometry.PartsLength(); i += 1 {
			part := &flattypes.Geometry{}
			if geometry.Parts(part, i) {
				multi = append(multi, flatGeobufPolygon(part))
			}
		}
		return multi
	case flattypes.GeometryTypeGeometryCollection:
		collection := orb.Collection{}
		for i := 0; i < geometry.PartsLength(); i += 1 {
			part := &flattypes.Geometry{}
			if !geometry.Parts(part, i) {
				continue
			}
			if member := flatGeobufGeometry(part, flattypes.GeometryTypeUnknown); member != nil {
				collection = append(collection, member)
			}
		}
		return collection
	}
	return nil
}
