package geoparquet

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/apache/arrow/go/v16/parquet/metadata"
	"github.com/planetlabs/treeq/internal/geo"
)

const (
	Version                     = "1.1.0"
	MetadataKey                 = "geo"
	EdgesPlanar                 = "planar"
	EdgesSpherical              = "spherical"
	OrientationCounterClockwise = "counterclockwise"
	DefaultGeometryColumn       = "geometry"
	DefaultGeometryEncoding     = geo.EncodingWKB
	DefaultBboxColumn           = "bbox"
)

var GeometryTypes = []string{
	"Point",
	"LineString",
	"Polygon",
	"MultiPoint",
	"MultiLineString",
	"MultiPolygon",
	"GeometryCollection",
	"Point Z",
	"LineString Z",
	"Polygon Z",
	"MultiPoint Z",
	"MultiLineString Z",
	"MultiPolygon Z",
	"GeometryCollection Z",
}

//go:embed epsg4326.json
var wgs84ProjJSON []byte

// WGS84 returns the compact PROJJSON definition of EPSG:4326.
func WGS84() json.RawMessage {
	compact, err := CompactCRS(wgs84ProjJSON)
	if err != nil {
		panic(fmt.Sprintf("invalid embedded PROJJSON: %s", err))
	}
	return compact
}

// CompactCRS strips insignificant whitespace so CRS values can be compared
// byte for byte.
func CompactCRS(value []byte) (json.RawMessage, error) {
	buffer := &bytes.Buffer{}
	if err := json.Compact(buffer, value); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

type Metadata struct {
	Version       string                     `json:"version"`
	PrimaryColumn string                     `json:"primary_column"`
	Columns       map[string]*GeometryColumn `json:"columns"`
}

func (m *Metadata) Clone() *Metadata {
	clone := &Metadata{}
	*clone = *m
	clone.Columns = make(map[string]*GeometryColumn, len(m.Columns))
	for i, v := range m.Columns {
		clone.Columns[i] = v.clone()
	}
	return clone
}

// Primary returns the primary geometry column, or nil if the metadata does
// not describe one.
func (m *Metadata) Primary() *GeometryColumn {
	if m == nil {
		return nil
	}
	return m.Columns[m.PrimaryColumn]
}

type ProjId struct {
	Authority string `json:"authority"`
	Code      any    `json:"code"`
}

func (id *ProjId) String() string {
	switch code := id.Code.(type) {
	case string:
		return id.Authority + ":" + code
	case float64:
		return fmt.Sprintf("%s:%g", id.Authority, code)
	}
	return ""
}

type Proj struct {
	Name string  `json:"name"`
	Id   *ProjId `json:"id"`
}

func (p *Proj) String() string {
	id := ""
	if p.Id != nil {
		id = p.Id.String()
	}
	if p.Name != "" {
		return p.Name
	}
	if id == "" {
		return "Unknown"
	}
	return id
}

type CoveringBbox struct {
	Xmin []string `json:"xmin"`
	Ymin []string `json:"ymin"`
	Xmax []string `json:"xmax"`
	Ymax []string `json:"ymax"`
}

type Covering struct {
	Bbox CoveringBbox `json:"bbox"`
}

// NewBboxCovering describes a struct column with xmin, ymin, xmax and ymax
// fields.
func NewBboxCovering(column string) *Covering {
	return &Covering{Bbox: CoveringBbox{
		Xmin: []string{column, "xmin"},
		Ymin: []string{column, "ymin"},
		Xmax: []string{column, "xmax"},
		Ymax: []string{column, "ymax"},
	}}
}

// Column returns the name of the struct column holding the covering, or an
// empty string if the covering is not a single struct column.
func (c *Covering) Column() string {
	if c == nil || len(c.Bbox.Xmin) != 2 {
		return ""
	}
	return c.Bbox.Xmin[0]
}

type GeometryColumn struct {
	Encoding      string          `json:"encoding"`
	GeometryType  any             `json:"geometry_type,omitempty"`
	GeometryTypes any             `json:"geometry_types"`
	CRS           json.RawMessage `json:"crs,omitempty"`
	Edges         string          `json:"edges,omitempty"`
	Orientation   string          `json:"orientation,omitempty"`
	Bounds        []float64       `json:"bbox,omitempty"`
	Epoch         float64         `json:"epoch,omitempty"`
	Covering      *Covering       `json:"covering,omitempty"`
}

func (g *GeometryColumn) clone() *GeometryColumn {
	clone := &GeometryColumn{}
	*clone = *g
	clone.Bounds = make([]float64, len(g.Bounds))
	copy(clone.Bounds, g.Bounds)
	clone.CRS = append(json.RawMessage(nil), g.CRS...)
	return clone
}

// Proj decodes the name and identifier of the column CRS.  A nil result
// means the CRS is not set and defaults to OGC:CRS84.
func (g *GeometryColumn) Proj() (*Proj, error) {
	if len(g.CRS) == 0 || string(g.CRS) == "null" {
		return nil, nil
	}
	proj := &Proj{}
	if err := json.Unmarshal(g.CRS, proj); err != nil {
		return nil, fmt.Errorf("unable to parse crs: %w", err)
	}
	return proj, nil
}

func (col *GeometryColumn) GetGeometryTypes() []string {
	if multiType, ok := col.GeometryTypes.([]any); ok {
		types := make([]string, len(multiType))
		for i, value := range multiType {
			geometryType, ok := value.(string)
			if !ok {
				return nil
			}
			types[i] = geometryType
		}
		return types
	}
	if types, ok := col.GeometryTypes.([]string); ok {
		return types
	}

	if singleType, ok := col.GeometryType.(string); ok {
		return []string{singleType}
	}

	values, ok := col.GeometryType.([]any)
	if !ok {
		return nil
	}

	types := make([]string, len(values))
	for i, value := range values {
		geometryType, ok := value.(string)
		if !ok {
			return nil
		}
		types[i] = geometryType
	}

	return types
}

func getDefaultGeometryColumn() *GeometryColumn {
	return &GeometryColumn{
		Encoding:      DefaultGeometryEncoding,
		GeometryTypes: []string{},
	}
}

func DefaultMetadata() *Metadata {
	return &Metadata{
		Version:       Version,
		PrimaryColumn: DefaultGeometryColumn,
		Columns: map[string]*GeometryColumn{
			DefaultGeometryColumn: getDefaultGeometryColumn(),
		},
	}
}

// WGS84Metadata describes a WKB primary geometry column in EPSG:4326 with a
// bbox covering column.
func WGS84Metadata() *Metadata {
	metadata := DefaultMetadata()
	column := metadata.Primary()
	column.CRS = WGS84()
	column.Edges = EdgesPlanar
	column.Covering = NewBboxCovering(DefaultBboxColumn)
	return metadata
}

var ErrNoMetadata = fmt.Errorf("missing %s metadata key", MetadataKey)
var ErrDuplicateMetadata = fmt.Errorf("found more than one %s metadata key", MetadataKey)

func GetMetadata(keyValueMetadata metadata.KeyValueMetadata) (*Metadata, error) {
	value, err := GetMetadataValue(keyValueMetadata, MetadataKey)
	if err != nil {
		return nil, err
	}
	geoFileMetadata := &Metadata{}
	jsonErr := json.Unmarshal([]byte(value), geoFileMetadata)
	if jsonErr != nil {
		return nil, fmt.Errorf("unable to parse %s metadata: %w", MetadataKey, jsonErr)
	}
	return geoFileMetadata, nil
}

func GetMetadataFromFileReader(fileReader *file.Reader) (*Metadata, error) {
	return GetMetadata(fileReader.MetaData().KeyValueMetadata())
}

func GetMetadataValue(keyValueMetadata metadata.KeyValueMetadata, key string) (string, error) {
	var value *string
	for _, kv := range keyValueMetadata {
		if kv.Key == key {
			if value != nil {
				if key == MetadataKey {
					return "", ErrDuplicateMetadata
				}
				return "", fmt.Errorf("found more than one %s metadata key", key)
			}
			value = kv.Value
		}
	}
	if value == nil {
		if key == MetadataKey {
			return "", ErrNoMetadata
		}
		return "", fmt.Errorf("missing %s metadata key", key)
	}
	return *value, nil
}
