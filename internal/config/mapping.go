package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

const (
	TypeString = "string"
	TypeFloat  = "float"
	TypeInt    = "int"
)

// None marks an attribute the source does not provide.
const None = "none"

const (
	KeyLon      = "Lon"
	KeyLat      = "Lat"
	KeyGeometry = "Geometry"
)

var ErrInvalidMapping = errors.New("invalid column mapping")

// Attribute is a standardized output column.  The mapping value of a constant
// attribute is the literal column value rather than a source column name.
type Attribute struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Constant bool   `json:"constant,omitempty"`
}

func DefaultAttributes() []Attribute {
	return []Attribute{
		{Name: "Municipality", Type: TypeString, Constant: true},
		{Name: "Latin_name", Type: TypeString},
		{Name: "Height", Type: TypeFloat},
		{Name: "Year_of_planting", Type: TypeInt},
		{Name: "Trunk_diameter", Type: TypeFloat},
	}
}

func isReserved(name string) bool {
	return strings.EqualFold(name, KeyLon) || strings.EqualFold(name, KeyLat) || strings.EqualFold(name, KeyGeometry)
}

func mergeAttributes(defaults []Attribute, declared []Attribute) ([]Attribute, error) {
	attributes := slices.Clone(defaults)
	for _, attribute := range declared {
		if isReserved(attribute.Name) {
			return nil, fmt.Errorf("%w: %q is reserved for geometry", ErrInvalidConfig, attribute.Name)
		}
		index := slices.IndexFunc(attributes, func(a Attribute) bool {
			return strings.EqualFold(a.Name, attribute.Name)
		})
		if index < 0 {
			attributes = append(attributes, attribute)
			continue
		}
		if attributes[index] != attribute {
			return nil, fmt.Errorf("%w: attribute %q is already defined as %s", ErrInvalidConfig, attribute.Name, attributes[index].Type)
		}
	}
	return attributes, nil
}

// FieldMapping is the resolved mapping for one dataset.  Attributes lists
// every output attribute in order; those missing from Columns and Constants
// are null for every row.
type FieldMapping struct {
	Attributes []Attribute
	Columns    map[string]string
	Constants  map[string]string

	// GeometryColumn holds a full geometry (WKT, WKB, or GeoJSON).  When it
	// and the coordinate columns are empty the native geometry is used.
	GeometryColumn string
	LonColumn      string
	LatColumn      string
	CRS            string
}

func isNone(value string) bool {
	value = strings.TrimSpace(value)
	return value == "" || strings.EqualFold(value, None)
}

func NewFieldMapping(dataset *Dataset, attributes []Attribute) (*FieldMapping, error) {
	mapping := &FieldMapping{
		Attributes: attributes,
		Columns:    map[string]string{},
		Constants:  map[string]string{},
		CRS:        strings.TrimSpace(dataset.CRS),
	}

	byName := map[string]Attribute{}
	for _, attribute := range attributes {
		byName[strings.ToLower(attribute.Name)] = attribute
	}

	lon, lat, geometry := dataset.LonColumn, dataset.LatColumn, dataset.GeometryColumn
	for key, value := range dataset.ColumnMapping {
		switch {
		case strings.EqualFold(key, KeyLon):
			lon = value
			continue
		case strings.EqualFold(key, KeyLat):
			lat = value
			continue
		case strings.EqualFold(key, KeyGeometry):
			geometry = value
			continue
		}

		attribute, ok := byName[strings.ToLower(key)]
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a known attribute", ErrInvalidMapping, key)
		}
		if isNone(value) {
			continue
		}
		if attribute.Constant {
			mapping.Constants[attribute.Name] = value
			continue
		}
		mapping.Columns[attribute.Name] = strings.TrimSpace(value)
	}

	lon, lat, geometry = strings.TrimSpace(lon), strings.TrimSpace(lat), strings.TrimSpace(geometry)
	if isNone(lon) {
		lon = ""
	}
	if isNone(lat) {
		lat = ""
	}
	if isNone(geometry) {
		geometry = ""
	}

	switch {
	case geometry != "":
		if lon != "" || lat != "" {
			return nil, fmt.Errorf("%w: both a geometry column and coordinate columns are declared", ErrInvalidMapping)
		}
		mapping.GeometryColumn = geometry
	case lon != "" && lon == lat:
		mapping.GeometryColumn = lon
	case lon != "" && lat != "":
		mapping.LonColumn = lon
		mapping.LatColumn = lat
	case lon != "" || lat != "":
		return nil, fmt.Errorf("%w: %s and %s must be declared together", ErrInvalidMapping, KeyLon, KeyLat)
	}
	return mapping, nil
}

// SourceColumns returns the source columns the mapping reads, in a stable
// order.
func (m *FieldMapping) SourceColumns() []string {
	columns := []string{}
	for _, attribute := range m.Attributes {
		if column, ok := m.Columns[attribute.Name]; ok {
			columns = append(columns, column)
		}
	}
	for _, column := range []string{m.GeometryColumn, m.LonColumn, m.LatColumn} {
		if column != "" {
			columns = append(columns, column)
		}
	}
	slices.Sort(columns)
	return slices.Compact(columns)
}

// Coordinates reports whether geometry is built from coordinate columns.
func (m *FieldMapping) Coordinates() bool {
	return m.LonColumn != ""
}

// Native reports whether the geometry of the source layer is used as is.
func (m *FieldMapping) Native() bool {
	return m.GeometryColumn == "" && m.LonColumn == ""
}

// Coerce converts a raw source value to the attribute type.  Values that
// cannot be converted are nil.
func (a Attribute) Coerce(value any) any {
	if value == nil {
		return nil
	}
	switch a.Type {
	case TypeString:
		return toString(value)
	case TypeFloat:
		number, ok := ToFloat(value)
		if !ok {
			return nil
		}
		return number
	case TypeInt:
		number, ok := ToFloat(value)
		if !ok || number != math.Trunc(number) || math.Abs(number) > 1<<53 {
			return nil
		}
		return int64(number)
	}
	return nil
}

func toString(value any) any {
	switch v := value.(type) {
	case string:
		str := strings.TrimSpace(v)
		if str == "" {
			return nil
		}
		return str
	case []byte:
		return toString(string(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return toString(float64(v))
	case int64:
		return strconv.FormatInt(v, 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int:
		return strconv.Itoa(v)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return string(data)
}

// ParseNumber parses decimal strings, accepting a decimal comma.
func ParseNumber(value string) (float64, bool) {
	str := strings.TrimSpace(value)
	if str == "" {
		return 0, false
	}
	if strings.Contains(str, ",") && !strings.Contains(str, ".") {
		str = strings.Replace(str, ",", ".", 1)
	}
	number, err := strconv.ParseFloat(str, 64)
	if err != nil || math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, false
	}
	return number, true
}

// ToFloat converts a raw source value to a float.
func ToFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case float32:
		return ToFloat(float64(v))
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case int:
		return float64(v), true
	case json.Number:
		return ParseNumber(v.String())
	case string:
		return ParseNumber(v)
	case []byte:
		return ParseNumber(string(v))
	}
	return 0, false
}
