package geojson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	orbjson "github.com/paulmach/orb/geojson"
	"github.com/planetlabs/treeq/internal/geo"
)

var errNotGeoJSON = errors.New("expected a FeatureCollection, a Feature, or a Geometry object")

var geometryTypes = map[string]bool{
	"Point":              true,
	"LineString":         true,
	"Polygon":            true,
	"MultiPoint":         true,
	"MultiLineString":    true,
	"MultiPolygon":       true,
	"GeometryCollection": true,
}

// FeatureReader streams features from GeoJSON input: a FeatureCollection, a
// single Feature or geometry, newline delimited features, or a JSON array of
// features or plain records.  Plain records become features without a
// geometry, with every member of the record as a property.
type FeatureReader struct {
	decoder *json.Decoder

	// depth is the number of open delimiters around the items being
	// streamed: 1 inside a top level array, 2 inside the features of a
	// collection, 0 between top level values.
	depth int
	done  bool
}

func NewFeatureReader(input io.Reader) *FeatureReader {
	return &FeatureReader{decoder: json.NewDecoder(input)}
}

func (r *FeatureReader) Read() (*geo.Feature, error) {
	for !r.done {
		if r.depth > 0 {
			if r.decoder.More() {
				return r.readItem()
			}
			if err := r.closeItems(); err != nil {
				return nil, err
			}
			continue
		}

		feature, err := r.readValue()
		if feature != nil || err != nil {
			return feature, err
		}
	}
	return nil, io.EOF
}

// readValue starts the next top level value.  It returns a nil feature
// without an error when the value opens a list of items.
func (r *FeatureReader) readValue() (*geo.Feature, error) {
	token, err := r.decoder.Token()
	if err == io.EOF {
		r.done = true
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	switch token {
	case json.Delim('['):
		r.depth = 1
		return nil, nil
	case json.Delim('{'):
		return r.readObject()
	}
	return nil, fmt.Errorf("expected a JSON object or array, got %v", token)
}

// readObject collects the members of a top level object until it either
// ends or reaches the features of a collection.
func (r *FeatureReader) readObject() (*geo.Feature, error) {
	members := map[string]json.RawMessage{}
	for r.decoder.More() {
		token, err := r.decoder.Token()
		if err != nil {
			return nil, err
		}
		key, _ := token.(string)
		if key == "features" {
			open, err := r.decoder.Token()
			if err != nil {
				return nil, err
			}
			if open != json.Delim('[') {
				return nil, fmt.Errorf("expected an array of features, got %v", open)
			}
			r.depth = 2
			return nil, nil
		}
		value := json.RawMessage{}
		if err := r.decoder.Decode(&value); err != nil {
			return nil, err
		}
		members[key] = value
	}
	if _, err := r.decoder.Token(); err != nil {
		return nil, err
	}

	data, err := json.Marshal(members)
	if err != nil {
		return nil, err
	}
	return decodeObject(data, false)
}

func (r *FeatureReader) readItem() (*geo.Feature, error) {
	item := json.RawMessage{}
	if err := r.decoder.Decode(&item); err != nil {
		return nil, err
	}
	return decodeObject(item, true)
}

// closeItems consumes the end of a list of items and, for a collection, the
// members that follow its features.
func (r *FeatureReader) closeItems() error {
	if _, err := r.decoder.Token(); err != nil {
		return err
	}
	if r.depth == 2 {
		for r.decoder.More() {
			if _, err := r.decoder.Token(); err != nil {
				return err
			}
			if err := r.decoder.Decode(&json.RawMessage{}); err != nil {
				return err
			}
		}
		if _, err := r.decoder.Token(); err != nil {
			return err
		}
	}
	r.depth = 0
	return nil
}

// decodeObject turns a Feature or a geometry into a feature.  Other objects
// become property-only features when records are allowed.  A collection
// without features yields nothing.
func decodeObject(data []byte, records bool) (*geo.Feature, error) {
	object := map[string]any{}
	if err := json.Unmarshal(data, &object); err != nil {
		return nil, fmt.Errorf("expected an array of objects: %w", err)
	}

	kind, _ := object["type"].(string)
	switch {
	case kind == "Feature":
		feature := &geo.Feature{}
		if err := json.Unmarshal(data, feature); err != nil {
			return nil, err
		}
		return feature, nil
	case geometryTypes[kind]:
		geometry := &orbjson.Geometry{}
		if err := json.Unmarshal(data, geometry); err != nil {
			return nil, fmt.Errorf("trouble parsing geometry: %w", err)
		}
		return &geo.Feature{Geometry: geometry.Geometry(), Properties: map[string]any{}}, nil
	case kind == "FeatureCollection" && !records:
		return nil, nil
	case records:
		return &geo.Feature{Properties: object}, nil
	}
	return nil, errNotGeoJSON
}
