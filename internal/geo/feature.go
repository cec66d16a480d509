// Package geo holds the feature model shared by the readers and writers,
// geometry decoding, running statistics, and geometry validity checks.
package geo

import (
	"encoding/json"

	"github.com/paulmach/orb"
	orbjson "github.com/paulmach/orb/geojson"
)

// Feature is a geometry with its attributes.  A nil Geometry is allowed.
type Feature struct {
	Id         any            `json:"id,omitempty"`
	Type       string         `json:"type"`
	Geometry   orb.Geometry   `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type wireFeature struct {
	Id         any               `json:"id,omitempty"`
	Type       string            `json:"type"`
	Geometry   *orbjson.Geometry `json:"geometry"`
	Properties map[string]any    `json:"properties"`
}

var (
	_ json.Marshaler   = (*Feature)(nil)
	_ json.Unmarshaler = (*Feature)(nil)
)

func (f *Feature) MarshalJSON() ([]byte, error) {
	wire := &wireFeature{Id: f.Id, Type: "Feature", Properties: f.Properties}
	if f.Geometry != nil {
		wire.Geometry = orbjson.NewGeometry(f.Geometry)
	}
	return json.Marshal(wire)
}

func (f *Feature) UnmarshalJSON(data []byte) error {
	wire := &wireFeature{}
	if err := json.Unmarshal(data, wire); err != nil {
		return err
	}
	*f = Feature{Id: wire.Id, Type: wire.Type, Properties: wire.Properties}
	if wire.Geometry != nil {
		f.Geometry = wire.Geometry.Geometry()
	}
	return nil
}
