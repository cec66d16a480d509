package geo

import (
	"maps"
	"slices"

	"github.com/paulmach/orb"
)

// GeometryStats accumulates the bounds and types of written geometries.
type GeometryStats struct {
	count int64
	bound *orb.Bound
	types map[string]struct{}
}

func NewGeometryStats() *GeometryStats {
	return &GeometryStats{types: map[string]struct{}{}}
}

func (s *GeometryStats) Add(geometry orb.Geometry) {
	bound := geometry.Bound()
	if s.bound == nil {
		s.bound = &bound
	} else {
		union := s.bound.Union(bound)
		s.bound = &union
	}
	s.types[geometry.GeoJSONType()] = struct{}{}
	s.count += 1
}

func (s *GeometryStats) Count() int64 {
	return s.count
}

// Bounds returns nil until a geometry has been added.
func (s *GeometryStats) Bounds() *orb.Bound {
	if s.bound == nil {
		return nil
	}
	bound := *s.bound
	return &bound
}

func (s *GeometryStats) Types() []string {
	return slices.Sorted(maps.Keys(s.types))
}
