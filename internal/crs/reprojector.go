package crs

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// Reprojector transforms geometries from a source CRS to WGS84.
type Reprojector struct {
	source     *CRS
	projection orb.Projection
}

func NewReprojector(source *CRS) (*Reprojector, error) {
	projection, err := Projection(source)
	if err != nil {
		return nil, err
	}
	return &Reprojector{source: source, projection: projection}, nil
}

func (r *Reprojector) Source() *CRS {
	return r.source
}

func (r *Reprojector) Identity() bool {
	return r.projection == nil
}

// Reproject returns a transformed copy of the geometry.  Every vertex is
// projected, so type and vertex order are preserved.  With an identity
// reprojector the input is returned as is.
func (r *Reprojector) Reproject(geometry orb.Geometry) orb.Geometry {
	if geometry == nil || r.projection == nil {
		return geometry
	}
	return project.Geometry(orb.Clone(geometry), r.projection)
}
