// Copyright 2023 Planet Labs PBC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package validator

import (
	"fmt"
	"slices"

	"github.com/paulmach/orb"
	"github.com/planetlabs/treeq/internal/geo"
	"github.com/planetlabs/treeq/internal/geoparquet"
)

func geometryColumn(info *FileInfo, name string) (*geoparquet.GeometryColumn, error) {
	column := info.Metadata.Columns[name]
	if column == nil {
		return nil, fatal("missing geometry column %q", name)
	}
	return column, nil
}

func GeometryEncoding() Rule {
	return &ColumnValueRule[any]{
		title: `all geometry values match the "encoding" metadata`,
		value: func(info *FileInfo, name string, data any) error {
			column, err := geometryColumn(info, name)
			if err != nil {
				return err
			}
			if _, err := geo.DecodeGeometry(data, column.Encoding); err != nil {
				return fatal("invalid geometry in column %q: %s", name, err)
			}
			return nil
		},
	}
}

func GeometryTypes() Rule {
	return &ColumnValueRule[orb.Geometry]{
		title: `all geometry types must be included in the "geometry_types" metadata (if not empty)`,
		value: func(info *FileInfo, name string, geometry orb.Geometry) error {
			column, err := geometryColumn(info, name)
			if err != nil {
				return err
			}
			declared := column.GetGeometryTypes()
			if len(declared) == 0 {
				return nil
			}
			actual := geometry.GeoJSONType()
			if slices.Contains(declared, actual) || slices.Contains(declared, actual+" Z") {
				return nil
			}
			return fmt.Errorf("unexpected geometry type %q for column %q", actual, name)
		},
	}
}

func GeometryOrientation() Rule {
	return &ColumnValueRule[orb.Geometry]{
		title: `all polygon geometries must follow the "orientation" metadata (if present)`,
		value: func(info *FileInfo, name string, geometry orb.Geometry) error {
			column, err := geometryColumn(info, name)
			if err != nil {
				return err
			}
			switch column.Orientation {
			case "":
				return nil
			case geoparquet.OrientationCounterClockwise:
			default:
				return fmt.Errorf("unsupported orientation %q for column %q", column.Orientation, name)
			}

			var polygons []orb.Polygon
			switch g := geometry.(type) {
			case orb.Polygon:
				polygons = []orb.Polygon{g}
			case orb.MultiPolygon:
				polygons = g
			}
			for _, polygon := range polygons {
				for i, ring := range polygon {
					if i == 0 && ring.Orientation() != orb.CCW {
						return fmt.Errorf("invalid orientation for exterior ring in column %q", name)
					}
					if i > 0 && ring.Orientation() != orb.CW {
						return fmt.Errorf("invalid orientation for interior ring in column %q", name)
					}
				}
			}
			return nil
		},
	}
}

// declaredBound converts a 4 or 6 value bbox into xmin, ymin, xmax, ymax.
func declaredBound(bbox []float64) ([4]float64, bool) {
	switch len(bbox) {
	case 4:
		return [4]float64{bbox[0], bbox[1], bbox[2], bbox[3]}, true
	case 6:
		return [4]float64{bbox[0], bbox[1], bbox[3], bbox[4]}, true
	}
	return [4]float64{}, false
}

func GeometryBounds() Rule {
	return &ColumnValueRule[orb.Geometry]{
		title: `all geometries must fall within the "bbox" metadata (if present)`,
		value: func(info *FileInfo, name string, geometry orb.Geometry) error {
			column, err := geometryColumn(info, name)
			if err != nil {
				return err
			}
			if len(column.Bounds) == 0 {
				return nil
			}
			declared, ok := declaredBound(column.Bounds)
			if !ok {
				return fmt.Errorf("invalid bbox length for column %q", name)
			}
			west, south, east, north := declared[0], declared[1], declared[2], declared[3]

			bound := geometry.Bound()
			if west <= east {
				if bound.Min.X() < west {
					return fmt.Errorf("geometry in column %q extends to %f, west of the bbox", name, bound.Min.X())
				}
				if bound.Max.X() > east {
					return fmt.Errorf("geometry in column %q extends to %f, east of the bbox", name, bound.Max.X())
				}
			} else {
				// the bbox crosses the antimeridian
				for _, x := range []float64{bound.Min.X(), bound.Max.X()} {
					if x > east && x < west {
						return fmt.Errorf("geometry in column %q extends to %f, outside of the bbox", name, x)
					}
				}
			}
			if bound.Min.Y() < south {
				return fmt.Errorf("geometry in column %q extends to %f, south of the bbox", name, bound.Min.Y())
			}
			if bound.Max.Y() > north {
				return fmt.Errorf("geometry in column %q extends to %f, north of the bbox", name, bound.Max.Y())
			}
			return nil
		},
	}
}
