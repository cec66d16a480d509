// Package hilbert orders geometries along a Hilbert curve so that spatially
// close features end up close together in the output file.
package hilbert

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"slices"

	curve "github.com/google/hilbert"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/planar"
)

// Order is the number of bits per axis of the grid points are snapped to.
const Order = 16

const gridSize = 1 << Order

var grid = newCurve(gridSize)

func newCurve(n int) *curve.Hilbert {
	h, err := curve.NewHilbert(n)
	if err != nil {
		panic(err)
	}
	return h
}

// Index returns the distance along a Hilbert curve of order 16 for a grid cell.
func Index(x, y uint32) uint64 {
	return index(grid, x, y)
}

// index places cells outside the grid after every cell on the curve.
func index(h *curve.Hilbert, x uint32, y uint32) uint64 {
	d, err := h.MapInverse(int(x), int(y))
	if err != nil {
		return math.MaxUint64
	}
	return uint64(d)
}

// RepresentativePoint returns the point itself for points and the planar
// centroid for everything else, falling back to the center of the bounds.
func RepresentativePoint(geometry orb.Geometry) orb.Point {
	if point, ok := geometry.(orb.Point); ok {
		return point
	}
	centroid, _ := planar.CentroidArea(geometry)
	if !finite(centroid) {
		return geometry.Bound().Center()
	}
	return centroid
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p.X()) && !math.IsNaN(p.Y()) && !math.IsInf(p.X(), 0) && !math.IsInf(p.Y(), 0)
}

type entry struct {
	position int
	key      uint64
	point    orb.Point
	wkb      []byte
}

// Sort returns the positions of the input geometries in ascending Hilbert
// order.  Representative points are scaled to a grid spanning their extent.
// Ties are broken by coordinates and then by WKB encoding, so the result
// depends only on the set of geometries and not on their input order.  Fully
// identical geometries keep their relative order.
func Sort(geometries []orb.Geometry) ([]int, error) {
	entries := make([]entry, len(geometries))
	extent := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for i, geometry := range geometries {
		if geometry == nil {
			return nil, fmt.Errorf("missing geometry at position %d", i)
		}
		point := RepresentativePoint(geometry)
		data, err := wkb.Marshal(geometry)
		if err != nil {
			return nil, fmt.Errorf("failed to encode geometry at position %d: %w", i, err)
		}
		entries[i] = entry{position: i, point: point, wkb: data}
		extent.Min[0] = math.Min(extent.Min[0], point.X())
		extent.Min[1] = math.Min(extent.Min[1], point.Y())
		extent.Max[0] = math.Max(extent.Max[0], point.X())
		extent.Max[1] = math.Max(extent.Max[1], point.Y())
	}

	for i := range entries {
		e := &entries[i]
		x := scale(e.point.X(), extent.Min.X(), extent.Max.X())
		y := scale(e.point.Y(), extent.Min.Y(), extent.Max.Y())
		e.key = Index(x, y)
	}

	slices.SortStableFunc(entries, compare)

	order := make([]int, len(entries))
	for i, e := range entries {
		order[i] = e.position
	}
	return order, nil
}

func scale(value float64, min float64, max float64) uint32 {
	span := max - min
	if span <= 0 || !finite(orb.Point{value, span}) {
		return 0
	}
	cell := math.Floor((value - min) / span * (gridSize - 1))
	if cell < 0 {
		return 0
	}
	if cell > gridSize-1 {
		return gridSize - 1
	}
	return uint32(cell)
}

func compare(a entry, b entry) int {
	if c := cmp.Compare(a.key, b.key); c != 0 {
		return c
	}
	if c := cmp.Compare(a.point.X(), b.point.X()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.point.Y(), b.point.Y()); c != 0 {
		return c
	}
	return bytes.Compare(a.wkb, b.wkb)
}
