package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/planar"
	"github.com/peterstace/simplefeatures/geom"
)

var ErrInvalidGeometry = errors.New("invalid geometry")

const (
	ReasonMissing          = "missing geometry"
	ReasonEmpty            = "empty geometry"
	ReasonNonFinite        = "non-finite coordinate"
	ReasonOutOfRange       = "coordinate outside WGS84 range"
	ReasonTooFewPoints     = "too few points"
	ReasonUnclosedRing     = "unclosed ring"
	ReasonZeroArea         = "zero area ring"
	ReasonSelfIntersection = "self-intersection"
	ReasonHoleOutsideShell = "hole outside shell"
	ReasonUnsupported      = "unsupported geometry type"
)

// ValidityError describes why a geometry was rejected.  Reason is one of the
// Reason constants and is stable enough to aggregate on.
type ValidityError struct {
	Reason string
	Detail string
}

func (e *ValidityError) Error() string {
	if e.Detail == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *ValidityError) Is(target error) bool {
	return target == ErrInvalidGeometry
}

func invalid(reason string, format string, a ...any) error {
	return &ValidityError{Reason: reason, Detail: fmt.Sprintf(format, a...)}
}

// ReasonOf returns the rejection reason for an error returned by Validate.
func ReasonOf(err error) string {
	validityErr := &ValidityError{}
	if errors.As(err, &validityErr) {
		return validityErr.Reason
	}
	return err.Error()
}

// Validate checks that a geometry is present, non-empty, has finite
// coordinates within the WGS84 range, and is valid for its type.
func Validate(geometry orb.Geometry) error {
	if geometry == nil {
		return &ValidityError{Reason: ReasonMissing}
	}
	if IsEmpty(geometry) {
		return &ValidityError{Reason: ReasonEmpty}
	}
	if err := checkCoordinates(geometry); err != nil {
		return err
	}
	return validateShape(geometry)
}

func IsEmpty(geometry orb.Geometry) bool {
	switch g := geometry.(type) {
	case orb.Point:
		return false
	case orb.MultiPoint:
		return len(g) == 0
	case orb.LineString:
		return len(g) == 0
	case orb.MultiLineString:
		for _, ls := range g {
			if len(ls) > 0 {
				return false
			}
		}
		return true
	case orb.Ring:
		return len(g) == 0
	case orb.Polygon:
		return len(g) == 0 || len(g[0]) == 0
	case orb.MultiPolygon:
		for _, p := range g {
			if !IsEmpty(p) {
				return false
			}
		}
		return true
	case orb.Collection:
		for _, member := range g {
			if member != nil && !IsEmpty(member) {
				return false
			}
		}
		return true
	case orb.Bound:
		return false
	}
	return true
}

func checkCoordinates(geometry orb.Geometry) error {
	var err error
	eachPoint(geometry, func(p orb.Point) bool {
		x, y := p.X(), p.Y()
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			err = invalid(ReasonNonFinite, "%v", p)
			return false
		}
		if x < -180 || x > 180 || y < -90 || y > 90 {
			err = invalid(ReasonOutOfRange, "%v", p)
			return false
		}
		return true
	})
	return err
}

func eachPoint(geometry orb.Geometry, fn func(orb.Point) bool) bool {
	switch g := geometry.(type) {
	case orb.Point:
		return fn(g)
	case orb.MultiPoint:
		for _, p := range g {
			if !fn(p) {
				return false
			}
		}
	case orb.LineString:
		return eachPoint(orb.MultiPoint(g), fn)
	case orb.Ring:
		return eachPoint(orb.MultiPoint(g), fn)
	case orb.MultiLineString:
		for _, ls := range g {
			if !eachPoint(ls, fn) {
				return false
			}
		}
	case orb.Polygon:
		for _, r := range g {
			if !eachPoint(r, fn) {
				return false
			}
		}
	case orb.MultiPolygon:
		for _, p := range g {
			if !eachPoint(p, fn) {
				return false
			}
		}
	case orb.Collection:
		for _, member := range g {
			if member != nil && !eachPoint(member, fn) {
				return false
			}
		}
	case orb.Bound:
		return fn(g.Min) && fn(g.Max)
	}
	return true
}

func validateShape(geometry orb.Geometry) error {
	switch g := geometry.(type) {
	case orb.Point, orb.MultiPoint:
		return nil
	case orb.LineString:
		return validateLineString(g)
	case orb.MultiLineString:
		for _, ls := range g {
			if len(ls) == 0 {
				continue
			}
			if err := validateLineString(ls); err != nil {
				return err
			}
		}
		return nil
	case orb.Ring:
		return validatePolygon(orb.Polygon{g})
	case orb.Polygon:
		return validatePolygon(g)
	case orb.MultiPolygon:
		return validateMultiPolygon(g)
	case orb.Collection:
		for _, member := range g {
			if member == nil || IsEmpty(member) {
				continue
			}
			if err := validateShape(member); err != nil {
				return err
			}
		}
		return nil
	case orb.Bound:
		return validatePolygon(g.ToPolygon())
	}
	return invalid(ReasonUnsupported, "%T", geometry)
}

func validateLineString(ls orb.LineString) error {
	if len(dedupe(ls)) < 2 {
		return invalid(ReasonTooFewPoints, "line string needs two distinct points")
	}
	return nil
}

// checkRing covers what the topology check cannot name precisely.
func checkRing(ring orb.Ring) error {
	if len(ring) < 4 {
		return invalid(ReasonTooFewPoints, "ring has %d points", len(ring))
	}
	if !ring.Closed() {
		return invalid(ReasonUnclosedRing, "first point %v does not match last point %v", ring[0], ring[len(ring)-1])
	}
	if points := dedupe(ring); len(points) < 4 {
		return invalid(ReasonTooFewPoints, "ring has %d distinct points", len(points)-1)
	}
	if planar.Area(ring) == 0 {
		return &ValidityError{Reason: ReasonZeroArea}
	}
	return nil
}

func validatePolygon(polygon orb.Polygon) error {
	if len(polygon) == 0 || len(polygon[0]) == 0 {
		return &ValidityError{Reason: ReasonEmpty}
	}
	for _, ring := range polygon {
		if err := checkRing(ring); err != nil {
			return err
		}
	}
	err := checkTopology(cleanPolygon(polygon))
	if err == nil {
		return nil
	}
	if p, ok := holeOutsideShell(polygon); ok {
		return invalid(ReasonHoleOutsideShell, "hole vertex %v", p)
	}
	return err
}

// validateMultiPolygon skips empty members, checks each remaining polygon on
// its own and then checks that the polygons do not overlap.
func validateMultiPolygon(multi orb.MultiPolygon) error {
	members := make(orb.MultiPolygon, 0, len(multi))
	for _, polygon := range multi {
		if IsEmpty(polygon) {
			continue
		}
		if err := validatePolygon(polygon); err != nil {
			return err
		}
		members = append(members, cleanPolygon(polygon))
	}
	if len(members) < 2 {
		return nil
	}
	return checkTopology(members)
}

// checkTopology runs the OGC simple feature validity rules (simple rings,
// holes inside the shell, non-overlapping members) on a geometry whose rings
// already passed checkRing.
func checkTopology(geometry orb.Geometry) error {
	data, err := wkb.Marshal(geometry)
	if err != nil {
		return invalid(ReasonUnsupported, "%v", err)
	}
	if _, err := geom.UnmarshalWKB(data); err != nil {
		return invalid(ReasonSelfIntersection, "%v", err)
	}
	return nil
}

func cleanPolygon(polygon orb.Polygon) orb.Polygon {
	cleaned := make(orb.Polygon, len(polygon))
	for i, ring := range polygon {
		cleaned[i] = orb.Ring(dedupe(ring))
	}
	return cleaned
}

// dedupe drops consecutive repeated points.
func dedupe[T ~[]orb.Point](points T) []orb.Point {
	result := make([]orb.Point, 0, len(points))
	for i, p := range points {
		if i > 0 && p.Equal(points[i-1]) {
			continue
		}
		result = append(result, p)
	}
	return result
}

func holeOutsideShell(polygon orb.Polygon) (orb.Point, bool) {
	shell := polygon[0]
	for _, hole := range polygon[1:] {
		for _, p := range hole {
			if !planar.RingContains(shell, p) && !onRing(shell, p) {
				return p, true
			}
		}
	}
	return orb.Point{}, false
}

func onRing(ring orb.Ring, p orb.Point) bool {
	for i := 0; i+1 < len(ring); i += 1 {
		if planar.DistanceFromSegment(ring[i], ring[i+1], p) == 0 {
			return true
		}
	}
	return false
}
