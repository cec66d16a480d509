// Package crs resolves coordinate reference system identifiers and
// reprojects geometries from any registered EPSG CRS to WGS84.
package crs

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/wroge/wgs84"
)

var ErrReprojection = errors.New("reprojection failed")

const (
	AuthorityEPSG = "EPSG"
	AuthorityOGC  = "OGC"
)

const (
	codeWGS84       = 4326
	codeETRS89      = 4258
	codeWebMercator = 3857
	codeGoogle      = 900913
	codeRDNew       = 28992
	codeRDNAP       = 7415
)

var registry = wgs84.EPSG()

// aliases maps codes missing from the registry to an equivalent horizontal
// CRS.  Compound codes reduce to their horizontal part.
var aliases = map[int]int{
	codeGoogle: codeWebMercator,
	codeRDNAP:  codeRDNew,
}

// CRS identifies a coordinate reference system by authority and code.
type CRS struct {
	Authority string
	Code      string
}

var WGS84 = &CRS{Authority: AuthorityEPSG, Code: "4326"}

func (c *CRS) String() string {
	return c.Authority + ":" + c.Code
}

func (c *CRS) epsg() (int, bool) {
	if c.Authority != AuthorityEPSG {
		return 0, false
	}
	code, err := strconv.Atoi(c.Code)
	if err != nil {
		return 0, false
	}
	return code, true
}

// IsWGS84 reports whether coordinates are already longitude/latitude on WGS84
// (or a datum indistinguishable from it at tree-inventory precision).
func (c *CRS) IsWGS84() bool {
	if c.Authority == AuthorityOGC {
		return c.Code == "CRS84"
	}
	code, ok := c.epsg()
	return ok && (code == codeWGS84 || code == codeETRS89)
}

func (c *CRS) Equal(other *CRS) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.IsWGS84() && other.IsWGS84() {
		return true
	}
	return c.Authority == other.Authority && c.Code == other.Code
}

// Parse accepts identifiers such as "EPSG:28992", "epsg:4326",
// "urn:ogc:def:crs:EPSG::3857", "OGC:CRS84", an opengis.net URL, or a bare
// EPSG code.
func Parse(id string) (*CRS, error) {
	value := strings.TrimSpace(id)
	if value == "" {
		return nil, fmt.Errorf("%w: empty CRS identifier", ErrReprojection)
	}
	upper := strings.ToUpper(value)

	switch upper {
	case "WGS84", "WGS 84", "CRS84", "OGC:CRS84", "URN:OGC:DEF:CRS:OGC:1.3:CRS84", "HTTP://WWW.OPENGIS.NET/DEF/CRS/OGC/1.3/CRS84":
		return &CRS{Authority: AuthorityOGC, Code: "CRS84"}, nil
	}

	var code string
	switch {
	case strings.HasPrefix(upper, "URN:OGC:DEF:CRS:EPSG:"):
		parts := strings.Split(upper, ":")
		code = parts[len(parts)-1]
	case strings.HasPrefix(upper, "HTTP://WWW.OPENGIS.NET/DEF/CRS/EPSG/"), strings.HasPrefix(upper, "HTTPS://WWW.OPENGIS.NET/DEF/CRS/EPSG/"):
		parts := strings.Split(strings.TrimSuffix(upper, "/"), "/")
		code = parts[len(parts)-1]
	case strings.HasPrefix(upper, "EPSG:"):
		code = strings.TrimPrefix(upper, "EPSG:")
	default:
		code = upper
	}

	code = strings.TrimSpace(code)
	number, err := strconv.Atoi(code)
	if err != nil || number <= 0 {
		return nil, fmt.Errorf("%w: malformed CRS identifier %q", ErrReprojection, id)
	}
	return &CRS{Authority: AuthorityEPSG, Code: strconv.Itoa(number)}, nil
}

// Projection returns the function mapping coordinates in the CRS to WGS84
// longitude/latitude.  A nil projection means the CRS is already WGS84.  Any
// EPSG code in the registry is supported; unknown codes fail here rather than
// per coordinate.
func Projection(c *CRS) (orb.Projection, error) {
	if c.IsWGS84() {
		return nil, nil
	}
	code, ok := c.epsg()
	if !ok {
		return nil, fmt.Errorf("%w: unsupported CRS %s", ErrReprojection, c)
	}
	if alias, ok := aliases[code]; ok {
		code = alias
	}
	transform := registry.SafeTransform(code, codeWGS84)
	if _, _, _, err := transform(0, 0, 0); err != nil {
		return nil, fmt.Errorf("%w: unsupported CRS %s: %w", ErrReprojection, c, err)
	}
	return func(p orb.Point) orb.Point {
		lon, lat, _, err := transform(p.X(), p.Y(), 0)
		if err != nil {
			return orb.Point{math.NaN(), math.NaN()}
		}
		return orb.Point{lon, lat}
	}, nil
}
