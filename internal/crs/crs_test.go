package crs_test

import (
	"math/rand"
	"testing"

	"github.com/paulmach/orb"
	"github.com/planetlabs/treeq/internal/crs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		id       string
		expected string
		err      bool
	}{
		{id: "EPSG:4326", expected: "EPSG:4326"},
		{id: "epsg:28992", expected: "EPSG:28992"},
		{id: " EPSG:3857 ", expected: "EPSG:3857"},
		{id: "4326", expected: "EPSG:4326"},
		{id: "urn:ogc:def:crs:EPSG::32631", expected: "EPSG:32631"},
		{id: "http://www.opengis.net/def/crs/EPSG/0/25832", expected: "EPSG:25832"},
		{id: "OGC:CRS84", expected: "OGC:CRS84"},
		{id: "urn:ogc:def:crs:OGC:1.3:CRS84", expected: "OGC:CRS84"},
		{id: "", err: true},
		{id: "EPSG:", err: true},
		{id: "EPSG:abc", err: true},
		{id: "not a crs", err: true},
	}

	for _, c := range cases {
		t.Run(c.id, func(t *testing.T) {
			parsed, err := crs.Parse(c.id)
			if c.err {
				assert.ErrorIs(t, err, crs.ErrReprojection)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expected, parsed.String())
		})
	}
}

func TestEqual(t *testing.T) {
	wgs84, err := crs.Parse("EPSG:4326")
	require.NoError(t, err)
	crs84, err := crs.Parse("OGC:CRS84")
	require.NoError(t, err)
	rd, err := crs.Parse("EPSG:28992")
	require.NoError(t, err)

	assert.True(t, wgs84.Equal(crs84))
	assert.True(t, wgs84.Equal(crs.WGS84))
	assert.False(t, wgs84.Equal(rd))
	assert.True(t, rd.Equal(&crs.CRS{Authority: "EPSG", Code: "28992"}))
}

func TestUnsupported(t *testing.T) {
	unknown, err := crs.Parse("EPSG:99999")
	require.NoError(t, err)

	_, err = crs.NewReprojector(unknown)
	assert.ErrorIs(t, err, crs.ErrReprojection)
}

func TestIdentity(t *testing.T) {
	reprojector, err := crs.NewReprojector(crs.WGS84)
	require.NoError(t, err)
	assert.True(t, reprojector.Identity())

	r := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i += 1 {
		p := orb.Point{r.Float64()*360 - 180, r.Float64()*180 - 90}
		projected, ok := reprojector.Reproject(p).(orb.Point)
		require.True(t, ok)
		assert.InDelta(t, p.X(), projected.X(), 1e-9)
		assert.InDelta(t, p.Y(), projected.Y(), 1e-9)
	}
}

func TestReproject(t *testing.T) {
	cases := []struct {
		name     string
		crs      string
		input    orb.Point
		expected orb.Point
		delta    float64
	}{
		{
			name:     "rd origin",
			crs:      "EPSG:28992",
			input:    orb.Point{155000, 463000},
			expected: orb.Point{5.38720621, 52.15517440},
			delta:    2e-5,
		},
		{
			name:     "rd amsterdam",
			crs:      "EPSG:28992",
			input:    orb.Point{121000, 487000},
			expected: orb.Point{4.887973, 52.369828},
			delta:    3e-5,
		},
		{
			name:     "rd nijmegen",
			crs:      "EPSG:28992",
			input:    orb.Point{187000, 428000},
			expected: orb.Point{5.851531, 51.839670},
			delta:    3e-5,
		},
		{
			name:     "web mercator origin",
			crs:      "EPSG:3857",
			input:    orb.Point{0, 0},
			expected: orb.Point{0, 0},
			delta:    1e-7,
		},
		{
			name:     "web mercator antimeridian",
			crs:      "EPSG:3857",
			input:    orb.Point{20037508.342789244, 0},
			expected: orb.Point{180, 0},
			delta:    1e-6,
		},
		{
			name:     "utm 31n central meridian",
			crs:      "EPSG:32631",
			input:    orb.Point{500000, 0},
			expected: orb.Point{3, 0},
			delta:    1e-7,
		},
		{
			name:     "utm 31n amsterdam",
			crs:      "EPSG:32631",
			input:    orb.Point{628832.3348621256, 5804222.182273485},
			expected: orb.Point{4.8925, 52.3731},
			delta:    1e-6,
		},
		{
			name:     "utm 56s sydney",
			crs:      "EPSG:32756",
			input:    orb.Point{334416.3939882145, 6251925.360296578},
			expected: orb.Point{151.21, -33.86},
			delta:    1e-6,
		},
		{
			name:     "etrs89 utm 31n",
			crs:      "EPSG:25831",
			input:    orb.Point{628832.3348621256, 5804222.182273485},
			expected: orb.Point{4.8925, 52.3731},
			delta:    1e-5,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			source, err := crs.Parse(c.crs)
			require.NoError(t, err)
			reprojector, err := crs.NewReprojector(source)
			require.NoError(t, err)
			assert.False(t, reprojector.Identity())

			projected, ok := reprojector.Reproject(c.input).(orb.Point)
			require.True(t, ok)
			assert.InDelta(t, c.expected.X(), projected.X(), c.delta)
			assert.InDelta(t, c.expected.Y(), projected.Y(), c.delta)
		})
	}
}

func TestAliases(t *testing.T) {
	cases := []struct {
		alias     string
		canonical string
		input     orb.Point
	}{
		{alias: "EPSG:7415", canonical: "EPSG:28992", input: orb.Point{121000, 487000}},
		{alias: "EPSG:900913", canonical: "EPSG:3857", input: orb.Point{545000, 6867000}},
	}

	for _, c := range cases {
		t.Run(c.alias, func(t *testing.T) {
			alias, err := crs.Parse(c.alias)
			require.NoError(t, err)
			canonical, err := crs.Parse(c.canonical)
			require.NoError(t, err)

			fromAlias, err := crs.NewReprojector(alias)
			require.NoError(t, err)
			fromCanonical, err := crs.NewReprojector(canonical)
			require.NoError(t, err)

			assert.Equal(t, fromCanonical.Reproject(c.input), fromAlias.Reproject(c.input))
			assert.Equal(t, c.alias, fromAlias.Source().String())
		})
	}
}

func TestReprojectPreservesShape(t *testing.T) {
	source, err := crs.Parse("EPSG:28992")
	require.NoError(t, err)
	reprojector, err := crs.NewReprojector(source)
	require.NoError(t, err)

	input := orb.Polygon{{{187000, 428000}, {187010, 428000}, {187010, 428010}, {187000, 428010}, {187000, 428000}}}
	output := reprojector.Reproject(input)

	polygon, ok := output.(orb.Polygon)
	require.True(t, ok)
	require.Len(t, polygon, 1)
	require.Len(t, polygon[0], 5)
	assert.Equal(t, polygon[0][0], polygon[0][4])
	assert.Less(t, polygon[0][0].X(), polygon[0][1].X())
	assert.Less(t, polygon[0][1].Y(), polygon[0][2].Y())

	// input is untouched
	assert.Equal(t, orb.Point{187000, 428000}, input[0][0])
}
