package source

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

const (
	shapeFileCode   = 9994
	shapeHeaderSize = 100
)

var zipMagic = []byte("PK\x03\x04")

// readShapefile reads a .shp file with its .dbf and .prj siblings, or a zip
// archive holding one or more shapefiles.  Each shapefile becomes a layer.
func readShapefile(path string, options *Options) ([]*Layer, error) {
	archive, err := isZip(path)
	if err != nil {
		return nil, err
	}
	if !archive {
		layer, err := readShapeLayer(path)
		if err != nil {
			return nil, err
		}
		return []*Layer{layer}, nil
	}

	dir, err := os.MkdirTemp(options.tempDir(), "treeq-shp-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	shapes, err := unzip(path, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	if len(shapes) == 0 {
		return nil, fmt.Errorf("%w: archive does not contain a .shp file", ErrParse)
	}
	layers := make([]*Layer, 0, len(shapes))
	for _, shape := range shapes {
		layer, err := readShapeLayer(shape)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %q: %w", ErrParse, layerName(shape), err)
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

func isZip(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	prefix := make([]byte, len(zipMagic))
	if _, err := io.ReadFull(file, prefix); err != nil {
		return false, nil
	}
	return bytes.Equal(prefix, zipMagic), nil
}

// unzip extracts the archive into dir and returns the paths of the .shp
// files in archive order.
func unzip(path string, dir string) ([]string, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer archive.Close()

	shapes := []string{}
	for _, entry := range archive.File {
		if entry.FileInfo().IsDir() || strings.HasPrefix(filepath.Base(entry.Name), ".") {
			continue
		}
		if !filepath.IsLocal(entry.Name) {
			return nil, fmt.Errorf("archive entry %q escapes the archive", entry.Name)
		}
		// companion files are found by lowercase extension
		target := filepath.Join(dir, entry.Name)
		ext := filepath.Ext(target)
		target = strings.TrimSuffix(target, ext) + strings.ToLower(ext)
		if err := extract(entry, target); err != nil {
			return nil, err
		}
		if filepath.Ext(target) == ".shp" {
			shapes = append(shapes, target)
		}
	}
	return shapes, nil
}

func extract(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	input, err := entry.Open()
	if err != nil {
		return err
	}
	defer input.Close()

	output, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(output, input); err != nil {
		_ = output.Close()
		return err
	}
	return output.Close()
}

func sibling(path string, ext string) (string, bool) {
	candidate := strings.TrimSuffix(path, filepath.Ext(path)) + ext
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate, true
	}
	return "", false
}

// checkShapeHeader rejects files without the shapefile file code, which the
// reader would otherwise decode as garbage.
func checkShapeHeader(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	header := make([]byte, shapeHeaderSize)
	if _, err := io.ReadFull(file, header); err != nil {
		return fmt.Errorf("%w: truncated shapefile header", ErrParse)
	}
	if code := binary.BigEndian.Uint32(header); code != shapeFileCode {
		return fmt.Errorf("%w: not a shapefile, file code %d", ErrParse, code)
	}
	return nil
}

func readShapeLayer(path string) (*Layer, error) {
	if filepath.Ext(path) != ".shp" {
		return nil, fmt.Errorf("%w: expected a .shp file or a zip archive, got %s", ErrParse, filepath.Base(path))
	}
	if err := checkShapeHeader(path); err != nil {
		return nil, err
	}
	reader, err := shp.Open(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	layer := &Layer{Name: layerName(path), GeometryColumn: geometryColumn}
	if prj, ok := sibling(path, ".prj"); ok {
		data, err := os.ReadFile(prj)
		if err != nil {
			return nil, err
		}
		layer.CRS = prjCRS(string(data))
	}

	var fields []shp.Field
	if _, ok := sibling(path, ".dbf"); ok {
		fields = reader.Fields()
	}
	for _, field := range fields {
		layer.Columns = append(layer.Columns, field.String())
	}

	for reader.Next() {
		_, shape := reader.Shape()
		record := &Record{Properties: make(map[string]any, len(fields)), Geometry: shapeGeometry(shape)}
		for i, field := range fields {
			record.Properties[layer.Columns[i]] = dbfValue(field, reader.Attribute(i))
		}
		layer.Records = append(layer.Records, record)
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	return layer, nil
}

func dbfValue(field shp.Field, raw string) any {
	value := strings.TrimSpace(strings.TrimRight(raw, "\x00"))
	if value == "" || strings.Trim(value, "*") == "" {
		return nil
	}
	switch field.Fieldtype {
	case 'N', 'F':
		if number, err := strconv.ParseFloat(value, 64); err == nil {
			return number
		}
	case 'L':
		switch strings.ToUpper(value) {
		case "T", "Y":
			return true
		case "F", "N":
			return false
		}
		return nil
	}
	return value
}

func shapePoints(points []shp.Point) []orb.Point {
	result := make([]orb.Point, len(points))
	for i, p := range points {
		result[i] = orb.Point{p.X, p.Y}
	}
	return result
}

// shapeParts splits the flat point list at the part offsets.
func shapeParts(parts []int32, points []shp.Point) [][]orb.Point {
	result := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			continue
		}
		result = append(result, shapePoints(points[start:end]))
	}
	return result
}

func shapeGeometry(shape shp.Shape) orb.Geometry {
	switch s := shape.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}
	case *shp.PointM:
		return orb.Point{s.X, s.Y}
	case *shp.MultiPoint:
		return orb.MultiPoint(shapePoints(s.Points))
	case *shp.MultiPointZ:
		return orb.MultiPoint(shapePoints(s.Points))
	case *shp.MultiPointM:
		return orb.MultiPoint(shapePoints(s.Points))
	case *shp.PolyLine:
		return lineGeometry(shapeParts(s.Parts, s.Points))
	case *shp.PolyLineZ:
		return lineGeometry(shapeParts(s.Parts, s.Points))
	case *shp.PolyLineM:
		return lineGeometry(shapeParts(s.Parts, s.Points))
	case *shp.Polygon:
		return polygonGeometry(shapeParts(s.Parts, s.Points))
	case *shp.PolygonZ:
		return polygonGeometry(shapeParts(s.Parts, s.Points))
	case *shp.PolygonM:
		return polygonGeometry(shapeParts(s.Parts, s.Points))
	}
	return nil
}

func lineGeometry(parts [][]orb.Point) orb.Geometry {
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return orb.LineString(parts[0])
	}
	multi := make(orb.MultiLineString, len(parts))
	for i, part := range parts {
		multi[i] = orb.LineString(part)
	}
	return multi
}

// polygonGeometry groups rings into polygons.  Clockwise rings are shells and
// counterclockwise rings are holes of the shell that contains them.
func polygonGeometry(parts [][]orb.Point) orb.Geometry {
	var polygons orb.MultiPolygon
	var holes []orb.Ring
	for _, part := range parts {
		ring := orb.Ring(part)
		if ring.Orientation() == orb.CCW {
			holes = append(holes, ring)
			continue
		}
		polygons = append(polygons, orb.Polygon{ring})
	}
	for _, hole := range holes {
		owner := slices.IndexFunc(polygons, func(polygon orb.Polygon) bool {
			return len(hole) > 0 && planar.RingContains(polygon[0], hole[0])
		})
		if owner < 0 {
			// a lone counterclockwise ring is a shell written the wrong way
			polygons = append(polygons, orb.Polygon{hole})
			continue
		}
		polygons[owner] = append(polygons[owner], hole)
	}

	switch len(polygons) {
	case 0:
		return nil
	case 1:
		return polygons[0]
	}
	return polygons
}

var (
	prjAuthority = regexp.MustCompile(`AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]\s*\]\s*$`)
	prjName      = regexp.MustCompile(`^\s*(?:PROJCS|GEOGCS|PROJCRS|GEOGCRS)\[\s*"([^"]+)"`)
	prjUTM       = regexp.MustCompile(`^(WGS_1984|ETRS_1989)_UTM_Zone_(\d{1,2})([NS])$`)
)

// prjNames maps ESRI names, which carry no authority, to EPSG codes.
var prjNames = map[string]int{
	"GCS_WGS_1984":                           4326,
	"WGS 84":                                 4326,
	"GCS_ETRS_1989":                          4258,
	"RD_New":                                 28992,
	"Amersfoort_RD_New":                      28992,
	"Amersfoort / RD New":                    28992,
	"WGS_1984_Web_Mercator_Auxiliary_Sphere": 3857,
	"WGS 84 / Pseudo-Mercator":               3857,
	"Belge_Lambert_1972":                     31370,
	"RGF_1993_Lambert_93":                    2154,
	"ETRS_1989_LAEA":                         3035,
}

// prjCRS returns the EPSG identifier a .prj file names, or an empty string
// when it cannot be identified.
func prjCRS(wkt string) string {
	wkt = strings.TrimSpace(wkt)
	if match := prjAuthority.FindStringSubmatch(wkt); match != nil {
		return "EPSG:" + match[1]
	}
	match := prjName.FindStringSubmatch(wkt)
	if match == nil {
		return ""
	}
	name := match[1]
	if code, ok := prjNames[name]; ok {
		return "EPSG:" + strconv.Itoa(code)
	}
	if utm := prjUTM.FindStringSubmatch(name); utm != nil {
		zone, _ := strconv.Atoi(utm[2])
		base := 32600
		switch {
		case utm[1] == "ETRS_1989":
			base = 25800
		case utm[3] == "S":
			base = 32700
		}
		if zone >= 1 && zone <= 60 {
			return "EPSG:" + strconv.Itoa(base+zone)
		}
	}
	return ""
}
