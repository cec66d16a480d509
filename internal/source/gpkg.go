package source

import (
	"bytes"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	_ "modernc.org/sqlite"
)

const featureTablesQuery = `
SELECT c.table_name, g.column_name, COALESCE(s.organization, ''), COALESCE(s.organization_coordsys_id, 0)
FROM gpkg_contents c
JOIN gpkg_geometry_columns g ON g.table_name = c.table_name
LEFT JOIN gpkg_spatial_ref_sys s ON s.srs_id = g.srs_id
WHERE c.data_type = 'features'
ORDER BY c.table_name`

var geoPackageMagic = []byte("GP")

type featureTable struct {
	name           string
	geometryColumn string
	organization   string
	code           int64
}

func (t *featureTable) crs() string {
	if t.code <= 0 || t.organization == "" {
		return ""
	}
	return strings.ToUpper(t.organization) + ":" + fmt.Sprint(t.code)
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// readGeoPackage returns one layer per feature table.
func readGeoPackage(path string, options *Options) ([]*Layer, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dsn := (&url.URL{Scheme: "file", Path: absolute, RawQuery: "mode=ro"}).String()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(featureTablesQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: not a GeoPackage: %w", ErrParse, err)
	}
	tables := []*featureTable{}
	for rows.Next() {
		table := &featureTable{}
		if err := rows.Scan(&table.name, &table.geometryColumn, &table.organization, &table.code); err != nil {
			rows.Close()
			return nil, err
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(tables) == 0 {
		return nil, fmt.Errorf("%w: GeoPackage has no feature tables", ErrParse)
	}

	layers := make([]*Layer, 0, len(tables))
	for _, table := range tables {
		layer, err := readFeatureTable(db, table)
		if err != nil {
			return nil, fmt.Errorf("%w: layer %q: %w", ErrParse, table.name, err)
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

func readFeatureTable(db *sql.DB, table *featureTable) (*Layer, error) {
	rows, err := db.Query("SELECT * FROM " + quoteIdentifier(table.name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	layer := &Layer{Name: table.name, GeometryColumn: table.geometryColumn, CRS: table.crs()}
	for _, name := range names {
		if name != table.geometryColumn {
			layer.Columns = append(layer.Columns, name)
		}
	}

	values := make([]any, len(names))
	pointers := make([]any, len(names))
	for i := range values {
		pointers[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		record := &Record{Properties: make(map[string]any, len(names))}
		for i, name := range names {
			if name != table.geometryColumn {
				record.Properties[name] = sqliteValue(values[i])
				continue
			}
			if values[i] == nil {
				continue
			}
			data, ok := values[i].([]byte)
			if !ok {
				return nil, fmt.Errorf("row %d: expected a geometry blob, got %T", len(layer.Records), values[i])
			}
			geometry, err := decodeGeoPackageGeometry(data)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", len(layer.Records), err)
			}
			record.Geometry = geometry
		}
		layer.Records = append(layer.Records, record)
	}
	return layer, rows.Err()
}

func sqliteValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return bytes.Clone(v)
	case time.Time:
		return v.Format(time.RFC3339)
	}
	return value
}

var envelopeSizes = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

// decodeGeoPackageGeometry strips the GeoPackage binary header and decodes
// the WKB that follows.  Empty geometries decode to nil.
func decodeGeoPackageGeometry(data []byte) (orb.Geometry, error) {
	if len(data) < 8 || !bytes.Equal(data[:2], geoPackageMagic) {
		return nil, fmt.Errorf("invalid GeoPackage geometry header")
	}
	flags := data[3]
	envelopeSize, ok := envelopeSizes[(flags>>1)&0x07]
	if !ok {
		return nil, fmt.Errorf("invalid GeoPackage envelope indicator %d", (flags>>1)&0x07)
	}
	if flags&0x10 != 0 {
		return nil, nil
	}
	offset := 8 + envelopeSize
	if len(data) <= offset {
		return nil, fmt.Errorf("truncated GeoPackage geometry")
	}
	geometry, err := wkb.Unmarshal(data[offset:])
	if err != nil {
		return nil, err
	}
	return geometry, nil
}
