// Package source fetches a tree inventory and parses it into layers of raw
// records.  The parser is selected by the declared format, never by
// inspecting the content.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/planetlabs/treeq/internal/storage"
	"go.uber.org/zap"
)

var (
	ErrFetch = errors.New("fetch failed")
	ErrParse = errors.New("parse failed")
)

const (
	FormatCSV        = "csv"
	FormatJSON       = "json"
	FormatGeoJSON    = "geojson"
	FormatParquet    = "parquet"
	FormatGeoParquet = "geoparquet"
	FormatGeoPackage = "gpkg"
	FormatFlatGeobuf = "fgb"
	FormatShapefile  = "shp"
)

type parser func(path string, options *Options) ([]*Layer, error)

var parsers = map[string]parser{
	FormatCSV:        readCSV,
	FormatJSON:       readJSON,
	FormatGeoJSON:    readJSON,
	FormatParquet:    readParquet,
	FormatGeoParquet: readParquet,
	FormatGeoPackage: readGeoPackage,
	FormatFlatGeobuf: readFlatGeobuf,
	FormatShapefile:  readShapefile,
}

var aliases = map[string]string{
	"tsv":        FormatCSV,
	"txt":        FormatCSV,
	"ndjson":     FormatJSON,
	"geopackage": FormatGeoPackage,
	"flatgeobuf": FormatFlatGeobuf,
	"shapefile":  FormatShapefile,
	"zip":        FormatShapefile,
}

// Normalize returns the canonical format tag.
func Normalize(format string) string {
	tag := strings.ToLower(strings.TrimSpace(format))
	if alias, ok := aliases[tag]; ok {
		return alias
	}
	return tag
}

// Geographic reports whether a format defaults to WGS84 coordinates when no
// CRS is declared or embedded.
func Geographic(format string) bool {
	switch Normalize(format) {
	case FormatJSON, FormatGeoJSON:
		return true
	}
	return false
}

type Options struct {
	// Timeout bounds the download of remote sources.
	Timeout time.Duration

	// Delimiter for delimited text.  When empty it is detected from the
	// header line.
	Delimiter string

	// TempDir is the parent of the per dataset download directory.
	TempDir string

	Logger *zap.Logger
}

func (o *Options) tempDir() string {
	if o == nil {
		return ""
	}
	return o.TempDir
}

func (o *Options) logger() *zap.Logger {
	if o == nil || o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Table is the parsed content of a source.  Close must be called once the
// table is no longer needed to remove any downloaded copy.
type Table struct {
	Format string
	Layers []*Layer

	dir string
}

func (t *Table) Rows() int {
	total := 0
	for _, layer := range t.Layers {
		total += len(layer.Records)
	}
	return total
}

func (t *Table) Close() error {
	if t.dir == "" {
		return nil
	}
	dir := t.dir
	t.dir = ""
	return os.RemoveAll(dir)
}

// Read fetches the location and parses it as the given format.  Remote
// locations are downloaded to a directory owned by the returned table.
func Read(ctx context.Context, location string, format string, options *Options) (*Table, error) {
	if options == nil {
		options = &Options{}
	}
	logger := options.logger()

	tag := Normalize(format)
	parse, ok := parsers[tag]
	if !ok {
		return nil, fmt.Errorf("%w: unknown format %q", ErrParse, format)
	}
	if location == "" {
		return nil, fmt.Errorf("%w: no location", ErrFetch)
	}

	table := &Table{Format: tag}
	localPath := location
	if storage.IsRemote(location) {
		dir, err := os.MkdirTemp(options.TempDir, "treeq-")
		if err != nil {
			return nil, fmt.Errorf("%w: failed to create download directory: %w", ErrFetch, err)
		}
		table.dir = dir
		localPath = filepath.Join(dir, downloadName(location, tag))

		start := time.Now()
		size, err := storage.Download(ctx, location, localPath, options.Timeout)
		if err != nil {
			_ = table.Close()
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		logger.Debug("downloaded source", zap.String("location", location), zap.Int64("bytes", size), zap.Duration("took", time.Since(start)))
	} else {
		info, err := os.Stat(localPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%w: %s is a directory", ErrFetch, localPath)
		}
	}

	layers, err := parse(localPath, options)
	if err != nil {
		_ = table.Close()
		if errors.Is(err, ErrParse) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	table.Layers = layers

	for _, layer := range layers {
		logger.Debug("parsed layer", zap.String("layer", layer.Name), zap.Int("rows", len(layer.Records)), zap.Strings("columns", layer.Columns))
	}
	return table, nil
}

func downloadName(location string, format string) string {
	base := path.Base(strings.SplitN(location, "?", 2)[0])
	name := strings.TrimSuffix(base, path.Ext(base))
	if name == "" || name == "." || name == "/" {
		name = "source"
	}
	return name + "." + format
}
