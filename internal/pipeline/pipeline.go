// Package pipeline converts tree inventory datasets into standardized
// GeoParquet files.  Each dataset runs through read, merge, map, reproject,
// filter, sort, and write, and ends with a Result.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/planetlabs/treeq/internal/config"
	"github.com/planetlabs/treeq/internal/crs"
	"github.com/planetlabs/treeq/internal/geo"
	"github.com/planetlabs/treeq/internal/geoparquet"
	"github.com/planetlabs/treeq/internal/pqutil"
	"github.com/planetlabs/treeq/internal/source"
	"go.uber.org/zap"
)

type Options struct {
	// OutputDir receives one directory per dataset.
	OutputDir string

	Compression      string
	CompressionLevel int
	RowGroupLength   int

	// Concurrency limits the number of datasets converted at once.  Zero
	// means one per CPU.
	Concurrency int

	// Timeout bounds the download of each remote source.
	Timeout time.Duration

	// TempDir is the parent of the download directories.
	TempDir string

	RunID  string
	Logger *zap.Logger
}

func (o *Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

func (o *Options) compressionLevel() int {
	if o.CompressionLevel == 0 && (o.Compression == "" || o.Compression == pqutil.DefaultCompression) {
		return pqutil.DefaultCompressionLevel
	}
	return o.CompressionLevel
}

// SourceCRS picks the CRS of the source coordinates: the declared one, then
// the one embedded in the data, and WGS84 for GeoJSON, which mandates it.
func SourceCRS(declared string, embedded string, format string) (*crs.CRS, error) {
	switch {
	case declared != "":
		return crs.Parse(declared)
	case embedded != "":
		return crs.Parse(embedded)
	case source.Geographic(format):
		return crs.WGS84, nil
	}
	return nil, fmt.Errorf("%w: no CRS declared and none embedded in the %s source", crs.ErrReprojection, format)
}

// Convert runs one dataset through the pipeline.  It never returns an error;
// failures are classified and recorded on the result.
func Convert(ctx context.Context, dataset *config.Dataset, mapping *config.FieldMapping, options *Options) *Result {
	if options == nil {
		options = &Options{}
	}
	start := time.Now()
	result := &Result{Name: dataset.Name}
	logger := options.logger().With(zap.String("dataset", dataset.Name), zap.String("format", dataset.Format()))

	err := convert(ctx, dataset, mapping, options, result, logger)
	result.finish(err, start)

	fields := []zap.Field{zap.String("status", string(result.Status)), zap.Duration("took", result.Duration)}
	if result.Stats != nil {
		fields = append(fields, zap.Int("rows", result.Stats.Valid), zap.Int("dropped", result.Stats.Dropped))
	}
	switch result.Status {
	case StatusSucceeded:
		logger.Info("converted dataset", append(fields, zap.String("path", result.Path))...)
	case StatusSkipped:
		logger.Warn("skipped dataset", append(fields, zap.Error(err))...)
	default:
		logger.Error("dataset failed", append(fields, zap.String("kind", string(result.Kind)), zap.Error(err))...)
	}
	return result
}

func convert(ctx context.Context, dataset *config.Dataset, mapping *config.FieldMapping, options *Options, result *Result, logger *zap.Logger) error {
	format := source.Normalize(dataset.Format())
	table, err := source.Read(ctx, dataset.Location(), format, &source.Options{
		Timeout:   options.Timeout,
		Delimiter: dataset.Delimiter,
		TempDir:   options.TempDir,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := table.Close(); err != nil {
			logger.Warn("failed to remove download", zap.Error(err))
		}
	}()

	layer, err := Merge(table.Layers, mapping.SourceColumns())
	if err != nil {
		return err
	}
	logger.Debug("merged layers", zap.Int("layers", len(table.Layers)), zap.Int("rows", len(layer.Records)))

	sourceCRS, err := SourceCRS(mapping.CRS, layer.CRS, format)
	if err != nil {
		return err
	}
	if embedded, err := crs.Parse(layer.CRS); err == nil && !embedded.Equal(sourceCRS) {
		logger.Warn("declared crs overrides the embedded one", zap.Stringer("declared", sourceCRS), zap.Stringer("embedded", embedded))
	}
	reprojector, err := crs.NewReprojector(sourceCRS)
	if err != nil {
		return err
	}

	rows, err := Map(layer, mapping, reprojector.Identity())
	if err != nil {
		return err
	}
	Reproject(rows, reprojector)

	features, stats, err := Filter(rows)
	result.Stats = stats
	if err != nil {
		return err
	}
	if stats.Dropped > 0 {
		logger.Debug("dropped rows", zap.Int("dropped", stats.Dropped), zap.Any("reasons", stats.Reasons))
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	features, err = Sort(features)
	if err != nil {
		return err
	}

	path := OutputPath(options.OutputDir, dataset)
	metadata := &geoparquet.DatasetMetadata{
		Name:           dataset.Name,
		Owner:          dataset.DataOwner,
		Contact:        dataset.EmailAddress,
		Source:         dataset.Location(),
		SourceFormat:   format,
		SourceCRS:      sourceCRS.String(),
		RunId:          options.RunID,
		DroppedRows:    int64(stats.Dropped),
		UpdateInterval: dataset.UpdateFrequency,
		Language:       dataset.Language,
		Extra:          dataset.Metadata,
	}
	if err := write(ctx, path, features, mapping.Attributes, metadata, options); err != nil {
		return err
	}

	bounds := geo.NewGeometryStats()
	for _, feature := range features {
		bounds.Add(feature.Geometry)
	}
	result.Path = path
	result.Rows = int64(len(features))
	result.Bounds = bounds.Bounds()
	return nil
}
