package source

import (
	"fmt"
	"os"

	"github.com/planetlabs/treeq/internal/geoparquet"
)

// defaultParquetCRS applies to geometry columns without a crs member.
const defaultParquetCRS = "OGC:CRS84"

func readParquet(path string, options *Options) ([]*Layer, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader, err := geoparquet.NewFeatureReader(&geoparquet.ReaderConfig{Reader: file, InferMetadata: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	defer reader.Close()

	layer := &Layer{Name: layerName(path), Columns: reader.Columns()}
	metadata := reader.Metadata()
	if primary := metadata.Primary(); primary != nil {
		layer.GeometryColumn = metadata.PrimaryColumn
		proj, err := primary.Proj()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParse, err)
		}
		switch {
		case metadata.Version == "":
			// plain parquet, the CRS is unknown
		case proj == nil:
			layer.CRS = defaultParquetCRS
		case proj.Id != nil:
			layer.CRS = proj.Id.String()
		}
	}

	features, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	layer.Records = make([]*Record, len(features))
	for i, feature := range features {
		layer.Records[i] = &Record{Properties: feature.Properties, Geometry: feature.Geometry}
	}
	return []*Layer{layer}, nil
}
