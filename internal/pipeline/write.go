package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/planetlabs/treeq/internal/config"
	"github.com/planetlabs/treeq/internal/geo"
	"github.com/planetlabs/treeq/internal/geoparquet"
	"github.com/planetlabs/treeq/internal/pqutil"
	"github.com/planetlabs/treeq/internal/validator"
)

// OutputPath is where the file for a dataset is written.
func OutputPath(dir string, dataset *config.Dataset) string {
	slug := dataset.Slug()
	return filepath.Join(dir, slug, slug+".parquet")
}

func arrowType(attribute config.Attribute) (arrow.DataType, error) {
	switch attribute.Type {
	case config.TypeString:
		return arrow.BinaryTypes.String, nil
	case config.TypeFloat:
		return arrow.PrimitiveTypes.Float64, nil
	case config.TypeInt:
		return arrow.PrimitiveTypes.Int64, nil
	}
	return nil, fmt.Errorf("unsupported type %q for attribute %q", attribute.Type, attribute.Name)
}

// Schema returns the output schema: the attributes in order, the WKB
// geometry, and the bbox covering column.
func Schema(attributes []config.Attribute) (*arrow.Schema, error) {
	builder := pqutil.NewArrowSchemaBuilder()
	for _, attribute := range attributes {
		dataType, err := arrowType(attribute)
		if err != nil {
			return nil, err
		}
		if err := builder.Add(attribute.Name, dataType); err != nil {
			return nil, err
		}
	}
	if err := builder.AddGeometry(geoparquet.DefaultGeometryColumn, geo.EncodingWKB); err != nil {
		return nil, err
	}
	if err := builder.AddBbox(geoparquet.DefaultBboxColumn); err != nil {
		return nil, err
	}
	return builder.Schema(), nil
}

// write stores the features next to their final path and only moves the file
// into place once it has been read back and verified.
func write(ctx context.Context, path string, features []*geo.Feature, attributes []config.Attribute, dataset *geoparquet.DatasetMetadata, options *Options) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	output, err := os.CreateTemp(dir, "."+strings.TrimSuffix(filepath.Base(path), ".parquet")+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	tempPath := output.Name()

	writeErr := writeFeatures(output, features, attributes, dataset, options)
	closeErr := output.Close()
	if writeErr != nil || closeErr != nil {
		_ = os.Remove(tempPath)
		return errors.Join(writeErr, closeErr)
	}

	return commit(ctx, tempPath, path, int64(len(features)))
}

func writeFeatures(output io.Writer, features []*geo.Feature, attributes []config.Attribute, dataset *geoparquet.DatasetMetadata, options *Options) error {
	schema, err := Schema(attributes)
	if err != nil {
		return err
	}

	writerProperties, err := pqutil.WriterProperties(&pqutil.WriterOptions{
		Compression:      options.Compression,
		CompressionLevel: options.compressionLevel(),
		RowGroupLength:   options.RowGroupLength,
	})
	if err != nil {
		return err
	}

	dataset.Rows = int64(len(features))
	encoded, err := dataset.Encode()
	if err != nil {
		return err
	}

	writer, err := geoparquet.NewFeatureWriter(&geoparquet.WriterConfig{
		Writer:             output,
		Metadata:           geoparquet.WGS84Metadata(),
		ParquetWriterProps: writerProperties,
		ArrowSchema:        schema,
		KeyValueMetadata:   map[string]string{geoparquet.DatasetMetadataKey: encoded},
	})
	if err != nil {
		return err
	}

	for i, feature := range features {
		if err := writer.Write(feature); err != nil {
			_ = writer.Close()
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	return writer.Close()
}

// commit verifies the temporary file and renames it to its final path.  A
// file that fails verification is removed.
func commit(ctx context.Context, tempPath string, path string, expected int64) error {
	if err := verify(ctx, tempPath, expected); err != nil {
		_ = os.Remove(tempPath)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("verification interrupted: %w", ctxErr)
		}
		return fmt.Errorf("%w: %w", ErrWriteValidation, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}

// verify re-opens a written file and checks the row count, that every
// geometry decodes, that the CRS metadata is exactly the WGS84 definition,
// and that the GeoParquet and dataset rules pass.
func verify(ctx context.Context, path string, expected int64) error {
	input, err := os.Open(path)
	if err != nil {
		return err
	}
	defer input.Close()

	reader, err := geoparquet.NewFeatureReader(&geoparquet.ReaderConfig{Reader: input, Context: ctx})
	if err != nil {
		return err
	}
	defer reader.Close()

	metadata := reader.Metadata()
	primary := metadata.Primary()
	if primary == nil {
		return fmt.Errorf("missing geometry column %q", metadata.PrimaryColumn)
	}
	if primary.CRS == nil {
		return errors.New("missing crs metadata")
	}
	compact, err := geoparquet.CompactCRS(primary.CRS)
	if err != nil {
		return fmt.Errorf("invalid crs metadata: %w", err)
	}
	if !bytes.Equal(compact, geoparquet.WGS84()) {
		return errors.New("crs metadata does not match the WGS84 definition")
	}

	var rows int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		feature, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read row %d: %w", rows, err)
		}
		if feature.Geometry == nil {
			return fmt.Errorf("row %d has no geometry", rows)
		}
		rows += 1
	}
	if rows != expected {
		return fmt.Errorf("expected %d rows, read back %d", expected, rows)
	}

	if _, err := input.Seek(0, io.SeekStart); err != nil {
		return err
	}
	rules := append(validator.OfflineMetadataRules(), validator.DataScanningRules()...)
	report, err := validator.NewWithRules(false, append(rules, validator.DatasetRules()...)).Validate(ctx, input, path)
	if err != nil {
		return err
	}
	if failures := report.Failures(); len(failures) > 0 {
		messages := make([]string, len(failures))
		for i, check := range failures {
			messages[i] = fmt.Sprintf("%s: %s", check.Title, check.Message)
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return nil
}
