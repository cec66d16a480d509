package geoparquet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/planetlabs/treeq/internal/geo"
)

// WriterConfig configures a FeatureWriter.  Only Writer and ArrowSchema are
// required.
type WriterConfig struct {
	Writer             io.Writer
	Metadata           *Metadata
	ParquetWriterProps *parquet.WriterProperties
	ArrowWriterProps   *pqarrow.ArrowWriterProperties
	ArrowSchema        *arrow.Schema

	// KeyValueMetadata is appended to the file footer next to the geo
	// metadata.
	KeyValueMetadata map[string]string
}

type FeatureWriter struct {
	geoMetadata       *Metadata
	keyValueMetadata  map[string]string
	maxRowGroupLength int64
	bufferedLength    int64
	written           int64
	fileWriter        *pqarrow.FileWriter
	recordBuilder     *array.RecordBuilder
	stats             map[string]*geo.GeometryStats
	coverings         map[string]string
}

func NewFeatureWriter(config *WriterConfig) (*FeatureWriter, error) {
	parquetProps := config.ParquetWriterProps
	if parquetProps == nil {
		parquetProps = parquet.NewWriterProperties()
	}

	arrowProps := config.ArrowWriterProps
	if arrowProps == nil {
		defaults := pqarrow.DefaultWriterProps()
		arrowProps = &defaults
	}

	geoMetadata := config.Metadata
	if geoMetadata == nil {
		geoMetadata = DefaultMetadata()
	}

	if config.ArrowSchema == nil {
		return nil, errors.New("schema is required")
	}

	if config.Writer == nil {
		return nil, errors.New("writer is required")
	}

	coverings := map[string]string{}
	for name, column := range geoMetadata.Columns {
		if covering := column.Covering.Column(); covering != "" {
			if _, ok := config.ArrowSchema.FieldsByName(covering); !ok {
				return nil, fmt.Errorf("schema is missing the %q covering column for %q", covering, name)
			}
			coverings[covering] = name
		}
	}

	fileWriter, fileErr := pqarrow.NewFileWriter(config.ArrowSchema, config.Writer, parquetProps, *arrowProps)
	if fileErr != nil {
		return nil, fileErr
	}

	writer := &FeatureWriter{
		geoMetadata:       geoMetadata,
		keyValueMetadata:  config.KeyValueMetadata,
		fileWriter:        fileWriter,
		maxRowGroupLength: parquetProps.MaxRowGroupLength(),
		recordBuilder:     array.NewRecordBuilder(parquetProps.Allocator(), config.ArrowSchema),
		stats:             map[string]*geo.GeometryStats{},
		coverings:         coverings,
	}

	return writer, nil
}

func (w *FeatureWriter) Write(feature *geo.Feature) error {
	arrowSchema := w.recordBuilder.Schema()
	numFields := arrowSchema.NumFields()
	for i := 0; i < numFields; i++ {
		field := arrowSchema.Field(i)
		builder := w.recordBuilder.Field(i)
		if err := w.append(feature, field, builder); err != nil {
			return err
		}
	}
	w.bufferedLength += 1
	w.written += 1
	if w.bufferedLength >= w.maxRowGroupLength {
		return w.writeBuffered()
	}
	return nil
}

// Written returns the number of features passed to Write.
func (w *FeatureWriter) Written() int64 {
	return w.written
}

func (w *FeatureWriter) writeBuffered() error {
	record := w.recordBuilder.NewRecord()
	defer record.Release()
	if err := w.fileWriter.WriteBuffered(record); err != nil {
		return err
	}
	w.bufferedLength = 0
	return nil
}

func (w *FeatureWriter) geometry(feature *geo.Feature, name string) (orb.Geometry, error) {
	if name == w.geoMetadata.PrimaryColumn {
		return feature.Geometry, nil
	}
	value, ok := feature.Properties[name]
	if !ok || value == nil {
		return nil, nil
	}
	g, ok := value.(orb.Geometry)
	if !ok {
		return nil, fmt.Errorf("expected %q to be a geometry, got %v", name, value)
	}
	return g, nil
}

func (w *FeatureWriter) append(feature *geo.Feature, field arrow.Field, builder array.Builder) error {
	name := field.Name
	if w.geoMetadata.Columns[name] != nil {
		return w.appendGeometry(feature, field, builder)
	}
	if geometryColumn, ok := w.coverings[name]; ok {
		return w.appendBbox(feature, geometryColumn, field, builder)
	}

	value, ok := feature.Properties[name]
	if !ok || value == nil {
		if !field.Nullable {
			return fmt.Errorf("field %q is required, but the property is missing in the feature", name)
		}
		builder.AppendNull()
		return nil
	}

	return appendValue(name, value, builder)
}

func appendValue(name string, value any, builder array.Builder) error {
	switch b := builder.(type) {
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected %q to be a boolean, got %v", name, value)
		}
		b.Append(v)
	case *array.StringBuilder:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected %q to be a string, got %v", name, value)
		}
		b.Append(v)
	case *array.Float64Builder:
		switch v := value.(type) {
		case float64:
			b.Append(v)
		case int64:
			b.Append(float64(v))
		default:
			return fmt.Errorf("expected %q to be a float64, got %v", name, value)
		}
	case *array.Int64Builder:
		switch v := value.(type) {
		case int64:
			b.Append(v)
		case int:
			b.Append(int64(v))
		case float64:
			if v != math.Trunc(v) {
				return fmt.Errorf("expected %q to be an integer, got %v", name, value)
			}
			b.Append(int64(v))
		default:
			return fmt.Errorf("expected %q to be an int64, got %v", name, value)
		}
	default:
		return fmt.Errorf("unsupported builder type %#v", b)
	}

	return nil
}

func (w *FeatureWriter) appendBbox(feature *geo.Feature, geometryColumn string, field arrow.Field, builder array.Builder) error {
	name := field.Name
	structBuilder, ok := builder.(*array.StructBuilder)
	if !ok {
		return fmt.Errorf("expected column %q to have a struct type, got %s", name, builder.Type().Name())
	}
	geometry, err := w.geometry(feature, geometryColumn)
	if err != nil {
		return err
	}
	if geometry == nil {
		if !field.Nullable {
			return fmt.Errorf("feature missing required %q geometry for %q", geometryColumn, name)
		}
		structBuilder.AppendNull()
		return nil
	}

	bounds := geometry.Bound()
	values := map[string]float64{
		"xmin": bounds.Left(),
		"ymin": bounds.Bottom(),
		"xmax": bounds.Right(),
		"ymax": bounds.Top(),
	}
	structType, ok := structBuilder.Type().(*arrow.StructType)
	if !ok {
		return fmt.Errorf("expected builder for %q to have a struct type, got %v", name, structBuilder.Type())
	}
	structBuilder.Append(true)
	for i := 0; i < structBuilder.NumField(); i += 1 {
		fieldName := structType.Field(i).Name
		value, ok := values[fieldName]
		if !ok {
			return fmt.Errorf("unexpected field %q in %q", fieldName, name)
		}
		fieldBuilder, ok := structBuilder.FieldBuilder(i).(*array.Float64Builder)
		if !ok {
			return fmt.Errorf("expected %q in %q to be a float64", fieldName, name)
		}
		fieldBuilder.Append(value)
	}
	return nil
}

func (w *FeatureWriter) appendGeometry(feature *geo.Feature, field arrow.Field, builder array.Builder) error {
	name := field.Name
	geomColumn := w.geoMetadata.Columns[name]

	geometry, err := w.geometry(feature, name)
	if err != nil {
		return err
	}
	if geometry == nil {
		if !field.Nullable {
			return fmt.Errorf("feature missing required %q geometry", name)
		}
		builder.AppendNull()
		return nil
	}

	if w.stats[name] == nil {
		w.stats[name] = geo.NewGeometryStats()
	}
	w.stats[name].Add(geometry)

	switch geomColumn.Encoding {
	case geo.EncodingWKB:
		binaryBuilder, ok := builder.(*array.BinaryBuilder)
		if !ok {
			return fmt.Errorf("expected column %q to have a binary type, got %s", name, builder.Type().Name())
		}
		data, err := wkb.Marshal(geometry)
		if err != nil {
			return fmt.Errorf("failed to encode %q as WKB: %w", name, err)
		}
		binaryBuilder.Append(data)
		return nil
	case geo.EncodingWKT:
		stringBuilder, ok := builder.(*array.StringBuilder)
		if !ok {
			return fmt.Errorf("expected column %q to have a string type, got %s", name, builder.Type().Name())
		}
		stringBuilder.Append(string(wkt.Marshal(geometry)))
		return nil
	default:
		return fmt.Errorf("unsupported geometry encoding: %s", geomColumn.Encoding)
	}
}

// Close flushes buffered rows, appends the geo metadata (with the bounds and
// geometry types of everything written) and closes the underlying file
// writer.
func (w *FeatureWriter) Close() error {
	defer w.recordBuilder.Release()
	if w.bufferedLength > 0 {
		if err := w.writeBuffered(); err != nil {
			return err
		}
	}

	geoMetadata := w.geoMetadata.Clone()
	for name, stats := range w.stats {
		if geoMetadata.Columns[name] == nil {
			geoMetadata.Columns[name] = getDefaultGeometryColumn()
		}
		if bounds := stats.Bounds(); bounds != nil {
			geoMetadata.Columns[name].Bounds = []float64{
				bounds.Left(), bounds.Bottom(), bounds.Right(), bounds.Top(),
			}
		}
		geoMetadata.Columns[name].GeometryTypes = stats.Types()
	}

	data, err := json.Marshal(geoMetadata)
	if err != nil {
		return fmt.Errorf("failed to encode %s file metadata: %w", MetadataKey, err)
	}
	if err := w.fileWriter.AppendKeyValueMetadata(MetadataKey, string(data)); err != nil {
		return fmt.Errorf("failed to append %s file metadata: %w", MetadataKey, err)
	}

	keys := make([]string, 0, len(w.keyValueMetadata))
	for key := range w.keyValueMetadata {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	for _, key := range keys {
		if key == MetadataKey {
			return fmt.Errorf("the %s metadata key is reserved", MetadataKey)
		}
		if err := w.fileWriter.AppendKeyValueMetadata(key, w.keyValueMetadata[key]); err != nil {
			return fmt.Errorf("failed to append %s file metadata: %w", key, err)
		}
	}
	return w.fileWriter.Close()
}
