package geoparquet

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/planetlabs/treeq/internal/geo"
)

// FeatureReader decodes rows of a (Geo)Parquet file into features.  Geometry
// columns are decoded with the encoding from the geo metadata, all other
// values are passed on as plain Go values.
type FeatureReader struct {
	recordReader *RecordReader
	record       *array.Struct
	schema       *arrow.Schema
	rowNum       int
}

func NewFeatureReader(config *ReaderConfig) (*FeatureReader, error) {
	recordReader, err := NewRecordReaderFromConfig(config)
	if err != nil {
		return nil, err
	}
	return &FeatureReader{recordReader: recordReader}, nil
}

func (r *FeatureReader) Metadata() *Metadata {
	return r.recordReader.Metadata()
}

func (r *FeatureReader) NumRows() int64 {
	return r.recordReader.NumRows()
}

// Columns lists the non-geometry columns in schema order.
func (r *FeatureReader) Columns() []string {
	arrowSchema := r.recordReader.ArrowSchema()
	metadata := r.Metadata()
	names := []string{}
	for _, field := range arrowSchema.Fields() {
		if _, ok := metadata.Columns[field.Name]; ok {
			continue
		}
		names = append(names, field.Name)
	}
	return names
}

func (r *FeatureReader) Read() (*geo.Feature, error) {
	for r.record == nil || r.rowNum >= r.record.Len() {
		if r.record != nil {
			r.record.Release()
			r.record = nil
		}
		record, err := r.recordReader.Read()
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, io.EOF
		}
		r.record = array.RecordToStructArray(record)
		r.schema = record.Schema()
		r.rowNum = 0
	}

	metadata := r.Metadata()
	properties := map[string]any{}
	feature := &geo.Feature{Type: "Feature", Properties: properties}
	for fieldNum := 0; fieldNum < r.record.NumField(); fieldNum += 1 {
		value := r.record.Field(fieldNum).GetOneForMarshal(r.rowNum)
		name := r.schema.Field(fieldNum).Name
		geomColumn, ok := metadata.Columns[name]
		if !ok {
			properties[name] = owned(value)
			continue
		}
		if value == nil {
			continue
		}
		g, err := geo.DecodeGeometry(value, geomColumn.Encoding)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r.rowNum, err)
		}
		if g == nil {
			continue
		}
		if name == metadata.PrimaryColumn {
			feature.Geometry = g.Geometry()
			continue
		}
		properties[name] = g.Geometry()
	}
	r.rowNum += 1
	return feature, nil
}

func (r *FeatureReader) Close() error {
	if r.record != nil {
		r.record.Release()
		r.record = nil
	}
	return r.recordReader.Close()
}

// ReadAll collects every remaining feature.
func (r *FeatureReader) ReadAll() ([]*geo.Feature, error) {
	features := []*geo.Feature{}
	for {
		feature, err := r.Read()
		if errors.Is(err, io.EOF) {
			return features, nil
		}
		if err != nil {
			return nil, err
		}
		features = append(features, feature)
	}
}

// owned copies values that may share memory with arrow buffers.
func owned(value any) any {
	switch v := value.(type) {
	case string:
		return strings.Clone(v)
	case []byte:
		return slices.Clone(v)
	}
	return value
}
