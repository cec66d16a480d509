package geoparquet

import (
	"context"
	"errors"
	"fmt"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/file"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"
)

const defaultReadBatchSize = 1024

// ReaderConfig names the file to read, either as an open File or as a Reader
// to open.
type ReaderConfig struct {
	BatchSize int
	Reader    parquet.ReaderAtSeeker
	File      *file.Reader
	Context   context.Context

	// InferMetadata allows reading plain Parquet files.  Without geo
	// metadata a column named "geometry" is treated as the primary geometry
	// with its encoding detected per value.
	InferMetadata bool
}

func (c *ReaderConfig) open() (*file.Reader, error) {
	if c.File != nil {
		return c.File, nil
	}
	if c.Reader == nil {
		return nil, errors.New("config must include a File or Reader value")
	}
	return file.NewParquetReader(c.Reader)
}

func (c *ReaderConfig) metadata(fileReader *file.Reader) (*Metadata, error) {
	metadata, err := GetMetadataFromFileReader(fileReader)
	if !errors.Is(err, ErrNoMetadata) || !c.InferMetadata {
		return metadata, err
	}

	inferred := &Metadata{Columns: map[string]*GeometryColumn{}}
	if fileReader.MetaData().Schema.Root().FieldIndexByName(DefaultGeometryColumn) >= 0 {
		inferred.PrimaryColumn = DefaultGeometryColumn
		inferred.Columns[DefaultGeometryColumn] = &GeometryColumn{}
	}
	return inferred, nil
}

// RecordReader reads Arrow record batches from a file alongside its geo
// metadata.
type RecordReader struct {
	fileReader   *file.Reader
	metadata     *Metadata
	recordReader pqarrow.RecordReader
}

func NewRecordReaderFromConfig(config *ReaderConfig) (*RecordReader, error) {
	fileReader, err := config.open()
	if err != nil {
		return nil, fmt.Errorf("could not open parquet file: %w", err)
	}

	metadata, err := config.metadata(fileReader)
	if err != nil {
		return nil, fmt.Errorf("could not get geo metadata from file reader: %w", err)
	}

	batchSize := config.BatchSize
	if batchSize <= 0 {
		batchSize = defaultReadBatchSize
	}
	arrowReader, err := pqarrow.NewFileReader(fileReader, pqarrow.ArrowReadProperties{BatchSize: int64(batchSize)}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("could not create arrow reader: %w", err)
	}

	ctx := config.Context
	if ctx == nil {
		ctx = context.Background()
	}
	recordReader, err := arrowReader.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return nil, err
	}

	return &RecordReader{
		fileReader:   fileReader,
		metadata:     metadata,
		recordReader: recordReader,
	}, nil
}

func (r *RecordReader) Read() (arrow.Record, error) {
	return r.recordReader.Read()
}

func (r *RecordReader) Metadata() *Metadata {
	return r.metadata
}

func (r *RecordReader) ArrowSchema() *arrow.Schema {
	return r.recordReader.Schema()
}

func (r *RecordReader) NumRows() int64 {
	return r.fileReader.NumRows()
}

func (r *RecordReader) Close() error {
	r.recordReader.Release()
	return r.fileReader.Close()
}
