package pqutil

import (
	"fmt"
	"strings"

	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/compress"
)

const (
	DefaultCompression      = "zstd"
	DefaultCompressionLevel = 15
)

func GetCompression(codec string) (compress.Compression, error) {
	switch strings.ToLower(codec) {
	case "uncompressed":
		return compress.Codecs.Uncompressed, nil
	case "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "lz4":
		return compress.Codecs.Lz4, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("invalid compression codec %s", codec)
	}
}

// levelRange lists the accepted compression levels for codecs that have
// them.
var levelRange = map[compress.Compression][2]int{
	compress.Codecs.Zstd:   {1, 22},
	compress.Codecs.Gzip:   {1, 9},
	compress.Codecs.Brotli: {0, 11},
}

// WriterOptions collects the knobs for writing Parquet files.
type WriterOptions struct {
	Compression      string
	CompressionLevel int
	RowGroupLength   int
}

// WriterProperties validates the options and turns them into writer
// properties.  A zero level uses the codec default.
func WriterProperties(options *WriterOptions) (*parquet.WriterProperties, error) {
	codec := options.Compression
	if codec == "" {
		codec = DefaultCompression
	}
	compression, err := GetCompression(codec)
	if err != nil {
		return nil, err
	}

	writerProperties := []parquet.WriterProperty{parquet.WithCompression(compression)}
	if options.CompressionLevel != 0 {
		bounds, ok := levelRange[compression]
		if !ok {
			return nil, fmt.Errorf("compression codec %s does not support levels", codec)
		}
		if options.CompressionLevel < bounds[0] || options.CompressionLevel > bounds[1] {
			return nil, fmt.Errorf("compression level %d for %s must be between %d and %d", options.CompressionLevel, codec, bounds[0], bounds[1])
		}
		writerProperties = append(writerProperties, parquet.WithCompressionLevel(options.CompressionLevel))
	}
	if options.RowGroupLength < 0 {
		return nil, fmt.Errorf("row group length must not be negative, got %d", options.RowGroupLength)
	}
	if options.RowGroupLength > 0 {
		writerProperties = append(writerProperties, parquet.WithMaxRowGroupLength(int64(options.RowGroupLength)))
	}
	return parquet.NewWriterProperties(writerProperties...), nil
}
