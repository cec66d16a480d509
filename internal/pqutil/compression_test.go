package pqutil_test

import (
	"testing"

	"github.com/apache/arrow/go/v16/parquet/compress"
	"github.com/planetlabs/treeq/internal/pqutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCompression(t *testing.T) {
	codec, err := pqutil.GetCompression("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, compress.Codecs.Zstd, codec)

	_, err = pqutil.GetCompression("lzo")
	assert.ErrorContains(t, err, "invalid compression codec lzo")
}

func TestWriterProperties(t *testing.T) {
	props, err := pqutil.WriterProperties(&pqutil.WriterOptions{
		CompressionLevel: pqutil.DefaultCompressionLevel,
		RowGroupLength:   1000,
	})
	require.NoError(t, err)
	assert.Equal(t, compress.Codecs.Zstd, props.Compression())
	assert.Equal(t, 15, props.CompressionLevel())
	assert.Equal(t, int64(1000), props.MaxRowGroupLength())

	props, err = pqutil.WriterProperties(&pqutil.WriterOptions{Compression: "snappy"})
	require.NoError(t, err)
	assert.Equal(t, compress.Codecs.Snappy, props.Compression())
}

func TestWriterPropertiesErrors(t *testing.T) {
	cases := []struct {
		name    string
		options *pqutil.WriterOptions
		err     string
	}{
		{
			name:    "zstd level too high",
			options: &pqutil.WriterOptions{Compression: "zstd", CompressionLevel: 23},
			err:     "compression level 23 for zstd must be between 1 and 22",
		},
		{
			name:    "gzip level too high",
			options: &pqutil.WriterOptions{Compression: "gzip", CompressionLevel: 15},
			err:     "compression level 15 for gzip must be between 1 and 9",
		},
		{
			name:    "snappy has no levels",
			options: &pqutil.WriterOptions{Compression: "snappy", CompressionLevel: 3},
			err:     "does not support levels",
		},
		{
			name:    "negative row groups",
			options: &pqutil.WriterOptions{RowGroupLength: -1},
			err:     "row group length must not be negative",
		},
		{
			name:    "unknown codec",
			options: &pqutil.WriterOptions{Compression: "zip"},
			err:     "invalid compression codec zip",
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := pqutil.WriterProperties(c.options)
			assert.ErrorContains(t, err, c.err)
		})
	}
}
