// Package test holds helpers shared by the package tests.
package test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"
	"github.com/planetlabs/treeq/internal/pqutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// KeyValue is a footer metadata entry for ParquetFromJSON.
type KeyValue struct {
	Key   string
	Value string
}

// ParquetFromJSON writes the rows of a JSON array as a single row group.
func ParquetFromJSON(t *testing.T, schema *arrow.Schema, rows string, metadata ...KeyValue) []byte {
	record, _, err := array.RecordFromJSON(memory.DefaultAllocator, schema, strings.NewReader(rows))
	require.NoError(t, err)
	defer record.Release()

	output := &bytes.Buffer{}
	writer, err := pqarrow.NewFileWriter(schema, output, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	require.NoError(t, err)
	require.NoError(t, writer.WriteBuffered(record))
	for _, kv := range metadata {
		require.NoError(t, writer.AppendKeyValueMetadata(kv.Key, kv.Value))
	}
	require.NoError(t, writer.Close())
	return output.Bytes()
}

// AssertArrowSchemaMatches compares the Parquet rendering of an Arrow schema
// with an indented message block.
func AssertArrowSchemaMatches(t *testing.T, expected string, schema *arrow.Schema) {
	parquetSchema, err := pqarrow.ToParquet(schema, nil, pqarrow.DefaultWriterProps())
	require.NoError(t, err)
	assert.Equal(t, Tab2Space(Dedent(expected)), pqutil.ParquetSchemaString(parquetSchema))
}

// Dedent drops blank first and last lines and strips the indentation of the
// first line from every line.
func Dedent(block string) string {
	lines := strings.Split(block, "\n")
	if strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return ""
	}

	trimmed := strings.TrimLeft(lines[0], " \t")
	prefix := lines[0][:len(lines[0])-len(trimmed)]
	for i, line := range lines {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			lines[i] = rest
		} else {
			lines[i] = strings.TrimLeft(line, " \t")
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

func Tab2Space(str string) string {
	return strings.ReplaceAll(str, "\t", "  ")
}
