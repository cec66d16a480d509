package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/planetlabs/treeq/internal/config"
	"github.com/planetlabs/treeq/internal/geo"
	"github.com/planetlabs/treeq/internal/geoparquet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trees() []*geo.Feature {
	return []*geo.Feature{
		{Type: "Feature", Geometry: orb.Point{5.1, 52.1}, Properties: map[string]any{"Municipality": "Zeist", "Latin_name": "Acer", "Height": 4.5}},
		{Type: "Feature", Geometry: orb.Point{5.2, 52.0}, Properties: map[string]any{"Municipality": "Zeist", "Latin_name": "Tilia", "Year_of_planting": int64(1990)}},
	}
}

func writeTemp(t *testing.T, dir string, features []*geo.Feature) string {
	output, err := os.CreateTemp(dir, ".zeist-*.tmp")
	require.NoError(t, err)
	err = writeFeatures(output, features, config.DefaultAttributes(), &geoparquet.DatasetMetadata{Name: "Zeist"}, &Options{})
	require.NoError(t, err)
	require.NoError(t, output.Close())
	return output.Name()
}

func TestCommitVerified(t *testing.T) {
	dir := t.TempDir()
	tempPath := writeTemp(t, dir, trees())
	path := filepath.Join(dir, "zeist.parquet")

	require.NoError(t, commit(context.Background(), tempPath, path, 2))
	assert.FileExists(t, path)
	assert.NoFileExists(t, tempPath)
}

func TestCommitRowCountMismatch(t *testing.T) {
	dir := t.TempDir()
	tempPath := writeTemp(t, dir, trees())
	path := filepath.Join(dir, "zeist.parquet")

	err := commit(context.Background(), tempPath, path, 3)
	require.ErrorIs(t, err, ErrWriteValidation)
	assert.ErrorContains(t, err, "expected 3 rows, read back 2")
	assert.NoFileExists(t, tempPath)
	assert.NoFileExists(t, path)

	result := &Result{Name: "Zeist", Path: path, Rows: 2}
	result.finish(err, time.Now())
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, KindWriteValidation, result.Kind)
	assert.Empty(t, result.Path)
}

func TestCommitCanceled(t *testing.T) {
	dir := t.TempDir()
	tempPath := writeTemp(t, dir, trees())
	path := filepath.Join(dir, "zeist.parquet")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := commit(ctx, tempPath, path, 2)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrWriteValidation)
	assert.Equal(t, KindCanceled, KindOf(err))
	assert.NoFileExists(t, tempPath)
	assert.NoFileExists(t, path)
}

func TestCommitRejectsMissingCRS(t *testing.T) {
	dir := t.TempDir()
	output, err := os.CreateTemp(dir, ".plain-*.tmp")
	require.NoError(t, err)

	schema, err := Schema(config.DefaultAttributes())
	require.NoError(t, err)
	metadata := geoparquet.DefaultMetadata()
	metadata.Primary().Covering = geoparquet.NewBboxCovering(geoparquet.DefaultBboxColumn)
	writer, err := geoparquet.NewFeatureWriter(&geoparquet.WriterConfig{Writer: output, ArrowSchema: schema, Metadata: metadata})
	require.NoError(t, err)
	for _, feature := range trees() {
		require.NoError(t, writer.Write(feature))
	}
	require.NoError(t, writer.Close())
	require.NoError(t, output.Close())

	err = commit(context.Background(), output.Name(), filepath.Join(dir, "plain.parquet"), 2)
	assert.ErrorIs(t, err, ErrWriteValidation)
	assert.ErrorContains(t, err, "missing crs metadata")
	assert.NoFileExists(t, output.Name())
}

func TestCommitRejectsMissingDatasetMetadata(t *testing.T) {
	dir := t.TempDir()
	output, err := os.CreateTemp(dir, ".anonymous-*.tmp")
	require.NoError(t, err)

	schema, err := Schema(config.DefaultAttributes())
	require.NoError(t, err)
	writer, err := geoparquet.NewFeatureWriter(&geoparquet.WriterConfig{Writer: output, ArrowSchema: schema, Metadata: geoparquet.WGS84Metadata()})
	require.NoError(t, err)
	for _, feature := range trees() {
		require.NoError(t, writer.Write(feature))
	}
	require.NoError(t, writer.Close())
	require.NoError(t, output.Close())

	err = commit(context.Background(), output.Name(), filepath.Join(dir, "anonymous.parquet"), 2)
	assert.ErrorIs(t, err, ErrWriteValidation)
	assert.ErrorContains(t, err, geoparquet.DatasetMetadataKey)
}

func TestWriteReplacesExistingOutput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zeist", "zeist.parquet")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))

	err := write(context.Background(), path, trees(), config.DefaultAttributes(), &geoparquet.DatasetMetadata{Name: "Zeist"}, &Options{Compression: "snappy"})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "zeist.parquet", entries[0].Name())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(len("stale")))
}

func TestSchema(t *testing.T) {
	schema, err := Schema(append(config.DefaultAttributes(), config.Attribute{Name: "Crown", Type: "polygon"}))
	assert.Error(t, err)
	assert.Nil(t, schema)

	schema, err = Schema(config.DefaultAttributes())
	require.NoError(t, err)
	names := []string{}
	for _, field := range schema.Fields() {
		names = append(names, field.Name)
	}
	assert.Equal(t, []string{"Municipality", "Latin_name", "Height", "Year_of_planting", "Trunk_diameter", "geometry", "bbox"}, names)
}
