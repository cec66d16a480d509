package storage_test

import (
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/planetlabs/treeq/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randBytes(t *testing.T, size int) []byte {
	data := make([]byte, size)
	n, err := rand.Read(data)
	require.NoError(t, err)
	require.Equal(t, n, size)
	return data
}

func createFile(t *testing.T, data []byte) string {
	name := filepath.Join(t.TempDir(), "trees.csv")
	require.NoError(t, os.WriteFile(name, data, 0o644))
	return name
}

func TestNewReader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	r, err := storage.NewReader(context.Background(), server.URL, 0)
	require.NoError(t, err)
	reader, ok := r.(*storage.HttpReader)
	require.True(t, ok)
	assert.NoError(t, reader.Close())

	name := createFile(t, []byte("id\n1\n"))
	r, err = storage.NewReader(context.Background(), "file://"+name, 0)
	require.NoError(t, err)
	_, ok = r.(*storage.BlobReader)
	assert.True(t, ok)
	assert.NoError(t, r.Close())

	r, err = storage.NewReader(context.Background(), name, 0)
	require.NoError(t, err)
	_, ok = r.(*os.File)
	assert.True(t, ok)
	assert.NoError(t, r.Close())
}

func TestIsRemote(t *testing.T) {
	cases := map[string]bool{
		"https://example.com/trees.csv":    true,
		"http://example.com/trees.csv":     true,
		"s3://bucket/trees.parquet":        true,
		"gs://bucket/trees.parquet":        true,
		"azblob://container/trees.parquet": true,
		"file:///tmp/trees.csv":            true,
		"/tmp/trees.csv":                   false,
		"data/trees.csv":                   false,
		`C:\data\trees.csv`:                false,
		"ftp://example.com/trees.csv":      false,
	}
	for location, expected := range cases {
		assert.Equal(t, expected, storage.IsRemote(location), location)
	}
}
