// Package storage gives uniform access to local files, http(s) resources and
// cloud buckets (s3, gs, azblob, file) for reading sources and publishing
// converted datasets.
package storage

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"
	"time"
)

// DefaultTimeout bounds every remote request unless a caller chooses otherwise.
const DefaultTimeout = 60 * time.Second

type ReaderAtSeeker interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// ReadCloser is returned by NewReader for random access reads of any location.
type ReadCloser interface {
	ReaderAtSeeker
	io.Closer
}

// IsRemote reports whether the location needs to be fetched before it can be
// read from the local file system.
func IsRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "s3", "gs", "azblob", "file":
		return true
	}
	return false
}

func isHttp(location string) bool {
	lower := strings.ToLower(location)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// NewReader opens a location for random access reads.  Plain paths are
// opened from the local file system.
func NewReader(ctx context.Context, location string, timeout time.Duration) (ReadCloser, error) {
	if isHttp(location) {
		return NewHttpReader(ctx, location, timeout)
	}
	if IsRemote(location) {
		return NewBlobReader(ctx, location)
	}
	return os.Open(location)
}

// Download copies the bytes behind a remote location to a local file.  The
// destination is removed again if the transfer does not complete.
func Download(ctx context.Context, location string, destination string, timeout time.Duration) (int64, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		body io.ReadCloser
		err  error
	)
	if isHttp(location) {
		body, err = httpGet(ctx, location, timeout)
	} else {
		body, err = blobGet(ctx, location)
	}
	if err != nil {
		return 0, err
	}
	defer body.Close()

	file, err := os.Create(destination)
	if err != nil {
		return 0, err
	}
	written, copyErr := io.Copy(file, body)
	closeErr := file.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(destination)
		if copyErr != nil {
			return 0, copyErr
		}
		return 0, closeErr
	}
	return written, nil
}
