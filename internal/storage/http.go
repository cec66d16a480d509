package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	probeSize      = 512
	minRequestSize = 1024
)

// HttpReader reads a remote resource with range requests, keeping the most
// recently fetched window of bytes around.
type HttpReader struct {
	ctx    context.Context
	client *http.Client
	url    string

	// tag is the ETag or Last-Modified value sent as If-Range.
	tag  string
	size int64

	offset int64
	start  int64
	window []byte
}

func newClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func NewHttpReader(ctx context.Context, url string, timeout time.Duration) (*HttpReader, error) {
	r := &HttpReader{ctx: ctx, url: url, client: newClient(timeout)}

	resp, data, err := r.get(0, probeSize)
	if err != nil {
		return nil, err
	}
	r.window = data
	r.size = int64(len(data))

	if _, total, ok := strings.Cut(resp.Header.Get("Content-Range"), "/"); ok {
		size, err := strconv.ParseInt(total, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid content-range header from %s: %w", url, err)
		}
		r.size = size
		r.tag = entityTag(resp)
	}
	return r, nil
}

func entityTag(resp *http.Response) string {
	if etag := resp.Header.Get("ETag"); strings.HasPrefix(etag, `"`) {
		return etag
	}
	return resp.Header.Get("Last-Modified")
}

func checkStatus(url string, resp *http.Response) error {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected response from %s: %d", url, resp.StatusCode)
	}
	return nil
}

// get fetches length bytes starting at start.  Servers may answer with fewer
// bytes or, without range support, with the whole resource.
func (r *HttpReader) get(start int64, length int64) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(r.ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, start+length-1))
	if r.tag != "" {
		req.Header.Set("If-Range", r.tag)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if err := checkStatus(r.url, resp); err != nil {
		return nil, nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response from %s: %w", r.url, err)
	}
	return resp, data, nil
}

// httpGet issues a plain GET and hands back the body of a successful response.
func httpGet(ctx context.Context, url string, timeout time.Duration) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := newClient(timeout).Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(url, resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

func (r *HttpReader) buffered(offset int64) bool {
	return offset >= r.start && offset < r.start+int64(len(r.window))
}

func (r *HttpReader) fill(length int64) error {
	resp, data, err := r.get(r.offset, max(length, minRequestSize))
	if err != nil {
		return err
	}
	r.window = data
	r.start = r.offset
	if resp.StatusCode != http.StatusPartialContent {
		r.start = 0
	}
	if !r.buffered(r.offset) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func (r *HttpReader) Read(data []byte) (int, error) {
	if r.offset >= r.size {
		return 0, io.EOF
	}
	if !r.buffered(r.offset) {
		if err := r.fill(int64(len(data))); err != nil {
			return 0, err
		}
	}
	n := copy(data, r.window[r.offset-r.start:])
	r.offset += int64(n)
	if n < len(data) && r.offset >= r.size {
		return n, io.EOF
	}
	return n, nil
}

func (r *HttpReader) ReadAt(data []byte, offset int64) (int, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := io.ReadFull(r, data)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (r *HttpReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekCurrent:
		offset += r.offset
	case io.SeekEnd:
		offset += r.size
	}
	if offset < 0 {
		return 0, fmt.Errorf("attempt to seek to a negative offset: %d", offset)
	}
	r.offset = offset
	return offset, nil
}

func (r *HttpReader) Close() error {
	r.window = nil
	r.client.CloseIdleConnections()
	return nil
}
