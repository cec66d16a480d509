package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// ParquetContentType is attached to uploaded dataset files.
const ParquetContentType = "application/vnd.apache.parquet"

// splitBlobURL separates a <scheme>://<bucket>/<key> name into the bucket URL
// and the object key.  For file URLs the bucket is the parent directory.
func splitBlobURL(name string) (string, string, error) {
	scheme, rest, ok := strings.Cut(name, "://")
	if !ok {
		return "", "", fmt.Errorf("expected a name in the form <scheme>://<bucket>/<key>, got %q", name)
	}
	if scheme == "file" {
		slash := strings.LastIndex(rest, "/")
		if slash < 0 || slash == len(rest)-1 {
			return "", "", fmt.Errorf("expected a file name in %q", name)
		}
		return "file://" + rest[:slash], rest[slash+1:], nil
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("expected a name in the form <scheme>://<bucket>/<key>, got %q", name)
	}
	return scheme + "://" + bucket, key, nil
}

// openObject opens the bucket holding the named object.
func openObject(ctx context.Context, name string) (*blob.Bucket, string, error) {
	bucketURL, key, err := splitBlobURL(name)
	if err != nil {
		return nil, "", err
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
	}
	return bucket, key, nil
}

func objectError(name string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("object %s does not exist", name)
	}
	return fmt.Errorf("failed to read %s: %w", name, err)
}

// BlobReader reads an object with one range request per read.
type BlobReader struct {
	ctx    context.Context
	bucket *blob.Bucket
	key    string
	size   int64
	offset int64
}

func NewBlobReader(ctx context.Context, name string) (*BlobReader, error) {
	bucket, key, err := openObject(ctx, name)
	if err != nil {
		return nil, err
	}
	attrs, err := bucket.Attributes(ctx, key)
	if err != nil {
		_ = bucket.Close()
		return nil, objectError(name, err)
	}
	return &BlobReader{ctx: ctx, bucket: bucket, key: key, size: attrs.Size}, nil
}

func (r *BlobReader) Seek(offset int64, whence int) (int64, error) {
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

func (r *BlobReader) ReadAt(data []byte, offset int64) (int, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return 0, err
	}
	return r.Read(data)
}

// Read fills data unless the object ends first.
func (r *BlobReader) Read(data []byte) (int, error) {
	if r.offset >= r.size {
		return 0, io.EOF
	}
	rangeReader, err := r.bucket.NewRangeReader(r.ctx, r.key, r.offset, int64(len(data)), nil)
	if err != nil {
		return 0, err
	}
	defer rangeReader.Close()

	n, err := io.ReadFull(rangeReader, data)
	r.offset += int64(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}

func (r *BlobReader) Close() error {
	err := r.bucket.Close()
	if gcerrors.Code(err) == gcerrors.FailedPrecondition {
		// already closed
		return nil
	}
	return err
}

type bucketObject struct {
	*blob.Reader
	bucket *blob.Bucket
}

func (o *bucketObject) Close() error {
	return errors.Join(o.Reader.Close(), o.bucket.Close())
}

// blobGet opens a sequential reader for a whole object.
func blobGet(ctx context.Context, name string) (io.ReadCloser, error) {
	bucket, key, err := openObject(ctx, name)
	if err != nil {
		return nil, err
	}
	reader, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		_ = bucket.Close()
		return nil, objectError(name, err)
	}
	return &bucketObject{Reader: reader, bucket: bucket}, nil
}

// Upload writes a local file to key in the bucket at bucketURL and returns the
// number of bytes written.
func Upload(ctx context.Context, bucketURL string, key string, path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return 0, fmt.Errorf("failed to open bucket %s: %w", bucketURL, err)
	}
	defer bucket.Close()

	writer, err := bucket.NewWriter(ctx, key, &blob.WriterOptions{ContentType: ParquetContentType})
	if err != nil {
		return 0, fmt.Errorf("failed to create %s in %s: %w", key, bucketURL, err)
	}
	written, copyErr := io.Copy(writer, file)
	if err := errors.Join(copyErr, writer.Close()); err != nil {
		return 0, fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return written, nil
}
