package s3blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"papertrader/internal/domain"
)

// DocStore implements domain.DocumentBlob on the S3 client. Documents are
// small JSON objects, written whole in a single PutObject; the returned ETag
// is the revision token callers pass back for conditional saves.
type DocStore struct {
	client *s3.Client
	bucket string
}

// NewDocStore creates a DocStore on the given client's bucket.
func NewDocStore(c *Client) *DocStore {
	return &DocStore{
		client: c.s3,
		bucket: c.bucket,
	}
}

// Get retrieves the object at key along with its ETag.
func (d *DocStore) Get(ctx context.Context, key string) (domain.BlobObject, error) {
	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return domain.BlobObject{}, fmt.Errorf("s3blob: get %s: %w", key, domain.ErrNotFound)
		}
		return domain.BlobObject{}, fmt.Errorf("s3blob: get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return domain.BlobObject{}, fmt.Errorf("s3blob: read %s: %w", key, err)
	}

	return domain.BlobObject{
		Data:     data,
		Revision: normalizeETag(aws.ToString(out.ETag)),
	}, nil
}

// Put stores data at key. With PutOptions.IfRevision set the write only
// succeeds while the stored ETag still matches; a concurrent replacement
// surfaces as domain.ErrRevisionConflict and a vanished object as
// domain.ErrNotFound. With IfAbsent set the write fails with
// domain.ErrRevisionConflict when any object already exists at key.
func (d *DocStore) Put(ctx context.Context, key string, data []byte, opts domain.PutOptions) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if opts.IfRevision != "" {
		input.IfMatch = aws.String(`"` + opts.IfRevision + `"`)
	}
	if opts.IfAbsent {
		input.IfNoneMatch = aws.String("*")
	}

	out, err := d.client.PutObject(ctx, input)
	if err != nil {
		switch {
		case isPreconditionFailed(err):
			return "", fmt.Errorf("s3blob: put %s: %w", key, domain.ErrRevisionConflict)
		case opts.IfRevision != "" && isNotFound(err):
			return "", fmt.Errorf("s3blob: put %s: object gone: %w", key, domain.ErrNotFound)
		default:
			return "", fmt.Errorf("s3blob: put %s: %w", key, err)
		}
	}

	return normalizeETag(aws.ToString(out.ETag)), nil
}

// normalizeETag strips the surrounding quotes S3 keeps on ETag values so the
// token round-trips cleanly through config, logs, and If-Match headers.
func normalizeETag(etag string) string {
	return strings.Trim(etag, `"`)
}

// isNotFound reports whether the error means the object does not exist. It
// checks the SDK typed errors plus a generic 404 for S3-compatible providers.
func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	return httpStatus(err) == 404
}

// isPreconditionFailed reports whether a conditional write lost the race:
// If-Match saw a different ETag, or If-None-Match found an existing object.
func isPreconditionFailed(err error) bool {
	code := httpStatus(err)
	return code == 412 || code == 409
}

func httpStatus(err error) int {
	type httpResponseError interface {
		HTTPStatusCode() int
	}
	var httpErr httpResponseError
	if errors.As(err, &httpErr) {
		return httpErr.HTTPStatusCode()
	}
	return 0
}

var _ domain.DocumentBlob = (*DocStore)(nil)
