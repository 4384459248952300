package storage

import (
	"context"
	"errors"

	"cloud.google.com/go/storage"
)

// GCSObjectReader implements ObjectReader using the real GCS client.
type GCSObjectReader struct {
	client *storage.Client
}

// NewGCSObjectReader wraps a *storage.Client as an ObjectReader.
func NewGCSObjectReader(client *storage.Client) *GCSObjectReader {
	return &GCSObjectReader{client: client}
}

// NewReader opens a GCS object reader for bucket/object.
func (g *GCSObjectReader) NewReader(ctx context.Context, bucket, object string) (*Object, error) {
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return nil, ErrObjectNotFound
	}
	if err != nil {
		return nil, err
	}
	return &Object{Body: r, ContentType: r.Attrs.ContentType, Size: r.Attrs.Size}, nil
}
