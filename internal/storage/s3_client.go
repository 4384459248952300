package storage

import (
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3API is the subset of *minio.Client used to read objects.
type S3API interface {
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (*minio.Object, error)
}

var _ S3API = (*minio.Client)(nil)

// S3ObjectReader implements ObjectReader for S3-compatible stores.
type S3ObjectReader struct {
	client S3API
}

// NewS3Client creates a minio client for endpoint using static credentials.
func NewS3Client(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return client, nil
}

// NewS3ObjectReader wraps an S3API as an ObjectReader.
func NewS3ObjectReader(client S3API) *S3ObjectReader {
	return &S3ObjectReader{client: client}
}

// NewReader stats bucket/object, then opens it. The stat call turns a
// missing object into ErrObjectNotFound before any body is streamed.
func (s *S3ObjectReader) NewReader(ctx context.Context, bucket, object string) (*Object, error) {
	info, err := s.client.StatObject(ctx, bucket, object, minio.StatObjectOptions{})
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "NoSuchKey", "NoSuchBucket":
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("stat object: %w", err)
	}

	obj, err := s.client.GetObject(ctx, bucket, object, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	return &Object{Body: obj, ContentType: info.ContentType, Size: info.Size}, nil
}
