// Package storage opens private content objects from a blob bucket for the
// file proxy.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrObjectNotFound is returned when the requested object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys that are empty or escape the bucket root.
var ErrInvalidKey = errors.New("invalid object key")

// Object is an open object. The caller must close Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// ObjectReader abstracts bucket reads so tests can inject a stub.
type ObjectReader interface {
	// NewReader opens a reader for the given bucket/object.
	NewReader(ctx context.Context, bucket, object string) (*Object, error)
}

// Bucket serves objects from a single bucket.
type Bucket struct {
	Reader ObjectReader
	Name   string
}

// NewBucket constructs a Bucket backed by the provided ObjectReader.
func NewBucket(r ObjectReader, name string) *Bucket {
	return &Bucket{Reader: r, Name: name}
}

// Open opens the object at key. A leading "/" is ignored, so a URL path such
// as "/private/books/a.pdf" maps to the object "private/books/a.pdf".
func (b *Bucket) Open(ctx context.Context, key string) (*Object, error) {
	object, err := ObjectKey(key)
	if err != nil {
		return nil, err
	}

	obj, err := b.Reader.NewReader(ctx, b.Name, object)
	if err != nil {
		if errors.Is(err, ErrObjectNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("open %s/%s: %w", b.Name, object, err)
	}
	return obj, nil
}

// ObjectKey turns a URL path into an object key.
func ObjectKey(p string) (string, error) {
	key := strings.TrimPrefix(p, "/")
	if key == "" || strings.HasSuffix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, p)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, p)
		}
	}
	return path.Clean(key), nil
}
