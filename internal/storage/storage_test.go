package storage_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/ai-teammate/contentgate/internal/storage"
)

// ── stub ObjectReader ──────────────────────────────────────────────────────────

type stubReader struct {
	content     string
	contentType string
	err         error
	// recorded calls
	calledBucket string
	calledObject string
}

func (s *stubReader) NewReader(_ context.Context, bucket, object string) (*storage.Object, error) {
	s.calledBucket = bucket
	s.calledObject = object
	if s.err != nil {
		return nil, s.err
	}
	return &storage.Object{
		Body:        io.NopCloser(strings.NewReader(s.content)),
		ContentType: s.contentType,
		Size:        int64(len(s.content)),
	}, nil
}

// ── Bucket tests ──────────────────────────────────────────────────────────────

func TestBucket_Open_Success(t *testing.T) {
	rdr := &stubReader{content: "pdf-bytes", contentType: "application/pdf"}
	b := storage.NewBucket(rdr, "content-bucket")

	obj, err := b.Open(context.Background(), "/private/books/complete.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer obj.Body.Close()

	got, _ := io.ReadAll(obj.Body)
	if string(got) != "pdf-bytes" {
		t.Errorf("body = %q, want %q", string(got), "pdf-bytes")
	}
	if obj.ContentType != "application/pdf" {
		t.Errorf("content type = %q, want %q", obj.ContentType, "application/pdf")
	}
	if rdr.calledBucket != "content-bucket" {
		t.Errorf("bucket = %q, want %q", rdr.calledBucket, "content-bucket")
	}
	if rdr.calledObject != "private/books/complete.pdf" {
		t.Errorf("object = %q, want %q", rdr.calledObject, "private/books/complete.pdf")
	}
}

func TestBucket_Open_NotFoundIsNotWrapped(t *testing.T) {
	b := storage.NewBucket(&stubReader{err: storage.ErrObjectNotFound}, "b")

	_, err := b.Open(context.Background(), "missing.pdf")
	if err != storage.ErrObjectNotFound {
		t.Fatalf("err = %v, want ErrObjectNotFound", err)
	}
}

func TestBucket_Open_ReaderError(t *testing.T) {
	b := storage.NewBucket(&stubReader{err: errors.New("GCS error")}, "b")

	_, err := b.Open(context.Background(), "o.pdf")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, storage.ErrObjectNotFound) {
		t.Errorf("transport failure must not look like a miss: %v", err)
	}
}

func TestBucket_Open_InvalidKeyNeverReachesReader(t *testing.T) {
	rdr := &stubReader{content: "x"}
	b := storage.NewBucket(rdr, "b")

	_, err := b.Open(context.Background(), "/../secrets.txt")
	if !errors.Is(err, storage.ErrInvalidKey) {
		t.Fatalf("err = %v, want ErrInvalidKey", err)
	}
	if rdr.calledObject != "" {
		t.Errorf("reader called with %q", rdr.calledObject)
	}
}

// ── ObjectKey tests ───────────────────────────────────────────────────────────

func TestObjectKey(t *testing.T) {
	valid := map[string]string{
		"/private/articles/a.pdf": "private/articles/a.pdf",
		"video.mp4":               "video.mp4",
	}
	for in, want := range valid {
		got, err := storage.ObjectKey(in)
		if err != nil {
			t.Errorf("ObjectKey(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ObjectKey(%q) = %q, want %q", in, got, want)
		}
	}

	for _, in := range []string{"", "/", "dir/", "a/../b", "./a", "a//b"} {
		if _, err := storage.ObjectKey(in); !errors.Is(err, storage.ErrInvalidKey) {
			t.Errorf("ObjectKey(%q) err = %v, want ErrInvalidKey", in, err)
		}
	}
}

// ── S3ObjectReader tests ──────────────────────────────────────────────────────

type stubS3 struct {
	statErr error
	getErr  error
	gets    int
}

func (s *stubS3) StatObject(_ context.Context, _, _ string, _ minio.StatObjectOptions) (minio.ObjectInfo, error) {
	if s.statErr != nil {
		return minio.ObjectInfo{}, s.statErr
	}
	return minio.ObjectInfo{ContentType: "video/mp4", Size: 10}, nil
}

func (s *stubS3) GetObject(_ context.Context, _, _ string, _ minio.GetObjectOptions) (*minio.Object, error) {
	s.gets++
	return nil, s.getErr
}

func TestS3ObjectReader_NoSuchKey(t *testing.T) {
	api := &stubS3{statErr: minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}}
	r := storage.NewS3ObjectReader(api)

	_, err := r.NewReader(context.Background(), "b", "o")
	if !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("err = %v, want ErrObjectNotFound", err)
	}
	if api.gets != 0 {
		t.Errorf("GetObject called %d times after a failed stat", api.gets)
	}
}

func TestS3ObjectReader_StatError(t *testing.T) {
	api := &stubS3{statErr: minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}}
	r := storage.NewS3ObjectReader(api)

	_, err := r.NewReader(context.Background(), "b", "o")
	if err == nil || errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("err = %v, want a non-miss error", err)
	}
}

func TestS3ObjectReader_GetError(t *testing.T) {
	api := &stubS3{getErr: errors.New("connection reset")}
	r := storage.NewS3ObjectReader(api)

	_, err := r.NewReader(context.Background(), "b", "o")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestNewS3Client(t *testing.T) {
	if _, err := storage.NewS3Client("localhost:9000", "ak", "sk", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := storage.NewS3Client("", "ak", "sk", false); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}
