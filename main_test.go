package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ai-teammate/contentgate/internal/access"
	"github.com/ai-teammate/contentgate/internal/config"
	"github.com/ai-teammate/contentgate/internal/firestore"
	"github.com/ai-teammate/contentgate/internal/handler"
	"github.com/ai-teammate/contentgate/internal/middleware"
	"github.com/ai-teammate/contentgate/internal/obs"
)

// ── helpers ───────────────────────────────────────────────────────────────────

func testRouter(t *testing.T, cfg *config.Config, checks map[string]handler.Checker) http.Handler {
	t.Helper()
	metrics := obs.NewMetrics(prometheus.NewRegistry())
	opts := handler.Options{Logger: zap.NewNop(), Metrics: metrics}
	return newRouter(opts, cfg, checks, metrics, zap.NewNop())
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ── router ────────────────────────────────────────────────────────────────────

func TestRouter_Health(t *testing.T) {
	h := testRouter(t, &config.Config{}, map[string]handler.Checker{
		"db": handler.CheckFunc(func(context.Context) error { return nil }),
	})

	rec := serve(h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body handler.HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Checks["db"] != "ok" {
		t.Errorf("db check = %q, want ok", body.Checks["db"])
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected a request id header")
	}
}

func TestRouter_UnconfiguredGatewayAnswers500(t *testing.T) {
	h := testRouter(t, &config.Config{}, nil)

	for _, target := range []string{"/", "/files/proxy"} {
		rec := serve(h, http.MethodPost, target, `{"idToken":"t","fileUrl":"/a.pdf"}`)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("%s: expected 500, got %d", target, rec.Code)
		}
	}
}

func TestRouter_GatewayPreflight(t *testing.T) {
	h := testRouter(t, &config.Config{}, nil)

	rec := serve(h, http.MethodOptions, "/", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestRouter_RateLimited(t *testing.T) {
	h := testRouter(t, &config.Config{RateLimitRPS: 0.001, RateLimitBurst: 1}, nil)

	first := serve(h, http.MethodPost, "/", `{"idToken":"t"}`)
	second := serve(h, http.MethodPost, "/", `{"idToken":"t"}`)

	if first.Code == http.StatusTooManyRequests {
		t.Fatal("first request must not be limited")
	}
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", second.Code)
	}
}

func TestRouter_Metrics(t *testing.T) {
	h := testRouter(t, &config.Config{}, nil)

	serve(h, http.MethodGet, "/health", "")
	rec := serve(h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `http_requests_total{method="GET",path="/health",status="200"} 1`) {
		t.Errorf("health request not counted:\n%s", body)
	}
}

// ── dependency wiring ─────────────────────────────────────────────────────────

func TestNewDocumentStore_REST(t *testing.T) {
	cfg := &config.Config{FirestoreBackend: config.FirestoreREST, ProjectID: "p", FirestoreAPIKey: "k"}

	store, closeStore, err := newDocumentStore(context.Background(), cfg, http.DefaultClient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*firestore.RESTStore); !ok {
		t.Errorf("store = %T, want *firestore.RESTStore", store)
	}
	if closeStore != nil {
		t.Error("REST store needs no close function")
	}
}

func TestNewResolver(t *testing.T) {
	metrics := obs.NewMetrics(prometheus.NewRegistry())

	tests := map[string]struct {
		backend string
		cached  bool
	}{
		"no cache":     {config.CacheNone, false},
		"memory cache": {config.CacheMemory, true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := &config.Config{CacheBackend: tt.backend}
			checks := map[string]handler.Checker{}

			r, closeCache, err := newResolver(context.Background(), cfg, nil, metrics, zap.NewNop(), checks)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_, cached := r.(*access.CachedResolver)
			if cached != tt.cached {
				t.Errorf("resolver = %T, cached = %v, want %v", r, cached, tt.cached)
			}
			if closeCache != nil || len(checks) != 0 {
				t.Error("in-process backends register no close function or health check")
			}
		})
	}
}

func TestNewResolver_RedisUnreachable(t *testing.T) {
	cfg := &config.Config{CacheBackend: config.CacheRedis, RedisURL: "not-a-url"}

	_, _, err := newResolver(context.Background(), cfg, nil,
		obs.NewMetrics(prometheus.NewRegistry()), zap.NewNop(), map[string]handler.Checker{})
	if err == nil {
		t.Fatal("expected error for an invalid redis url")
	}
}

func TestNewBlobStore(t *testing.T) {
	b, _, err := newBlobStore(context.Background(), &config.Config{BlobBackend: config.BlobNone})
	if err != nil || b != nil {
		t.Fatalf("none backend: bucket = %v, err = %v", b, err)
	}

	cfg := &config.Config{BlobBackend: config.BlobS3, BlobBucket: "content", S3Endpoint: "localhost:9000"}
	b, closeBlobs, err := newBlobStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("s3 backend: %v", err)
	}
	if b == nil || b.Name != "content" {
		t.Fatalf("s3 backend: bucket = %+v", b)
	}
	if err := closeBlobs(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("no migrations embedded")
	}
}
