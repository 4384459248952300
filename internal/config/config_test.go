package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-teammate/contentgate/internal/auth"
	"github.com/ai-teammate/contentgate/internal/firestore"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, FirestoreREST, cfg.FirestoreBackend)
	assert.Equal(t, firestore.DefaultBaseURL, cfg.FirestoreBaseURL)
	assert.Equal(t, "whitelist", cfg.FirestoreCollection)
	assert.Equal(t, auth.DefaultJWKSURL, cfg.JWKSURL)
	assert.Equal(t, 10*time.Second, cfg.OutboundTimeout)
	assert.Equal(t, CacheNone, cfg.CacheBackend)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, BlobNone, cfg.BlobBackend)
	assert.True(t, cfg.S3UseSSL)
	assert.False(t, cfg.AccessLogEnabled)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "5432", cfg.Database.Port)
	assert.Equal(t, 10.0, cfg.RateLimitRPS)
	assert.Equal(t, 20, cfg.RateLimitBurst)
	assert.Zero(t, cfg.RateLimitProxyHops)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("FIREBASE_PROJECT_ID", " proj1 ")
	t.Setenv("FIRESTORE_API_KEY", "key")
	t.Setenv("FIRESTORE_BACKEND", "ADMIN")
	t.Setenv("FIRESTORE_BASE_URL", "http://localhost:8081/v1/")
	t.Setenv("OUTBOUND_TIMEOUT", "3s")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CACHE_TTL", "90s")
	t.Setenv("BLOB_BACKEND", "s3")
	t.Setenv("S3_USE_SSL", "false")
	t.Setenv("ACCESS_LOG_ENABLED", "true")
	t.Setenv("INSTANCE_UNIX_SOCKET", "/cloudsql/p:r:i")
	t.Setenv("DB_USER", "svc")
	t.Setenv("RATE_LIMIT_RPS", "0.5")
	t.Setenv("RATE_LIMIT_PROXY_HOPS", "1")
	t.Setenv("HEALTH_TOKEN", "hc")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "proj1", cfg.ProjectID)
	assert.Equal(t, "key", cfg.FirestoreAPIKey)
	assert.Equal(t, FirestoreAdmin, cfg.FirestoreBackend)
	assert.Equal(t, "http://localhost:8081/v1", cfg.FirestoreBaseURL)
	assert.Equal(t, 3*time.Second, cfg.OutboundTimeout)
	assert.Equal(t, CacheRedis, cfg.CacheBackend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.Equal(t, BlobS3, cfg.BlobBackend)
	assert.False(t, cfg.S3UseSSL)
	assert.True(t, cfg.AccessLogEnabled)
	assert.Equal(t, "/cloudsql/p:r:i", cfg.Database.Socket)
	assert.Equal(t, "svc", cfg.Database.User)
	assert.Equal(t, 0.5, cfg.RateLimitRPS)
	assert.Equal(t, 1, cfg.RateLimitProxyHops)
	assert.Equal(t, "hc", cfg.HealthToken)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"),
		[]byte("firebase_project_id: from-file\ncache_backend: memory\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("CACHE_BACKEND", "redis")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.ProjectID)
	assert.Equal(t, CacheRedis, cfg.CacheBackend, "environment wins over the file")
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		cfg     Config
		wantErr bool
	}{
		"rest ok":            {Config{ProjectID: "p", FirestoreBackend: FirestoreREST, FirestoreAPIKey: "k"}, false},
		"admin needs no key": {Config{ProjectID: "p", FirestoreBackend: FirestoreAdmin}, false},
		"no project":         {Config{FirestoreBackend: FirestoreREST, FirestoreAPIKey: "k"}, true},
		"rest without key":   {Config{ProjectID: "p", FirestoreBackend: FirestoreREST}, true},
		"unknown backend":    {Config{ProjectID: "p", FirestoreBackend: "mongo"}, true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrMisconfigured), "got %v", err)
		})
	}
}

func TestCheckOptional(t *testing.T) {
	tests := map[string]struct {
		cfg     Config
		wantErr bool
	}{
		"all off":        {Config{CacheBackend: CacheNone, BlobBackend: BlobNone}, false},
		"memory cache":   {Config{CacheBackend: CacheMemory, BlobBackend: BlobNone}, false},
		"redis no url":   {Config{CacheBackend: CacheRedis, BlobBackend: BlobNone}, true},
		"unknown cache":  {Config{CacheBackend: "memcached", BlobBackend: BlobNone}, true},
		"gcs ok":         {Config{CacheBackend: CacheNone, BlobBackend: BlobGCS, BlobBucket: "b"}, false},
		"gcs no bucket":  {Config{CacheBackend: CacheNone, BlobBackend: BlobGCS}, true},
		"s3 no endpoint": {Config{CacheBackend: CacheNone, BlobBackend: BlobS3, BlobBucket: "b"}, true},
		"unknown blob":   {Config{CacheBackend: CacheNone, BlobBackend: "azure"}, true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.cfg.CheckOptional()
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
		})
	}
}
