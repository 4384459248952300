// Package config loads the gateway configuration from environment variables
// and an optional config.yaml.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ai-teammate/contentgate/internal/auth"
	"github.com/ai-teammate/contentgate/internal/database"
	"github.com/ai-teammate/contentgate/internal/firestore"
)

// ErrMisconfigured is reported by Validate when the gateway cannot verify or
// authorize requests with the loaded settings.
var ErrMisconfigured = errors.New("server configuration error")

// Backend names.
const (
	FirestoreREST  = "rest"
	FirestoreAdmin = "admin"

	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"

	BlobNone = "none"
	BlobGCS  = "gcs"
	BlobS3   = "s3"
)

// Config holds every runtime setting.
type Config struct {
	Port string

	ProjectID           string
	FirestoreAPIKey     string
	FirestoreBackend    string
	FirestoreBaseURL    string
	FirestoreCollection string
	CredentialsFile     string
	JWKSURL             string
	OutboundTimeout     time.Duration

	CacheBackend string
	RedisURL     string
	CacheTTL     time.Duration

	BlobBackend string
	BlobBucket  string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool

	CatalogFile string

	AccessLogEnabled bool
	Database         database.Settings

	HealthToken        string
	RateLimitRPS       float64
	RateLimitBurst     int
	RateLimitProxyHops int

	LogLevel string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("firestore_backend", FirestoreREST)
	v.SetDefault("firestore_base_url", firestore.DefaultBaseURL)
	v.SetDefault("firestore_collection", "whitelist")
	v.SetDefault("jwks_url", auth.DefaultJWKSURL)
	v.SetDefault("outbound_timeout", "10s")
	v.SetDefault("cache_backend", CacheNone)
	v.SetDefault("cache_ttl", "5m")
	v.SetDefault("blob_backend", BlobNone)
	v.SetDefault("s3_use_ssl", true)
	v.SetDefault("access_log_enabled", false)
	v.SetDefault("db_host", database.DefaultHost)
	v.SetDefault("db_port", database.DefaultPort)
	v.SetDefault("db_name", database.DefaultName)
	v.SetDefault("rate_limit_rps", 10)
	v.SetDefault("rate_limit_burst", 20)
	v.SetDefault("rate_limit_proxy_hops", 0)
	v.SetDefault("log_level", "info")
}

// Load reads configuration. Environment variables (upper-case key names,
// e.g. FIREBASE_PROJECT_ID) take precedence over config.yaml, which is looked
// up in the working directory and ./config. A missing file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Port: v.GetString("port"),

		ProjectID:           strings.TrimSpace(v.GetString("firebase_project_id")),
		FirestoreAPIKey:     strings.TrimSpace(v.GetString("firestore_api_key")),
		FirestoreBackend:    strings.ToLower(v.GetString("firestore_backend")),
		FirestoreBaseURL:    strings.TrimRight(v.GetString("firestore_base_url"), "/"),
		FirestoreCollection: v.GetString("firestore_collection"),
		CredentialsFile:     v.GetString("google_credentials_file"),
		JWKSURL:             v.GetString("jwks_url"),
		OutboundTimeout:     v.GetDuration("outbound_timeout"),

		CacheBackend: strings.ToLower(v.GetString("cache_backend")),
		RedisURL:     v.GetString("redis_url"),
		CacheTTL:     v.GetDuration("cache_ttl"),

		BlobBackend: strings.ToLower(v.GetString("blob_backend")),
		BlobBucket:  v.GetString("blob_bucket"),
		S3Endpoint:  v.GetString("s3_endpoint"),
		S3AccessKey: v.GetString("s3_access_key"),
		S3SecretKey: v.GetString("s3_secret_key"),
		S3UseSSL:    v.GetBool("s3_use_ssl"),

		CatalogFile: v.GetString("content_catalog_file"),

		AccessLogEnabled: v.GetBool("access_log_enabled"),
		Database: database.Settings{
			Socket:   v.GetString("instance_unix_socket"),
			Host:     v.GetString("db_host"),
			Port:     v.GetString("db_port"),
			User:     v.GetString("db_user"),
			Password: v.GetString("db_password"),
			Name:     v.GetString("db_name"),
		},

		HealthToken:        v.GetString("health_token"),
		RateLimitRPS:       v.GetFloat64("rate_limit_rps"),
		RateLimitBurst:     v.GetInt("rate_limit_burst"),
		RateLimitProxyHops: v.GetInt("rate_limit_proxy_hops"),

		LogLevel: v.GetString("log_level"),
	}
}

// Validate reports ErrMisconfigured when token verification or record lookup
// cannot work: no project id, an unknown Firestore backend, or the REST
// backend without an API key. Optional components are checked by CheckOptional.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("%w: FIREBASE_PROJECT_ID is not set", ErrMisconfigured)
	}
	switch c.FirestoreBackend {
	case FirestoreREST:
		if c.FirestoreAPIKey == "" {
			return fmt.Errorf("%w: FIRESTORE_API_KEY is not set", ErrMisconfigured)
		}
	case FirestoreAdmin:
	default:
		return fmt.Errorf("%w: unknown FIRESTORE_BACKEND %q", ErrMisconfigured, c.FirestoreBackend)
	}
	return nil
}

// CheckOptional validates the cache and blob settings.
func (c *Config) CheckOptional() error {
	switch c.CacheBackend {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.RedisURL == "" {
			return errors.New("CACHE_BACKEND=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown CACHE_BACKEND %q", c.CacheBackend)
	}

	switch c.BlobBackend {
	case BlobNone:
	case BlobGCS:
		if c.BlobBucket == "" {
			return errors.New("BLOB_BACKEND=gcs requires BLOB_BUCKET")
		}
	case BlobS3:
		if c.BlobBucket == "" || c.S3Endpoint == "" {
			return errors.New("BLOB_BACKEND=s3 requires BLOB_BUCKET and S3_ENDPOINT")
		}
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend)
	}
	return nil
}
