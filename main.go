// Command contentgate is the content-access gateway. It verifies Firebase ID
// tokens, resolves the caller's authorization record in Firestore and returns
// or proxies only the content the caller is entitled to.
//
// Configuration is read from the environment (see internal/config):
//
//	FIREBASE_PROJECT_ID - audience and issuer suffix of accepted tokens
//	FIRESTORE_API_KEY   - REST API key (FIRESTORE_BACKEND=rest)
//	CACHE_BACKEND       - none, memory or redis (REDIS_URL)
//	BLOB_BACKEND        - none, gcs or s3 (BLOB_BUCKET, S3_*)
//	ACCESS_LOG_ENABLED  - write decisions to Postgres (DB_* / INSTANCE_UNIX_SOCKET)
//
// A missing project id or API key does not stop the server; the gateway then
// answers every authenticated request with 500.
package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/ai-teammate/contentgate/internal/access"
	"github.com/ai-teammate/contentgate/internal/auth"
	"github.com/ai-teammate/contentgate/internal/cache"
	"github.com/ai-teammate/contentgate/internal/catalog"
	"github.com/ai-teammate/contentgate/internal/config"
	"github.com/ai-teammate/contentgate/internal/database"
	"github.com/ai-teammate/contentgate/internal/firestore"
	"github.com/ai-teammate/contentgate/internal/handler"
	"github.com/ai-teammate/contentgate/internal/logging"
	"github.com/ai-teammate/contentgate/internal/middleware"
	"github.com/ai-teammate/contentgate/internal/migration"
	"github.com/ai-teammate/contentgate/internal/obs"
	"github.com/ai-teammate/contentgate/internal/repository"
	"github.com/ai-teammate/contentgate/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		log.Printf("contentgate: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.CheckOptional(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := obs.NewMetrics(prometheus.NewRegistry())
	client := &http.Client{
		Timeout:   cfg.OutboundTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close dependency", zap.Error(err))
			}
		}
	}()

	opts := handler.Options{
		Fetcher: handler.NewFetchClient(cfg.OutboundTimeout),
		Metrics: metrics,
		Logger:  logger,
	}
	checks := map[string]handler.Checker{}

	if cfg.CatalogFile != "" {
		opts.Catalog, err = catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		logger.Info("catalog loaded", zap.Int("items", opts.Catalog.Len()))
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("gateway is misconfigured, authenticated requests will fail", zap.Error(err))
	} else {
		keys := auth.NewKeyResolver(cfg.JWKSURL,
			auth.WithHTTPClient(client),
			auth.WithFetchHook(metrics.KeyRefresh),
		)
		opts.Verifier = auth.NewVerifier(cfg.ProjectID, keys)

		store, closeStore, err := newDocumentStore(ctx, cfg, client)
		if err != nil {
			return err
		}
		if closeStore != nil {
			closers = append(closers, closeStore)
		}

		resolver, closeCache, err := newResolver(ctx, cfg, store, metrics, logger, checks)
		if err != nil {
			return err
		}
		if closeCache != nil {
			closers = append(closers, closeCache)
		}
		opts.Resolver = resolver
	}

	blobs, closeBlobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	if blobs != nil {
		opts.Blobs = blobs
		closers = append(closers, closeBlobs)
	}

	if cfg.AccessLogEnabled {
		db, err := database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("db open: %w", err)
		}
		closers = append(closers, db.Close)

		if err := migration.RunMigrations(db, migrationsFS, "migrations", logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		opts.AccessLog = repository.NewAccessLogRepository(db)
		checks["db"] = handler.CheckFunc(db.PingContext)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(opts, cfg, checks, metrics, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newRouter mounts the gateway, health and metrics endpoints behind the
// shared middleware chain.
func newRouter(opts handler.Options, cfg *config.Config, checks map[string]handler.Checker,
	metrics *obs.Metrics, logger *zap.Logger) http.Handler {
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst,
		middleware.WithTrustedProxyHops(cfg.RateLimitProxyHops))
	gateway := limiter.Middleware(handler.NewGatewayHandler(opts))

	mux := http.NewServeMux()
	mux.Handle("/", gateway)
	mux.Handle(handler.ProxyPath, gateway)
	mux.Handle("/health", handler.NewHealthHandler(cfg.HealthToken, checks, logger))
	mux.Handle("/metrics", metrics.Handler())

	var h http.Handler = mux
	h = metrics.Instrument(h)
	h = middleware.RequestID(logger)(h)
	h = middleware.Recover(logger)(h)
	return h
}

// newDocumentStore opens the Firestore backend selected by FIRESTORE_BACKEND.
// The returned close function may be nil.
func newDocumentStore(ctx context.Context, cfg *config.Config, client *http.Client) (access.DocumentStore, func() error, error) {
	if cfg.FirestoreBackend == config.FirestoreAdmin {
		store, err := firestore.NewAdminStore(ctx, cfg.ProjectID, cfg.FirestoreCollection, cfg.CredentialsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore admin: %w", err)
		}
		return store, store.Close, nil
	}
	return firestore.NewRESTStore(firestore.RESTConfig{
		BaseURL:    cfg.FirestoreBaseURL,
		ProjectID:  cfg.ProjectID,
		APIKey:     cfg.FirestoreAPIKey,
		Collection: cfg.FirestoreCollection,
	}, client), nil, nil
}

// newResolver builds the strategy resolver and wraps it with the configured
// cache. A Redis cache is registered as a health check.
func newResolver(ctx context.Context, cfg *config.Config, store access.DocumentStore, metrics *obs.Metrics,
	logger *zap.Logger, checks map[string]handler.Checker) (access.Resolver, func() error, error) {
	hook := access.WithLookupHook(metrics.Lookup)
	var resolver access.Resolver = access.NewStrategyResolver(store, logger, hook)

	switch cfg.CacheBackend {
	case config.CacheMemory:
		resolver = access.NewCachedResolver(resolver, cache.NewMemory(), cfg.CacheTTL, logger, hook)
	case config.CacheRedis:
		rc, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		checks["redis"] = handler.CheckFunc(rc.Ping)
		return access.NewCachedResolver(resolver, rc, cfg.CacheTTL, logger, hook), rc.Close, nil
	}
	return resolver, nil, nil
}

// newBlobStore opens the bucket selected by BLOB_BACKEND. It returns a nil
// bucket when no blob store is configured.
func newBlobStore(ctx context.Context, cfg *config.Config) (*storage.Bucket, func() error, error) {
	switch cfg.BlobBackend {
	case config.BlobGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create GCS client: %w", err)
		}
		return storage.NewBucket(storage.NewGCSObjectReader(client), cfg.BlobBucket), client.Close, nil
	case config.BlobS3:
		client, err := storage.NewS3Client(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3UseSSL)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewBucket(storage.NewS3ObjectReader(client), cfg.BlobBucket), func() error { return nil }, nil
	}
	return nil, nil, nil
}
