package access

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ai-teammate/contentgate/internal/auth"
)

// DefaultCacheTTL bounds how long a revoked record can still be served.
const DefaultCacheTTL = 5 * time.Minute

// SourceCache is reported to the lookup hook on a cache hit.
const SourceCache = "cache"

// Cache stores record snapshots. Satisfied by *cache.Redis and *cache.Memory.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// CachedResolver wraps a Resolver with a read-through, write-through cache.
// A resolved record is written under both the email key and the uid key.
// Not-found results are never cached, and cache failures only get logged.
type CachedResolver struct {
	next   Resolver
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
	opts   options
}

// NewCachedResolver wraps next. A non-positive ttl selects DefaultCacheTTL.
func NewCachedResolver(next Resolver, cache Cache, ttl time.Duration, logger *zap.Logger, opts ...Option) *CachedResolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedResolver{next: next, cache: cache, ttl: ttl, logger: logger, opts: newOptions(opts)}
}

// EmailKey is the cache key for a lowercased email.
func EmailKey(email string) string { return "authz:email:" + normalizeEmail(email) }

// UIDKey is the cache key for a subject id.
func UIDKey(subject string) string { return "authz:uid:" + subject }

func cacheKeys(id *auth.VerifiedIdentity) []string {
	var keys []string
	if normalizeEmail(id.Email) != "" {
		keys = append(keys, EmailKey(id.Email))
	}
	if id.Subject != "" {
		keys = append(keys, UIDKey(id.Subject))
	}
	return keys
}

// Resolve returns the cached snapshot when present, otherwise delegates and
// caches the result.
func (c *CachedResolver) Resolve(ctx context.Context, id *auth.VerifiedIdentity) (*Record, error) {
	keys := cacheKeys(id)

	if len(keys) > 0 {
		if rec, ok := c.read(ctx, keys[0]); ok {
			c.opts.onLookup(SourceCache)
			return rec, nil
		}
	}

	rec, err := c.next.Resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	snapshot, err := json.Marshal(rec)
	if err != nil {
		c.logger.Warn("encode authorization snapshot", zap.Error(err))
		return rec, nil
	}
	for _, key := range keys {
		if err := c.cache.Set(ctx, key, snapshot, c.ttl); err != nil {
			c.logger.Warn("cache write failed", zap.String("subject", id.Subject), zap.Error(err))
		}
	}
	return rec, nil
}

func (c *CachedResolver) read(ctx context.Context, key string) (*Record, bool) {
	raw, ok, err := c.cache.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache read failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.logger.Warn("discarding unreadable cache entry", zap.Error(err))
		return nil, false
	}
	return &rec, true
}
