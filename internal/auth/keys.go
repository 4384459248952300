package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// DefaultJWKSURL publishes the keys that sign Firebase ID tokens.
const DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

const (
	defaultKeySetTTL = time.Hour
	minKeySetTTL     = time.Minute
	maxKeySetTTL     = 24 * time.Hour

	// maxKeySetBytes caps the JWKS response body.
	maxKeySetBytes = 1 << 20
)

// SigningKey is one RSA entry of the issuer's published key set.
type SigningKey struct {
	KeyID          string
	Modulus        []byte
	PublicExponent []byte
	PublicKey      *rsa.PublicKey
}

// HTTPDoer abstracts http.Client.Do so that tests can inject a stub.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// KeyResolver fetches the issuer's key set and caches it for the max-age the
// endpoint advertises. It is safe for concurrent use.
type KeyResolver struct {
	url     string
	client  HTTPDoer
	now     func() time.Time
	refetch *rate.Limiter
	onFetch func(err error)

	group singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*SigningKey
	expiresAt time.Time
}

// KeyResolverOption configures a KeyResolver.
type KeyResolverOption func(*KeyResolver)

// WithHTTPClient sets the client used for key-set fetches.
func WithHTTPClient(c HTTPDoer) KeyResolverOption {
	return func(r *KeyResolver) { r.client = c }
}

// WithKeyClock overrides time.Now for cache expiry.
func WithKeyClock(now func() time.Time) KeyResolverOption {
	return func(r *KeyResolver) { r.now = now }
}

// WithRefetchLimit bounds how often an unknown kid may force a refetch of a
// still-valid key set.
func WithRefetchLimit(every time.Duration, burst int) KeyResolverOption {
	return func(r *KeyResolver) { r.refetch = rate.NewLimiter(rate.Every(every), burst) }
}

// WithFetchHook registers a callback invoked after every key-set fetch with
// the fetch error (nil on success).
func WithFetchHook(fn func(err error)) KeyResolverOption {
	return func(r *KeyResolver) { r.onFetch = fn }
}

// NewKeyResolver returns a resolver for the key set published at url. An
// empty url selects DefaultJWKSURL.
func NewKeyResolver(url string, opts ...KeyResolverOption) *KeyResolver {
	if url == "" {
		url = DefaultJWKSURL
	}
	r := &KeyResolver{
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		now:     time.Now,
		refetch: rate.NewLimiter(rate.Every(30*time.Second), 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the signing key with the given key id. A kid missing from a
// cached key set triggers one rate-limited refetch to pick up rotated keys.
func (r *KeyResolver) Resolve(ctx context.Context, keyID string) (*SigningKey, error) {
	if keyID == "" {
		return nil, fmt.Errorf("%w: token header has no kid", ErrKeyNotFound)
	}

	keys, fetched, err := r.keySet(ctx, false)
	if err != nil {
		return nil, err
	}
	if k, ok := keys[keyID]; ok {
		return k, nil
	}

	if !fetched && r.refetch.Allow() {
		keys, _, err = r.keySet(ctx, true)
		if err != nil {
			return nil, err
		}
		if k, ok := keys[keyID]; ok {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: kid %q", ErrKeyNotFound, keyID)
}

// keySet returns the cached key set, fetching it when expired or when force
// is set. fetched reports whether this call went to the network.
func (r *KeyResolver) keySet(ctx context.Context, force bool) (keys map[string]*SigningKey, fetched bool, err error) {
	r.mu.RLock()
	keys, exp := r.keys, r.expiresAt
	r.mu.RUnlock()
	if !force && keys != nil && r.now().Before(exp) {
		return keys, false, nil
	}

	// Concurrent callers share one fetch; it must not die with the first
	// caller's request.
	fetchCtx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do("jwks", func() (any, error) {
		return r.refresh(fetchCtx)
	})
	if err != nil {
		return nil, false, err
	}
	return v.(map[string]*SigningKey), true, nil
}

func (r *KeyResolver) refresh(ctx context.Context) (map[string]*SigningKey, error) {
	keys, ttl, err := r.fetch(ctx)
	if r.onFetch != nil {
		r.onFetch(err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeySetUnavailable, err)
	}

	r.mu.Lock()
	r.keys = keys
	r.expiresAt = r.now().Add(ttl)
	r.mu.Unlock()
	return keys, nil
}

// jwkSet is the JSON shape of the key-set endpoint response.
type jwkSet struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func (r *KeyResolver) fetch(ctx context.Context) (map[string]*SigningKey, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build key set request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch key set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("key set endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("read key set: %w", err)
	}

	var set jwkSet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, 0, fmt.Errorf("decode key set: %w", err)
	}

	keys := make(map[string]*SigningKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kid == "" || k.Kty != "RSA" {
			continue
		}
		sk, err := newSigningKey(k.Kid, k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = sk
	}
	if len(keys) == 0 {
		return nil, 0, fmt.Errorf("key set contains no usable RSA keys")
	}

	return keys, keySetTTL(resp.Header.Get("Cache-Control")), nil
}

// newSigningKey builds an RSA public key from base64url modulus and exponent.
func newSigningKey(kid, n, e string) (*SigningKey, error) {
	modulus, err := decodeSegment(n)
	if err != nil {
		return nil, fmt.Errorf("decode modulus: %w", err)
	}
	exponent, err := decodeSegment(e)
	if err != nil {
		return nil, fmt.Errorf("decode exponent: %w", err)
	}
	if len(modulus) == 0 || len(exponent) == 0 {
		return nil, fmt.Errorf("empty modulus or exponent")
	}

	eInt := new(big.Int).SetBytes(exponent)
	if !eInt.IsInt64() || eInt.Int64() < 3 || eInt.Int64() > 1<<31-1 {
		return nil, fmt.Errorf("unsupported exponent")
	}

	return &SigningKey{
		KeyID:          kid,
		Modulus:        modulus,
		PublicExponent: exponent,
		PublicKey: &rsa.PublicKey{
			N: new(big.Int).SetBytes(modulus),
			E: int(eInt.Int64()),
		},
	}, nil
}

// decodeSegment decodes base64url with or without padding.
func decodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// keySetTTL derives the cache lifetime from a Cache-Control header value.
func keySetTTL(cacheControl string) time.Duration {
	for _, directive := range strings.Split(cacheControl, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(directive), "=")
		if !ok || !strings.EqualFold(name, "max-age") {
			continue
		}
		secs, err := strconv.Atoi(strings.Trim(value, `"`))
		if err != nil || secs <= 0 {
			return defaultKeySetTTL
		}
		ttl := time.Duration(secs) * time.Second
		switch {
		case ttl < minKeySetTTL:
			return minKeySetTTL
		case ttl > maxKeySetTTL:
			return maxKeySetTTL
		}
		return ttl
	}
	return defaultKeySetTTL
}
