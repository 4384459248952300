package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 5 * time.Minute
	limiterSweepMin   = 1024
	limiterSweepEvery = time.Minute
	limiterMaxBuckets = 16384
)

// overflowKey is the bucket shared by new clients once limiterMaxBuckets
// clients are tracked.
const overflowKey = "\x00overflow"

// RateLimiter applies a token bucket per client IP. The client IP is the
// connection's remote address unless trusted proxy hops are configured, in
// which case it is read from the right end of X-Forwarded-For.
type RateLimiter struct {
	rps         rate.Limit
	burst       int
	trustedHops int
	now         func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithTrustedProxyHops trusts the last hops entries of X-Forwarded-For, as
// appended by that many proxies in front of the server (1 on Cloud Run). The
// client IP is the left-most of those entries. Zero ignores the header.
func WithTrustedProxyHops(hops int) RateLimiterOption {
	return func(l *RateLimiter) {
		if hops > 0 {
			l.trustedHops = hops
		}
	}
}

// NewRateLimiter allows rps requests per second per IP with the given burst.
// A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int, opts ...RateLimiterOption) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &RateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether a request from ip may proceed.
func (l *RateLimiter) Allow(ip string) bool {
	if l.rps <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.buckets) >= limiterSweepMin && now.Sub(l.lastSweep) >= limiterSweepEvery {
		l.lastSweep = now
		for k, b := range l.buckets {
			if now.Sub(b.seen) > limiterIdleTTL {
				delete(l.buckets, k)
			}
		}
	}

	b, ok := l.buckets[ip]
	if !ok {
		key := ip
		if len(l.buckets) >= limiterMaxBuckets {
			key = overflowKey
		}
		if b, ok = l.buckets[key]; !ok {
			b = &bucket{lim: rate.NewLimiter(l.rps, l.burst)}
			l.buckets[key] = b
		}
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Len reports how many client buckets are tracked.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(l.clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP never trusts X-Forwarded-For entries the caller could have
// written: only the ones appended by the trusted proxies are read.
func (l *RateLimiter) clientIP(r *http.Request) string {
	if l.trustedHops > 0 {
		var hops []string
		for _, h := range r.Header.Values("X-Forwarded-For") {
			hops = append(hops, strings.Split(h, ",")...)
		}
		if i := len(hops) - l.trustedHops; i >= 0 {
			if ip := strings.TrimSpace(hops[i]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
