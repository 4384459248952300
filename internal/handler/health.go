// Package handler contains HTTP handler constructors.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HealthCheckTimeout bounds each dependency check.
const HealthCheckTimeout = 2 * time.Second

// Checker reports whether one dependency is reachable. Wrap *sql.DB.PingContext
// or *cache.Redis.Ping with CheckFunc; tests inject a mock.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

// Check calls f.
func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// HealthResponse is the JSON body returned by the health endpoint.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// NewHealthHandler returns an http.HandlerFunc for GET /health.
// Every configured dependency is checked with HealthCheckTimeout; any failure
// turns the response into a 503.
//
// The endpoint is protected by a shared secret token: when token is not
// empty callers must supply it in the X-Health-Token header.
//
// Internal error details are logged server-side only; the response body
// always reports the generic string "unavailable" to avoid leaking
// infrastructure information to callers (OWASP A05).
func NewHealthHandler(token string, checks map[string]Checker, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("X-Health-Token") != token {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		for name, c := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), HealthCheckTimeout)
			err := c.Check(ctx)
			cancel()
			if err != nil {
				logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
				resp.Status = "error"
				resp.Checks[name] = "unavailable"
				continue
			}
			resp.Checks[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}
