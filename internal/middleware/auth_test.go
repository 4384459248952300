package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ai-teammate/contentgate/internal/middleware"
)

// ─── BearerToken tests ────────────────────────────────────────────────────────

func TestBearerToken(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"absent", "", "", false},
		{"basic scheme", "Basic dXNlcjpwYXNz", "", false},
		{"empty token", "Bearer ", "", false},
		{"no separator", "Bearer", "", false},
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", true},
		{"case insensitive", "bearer tok", "tok", true},
		{"trims spaces", "Bearer   tok  ", "tok", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			got, ok := middleware.BearerToken(req)
			if ok != tc.ok || got != tc.want {
				t.Errorf("BearerToken(%q) = (%q, %v), want (%q, %v)", tc.header, got, ok, tc.want, tc.ok)
			}
		})
	}
}
