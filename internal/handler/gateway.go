// Package handler contains HTTP handler constructors.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/ai-teammate/contentgate/internal/access"
	"github.com/ai-teammate/contentgate/internal/auth"
	"github.com/ai-teammate/contentgate/internal/catalog"
	"github.com/ai-teammate/contentgate/internal/logging"
	"github.com/ai-teammate/contentgate/internal/middleware"
	"github.com/ai-teammate/contentgate/internal/repository"
	"github.com/ai-teammate/contentgate/internal/storage"
)

// ProxyPath is the route that always runs the file proxy.
const ProxyPath = "/files/proxy"

// maxBodyBytes caps the JSON request body.
const maxBodyBytes = 64 << 10

// BlobOpener opens objects in the content bucket.
// Satisfied by *storage.Bucket and allows tests to inject a stub.
type BlobOpener interface {
	Open(ctx context.Context, key string) (*storage.Object, error)
}

// HTTPDoer is the outbound client used for direct file fetches. The body is
// streamed to the caller, so the client must not carry an overall
// http.Client.Timeout; NewFetchClient builds a suitable one.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewFetchClient returns the client for direct file fetches. timeout bounds
// dialing, the TLS handshake and the wait for response headers; once headers
// arrive the body streams for as long as the caller keeps reading.
func NewFetchClient(timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext
	tr.TLSHandshakeTimeout = timeout
	tr.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: otelhttp.NewTransport(tr)}
}

// AccessRecorder persists gateway decisions.
// Satisfied by *repository.AccessLogRepository.
type AccessRecorder interface {
	Record(ctx context.Context, e repository.Entry) error
}

// VerificationCounter counts verification outcomes. Satisfied by *obs.Metrics.
type VerificationCounter interface {
	Verification(result string)
}

// Options wires the gateway's collaborators. Verifier and Resolver are
// required for requests to succeed; a nil value makes every authenticated
// request answer 500. The rest are optional.
type Options struct {
	Verifier  auth.TokenVerifier
	Resolver  access.Resolver
	Catalog   *catalog.Catalog
	Blobs     BlobOpener
	Fetcher   HTTPDoer
	AccessLog AccessRecorder
	Metrics   VerificationCounter
	Logger    *zap.Logger
}

// GatewayRequest is the JSON body accepted by the gateway.
type GatewayRequest struct {
	IDToken string `json:"idToken"`
	Token   string `json:"token"`
	FileURL string `json:"fileUrl"`
}

// ContentLists groups granted content ids by type.
type ContentLists struct {
	Books    []string `json:"books"`
	Articles []string `json:"articles"`
	Videos   []string `json:"videos"`
}

// UserSummary describes the caller in a summary response.
type UserSummary struct {
	Email         string `json:"email"`
	UID           string `json:"uid"`
	AccessCount   int    `json:"accessCount"`
	BooksCount    int    `json:"booksCount"`
	ArticlesCount int    `json:"articlesCount"`
	VideosCount   int    `json:"videosCount"`
}

// SummaryResponse is the JSON body returned by POST /.
type SummaryResponse struct {
	Allowed bool           `json:"allowed"`
	Content ContentLists   `json:"content"`
	Items   []catalog.Item `json:"items"`
	User    UserSummary    `json:"user"`
}

type gateway struct {
	Options
}

// NewGatewayHandler returns the handler mounted at "/" and ProxyPath. It
// answers CORS preflights itself.
func NewGatewayHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return middleware.CORS(&gateway{Options: opts})
}

func (g *gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	logger := logging.FromContext(r.Context(), g.Logger)

	req, err := decodeRequest(w, r)
	if err != nil {
		logger.Info("bad request body", zap.Error(err))
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	token := req.IDToken
	if token == "" {
		token = req.Token
	}
	if token == "" {
		token, _ = middleware.BearerToken(r)
	}
	if token == "" {
		writeJSONError(w, http.StatusBadRequest, "missing idToken")
		return
	}
	proxy := r.URL.Path == ProxyPath || req.FileURL != ""
	if proxy && req.FileURL == "" {
		writeJSONError(w, http.StatusBadRequest, "missing fileUrl")
		return
	}

	if g.Verifier == nil || g.Resolver == nil {
		logger.Error("gateway is not configured: verifier or resolver missing")
		writeJSONError(w, http.StatusInternalServerError, "server configuration error")
		return
	}

	entry := repository.Entry{
		RequestID: middleware.RequestIDFromContext(r.Context()),
		Action:    repository.ActionSummary,
	}
	if proxy {
		entry.Action = repository.ActionProxy
		entry.Resource = req.FileURL
	}

	identity, err := g.Verifier.VerifyIDToken(r.Context(), token)
	if err != nil {
		reason := auth.Reason(err)
		g.countVerification(reason)
		logger.Warn("token verification failed", zap.Error(err))
		entry.Reason = reason
		g.record(r.Context(), logger, entry)
		writeUnauthorized(w, reason)
		return
	}
	g.countVerification("ok")
	entry.Subject = identity.Subject
	entry.Email = identity.Email
	logger = logger.With(zap.String("uid", identity.Subject))

	rec, err := g.Resolver.Resolve(r.Context(), identity)
	switch {
	case errors.Is(err, access.ErrRecordNotFound):
		rec = access.Denied()
	case err != nil:
		logger.Error("authorization lookup failed", zap.Error(err))
		entry.Reason = "authorization lookup failed"
		g.record(r.Context(), logger, entry)
		writeUnauthorized(w, entry.Reason)
		return
	}

	if proxy {
		g.serveFile(w, r, logger, rec, entry, req.FileURL)
		return
	}
	g.serveSummary(w, r, logger, identity, rec, entry)
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (GatewayRequest, error) {
	var req GatewayRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, err
	}
	return req, nil
}

// ─── summary ──────────────────────────────────────────────────────────────────

func (g *gateway) serveSummary(w http.ResponseWriter, r *http.Request, logger *zap.Logger,
	identity *auth.VerifiedIdentity, rec *access.Record, entry repository.Entry) {
	resp := g.summarize(identity, rec)

	entry.Allowed = resp.Allowed
	if !resp.Allowed {
		entry.Reason = "not allowed"
	}
	g.record(r.Context(), logger, entry)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// summarize shapes rec for the client. Legacy access ids are classified by
// their catalog type. A record that is not allowed yields empty lists.
func (g *gateway) summarize(identity *auth.VerifiedIdentity, rec *access.Record) SummaryResponse {
	resp := SummaryResponse{
		Content: ContentLists{Books: []string{}, Articles: []string{}, Videos: []string{}},
		Items:   []catalog.Item{},
		User:    UserSummary{Email: identity.Email, UID: identity.Subject},
	}
	if !rec.Allowed {
		return resp
	}
	resp.Allowed = true

	books := newIDSet(rec.AccessBooks)
	articles := newIDSet(rec.AccessArticles)
	videos := newIDSet(rec.AccessVideos)
	for _, id := range rec.Access {
		item, ok := g.Catalog.Lookup(id)
		if !ok {
			continue
		}
		switch item.Type {
		case catalog.TypeBook:
			books.add(id)
		case catalog.TypeArticle:
			articles.add(id)
		case catalog.TypeVideo:
			videos.add(id)
		}
	}
	resp.Content = ContentLists{Books: books.ids, Articles: articles.ids, Videos: videos.ids}

	entries := rec.Entries()
	resp.Items = g.Catalog.Select(entries)
	resp.User.AccessCount = len(entries)
	resp.User.BooksCount = len(books.ids)
	resp.User.ArticlesCount = len(articles.ids)
	resp.User.VideosCount = len(videos.ids)
	return resp
}

// idSet is an insertion-ordered set of ids.
type idSet struct {
	ids  []string
	seen map[string]struct{}
}

func newIDSet(ids []string) *idSet {
	s := &idSet{ids: []string{}, seen: make(map[string]struct{})}
	for _, id := range ids {
		s.add(id)
	}
	return s
}

func (s *idSet) add(id string) {
	if _, ok := s.seen[id]; ok {
		return
	}
	s.seen[id] = struct{}{}
	s.ids = append(s.ids, id)
}

// ─── file proxy ───────────────────────────────────────────────────────────────

func (g *gateway) serveFile(w http.ResponseWriter, r *http.Request, logger *zap.Logger,
	rec *access.Record, entry repository.Entry, fileURL string) {
	if !rec.Allowed || !g.permits(rec, fileURL) {
		entry.Reason = "file not permitted"
		g.record(r.Context(), logger, entry)
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":   "forbidden",
			"details": entry.Reason,
		})
		return
	}

	obj, err := g.open(r.Context(), logger, fileURL)
	if err != nil {
		logger.Error("file fetch failed", zap.String("file_url", fileURL), zap.Error(err))
		entry.Reason = "upstream unavailable"
		g.record(r.Context(), logger, entry)
		writeJSONError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	defer obj.Body.Close()

	entry.Allowed = true
	g.record(r.Context(), logger, entry)

	contentType := obj.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, obj.Body); err != nil {
		logger.Warn("file stream interrupted", zap.String("file_url", fileURL), zap.Error(err))
	}
}

// permits reports whether fileURL is one of the record's entries or the link
// of a catalog item the record grants.
func (g *gateway) permits(rec *access.Record, fileURL string) bool {
	entries := rec.Entries()
	for _, e := range entries {
		if e == fileURL {
			return true
		}
	}
	for _, item := range g.Catalog.Select(entries) {
		if item.Link != "" && item.Link == fileURL {
			return true
		}
	}
	return false
}

// open reads fileURL from the blob store, keyed by its path, and falls back
// to a direct GET for absolute http(s) URLs.
func (g *gateway) open(ctx context.Context, logger *zap.Logger, fileURL string) (*storage.Object, error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return nil, fmt.Errorf("parse file url: %w", err)
	}

	if g.Blobs != nil {
		obj, err := g.Blobs.Open(ctx, u.Path)
		if err == nil {
			return obj, nil
		}
		logger.Info("blob read failed, trying direct fetch", zap.String("key", u.Path), zap.Error(err))
	}

	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New("no blob store and file url is not absolute")
	}
	if g.Fetcher == nil {
		return nil, errors.New("direct fetch is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := g.Fetcher.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch file: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch file: unexpected status %d", resp.StatusCode)
	}
	return &storage.Object{
		Body:        resp.Body,
		ContentType: resp.Header.Get("Content-Type"),
		Size:        resp.ContentLength,
	}, nil
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func (g *gateway) countVerification(result string) {
	if g.Metrics != nil {
		g.Metrics.Verification(result)
	}
}

// record writes e to the access log. Failures are logged only.
func (g *gateway) record(ctx context.Context, logger *zap.Logger, e repository.Entry) {
	if g.AccessLog == nil {
		return
	}
	if err := g.AccessLog.Record(ctx, e); err != nil {
		logger.Warn("access log write failed", zap.Error(err))
	}
}

func writeUnauthorized(w http.ResponseWriter, details string) {
	writeJSON(w, http.StatusForbidden, map[string]string{
		"error":   "unauthorized",
		"details": details,
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
