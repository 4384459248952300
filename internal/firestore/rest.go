package firestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// DefaultBaseURL is the Firestore REST API root.
const DefaultBaseURL = "https://firestore.googleapis.com/v1"

// maxResponseBytes caps every Firestore response body.
const maxResponseBytes = 1 << 20

// HTTPDoer abstracts http.Client.Do so that tests can inject a stub.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTConfig identifies the collection a RESTStore reads from.
type RESTConfig struct {
	BaseURL    string
	ProjectID  string
	APIKey     string
	Collection string
}

// RESTStore reads documents through the Firestore REST API. The API key is
// sent as the "key" query parameter and is never included in returned errors.
type RESTStore struct {
	cfg    RESTConfig
	client HTTPDoer
}

// NewRESTStore constructs a RESTStore. An empty BaseURL selects DefaultBaseURL.
func NewRESTStore(cfg RESTConfig, client HTTPDoer) *RESTStore {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	return &RESTStore{cfg: cfg, client: client}
}

func (s *RESTStore) documentsURL() string {
	return fmt.Sprintf("%s/projects/%s/databases/(default)/documents",
		s.cfg.BaseURL, url.PathEscape(s.cfg.ProjectID))
}

func (s *RESTStore) withKey(u string) string {
	if s.cfg.APIKey == "" {
		return u
	}
	return u + "?key=" + url.QueryEscape(s.cfg.APIKey)
}

// Get fetches the document with the given id. Returns ErrDocumentNotFound on
// a 404.
func (s *RESTStore) Get(ctx context.Context, docID string) (Document, error) {
	u := s.withKey(fmt.Sprintf("%s/%s/%s",
		s.documentsURL(), url.PathEscape(s.cfg.Collection), url.PathEscape(docID)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build get request: %w", err)
	}

	var doc restDocument
	if err := s.do(req, &doc); err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return decodeFields(doc.Fields), nil
}

// runQueryRequest is the body of a documents:runQuery call.
type runQueryRequest struct {
	StructuredQuery structuredQuery `json:"structuredQuery"`
}

type structuredQuery struct {
	From  []collectionSelector `json:"from"`
	Where filter               `json:"where"`
	Limit int                  `json:"limit"`
}

type collectionSelector struct {
	CollectionID string `json:"collectionId"`
}

type filter struct {
	FieldFilter fieldFilter `json:"fieldFilter"`
}

type fieldFilter struct {
	Field fieldReference `json:"field"`
	Op    string         `json:"op"`
	Value Value          `json:"value"`
}

type fieldReference struct {
	FieldPath string `json:"fieldPath"`
}

type runQueryResult struct {
	Document *restDocument `json:"document"`
}

// FindByField returns the first document whose field equals value. Returns
// ErrDocumentNotFound when the query matches nothing.
func (s *RESTStore) FindByField(ctx context.Context, field, value string) (Document, error) {
	body, err := json.Marshal(runQueryRequest{
		StructuredQuery: structuredQuery{
			From: []collectionSelector{{CollectionID: s.cfg.Collection}},
			Where: filter{FieldFilter: fieldFilter{
				Field: fieldReference{FieldPath: field},
				Op:    "EQUAL",
				Value: stringValueOf(value),
			}},
			Limit: 1,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.withKey(s.documentsURL()+":runQuery"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var results []runQueryResult
	if err := s.do(req, &results); err != nil {
		return nil, fmt.Errorf("run query: %w", err)
	}
	for _, r := range results {
		if r.Document != nil {
			return decodeFields(r.Document.Fields), nil
		}
	}
	return nil, ErrDocumentNotFound
}

// do sends req and decodes a 2xx JSON body into out.
func (s *RESTStore) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		// *url.Error repeats the request URL, which carries the API key.
		var ue *url.Error
		if errors.As(err, &ue) {
			return fmt.Errorf("%s firestore: %w", ue.Op, ue.Err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrDocumentNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return fmt.Errorf("firestore returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
