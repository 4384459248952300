// Package access resolves a verified identity to its authorization record.
// Records are looked up through an ordered list of strategies against a
// document store, optionally behind a read-through cache.
package access

import (
	"github.com/ai-teammate/contentgate/internal/firestore"
)

// Record is the per-user authorization document. It is read-only for this
// service.
type Record struct {
	Allowed        bool     `json:"allowed"`
	AccessBooks    []string `json:"accessBooks"`
	AccessArticles []string `json:"accessArticles"`
	AccessVideos   []string `json:"accessVideos"`
	// Access is the legacy flat list of content ids.
	Access []string `json:"access"`
}

// ParseRecord builds a Record from a store document. Missing or mistyped
// fields take their zero value; non-string list items are dropped.
func ParseRecord(doc firestore.Document) *Record {
	allowed, _ := doc["allowed"].(bool)
	return &Record{
		Allowed:        allowed,
		AccessBooks:    stringList(doc["accessBooks"]),
		AccessArticles: stringList(doc["accessArticles"]),
		AccessVideos:   stringList(doc["accessVideos"]),
		Access:         stringList(doc["access"]),
	}
}

func stringList(v any) []string {
	out := []string{}
	switch items := v.(type) {
	case []any:
		for _, item := range items {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, items...)
	}
	return out
}

// Entries returns every content entry granted by the record, without
// duplicates, in list order: books, articles, videos, then legacy access.
func (r *Record) Entries() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]string{r.AccessBooks, r.AccessArticles, r.AccessVideos, r.Access} {
		for _, e := range list {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

// Denied is the record returned for identities without a usable record.
func Denied() *Record {
	return &Record{
		AccessBooks:    []string{},
		AccessArticles: []string{},
		AccessVideos:   []string{},
		Access:         []string{},
	}
}
