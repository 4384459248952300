package access

import (
	"context"
	"errors"
	"strings"

	"github.com/ai-teammate/contentgate/internal/auth"
	"github.com/ai-teammate/contentgate/internal/firestore"
)

// ErrNotApplicable is returned by a strategy whose input is missing from the
// identity, for example an email lookup for a token without an email claim.
var ErrNotApplicable = errors.New("strategy not applicable")

// DocumentStore reads authorization documents. Implementations return
// firestore.ErrDocumentNotFound when nothing matches.
// Satisfied by *firestore.RESTStore and *firestore.AdminStore.
type DocumentStore interface {
	Get(ctx context.Context, docID string) (firestore.Document, error)
	FindByField(ctx context.Context, field, value string) (firestore.Document, error)
}

// Strategy is one named way of locating an identity's document.
type Strategy struct {
	Name   string
	Lookup func(ctx context.Context, store DocumentStore, id *auth.VerifiedIdentity) (firestore.Document, error)
}

// EmailDocID looks up the document whose id is the lowercased email.
var EmailDocID = Strategy{
	Name: "email-doc-id",
	Lookup: func(ctx context.Context, store DocumentStore, id *auth.VerifiedIdentity) (firestore.Document, error) {
		email := normalizeEmail(id.Email)
		if email == "" {
			return nil, ErrNotApplicable
		}
		return store.Get(ctx, email)
	},
}

// UIDDocID looks up the document whose id is the subject.
var UIDDocID = Strategy{
	Name: "uid-doc-id",
	Lookup: func(ctx context.Context, store DocumentStore, id *auth.VerifiedIdentity) (firestore.Document, error) {
		if id.Subject == "" {
			return nil, ErrNotApplicable
		}
		return store.Get(ctx, id.Subject)
	},
}

// EmailFieldQuery queries for a document whose "email" field equals the
// lowercased email.
var EmailFieldQuery = Strategy{
	Name: "email-field-query",
	Lookup: func(ctx context.Context, store DocumentStore, id *auth.VerifiedIdentity) (firestore.Document, error) {
		email := normalizeEmail(id.Email)
		if email == "" {
			return nil, ErrNotApplicable
		}
		return store.FindByField(ctx, "email", email)
	},
}

// DefaultStrategies returns the lookup order used in production.
func DefaultStrategies() []Strategy {
	return []Strategy{EmailDocID, UIDDocID, EmailFieldQuery}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
