// Package auth verifies Firebase ID tokens without the Firebase Admin SDK:
// the issuer's RSA keys are fetched from its public key-set endpoint and the
// RS256 signature and standard claims are checked locally.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// IssuerPrefix is joined with the project id to form the expected "iss".
const IssuerPrefix = "https://securetoken.google.com/"

const tracerName = "github.com/ai-teammate/contentgate/internal/auth"

// VerifiedIdentity holds the trusted claims of a verified ID token. It lives
// for a single request.
type VerifiedIdentity struct {
	// Subject is the Firebase user UID.
	Subject string
	// Email is empty when the token carries no email claim.
	Email     string
	ExpiresAt time.Time
}

// TokenVerifier is the interface that wraps ID-token verification.
// The interface makes the gateway unit-testable by allowing tests to inject a
// stub that does not fetch keys.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*VerifiedIdentity, error)
}

// KeySource resolves a key id to a signing key. Satisfied by *KeyResolver.
type KeySource interface {
	Resolve(ctx context.Context, keyID string) (*SigningKey, error)
}

// Verifier is the production TokenVerifier.
type Verifier struct {
	projectID string
	issuer    string
	keys      KeySource
	now       func() time.Time
	parser    *jwt.Parser
	tracer    trace.Tracer
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock overrides time.Now for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a Verifier that accepts tokens issued for projectID and
// signed by a key from keys.
func NewVerifier(projectID string, keys KeySource, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		projectID: projectID,
		issuer:    IssuerPrefix + projectID,
		keys:      keys,
		now:       time.Now,
		tracer:    otel.Tracer(tracerName),
		// RS256 is pinned here; the header's alg is never trusted. Claims are
		// checked by verifyClaims so that each failure maps to one error.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// firebaseClaims is the payload of a Firebase ID token.
type firebaseClaims struct {
	Email  string `json:"email,omitempty"`
	UserID string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// VerifyIDToken validates the token signature and claims and returns the
// verified identity. Errors wrap one of the package's sentinel errors.
func (v *Verifier) VerifyIDToken(ctx context.Context, idToken string) (*VerifiedIdentity, error) {
	ctx, span := v.tracer.Start(ctx, "auth.VerifyIDToken")
	defer span.End()

	id, err := v.verify(ctx, idToken)
	if err != nil {
		span.SetAttributes(attribute.String("auth.failure", Reason(err)))
		span.SetStatus(codes.Error, Reason(err))
		return nil, err
	}
	return id, nil
}

func (v *Verifier) verify(ctx context.Context, idToken string) (*VerifiedIdentity, error) {
	if strings.Count(idToken, ".") != 2 {
		return nil, fmt.Errorf("%w: expected three segments", ErrTokenMalformed)
	}

	claims := &firebaseClaims{}
	_, err := v.parser.ParseWithClaims(idToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := v.keys.Resolve(ctx, kid)
		if err != nil {
			return nil, err
		}
		return key.PublicKey, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	if err := v.verifyClaims(claims); err != nil {
		return nil, err
	}

	subject := claims.Subject
	if subject == "" {
		subject = claims.UserID
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrTokenMalformed)
	}

	return &VerifiedIdentity{
		Subject:   subject,
		Email:     claims.Email,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// verifyClaims checks exp, aud and iss in that order.
func (v *Verifier) verifyClaims(c *firebaseClaims) error {
	if c.ExpiresAt == nil {
		return fmt.Errorf("%w: no exp claim", ErrTokenExpired)
	}
	if now := v.now().Unix(); c.ExpiresAt.Unix() <= now {
		return fmt.Errorf("%w: exp %d, now %d", ErrTokenExpired, c.ExpiresAt.Unix(), now)
	}
	if len(c.Audience) != 1 || c.Audience[0] != v.projectID {
		return fmt.Errorf("%w: got %v", ErrAudienceMismatch, []string(c.Audience))
	}
	if c.Issuer != v.issuer {
		return fmt.Errorf("%w: got %q", ErrIssuerMismatch, c.Issuer)
	}
	return nil
}

// classify maps jwt library errors onto the package's sentinel errors. Key
// resolution errors pass through untouched.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrKeyNotFound), errors.Is(err, ErrKeySetUnavailable):
		return err
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		// Unverifiable covers an alg the library does not know at all.
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
