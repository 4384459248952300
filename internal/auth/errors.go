package auth

import "errors"

// Verification failures. Callers match them with errors.Is; the wrapped
// detail is for logs only.
var (
	ErrTokenMalformed    = errors.New("token malformed")
	ErrKeyNotFound       = errors.New("signing key not found")
	ErrKeySetUnavailable = errors.New("signing key set unavailable")
	ErrSignatureInvalid  = errors.New("token signature invalid")
	ErrTokenExpired      = errors.New("token expired")
	ErrAudienceMismatch  = errors.New("token audience mismatch")
	ErrIssuerMismatch    = errors.New("token issuer mismatch")
)

var reasons = []error{
	ErrTokenMalformed,
	ErrKeyNotFound,
	ErrKeySetUnavailable,
	ErrSignatureInvalid,
	ErrTokenExpired,
	ErrAudienceMismatch,
	ErrIssuerMismatch,
}

// Reason returns the sentinel message for a verification error, or
// "verification failed" when err is not one of this package's errors. The
// result never contains key material or upstream response bodies, so it is
// safe to hand back to an unauthenticated caller.
func Reason(err error) string {
	for _, r := range reasons {
		if errors.Is(err, r) {
			return r.Error()
		}
	}
	return "verification failed"
}
