// Package testutil provides shared test helpers: RSA signers that mint
// Firebase-shaped ID tokens and an httptest server publishing their keys.
//
// Every helper calls t.Helper() so that failures report the caller's line.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// keyCache keeps generated keys per kid; 2048-bit generation is slow enough
// to matter across a test binary.
var (
	keyCacheMu sync.Mutex
	keyCache   = map[string]*rsa.PrivateKey{}
)

// Signer mints RS256 tokens under a fixed key id.
type Signer struct {
	KeyID string
	Key   *rsa.PrivateKey
}

// NewSigner returns a signer for kid, reusing the key if kid was seen before.
func NewSigner(t testing.TB, kid string) *Signer {
	t.Helper()
	keyCacheMu.Lock()
	defer keyCacheMu.Unlock()

	key, ok := keyCache[kid]
	if !ok {
		var err error
		key, err = rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err, "generate rsa key")
		keyCache[kid] = key
	}
	return &Signer{KeyID: kid, Key: key}
}

// JWK returns the public half of the signer as a JWKS entry.
func (s *Signer) JWK() map[string]string {
	return map[string]string{
		"kid": s.KeyID,
		"kty": "RSA",
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(s.Key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(s.Key.E)).Bytes()),
	}
}

// Sign returns a compact RS256 token carrying claims and the signer's kid.
func (s *Signer) Sign(t testing.TB, claims jwt.Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = s.KeyID
	signed, err := tok.SignedString(s.Key)
	require.NoError(t, err, "sign token")
	return signed
}

// FirebaseClaims returns the claims Firebase puts in an ID token for uid.
func FirebaseClaims(projectID, uid, email string, exp time.Time) jwt.MapClaims {
	c := jwt.MapClaims{
		"iss":     "https://securetoken.google.com/" + projectID,
		"aud":     projectID,
		"sub":     uid,
		"user_id": uid,
		"iat":     exp.Add(-time.Hour).Unix(),
		"exp":     exp.Unix(),
	}
	if email != "" {
		c["email"] = email
	}
	return c
}

// KeySetServer serves the given signers as a JWKS document with the given
// max-age and counts the requests it receives.
type KeySetServer struct {
	*httptest.Server
	hits atomic.Int32

	mu      sync.Mutex
	signers []*Signer
}

// NewKeySetServer starts a JWKS server; it is closed when the test ends.
func NewKeySetServer(t testing.TB, maxAge int, signers ...*Signer) *KeySetServer {
	t.Helper()
	ks := &KeySetServer{signers: signers}
	ks.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		ks.hits.Add(1)
		ks.mu.Lock()
		keys := make([]map[string]string, 0, len(ks.signers))
		for _, s := range ks.signers {
			keys = append(keys, s.JWK())
		}
		ks.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAge)+", must-revalidate, no-transform")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(ks.Close)
	return ks
}

// Hits reports how many times the key set was fetched.
func (ks *KeySetServer) Hits() int {
	return int(ks.hits.Load())
}

// SetSigners replaces the published keys, simulating a rotation.
func (ks *KeySetServer) SetSigners(signers ...*Signer) {
	ks.mu.Lock()
	ks.signers = signers
	ks.mu.Unlock()
}
