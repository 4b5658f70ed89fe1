package authn

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatekeeper-proxy/gatekeeper/pkg/errors"
)

// jwksServer serves a mutable key set, standing in for an identity
// provider's JWKS endpoint.
type jwksServer struct {
	mu  sync.Mutex
	set jwk.Set

	*httptest.Server
}

func newJWKSServer(t *testing.T) *jwksServer {
	t.Helper()
	s := &jwksServer{set: jwk.NewSet()}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(s.set))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *jwksServer) addKey(t *testing.T, kid string, pub *rsa.PublicKey) {
	t.Helper()
	key, err := jwk.Import(pub)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, kid))
	require.NoError(t, key.Set(jwk.AlgorithmKey, "RS256"))

	s.mu.Lock()
	defer s.mu.Unlock()
	require.NoError(t, s.set.AddKey(key))
}

func newSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

func baseClaims(issuer string) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": issuer,
		"sub": "user-123",
		"aud": "gateway",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	key := newSigningKey(t)
	srv := newJWKSServer(t)
	srv.addKey(t, "key-1", &key.PublicKey)

	verifier, err := NewVerifier(context.Background(), VerifierConfig{
		Issuer:  "https://idp.example.com",
		JWKSURL: srv.URL,
	})
	require.NoError(t, err)

	claims := baseClaims("https://idp.example.com")
	claims["name"] = "Alice Example"
	claims["email"] = "alice@example.com"
	claims["groups"] = []any{"engineers", "oncall"}

	identity, err := verifier.Verify(context.Background(), signToken(t, key, "key-1", claims))
	require.NoError(t, err)

	assert.Equal(t, "user-123", identity.Subject)
	assert.Equal(t, "Alice Example", identity.Name)
	assert.Equal(t, "alice@example.com", identity.Email)
	assert.Equal(t, []string{"engineers", "oncall"}, identity.Groups)
	assert.NotEmpty(t, identity.Token)
}

func TestVerifyRejections(t *testing.T) {
	t.Parallel()

	key := newSigningKey(t)
	srv := newJWKSServer(t)
	srv.addKey(t, "key-1", &key.PublicKey)

	verifier, err := NewVerifier(context.Background(), VerifierConfig{
		Issuer:  "https://idp.example.com",
		JWKSURL: srv.URL,
	})
	require.NoError(t, err)

	otherKey := newSigningKey(t)

	tests := []struct {
		name  string
		token func(t *testing.T) string
	}{
		{
			name: "garbage credential",
			token: func(_ *testing.T) string {
				return "not-a-token"
			},
		},
		{
			name: "expired",
			token: func(t *testing.T) string {
				claims := baseClaims("https://idp.example.com")
				claims["exp"] = time.Now().Add(-time.Minute).Unix()
				return signToken(t, key, "key-1", claims)
			},
		},
		{
			name: "wrong issuer",
			token: func(t *testing.T) string {
				return signToken(t, key, "key-1", baseClaims("https://evil.example.com"))
			},
		},
		{
			name: "missing subject",
			token: func(t *testing.T) string {
				claims := baseClaims("https://idp.example.com")
				delete(claims, "sub")
				return signToken(t, key, "key-1", claims)
			},
		},
		{
			name: "unknown key id",
			token: func(t *testing.T) string {
				return signToken(t, otherKey, "key-404", baseClaims("https://idp.example.com"))
			},
		},
		{
			name: "symmetric algorithm is pinned out",
			token: func(t *testing.T) string {
				tok := jwt.NewWithClaims(jwt.SigningMethodHS256, baseClaims("https://idp.example.com"))
				tok.Header["kid"] = "key-1"
				signed, err := tok.SignedString([]byte("shared-secret"))
				require.NoError(t, err)
				return signed
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := verifier.Verify(context.Background(), tc.token(t))
			require.Error(t, err)
			assert.True(t, errors.IsVerification(err), "expected a verification error, got %v", err)
		})
	}
}

func TestVerifyRefreshesOnKeyRotation(t *testing.T) {
	t.Parallel()

	oldKey := newSigningKey(t)
	srv := newJWKSServer(t)
	srv.addKey(t, "key-old", &oldKey.PublicKey)

	verifier, err := NewVerifier(context.Background(), VerifierConfig{
		Issuer:  "https://idp.example.com",
		JWKSURL: srv.URL,
	})
	require.NoError(t, err)

	// Prime the cache with the pre-rotation set.
	_, err = verifier.Verify(context.Background(),
		signToken(t, oldKey, "key-old", baseClaims("https://idp.example.com")))
	require.NoError(t, err)

	// The provider rotates; a credential signed with the new key must
	// verify without restarting the process.
	newKey := newSigningKey(t)
	srv.addKey(t, "key-new", &newKey.PublicKey)

	identity, err := verifier.Verify(context.Background(),
		signToken(t, newKey, "key-new", baseClaims("https://idp.example.com")))
	require.NoError(t, err)
	assert.Equal(t, "user-123", identity.Subject)
}

func TestVerifyAudience(t *testing.T) {
	t.Parallel()

	key := newSigningKey(t)
	srv := newJWKSServer(t)
	srv.addKey(t, "key-1", &key.PublicKey)

	newVerifier := func(t *testing.T, validate bool) *Verifier {
		v, err := NewVerifier(context.Background(), VerifierConfig{
			Issuer:           "https://idp.example.com",
			JWKSURL:          srv.URL,
			Audience:         "gateway",
			ValidateAudience: validate,
		})
		require.NoError(t, err)
		return v
	}

	foreign := baseClaims("https://idp.example.com")
	foreign["aud"] = "some-other-client"
	foreignToken := signToken(t, key, "key-1", foreign)
	matchingToken := signToken(t, key, "key-1", baseClaims("https://idp.example.com"))

	t.Run("relaxed by default", func(t *testing.T) {
		t.Parallel()
		v := newVerifier(t, false)
		_, err := v.Verify(context.Background(), foreignToken)
		assert.NoError(t, err)
	})

	t.Run("enforced when enabled", func(t *testing.T) {
		t.Parallel()
		v := newVerifier(t, true)

		_, err := v.Verify(context.Background(), matchingToken)
		assert.NoError(t, err)

		_, err = v.Verify(context.Background(), foreignToken)
		require.Error(t, err)
		assert.True(t, errors.IsVerification(err))
	})
}

func TestClaimsToIdentityNameFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		claims   jwt.MapClaims
		wantName string
	}{
		{
			name: "name claim wins",
			claims: jwt.MapClaims{
				"sub": "s", "name": "Alice", "preferred_username": "alice", "email": "a@example.com",
			},
			wantName: "Alice",
		},
		{
			name: "preferred_username next",
			claims: jwt.MapClaims{
				"sub": "s", "preferred_username": "alice", "email": "a@example.com",
			},
			wantName: "alice",
		},
		{
			name:     "email last",
			claims:   jwt.MapClaims{"sub": "s", "email": "a@example.com"},
			wantName: "a@example.com",
		},
		{
			name:     "no candidates leaves it empty",
			claims:   jwt.MapClaims{"sub": "s"},
			wantName: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			identity, err := claimsToIdentity(tc.claims, "raw-token", "groups")
			require.NoError(t, err)
			assert.Equal(t, tc.wantName, identity.Name)
		})
	}
}

func TestClaimsToIdentityGroups(t *testing.T) {
	t.Parallel()

	identity, err := claimsToIdentity(jwt.MapClaims{
		"sub":   "s",
		"roles": []any{"admins", "auditors"},
	}, "raw-token", "roles")
	require.NoError(t, err)
	assert.Equal(t, []string{"admins", "auditors"}, identity.Groups)

	// A missing groups claim yields an empty slice, not nil.
	identity, err = claimsToIdentity(jwt.MapClaims{"sub": "s"}, "raw-token", "groups")
	require.NoError(t, err)
	require.NotNil(t, identity.Groups)
	assert.Empty(t, identity.Groups)
}
