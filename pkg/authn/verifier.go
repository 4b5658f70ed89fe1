package authn

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/gatekeeper-proxy/gatekeeper/pkg/errors"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/identity"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/logger"
)

// VerifierConfig contains configuration for the credential verifier.
type VerifierConfig struct {
	// Issuer is the expected issuer claim. Empty disables issuer checking.
	Issuer string

	// JWKSURL is the identity provider's key-set endpoint.
	JWKSURL string

	// Algorithms are the signing algorithms the provider declares as
	// supported. Verification is pinned to this set regardless of what a
	// credential's header claims, preventing downgrade attacks.
	Algorithms []string

	// Audience is the expected audience claim, checked only when
	// ValidateAudience is set. Audience verification is relaxed by default.
	Audience         string
	ValidateAudience bool

	// GroupsClaim is the claim carrying group/role names. Defaults to "groups".
	GroupsClaim string

	// HTTPClient overrides the client used for JWKS fetches.
	HTTPClient *http.Client
}

// Verifier decodes and cryptographically verifies presented credentials
// against the identity provider's key set.
type Verifier struct {
	issuer           string
	jwksURL          string
	algorithms       []string
	audience         string
	validateAudience bool
	groupsClaim      string
	jwksCache        *jwk.Cache

	// Lazy JWKS registration
	jwksRegistered      bool
	jwksRegistrationMu  sync.Mutex
	jwksRegistrationErr error
}

// NewVerifier creates a credential verifier backed by a cached key set.
// The key set is registered lazily on first use to avoid blocking startup.
func NewVerifier(ctx context.Context, config VerifierConfig) (*Verifier, error) {
	if config.JWKSURL == "" {
		return nil, errors.NewConfigError("JWKS URL is required", nil)
	}

	algorithms := config.Algorithms
	if len(algorithms) == 0 {
		algorithms = []string{"RS256"}
	}

	groupsClaim := config.GroupsClaim
	if groupsClaim == "" {
		groupsClaim = "groups"
	}

	httprcClient := httprc.NewClient()
	if config.HTTPClient != nil {
		httprcClient = httprc.NewClient(httprc.WithHTTPClient(config.HTTPClient))
	}
	cache, err := jwk.NewCache(ctx, httprcClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	return &Verifier{
		issuer:           config.Issuer,
		jwksURL:          config.JWKSURL,
		algorithms:       algorithms,
		audience:         config.Audience,
		validateAudience: config.ValidateAudience,
		groupsClaim:      groupsClaim,
		jwksCache:        cache,
	}, nil
}

// JWKSURL returns the key-set endpoint the verifier checks against.
func (v *Verifier) JWKSURL() string {
	return v.jwksURL
}

// ensureJWKSRegistered ensures that the JWKS URL is registered with the
// cache. Called lazily on first use.
func (v *Verifier) ensureJWKSRegistered(ctx context.Context) error {
	v.jwksRegistrationMu.Lock()
	defer v.jwksRegistrationMu.Unlock()

	if v.jwksRegistered {
		return v.jwksRegistrationErr
	}

	registrationCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := v.jwksCache.Register(registrationCtx, v.jwksURL); err != nil {
		v.jwksRegistrationErr = fmt.Errorf("failed to register JWKS URL: %w", err)
	} else {
		v.jwksRegistrationErr = nil
	}

	v.jwksRegistered = true
	return v.jwksRegistrationErr
}

// keyFromJWKS resolves the signing key named by the credential header. On a
// key-identifier miss the cached set is refreshed exactly once; key rotation
// at the provider must not force a process restart, but a lookup never loops.
func (v *Verifier) keyFromJWKS(ctx context.Context, token *jwt.Token) (any, error) {
	if err := v.ensureJWKSRegistered(ctx); err != nil {
		return nil, err
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token header missing kid")
	}

	keySet, err := v.jwksCache.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		logger.Debugf("key ID %s not cached, refreshing JWKS", kid)
		keySet, err = v.jwksCache.Refresh(ctx, v.jwksURL)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
		}
		key, found = keySet.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
		}
	}

	var rawKey any
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}

	return rawKey, nil
}

// validateClaims validates expiry, issuer, and (when enabled) audience.
func (v *Verifier) validateClaims(claims jwt.MapClaims) error {
	expirationTime, err := claims.GetExpirationTime()
	if err != nil || expirationTime == nil || expirationTime.Before(time.Now()) {
		return fmt.Errorf("token expired")
	}

	if v.issuer != "" {
		issuerClaim, err := claims.GetIssuer()
		if err != nil {
			return fmt.Errorf("failed to get issuer from claims: %w", err)
		}
		if strings.TrimSpace(issuerClaim) != strings.TrimSpace(v.issuer) {
			return fmt.Errorf("invalid issuer")
		}
	}

	if v.validateAudience && v.audience != "" {
		audiences, err := claims.GetAudience()
		if err != nil {
			return fmt.Errorf("invalid audience")
		}
		found := false
		for _, aud := range audiences {
			if aud == v.audience {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("invalid audience")
		}
	}

	return nil
}

// Verify decodes and verifies a credential, returning the identity it
// asserts. Failure of any step yields a verification error; a failed
// verification never grants a default role.
func (v *Verifier) Verify(ctx context.Context, credential string) (*identity.Identity, error) {
	token, err := jwt.Parse(credential, func(token *jwt.Token) (any, error) {
		return v.keyFromJWKS(ctx, token)
	}, jwt.WithValidMethods(v.algorithms))
	if err != nil {
		return nil, errors.NewVerificationError("failed to parse token", err)
	}
	if !token.Valid {
		return nil, errors.NewVerificationError("invalid token", nil)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.NewVerificationError("failed to get claims from token", nil)
	}

	if err := v.validateClaims(claims); err != nil {
		return nil, errors.NewVerificationError("claim validation failed", err)
	}

	caller, err := claimsToIdentity(claims, credential, v.groupsClaim)
	if err != nil {
		return nil, errors.NewVerificationError("failed to extract identity", err)
	}

	return caller, nil
}

// claimsToIdentity converts verified claims to an Identity. The display
// name falls back from 'name' to 'preferred_username' to 'email'; the
// fallback order is decided here once, never re-derived downstream.
func claimsToIdentity(claims jwt.MapClaims, token, groupsClaim string) (*identity.Identity, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("missing or invalid 'sub' claim")
	}

	caller := &identity.Identity{
		Subject: sub,
		Claims:  claims,
		Token:   token,
		Groups:  []string{},
	}

	if email, ok := claims["email"].(string); ok {
		caller.Email = email
	}

	for _, claim := range []string{"name", "preferred_username", "email"} {
		if name, ok := claims[claim].(string); ok && name != "" {
			caller.Name = name
			break
		}
	}

	if raw, ok := claims[groupsClaim].([]any); ok {
		for _, g := range raw {
			if s, ok := g.(string); ok {
				caller.Groups = append(caller.Groups, s)
			}
		}
	}

	return caller, nil
}
