package authn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/gatekeeper-proxy/gatekeeper/pkg/errors"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/identity"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/logger"
	"github.com/gatekeeper-proxy/gatekeeper/pkg/session"
)

// Route paths of the gateway's authentication surface.
const (
	LoginPath    = "/login"
	CallbackPath = "/auth"
	LogoutPath   = "/logout"
	AboutMePath  = "/about/me"
)

// DefaultLandingPath is where callers land after login when no continuation
// URL was recorded, and after a defensive session wipe.
const DefaultLandingPath = AboutMePath

// pendingTTL bounds how long an issued login handshake stays redeemable.
const pendingTTL = 10 * time.Minute

// FlowConfig contains configuration for the authentication flow.
type FlowConfig struct {
	// Issuer is the OIDC issuer URL; endpoints are discovered from it.
	Issuer string

	// ClientID and ClientSecret identify the gateway at the provider.
	ClientID     string
	ClientSecret string

	// RedirectURI is the externally reachable URL of the /auth callback.
	RedirectURI string

	// Scopes requested on login. Must include openid; the groups scope is
	// required for route authorization.
	Scopes []string

	// GroupsClaim names the claim carrying group membership.
	GroupsClaim string

	// Audience and ValidateAudience configure the relaxed-by-default
	// audience check; Audience defaults to ClientID when validation is on.
	Audience         string
	ValidateAudience bool

	// PersistBearer makes a verified bearer credential also populate the
	// caller's session instead of staying request-scoped.
	PersistBearer bool

	// HTTPClient overrides the client used for discovery, token exchange,
	// and JWKS fetches.
	HTTPClient *http.Client
}

// pendingLogin is an in-progress handshake, keyed by its CSRF state value.
type pendingLogin struct {
	sessionID string
	createdAt time.Time
}

// Flow is the authentication state machine: it initiates the interactive
// login redirect, handles the callback/code exchange, resolves identities
// from sessions or bearer credentials, and terminates sessions on logout.
// Immutable after construction; handlers share it across requests.
type Flow struct {
	oauth         oauth2.Config
	verifier      *Verifier
	sessions      *session.Manager
	cookies       *session.CookieCodec
	issuer        string
	persistBearer bool
	httpClient    *http.Client

	pendingMu sync.Mutex
	pending   map[string]pendingLogin
}

// NewFlow discovers the identity provider's endpoints and constructs the
// authentication flow. Discovery happens once, at startup; a provider that
// cannot be reached is a startup failure, not a per-request retry.
func NewFlow(ctx context.Context, config FlowConfig, sessions *session.Manager, cookies *session.CookieCodec) (*Flow, error) {
	if config.Issuer == "" || config.ClientID == "" {
		return nil, errors.NewConfigError("issuer and client-id are required", nil)
	}

	if config.HTTPClient != nil {
		ctx = oidc.ClientContext(ctx, config.HTTPClient)
	}

	provider, err := oidc.NewProvider(ctx, config.Issuer)
	if err != nil {
		return nil, errors.NewConfigError("failed to discover OIDC endpoints", err)
	}

	var doc DiscoveryDocument
	if err := provider.Claims(&doc); err != nil {
		return nil, errors.NewConfigError("failed to extract provider metadata", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, errors.NewConfigError("invalid discovery document", err)
	}

	scopes := config.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email", "groups"}
	}
	hasOpenID := false
	for _, s := range scopes {
		if s == "openid" {
			hasOpenID = true
			break
		}
	}
	if !hasOpenID {
		return nil, errors.NewConfigError("openid scope is required", nil)
	}

	audience := config.Audience
	if config.ValidateAudience && audience == "" {
		audience = config.ClientID
	}

	verifier, err := NewVerifier(ctx, VerifierConfig{
		Issuer:           doc.Issuer,
		JWKSURL:          doc.JWKSURI,
		Algorithms:       doc.SigningAlgorithms(),
		Audience:         audience,
		ValidateAudience: config.ValidateAudience,
		GroupsClaim:      config.GroupsClaim,
		HTTPClient:       config.HTTPClient,
	})
	if err != nil {
		return nil, err
	}

	logger.Infow("OIDC provider configured",
		"issuer", doc.Issuer,
		"algorithms", doc.SigningAlgorithms(),
		"scopes", scopes,
	)

	// Send client credentials in the request body rather than letting the
	// library auto-detect, for consistent behavior across IDP implementations.
	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &Flow{
		oauth: oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURI,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
		verifier:      verifier,
		sessions:      sessions,
		cookies:       cookies,
		issuer:        doc.Issuer,
		persistBearer: config.PersistBearer,
		httpClient:    config.HTTPClient,
		pending:       make(map[string]pendingLogin),
	}, nil
}

// Verifier exposes the flow's credential verifier.
func (f *Flow) Verifier() *Verifier {
	return f.verifier
}

// sessionFor returns the caller's session, creating an empty one (and
// setting the cookie) on first contact.
func (f *Flow) sessionFor(w http.ResponseWriter, r *http.Request) *session.Session {
	if id, ok := f.cookies.ReadCookie(r); ok {
		if sess, ok := f.sessions.Get(id); ok {
			return sess
		}
	}
	sess := f.sessions.Add()
	f.cookies.SetCookie(w, sess.ID())
	return sess
}

// addPending records an issued handshake and sweeps expired ones.
func (f *Flow) addPending(state, sessionID string) {
	now := time.Now()

	f.pendingMu.Lock()
	defer f.pendingMu.Unlock()
	for s, p := range f.pending {
		if now.Sub(p.createdAt) > pendingTTL {
			delete(f.pending, s)
		}
	}
	f.pending[state] = pendingLogin{sessionID: sessionID, createdAt: now}
}

// popPending redeems a handshake by state value. Each state is redeemable
// at most once.
func (f *Flow) popPending(state string) (pendingLogin, bool) {
	f.pendingMu.Lock()
	defer f.pendingMu.Unlock()
	p, ok := f.pending[state]
	if ok {
		delete(f.pending, state)
	}
	if ok && time.Since(p.createdAt) > pendingTTL {
		return pendingLogin{}, false
	}
	return p, ok
}

// LoginHandler initiates the interactive login: it binds a fresh CSRF state
// to the caller's session and redirects to the authorization endpoint.
func (f *Flow) LoginHandler(w http.ResponseWriter, r *http.Request) {
	sess := f.sessionFor(w, r)

	state := uuid.NewString()
	f.addPending(state, sess.ID())

	http.Redirect(w, r, f.oauth.AuthCodeURL(state), http.StatusFound)
}

// CallbackHandler completes the login: it checks the CSRF state, exchanges
// the authorization code for tokens, verifies the ID token, and populates
// the session. A state mismatch is treated as a CSRF attack: all session
// state is wiped and the caller is redirected to a safe default.
func (f *Flow) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	sess := f.sessionFor(w, r)

	state := r.FormValue("state")
	pend, ok := f.popPending(state)
	if state == "" || !ok || pend.sessionID != sess.ID() {
		logger.Errorw("wiping session after login callback",
			"error", errors.NewCSRFMismatchError("state does not match a pending login", nil),
		)
		sess.Wipe()
		http.Redirect(w, r, DefaultLandingPath, http.StatusFound)
		return
	}

	code := r.FormValue("code")
	if code == "" {
		http.Error(w, "authorization code missing", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if f.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, f.httpClient)
	}

	// Single attempt; a failed exchange surfaces to the caller.
	token, err := f.oauth.Exchange(ctx, code)
	if err != nil {
		logger.Errorw("authorization code exchange failed", "error", err)
		http.Error(w, "authentication failed", http.StatusBadGateway)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		http.Error(w, "ID token missing from response", http.StatusBadRequest)
		return
	}

	caller, err := f.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		logger.Warnw("ID token verification failed", "error", err)
		http.Error(w, "token verification failed", http.StatusUnauthorized)
		return
	}

	sess.SetIdentity(caller)
	logger.Infow("user authenticated", "name", caller.Name, "subject", caller.Subject)

	http.Redirect(w, r, sess.PopNextURL(DefaultLandingPath), http.StatusFound)
}

// LogoutHandler clears the session's identity. Logging out an anonymous
// caller is not an error; the operation is idempotent.
func (f *Flow) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if id, ok := f.cookies.ReadCookie(r); ok {
		if sess, ok := f.sessions.Get(id); ok {
			if caller := sess.Identity(); caller != nil {
				logger.Infow("user logged out", "name", caller.Name)
			}
			sess.ClearIdentity()
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "Successfully logged out."})
}

// AboutMeHandler returns the resolved identity as structured data. It runs
// behind the auth middleware, so the identity is always present.
func (f *Flow) AboutMeHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		http.Error(w, "not authenticated", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*identity.Identity{"user": caller})
}

// ResolveIdentity returns the caller's identity: the session's if present,
// else a bearer credential verified on the spot. An unverified token is
// never trusted.
func (f *Flow) ResolveIdentity(r *http.Request) (*identity.Identity, error) {
	var sess *session.Session
	if id, ok := f.cookies.ReadCookie(r); ok {
		if s, ok := f.sessions.Get(id); ok {
			sess = s
			if caller := s.Identity(); caller != nil {
				return caller, nil
			}
		}
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errors.NewUnauthenticatedError("not authenticated", nil)
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return nil, errors.NewUnauthenticatedError("invalid Authorization header format", nil)
	}

	caller, err := f.verifier.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		return nil, errors.NewUnauthenticatedError("bearer credential rejected", err)
	}

	if f.persistBearer && sess != nil {
		sess.SetIdentity(caller)
	}

	return caller, nil
}

// Middleware enforces authentication. Browser callers without an identity
// get their requested URL recorded and a redirect to /login; API callers
// get a 401 with a WWW-Authenticate challenge.
func (f *Flow) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := f.ResolveIdentity(r)
		if err != nil {
			if wantsLoginRedirect(r) {
				sess := f.sessionFor(w, r)
				sess.SetNextURL(r.URL.RequestURI())
				http.Redirect(w, r, LoginPath, http.StatusFound)
				return
			}
			w.Header().Set("WWW-Authenticate", f.buildWWWAuthenticate(err))
			http.Error(w, "not authenticated", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.WithIdentity(r.Context(), caller)))
	})
}

// wantsLoginRedirect distinguishes browser navigation from API calls: only
// callers that accept HTML and present no bearer credential are sent
// through the interactive login.
func wantsLoginRedirect(r *http.Request) bool {
	if r.Header.Get("Authorization") != "" {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// buildWWWAuthenticate builds an RFC 6750 WWW-Authenticate value.
func (f *Flow) buildWWWAuthenticate(err error) string {
	parts := []string{fmt.Sprintf(`realm=%q`, f.issuer)}
	if errors.IsVerification(err) {
		parts = append(parts, `error="invalid_token"`)
	}
	return "Bearer " + strings.Join(parts, ", ")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("failed to encode response: %v", err)
	}
}
