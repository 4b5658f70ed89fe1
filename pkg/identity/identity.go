// Package identity defines the authenticated caller model shared by the
// authentication, session, and authorization layers.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
)

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the unique identifier for the principal (from 'sub' claim).
	Subject string

	// Name is the human-readable name. Populated from the 'name' claim,
	// falling back to 'preferred_username', then 'email'.
	Name string

	// Email is the email address, if available.
	Email string

	// Groups are the group/role names this identity belongs to. Empty when
	// the credential carries no groups claim.
	Groups []string

	// Claims contains all claims from the verified credential.
	Claims map[string]any

	// Token is the raw signed credential, retained for pass-through or
	// re-verification. Redacted in String() and MarshalJSON() to prevent
	// leakage.
	Token string
}

// String returns a representation of the Identity with sensitive fields redacted.
func (i *Identity) String() string {
	if i == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Identity{Subject:%q}", i.Subject)
}

// MarshalJSON redacts the raw credential during JSON serialization so the
// token cannot leak through structured logs or the /about/me response.
func (i *Identity) MarshalJSON() ([]byte, error) {
	if i == nil {
		return []byte("null"), nil
	}

	type safeIdentity struct {
		Subject string         `json:"subject"`
		Name    string         `json:"name"`
		Email   string         `json:"email"`
		Groups  []string       `json:"groups"`
		Claims  map[string]any `json:"claims"`
		Token   string         `json:"token"`
	}

	token := i.Token
	if token != "" {
		token = "REDACTED"
	}

	return json.Marshal(&safeIdentity{
		Subject: i.Subject,
		Name:    i.Name,
		Email:   i.Email,
		Groups:  i.Groups,
		Claims:  i.Claims,
		Token:   token,
	})
}

// ContextKey is the key used to store an Identity in the request context.
// An empty struct type prevents collisions with other context keys.
type ContextKey struct{}

// WithIdentity stores an Identity in the context.
// If identity is nil, the original context is returned unchanged.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, ContextKey{}, identity)
}

// FromContext retrieves an Identity from the context.
// Returns the identity and true if present, nil and false otherwise.
func FromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(ContextKey{}).(*Identity)
	return identity, ok
}
