package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gatekeeper-proxy/gatekeeper/pkg/errors"
)

// CookieName is the name of the gateway's session cookie.
const CookieName = "gatekeeper_session"

// CookieCodec signs and verifies the opaque session token held by the
// client. The cookie value is "<id>.<signature>" where the signature is an
// HMAC-SHA256 over the id, making the token tamper-evident without storing
// any state in the client.
type CookieCodec struct {
	secret []byte
}

// NewCookieCodec creates a codec signing with the given session secret.
func NewCookieCodec(secret string) *CookieCodec {
	return &CookieCodec{secret: []byte(secret)}
}

func (c *CookieCodec) sign(id string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Encode produces the signed cookie value for a session ID.
func (c *CookieCodec) Encode(id string) string {
	return id + "." + c.sign(id)
}

// Decode verifies a cookie value and returns the session ID it names.
func (c *CookieCodec) Decode(value string) (string, error) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", errors.NewUnauthenticatedError("malformed session cookie", nil)
	}
	if !hmac.Equal([]byte(sig), []byte(c.sign(id))) {
		return "", errors.NewUnauthenticatedError("session cookie signature mismatch", nil)
	}
	return id, nil
}

// SetCookie writes the session cookie on the response.
func (c *CookieCodec) SetCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    c.Encode(id),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ReadCookie extracts and verifies the session ID from a request, returning
// false when the request carries no usable session cookie.
func (c *CookieCodec) ReadCookie(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", false
	}
	id, err := c.Decode(cookie.Value)
	if err != nil {
		return "", false
	}
	return id, true
}
