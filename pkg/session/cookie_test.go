package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieCodecRoundTrip(t *testing.T) {
	t.Parallel()

	codec := NewCookieCodec("test-secret")

	value := codec.Encode("session-id-1")
	id, err := codec.Decode(value)
	require.NoError(t, err)
	assert.Equal(t, "session-id-1", id)
}

func TestCookieCodecRejectsTampering(t *testing.T) {
	t.Parallel()

	codec := NewCookieCodec("test-secret")
	value := codec.Encode("session-id-1")

	tests := []struct {
		name  string
		value string
	}{
		{"altered id", "session-id-2." + value[len("session-id-1."):]},
		{"truncated signature", value[:len(value)-2]},
		{"no separator", "session-id-1"},
		{"empty id", "." + value},
		{"empty value", ""},
		{"different secret", NewCookieCodec("other-secret").Encode("session-id-1")},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := codec.Decode(tc.value)
			assert.Error(t, err)
		})
	}
}

func TestCookieRoundTripThroughRequest(t *testing.T) {
	t.Parallel()

	codec := NewCookieCodec("test-secret")

	rec := httptest.NewRecorder()
	codec.SetCookie(rec, "session-id-1")

	res := rec.Result()
	cookies := res.Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])

	id, ok := codec.ReadCookie(req)
	require.True(t, ok)
	assert.Equal(t, "session-id-1", id)
}

func TestReadCookieMissing(t *testing.T) {
	t.Parallel()

	codec := NewCookieCodec("test-secret")
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := codec.ReadCookie(req)
	assert.False(t, ok)
}
