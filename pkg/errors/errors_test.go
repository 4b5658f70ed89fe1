package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	t.Parallel()

	bare := NewConfigError("bad policy", nil)
	assert.Equal(t, "config: bad policy", bare.Error())

	caused := NewUpstreamError("dial failed", stderrors.New("connection refused"))
	assert.Equal(t, "upstream: dial failed: connection refused", caused.Error())
	assert.Equal(t, "connection refused", stderrors.Unwrap(caused).Error())
}

func TestTypePredicates(t *testing.T) {
	t.Parallel()

	assert.True(t, IsConfig(NewConfigError("x", nil)))
	assert.True(t, IsUnauthenticated(NewUnauthenticatedError("x", nil)))
	assert.True(t, IsUnauthorized(NewUnauthorizedError("x", nil)))
	assert.True(t, IsVerification(NewVerificationError("x", nil)))
	assert.True(t, IsCSRFMismatch(NewCSRFMismatchError("x", nil)))
	assert.True(t, IsUpstream(NewUpstreamError("x", nil)))
	assert.True(t, IsNoMatch(NewNoMatchError("x", nil)))

	assert.False(t, IsConfig(NewUpstreamError("x", nil)))
	assert.False(t, IsConfig(nil))
	assert.False(t, IsConfig(stderrors.New("plain")))
}

func TestPredicatesWalkWrappedChains(t *testing.T) {
	t.Parallel()

	inner := NewVerificationError("token expired", nil)
	outer := NewUnauthenticatedError("credentials rejected", inner)

	// Both layers are visible through the chain.
	assert.True(t, IsUnauthenticated(outer))
	assert.True(t, IsVerification(outer))
	assert.False(t, IsUpstream(outer))

	// fmt wrapping keeps the chain intact too.
	wrapped := fmt.Errorf("handling request: %w", outer)
	assert.True(t, IsVerification(wrapped))
}
