package apierrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultCode(t *testing.T) {
	cases := []struct {
		kind Kind
		code string
	}{
		{Invalid, "INVALID_REQUEST"},
		{NotFound, "NOT_FOUND"},
		{Forbidden, "FORBIDDEN"},
		{Conflict, "ETAG_CONFLICT"},
		{Transient, "UPSTREAM_THROTTLED"},
		{UpstreamFatal, "UPSTREAM_UNAVAILABLE"},
		{Cancelled, "CANCELLED"},
	}
	for _, tc := range cases {
		err := New(tc.kind, "", "boom")
		assert.Equal(t, tc.code, err.Code)
	}
}

func TestNewExplicitCodeWins(t *testing.T) {
	err := New(Invalid, "CUSTOM_CODE", "bad input")
	assert.Equal(t, "CUSTOM_CODE", err.Code)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(Transient, "", cause, "upstream unreachable")

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsMatchesByKindOnly(t *testing.T) {
	a := New(Conflict, "", "first")
	b := New(Conflict, "", "second")
	c := New(NotFound, "", "third")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestKindOfUnclassifiedNetworkError(t *testing.T) {
	err := errors.New("read tcp: i/o timeout")
	assert.Equal(t, Transient, KindOf(err))
}

func TestKindOfUnclassifiedOtherError(t *testing.T) {
	err := errors.New("something exploded")
	assert.Equal(t, UpstreamFatal, KindOf(err))
}

func TestKindOfNil(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		Invalid:       http.StatusBadRequest,
		NotFound:      http.StatusNotFound,
		Forbidden:     http.StatusForbidden,
		Conflict:      http.StatusPreconditionFailed,
		Transient:     http.StatusTooManyRequests,
		UpstreamFatal: http.StatusServiceUnavailable,
		Cancelled:     http.StatusOK,
	}
	for kind, status := range cases {
		assert.Equal(t, status, HTTPStatus(kind), "kind=%s", kind)
	}
}

func TestEnvelopeForClassifiedError(t *testing.T) {
	err := New(Conflict, "", "etag mismatch")
	env := EnvelopeFor(err)

	assert.Equal(t, http.StatusPreconditionFailed, env.StatusCode)
	assert.Equal(t, "ETAG_CONFLICT", env.Error)
}

func TestEnvelopeForUnclassifiedError(t *testing.T) {
	env := EnvelopeFor(errors.New("plain failure"))

	assert.Equal(t, http.StatusInternalServerError, env.StatusCode)
	assert.Equal(t, "INTERNAL", env.Error)
}
