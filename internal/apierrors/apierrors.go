// Package apierrors defines the closed error-kind taxonomy shared by the
// repository, coordinator, and transport layers, and its mapping onto
// HTTP status codes and stream error-event codes.
//
// The taxonomy mirrors a common agent-runner classification pattern
// (network/timeout substring sniffing plus typed sentinels), narrowed
// to the seven abstract kinds the core actually needs.
package apierrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind is the abstract failure category. It is closed: callers should
// switch exhaustively over these seven values.
type Kind string

const (
	Invalid       Kind = "invalid"
	NotFound      Kind = "not_found"
	Forbidden     Kind = "forbidden"
	Conflict      Kind = "conflict"
	Transient     Kind = "transient"
	UpstreamFatal Kind = "upstream_fatal"
	Cancelled     Kind = "cancelled"
)

// Error is a classified failure carrying a stable machine-readable code
// in addition to its Kind, for use in the stream `error` event and the
// non-stream error envelope.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, apierrors.New(Conflict, "", "")) style checks work.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs a classified error. code is the stable string surfaced
// to clients (e.g. "UPSTREAM_UNAVAILABLE"); pass "" to fall back to a
// kind-derived default.
func New(kind Kind, code, message string) *Error {
	if code == "" {
		code = defaultCode(kind)
	}
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a Kind and stable code to an underlying error, preserving
// it for errors.Unwrap/errors.As.
func Wrap(kind Kind, code string, cause error, message string) *Error {
	if code == "" {
		code = defaultCode(kind)
	}
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

func defaultCode(kind Kind) string {
	switch kind {
	case Invalid:
		return "INVALID_REQUEST"
	case NotFound:
		return "NOT_FOUND"
	case Forbidden:
		return "FORBIDDEN"
	case Conflict:
		return "ETAG_CONFLICT"
	case Transient:
		return "UPSTREAM_THROTTLED"
	case UpstreamFatal:
		return "UPSTREAM_UNAVAILABLE"
	case Cancelled:
		return "CANCELLED"
	default:
		return "INTERNAL"
	}
}

// KindOf extracts the Kind of err, defaulting to UpstreamFatal for
// unclassified errors (never Invalid — an unrecognised failure should
// not be blamed on the caller).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if isNetworkOrTimeout(err) {
		return Transient
	}
	return UpstreamFatal
}

// CodeOf extracts the stable string code of err, or "INTERNAL" if
// unclassified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}

// isNetworkOrTimeout substring-sniffs raw upstream errors that don't
// arrive as typed sentinels (most HTTP client libraries return these
// as plain wrapped strings).
func isNetworkOrTimeout(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused", "connection reset", "timeout",
		"deadline exceeded", "i/o timeout", "eof", "no such host",
		"broken pipe", "rate limit", "too many requests",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// HTTPStatus maps a Kind to the status code used by the non-stream
// error envelope (400/403/404/412/429/500/503).
func HTTPStatus(kind Kind) int {
	switch kind {
	case Invalid:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Conflict:
		return http.StatusPreconditionFailed
	case Transient:
		return http.StatusTooManyRequests
	case UpstreamFatal:
		return http.StatusServiceUnavailable
	case Cancelled:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// Envelope is the non-stream error body returned to HTTP callers.
type Envelope struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Error      string `json:"error"`
}

// EnvelopeFor builds the response envelope for err. An error that is not
// an *Error maps to 500/INTERNAL.
func EnvelopeFor(err error) Envelope {
	var e *Error
	if !errors.As(err, &e) {
		return Envelope{
			StatusCode: http.StatusInternalServerError,
			Message:    err.Error(),
			Error:      "INTERNAL",
		}
	}
	kind := KindOf(err)
	return Envelope{
		StatusCode: HTTPStatus(kind),
		Message:    err.Error(),
		Error:      CodeOf(err),
	}
}
