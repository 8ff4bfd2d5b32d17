// Package apperr defines the error taxonomy shared across the ingestion
// pipeline and the catalogue/entitlement service. Kinds map to HTTP status
// codes at the transport boundary and to retry/abort decisions inside the
// orchestrator and translator.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for routing and retry decisions.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindNotFound   Kind = "not_found"
	KindTransient  Kind = "transient"
	KindRateLimit  Kind = "rate_limit"
	KindQuota      Kind = "quota"
	KindStale      Kind = "stale"
	KindDuplicate  Kind = "duplicate"
	KindInternal   Kind = "internal"
)

// Error is a kind-tagged error that wraps an underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Validation, Auth, NotFound, Transient, RateLimit, Quota, Stale, Duplicate,
// and Internal are convenience constructors mirroring the Kind taxonomy.
func Validation(msg string) *Error { return New(KindValidation, msg) }
func Auth(msg string) *Error       { return New(KindAuth, msg) }
func NotFound(msg string) *Error   { return New(KindNotFound, msg) }
func Transient(msg string, err error) *Error {
	return Wrap(KindTransient, msg, err)
}
func RateLimit(msg string) *Error { return New(KindRateLimit, msg) }
func Quota(msg string) *Error     { return New(KindQuota, msg) }
func Stale(msg string) *Error     { return New(KindStale, msg) }
func Duplicate(msg string) *Error { return New(KindDuplicate, msg) }
func Internal(msg string, err error) *Error {
	return Wrap(KindInternal, msg, err)
}

// Is reports whether err (or anything it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// HTTPStatus maps a Kind to the status code assigns it.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit, KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
