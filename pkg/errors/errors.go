// Package errors defines the sentinel errors shared by the stores, the
// ingestion pipeline and the search engine, together with the mapping from
// those sentinels to HTTP status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("item already exists")
	ErrAmbiguous         = errors.New("ambiguous key")
	ErrNoCorpus          = errors.New("no matches available")
	ErrUpstream          = errors.New("upstream capability failed")
	ErrPersistence       = errors.New("persistence failed")
	ErrInvalidInput      = errors.New("invalid input")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInternal          = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// StatusError is a non-2xx answer from an upstream HTTP service.
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned %d: %s", e.Service, e.StatusCode, e.Body)
}

// Rejected reports whether the service turned down this particular request
// (a 4xx other than 429) instead of failing.
func (e *StatusError) Rejected() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// IsRejected reports whether err carries a StatusError that Rejected.
func IsRejected(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Rejected()
}

// HTTPStatusCode maps err to the status code an API handler should answer
// with. An AppError anywhere in the chain wins over sentinel matching.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrNoCorpus):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrAmbiguous):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrDimensionMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
