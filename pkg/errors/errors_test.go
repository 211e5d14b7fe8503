package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("loading job: %w", ErrNotFound), http.StatusNotFound},
		{"no corpus", ErrNoCorpus, http.StatusNotFound},
		{"conflict", fmt.Errorf("upsert: %w", ErrConflict), http.StatusConflict},
		{"ambiguous", ErrAmbiguous, http.StatusConflict},
		{"invalid input", ErrInvalidInput, http.StatusBadRequest},
		{"dimension mismatch", ErrDimensionMismatch, http.StatusUnprocessableEntity},
		{"upstream", fmt.Errorf("transcribe: %w: %w", ErrUpstream, context.DeadlineExceeded), http.StatusBadGateway},
		{"persistence", fmt.Errorf("%w: segment 3", ErrPersistence), http.StatusServiceUnavailable},
		{"timeout", ErrTimeout, http.StatusGatewayTimeout},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
		{"app error wins", New(ErrNotFound, http.StatusTeapot, "custom"), http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("HTTPStatusCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := Newf(ErrConflict, http.StatusConflict, "job %s exists", "abc")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected errors.Is(err, ErrConflict)")
	}
	if got, want := err.Error(), "item already exists: job abc exists"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestStatusErrorRejected(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusRequestEntityTooLarge, true},
		{http.StatusTooManyRequests, false},
		{http.StatusBadGateway, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		err := fmt.Errorf("transcribing: %w", &StatusError{Service: "transcription service", StatusCode: tt.code, Body: "x"})
		if got := IsRejected(err); got != tt.want {
			t.Errorf("IsRejected(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
	if IsRejected(errors.New("plain")) {
		t.Error("plain error reported as rejected")
	}
	se := &StatusError{Service: "embedding service", StatusCode: 503, Body: "overloaded"}
	if se.Error() != "embedding service returned 503: overloaded" {
		t.Errorf("Error() = %q", se.Error())
	}
}
