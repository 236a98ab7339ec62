package warden

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrInvalidRequest is returned when the server rejected the request body
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized is returned when a credential, signature, code or token was rejected
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the account is disabled or lacks the role
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when the account does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when the account or wallet already exists
	ErrConflict = errors.New("conflict")

	// ErrRateLimited is returned on HTTP 429
	ErrRateLimited = errors.New("rate limited")

	// ErrUnavailable is returned when the server or a dependency is down
	ErrUnavailable = errors.New("service unavailable")
)

// APIError is a non-2xx response from the auth service.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration // set on 429
}

// Error returns the server message with its status.
func (e *APIError) Error() string {
	return fmt.Sprintf("warden: %d %s", e.Status, e.Message)
}

// Is maps the status code onto the package sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrInvalidRequest:
		return e.Status == http.StatusBadRequest
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrConflict:
		return e.Status == http.StatusConflict
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrUnavailable:
		return e.Status == http.StatusBadGateway || e.Status == http.StatusServiceUnavailable
	default:
		return false
	}
}
