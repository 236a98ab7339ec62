package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRateLimited        = errors.New("rate limited")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoChallenge        = errors.New("no active challenge")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrSignatureMismatch  = errors.New("invalid signature")
	ErrCodeMismatch       = errors.New("invalid verification code")
	ErrTwoFactorExpired   = errors.New("two-factor challenge expired")
	ErrTwoFactorExhausted = errors.New("two-factor attempts exhausted")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrTokenExpired       = errors.New("token has expired")
	ErrAccountNotFound    = errors.New("account not found")

	ErrInvalidRequest    = errors.New("invalid request")
	ErrInvalidAddress    = errors.New("invalid wallet address")
	ErrAccountExists     = errors.New("account already exists")
	ErrAccountDisabled   = errors.New("account disabled")
	ErrTwoFactorDisabled = errors.New("two-factor not enabled")
	ErrDeliveryFailed    = errors.New("verification code delivery failed")
	ErrResendTooSoon     = errors.New("resend not yet available")
	ErrForbidden         = errors.New("forbidden")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

// RateLimitError is returned when a route admission is rejected.
type RateLimitError struct {
	Route     string
	Remaining int
	ResetAt   time.Time
}

// Error names the route and when its window resets.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s resets at %s", ErrRateLimited, e.Route, e.ResetAt.UTC().Format(time.RFC3339))
}

// Is lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
