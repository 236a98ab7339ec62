package warden

import (
	"context"
	"time"
)

// Client represents the public interface for interacting with the auth service
type Client interface {
	// WalletChallenge returns the message the wallet must sign
	WalletChallenge(ctx context.Context, address string) (*Challenge, error)

	// LoginWallet submits the signed challenge
	LoginWallet(ctx context.Context, address, signature string) (*AuthResult, error)

	// LoginCredential logs in with email and password
	LoginCredential(ctx context.Context, email, password string) (*AuthResult, error)

	// RegisterWallet creates an account for a wallet that got StatusNeedsRegistration
	RegisterWallet(ctx context.Context, reg WalletRegistration) (*AuthResult, error)

	// VerifyTwoFactor completes a pending login with the delivered code
	VerifyTwoFactor(ctx context.Context, twoFactorToken, code string) (*AuthResult, error)

	// ResendTwoFactor requests a new code for a pending login
	ResendTwoFactor(ctx context.Context, twoFactorToken string) (*Resend, error)

	// Refresh rotates the refresh token and returns new tokens
	Refresh(ctx context.Context, refreshToken string) (*Tokens, error)

	// Logout revokes the session the refresh token belongs to
	Logout(ctx context.Context, refreshToken string) error

	// Authorize validates an access token and returns its subject
	Authorize(ctx context.Context, accessToken string) (*Authorization, error)
}

// Login statuses.
const (
	StatusAuthenticated     = "authenticated"
	StatusPendingTwoFactor  = "pending_two_factor"
	StatusNeedsRegistration = "needs_registration"
)

// Tokens is an access and refresh token pair.
type Tokens struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Account is the profile returned with a successful login.
type Account struct {
	ID            string `json:"id"`
	Email         string `json:"email,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	Role          string `json:"role"`
}

// AuthResult is the outcome of a login step.
type AuthResult struct {
	Status             string     `json:"status"`
	Tokens             *Tokens    `json:"tokens,omitempty"`
	Account            *Account   `json:"account,omitempty"`
	TwoFactorToken     string     `json:"two_factor_token,omitempty"`
	TwoFactorExpiresAt *time.Time `json:"two_factor_expires_at,omitempty"`
	ResendAvailableAt  *time.Time `json:"resend_available_at,omitempty"`
	DeliveryFailed     bool       `json:"delivery_failed,omitempty"`
}

// Challenge is a wallet sign-in challenge.
type Challenge struct {
	Address   string    `json:"address"`
	Nonce     string    `json:"nonce"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Resend is the schedule of a re-sent verification code.
type Resend struct {
	ExpiresAt         time.Time `json:"expires_at"`
	ResendAvailableAt time.Time `json:"resend_available_at"`
}

// Authorization is the subject of a valid access token.
type Authorization struct {
	AccountID string    `json:"account_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// WalletRegistration is the profile sent with a wallet registration.
type WalletRegistration struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}
