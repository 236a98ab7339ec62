package warden

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxErrorBody = 4 << 10

// HTTPClient talks to the auth service over its JSON API. Requests are
// never retried: a repeated refresh would be treated as token reuse.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// ClientOption customizes an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) { h.http = c }
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Client = (*HTTPClient)(nil)

// WalletChallenge requests a sign-in message for address.
func (c *HTTPClient) WalletChallenge(ctx context.Context, address string) (*Challenge, error) {
	out := &Challenge{}
	err := c.call(ctx, http.MethodPost, "/auth/login/wallet/challenge", "", map[string]string{"address": address}, out)
	return out, err
}

// LoginWallet submits the signed challenge for address.
func (c *HTTPClient) LoginWallet(ctx context.Context, address, signature string) (*AuthResult, error) {
	out := &AuthResult{}
	err := c.call(ctx, http.MethodPost, "/auth/login/wallet/verify", "", map[string]string{
		"address":   address,
		"signature": signature,
	}, out)
	return out, err
}

// LoginCredential logs in with email and password.
func (c *HTTPClient) LoginCredential(ctx context.Context, email, password string) (*AuthResult, error) {
	out := &AuthResult{}
	err := c.call(ctx, http.MethodPost, "/auth/login/credential", "", map[string]string{
		"email":    email,
		"password": password,
	}, out)
	return out, err
}

// RegisterWallet creates an account for a verified wallet.
func (c *HTTPClient) RegisterWallet(ctx context.Context, reg WalletRegistration) (*AuthResult, error) {
	out := &AuthResult{}
	err := c.call(ctx, http.MethodPost, "/auth/register/wallet", "", reg, out)
	return out, err
}

// VerifyTwoFactor completes a pending login with its code.
func (c *HTTPClient) VerifyTwoFactor(ctx context.Context, twoFactorToken, code string) (*AuthResult, error) {
	out := &AuthResult{}
	err := c.call(ctx, http.MethodPost, "/auth/twofactor/verify", "", map[string]string{
		"two_factor_token": twoFactorToken,
		"code":             code,
	}, out)
	return out, err
}

// ResendTwoFactor asks for a new code for a pending login.
func (c *HTTPClient) ResendTwoFactor(ctx context.Context, twoFactorToken string) (*Resend, error) {
	out := &Resend{}
	err := c.call(ctx, http.MethodPost, "/auth/twofactor/resend", "", map[string]string{"two_factor_token": twoFactorToken}, out)
	return out, err
}

// Refresh rotates refreshToken. It is never retried.
func (c *HTTPClient) Refresh(ctx context.Context, refreshToken string) (*Tokens, error) {
	out := &Tokens{}
	err := c.call(ctx, http.MethodPost, "/auth/token/refresh", "", map[string]string{"refresh_token": refreshToken}, out)
	return out, err
}

// Logout revokes the session refreshToken belongs to.
func (c *HTTPClient) Logout(ctx context.Context, refreshToken string) error {
	return c.call(ctx, http.MethodPost, "/auth/logout", "", map[string]string{"refresh_token": refreshToken}, nil)
}

// Authorize checks accessToken and returns who it belongs to.
func (c *HTTPClient) Authorize(ctx context.Context, accessToken string) (*Authorization, error) {
	out := &Authorization{}
	err := c.call(ctx, http.MethodGet, "/api/authorize", accessToken, nil, out)
	return out, err
}

func (c *HTTPClient) call(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var payload struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
	}

	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}
