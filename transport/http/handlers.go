package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	logger      logrus.FieldLogger
	now         func() time.Time
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, logger logrus.FieldLogger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		logger:      logger,
		now:         time.Now,
	}
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type accountResponse struct {
	ID            string               `json:"id"`
	Email         string               `json:"email,omitempty"`
	WalletAddress string               `json:"wallet_address,omitempty"`
	FirstName     string               `json:"first_name,omitempty"`
	LastName      string               `json:"last_name,omitempty"`
	Role          string               `json:"role"`
	TwoFactor     core.TwoFactorConfig `json:"two_factor"`
	Disabled      bool                 `json:"disabled,omitempty"`
}

type authResponse struct {
	Status             core.AuthStatus  `json:"status"`
	Tokens             *tokenResponse   `json:"tokens,omitempty"`
	Account            *accountResponse `json:"account,omitempty"`
	TwoFactorToken     string           `json:"two_factor_token,omitempty"`
	TwoFactorExpiresAt *time.Time       `json:"two_factor_expires_at,omitempty"`
	ResendAvailableAt  *time.Time       `json:"resend_available_at,omitempty"`
	DeliveryFailed     bool             `json:"delivery_failed,omitempty"`
}

func newTokenResponse(pair *core.TokenPair) *tokenResponse {
	if pair == nil {
		return nil
	}
	return &tokenResponse{
		AccessToken:      pair.AccessToken,
		RefreshToken:     pair.RefreshToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(pair.AccessExpiresAt.Sub(pair.IssuedAt).Seconds()),
		RefreshExpiresAt: pair.RefreshExpiresAt.UTC(),
	}
}

func newAccountResponse(account *core.Account) *accountResponse {
	if account == nil {
		return nil
	}
	return &accountResponse{
		ID:            account.ID,
		Email:         account.Email,
		WalletAddress: account.WalletAddress,
		FirstName:     account.FirstName,
		LastName:      account.LastName,
		Role:          account.Role.String(),
		TwoFactor:     account.TwoFactor,
		Disabled:      account.Disabled,
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func newAuthResponse(result *core.AuthResult) authResponse {
	resp := authResponse{
		Status:             result.Status,
		Tokens:             newTokenResponse(result.Tokens),
		TwoFactorToken:     result.TwoFactorToken,
		TwoFactorExpiresAt: optionalTime(result.TwoFactorExpiresAt),
		ResendAvailableAt:  optionalTime(result.ResendAvailableAt),
		DeliveryFailed:     result.DeliveryFailed,
	}
	// Account details are only released with tokens.
	if result.Status == core.StatusAuthenticated {
		resp.Account = newAccountResponse(result.Account)
	}
	return resp
}

func (h *AuthHandlers) respond(c *gin.Context, result *core.AuthResult, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, newAuthResponse(result))
}

// LoginCredential handles email and password login
func (h *AuthHandlers) LoginCredential(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	result, err := h.authService.LoginWithCredentials(c.Request.Context(), c.ClientIP(), req.Email, req.Password)
	h.respond(c, result, err)
}

// WalletChallenge issues a message for the wallet to sign
func (h *AuthHandlers) WalletChallenge(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	challenge, err := h.authService.CreateWalletChallenge(c.Request.Context(), c.ClientIP(), req.Address)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":    challenge.Address,
		"nonce":      challenge.Nonce,
		"message":    challenge.Message,
		"expires_at": challenge.ExpiresAt.UTC(),
	})
}

// LoginWallet verifies a signed challenge
func (h *AuthHandlers) LoginWallet(c *gin.Context) {
	var req struct {
		Address   string `json:"address" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	result, err := h.authService.LoginWithWallet(c.Request.Context(), c.ClientIP(), req.Address, req.Signature)
	h.respond(c, result, err)
}

// RegisterWallet creates an account for a verified wallet
func (h *AuthHandlers) RegisterWallet(c *gin.Context) {
	var req struct {
		Address   string `json:"address" binding:"required"`
		Signature string `json:"signature" binding:"required"`
		Email     string `json:"email" binding:"required"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	result, err := h.authService.RegisterWallet(c.Request.Context(), c.ClientIP(), service.WalletRegistration{
		Address:   req.Address,
		Signature: req.Signature,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	h.respond(c, result, err)
}

// RegisterCredential creates an email and password account
func (h *AuthHandlers) RegisterCredential(c *gin.Context) {
	var req struct {
		Email     string `json:"email" binding:"required"`
		Password  string `json:"password" binding:"required"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	result, err := h.authService.RegisterCredentials(c.Request.Context(), c.ClientIP(), service.CredentialRegistration{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	h.respond(c, result, err)
}

// VerifyTwoFactor completes a pending login
func (h *AuthHandlers) VerifyTwoFactor(c *gin.Context) {
	var req struct {
		TwoFactorToken string `json:"two_factor_token" binding:"required"`
		Code           string `json:"code" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	result, err := h.authService.VerifyTwoFactor(c.Request.Context(), c.ClientIP(), req.TwoFactorToken, req.Code)
	h.respond(c, result, err)
}

// ResendTwoFactor sends a new code for a pending login
func (h *AuthHandlers) ResendTwoFactor(c *gin.Context) {
	var req struct {
		TwoFactorToken string `json:"two_factor_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	result, err := h.authService.ResendTwoFactor(c.Request.Context(), c.ClientIP(), req.TwoFactorToken)
	if errors.Is(err, core.ErrResendTooSoon) {
		c.Header("Retry-After", strconv.Itoa(retryAfter(h.now(), result.ResendAvailableAt)))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":               "Resend not yet available",
			"resend_available_at": result.ResendAvailableAt.UTC(),
		})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"expires_at":          result.TwoFactorExpiresAt.UTC(),
		"resend_available_at": result.ResendAvailableAt.UTC(),
	})
}

// Refresh handles token refresh
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	pair, err := h.authService.Refresh(c.Request.Context(), c.ClientIP(), req.RefreshToken)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, newTokenResponse(pair))
}

// Logout handles session logout
func (h *AuthHandlers) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	if err := h.authService.Logout(c.Request.Context(), c.ClientIP(), req.RefreshToken); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Me returns the authenticated account
func (h *AuthHandlers) Me(c *gin.Context) {
	claims, ok := core.FromContext(c.Request.Context())
	if !ok {
		h.fail(c, core.ErrTokenInvalid)
		return
	}

	account, err := h.authService.Account(c.Request.Context(), claims.AccountID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account_id": claims.AccountID,
		"role":       claims.Role.String(),
		"account":    newAccountResponse(account),
	})
}

// Authorize lets a gateway check an access token without loading the account
func (h *AuthHandlers) Authorize(c *gin.Context) {
	claims, ok := core.FromContext(c.Request.Context())
	if !ok {
		h.fail(c, core.ErrTokenInvalid)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authorized": true,
		"account_id": claims.AccountID,
		"role":       claims.Role.String(),
		"expires_at": claims.ExpiresAt.UTC(),
	})
}

// SetTwoFactor enables or disables the caller's second factor
func (h *AuthHandlers) SetTwoFactor(c *gin.Context) {
	claims, ok := core.FromContext(c.Request.Context())
	if !ok {
		h.fail(c, core.ErrTokenInvalid)
		return
	}

	var req struct {
		Enabled     *bool        `json:"enabled" binding:"required"`
		Channel     core.Channel `json:"channel"`
		Destination string       `json:"destination"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	account, err := h.authService.SetTwoFactor(c.Request.Context(), c.ClientIP(), claims.AccountID, core.TwoFactorConfig{
		Enabled:     *req.Enabled,
		Channel:     req.Channel,
		Destination: req.Destination,
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"two_factor": account.TwoFactor})
}

// LinkWallet attaches a verified wallet to the caller's account
func (h *AuthHandlers) LinkWallet(c *gin.Context) {
	claims, ok := core.FromContext(c.Request.Context())
	if !ok {
		h.fail(c, core.ErrTokenInvalid)
		return
	}

	var req struct {
		Address   string `json:"address" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	account, err := h.authService.LinkWallet(c.Request.Context(), c.ClientIP(), claims.AccountID, req.Address, req.Signature)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallet_address": account.WalletAddress})
}

// DisableAccount disables an account and revokes its sessions
func (h *AuthHandlers) DisableAccount(c *gin.Context) {
	account, err := h.authService.DisableAccount(c.Request.Context(), c.ClientIP(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": newAccountResponse(account)})
}
