package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/layer-3/warden/core"
)

type errorMapping struct {
	target  error
	status  int
	message string
}

// Messages stay generic; which factor failed is never revealed.
var errorMappings = []errorMapping{
	{core.ErrInvalidRequest, http.StatusBadRequest, "Invalid request"},
	{core.ErrInvalidAddress, http.StatusBadRequest, "Invalid request"},
	{core.ErrInvalidCredentials, http.StatusUnauthorized, "Authentication failed"},
	{core.ErrSignatureMismatch, http.StatusUnauthorized, "Authentication failed"},
	{core.ErrCodeMismatch, http.StatusUnauthorized, "Authentication failed"},
	{core.ErrNoChallenge, http.StatusBadRequest, "No active challenge"},
	{core.ErrChallengeExpired, http.StatusBadRequest, "Challenge expired"},
	{core.ErrTwoFactorExpired, http.StatusUnauthorized, "Verification code expired"},
	{core.ErrTwoFactorExhausted, http.StatusUnauthorized, "Too many attempts, log in again"},
	{core.ErrTwoFactorDisabled, http.StatusBadRequest, "Invalid request"},
	{core.ErrTokenExpired, http.StatusUnauthorized, "Token expired"},
	{core.ErrTokenRevoked, http.StatusUnauthorized, "Token revoked"},
	{core.ErrTokenInvalid, http.StatusUnauthorized, "Invalid token"},
	{core.ErrAccountNotFound, http.StatusNotFound, "Account not found"},
	{core.ErrAccountExists, http.StatusConflict, "Account already exists"},
	{core.ErrAccountDisabled, http.StatusForbidden, "Account disabled"},
	{core.ErrForbidden, http.StatusForbidden, "Forbidden"},
	{core.ErrDeliveryFailed, http.StatusBadGateway, "Verification code could not be delivered"},
	{core.ErrStoreUnavailable, http.StatusServiceUnavailable, "Service unavailable"},
}

// StatusFor maps a service error to its HTTP status and public message.
func StatusFor(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.message
		}
	}
	return http.StatusInternalServerError, "Internal error"
}

// retryAfter is the whole number of seconds until resetAt, at least one.
func retryAfter(now, resetAt time.Time) int {
	secs := int(math.Ceil(resetAt.Sub(now).Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func (h *AuthHandlers) fail(c *gin.Context, err error) {
	var limited *core.RateLimitError
	if errors.As(err, &limited) {
		c.Header("Retry-After", strconv.Itoa(retryAfter(h.now(), limited.ResetAt)))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(limited.Remaining))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":     "Too many requests",
			"remaining": limited.Remaining,
			"reset_at":  limited.ResetAt.UTC(),
		})
		return
	}

	status, message := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"path":   c.FullPath(),
			"status": status,
		}).Error("request failed")
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func badRequest(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
}
