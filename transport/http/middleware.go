package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/service"
)

// RateLimit admits the request on route before its body or credentials are
// looked at. It must be the first handler of every auth and api route.
func (h *AuthHandlers) RateLimit(route string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := h.authService.Admit(c.Request.Context(), route, c.ClientIP())
		if err != nil {
			h.fail(c, err)
			return
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AuthMiddleware creates middleware that validates access tokens
func AuthMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		claims, err := authService.Authenticate(token)
		if err != nil {
			status, message := StatusFor(err)
			c.AbortWithStatusJSON(status, gin.H{"error": message})
			return
		}

		c.Request = c.Request.WithContext(core.NewContext(c.Request.Context(), claims))

		c.Next()
	}
}

// RequireRole rejects callers whose role does not satisfy required. It must
// run after AuthMiddleware.
func RequireRole(required core.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := core.FromContext(c.Request.Context())
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		if !claims.Role.Satisfies(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}

// RequestLogger logs one line per request. Bodies are never logged.
func RequestLogger(logger logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.FullPath(),
			"status":    c.Writer.Status(),
			"client_ip": c.ClientIP(),
			"duration":  time.Since(start).String(),
		}
		if claims, ok := core.FromContext(c.Request.Context()); ok {
			fields["account_id"] = claims.AccountID
		}

		entry := logger.WithFields(fields)
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			entry.Error("request")
		case status >= http.StatusBadRequest:
			entry.Info("request")
		default:
			entry.Debug("request")
		}
	}
}
