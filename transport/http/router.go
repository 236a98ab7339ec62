package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/service"
)

// SetupRouter sets up the Gin router. metrics may be nil.
func SetupRouter(authService *service.AuthService, logger logrus.FieldLogger, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	// Create handlers
	handlers := NewAuthHandlers(authService, logger)

	// Auth routes
	auth := router.Group("/auth")
	{
		auth.POST("/login/credential", handlers.RateLimit(service.RouteLoginCredential), handlers.LoginCredential)
		auth.POST("/login/wallet/challenge", handlers.RateLimit(service.RouteWalletChallenge), handlers.WalletChallenge)
		auth.POST("/login/wallet/verify", handlers.RateLimit(service.RouteLoginWallet), handlers.LoginWallet)
		auth.POST("/register/wallet", handlers.RateLimit(service.RouteRegisterWallet), handlers.RegisterWallet)
		auth.POST("/register/credential", handlers.RateLimit(service.RouteRegisterCredential), handlers.RegisterCredential)
		auth.POST("/twofactor/verify", handlers.RateLimit(service.RouteTwoFactorVerify), handlers.VerifyTwoFactor)
		auth.POST("/twofactor/resend", handlers.RateLimit(service.RouteTwoFactorResend), handlers.ResendTwoFactor)
		auth.POST("/token/refresh", handlers.RateLimit(service.RouteRefresh), handlers.Refresh)
		auth.POST("/logout", handlers.RateLimit(service.RouteLogout), handlers.Logout)
	}

	// Protected API routes. The limiter runs before the token is checked.
	authenticated := AuthMiddleware(authService)
	api := router.Group("/api")
	{
		api.GET("/me", handlers.RateLimit(service.RouteMe), authenticated, handlers.Me)
		api.GET("/authorize", handlers.RateLimit(service.RouteAuthorize), authenticated, handlers.Authorize)
		api.PUT("/account/twofactor", handlers.RateLimit(service.RouteSetTwoFactor), authenticated, handlers.SetTwoFactor)
		api.POST("/account/wallet", handlers.RateLimit(service.RouteLinkWallet), authenticated, handlers.LinkWallet)
		api.POST("/admin/accounts/:id/disable", handlers.RateLimit(service.RouteDisableAccount), authenticated,
			RequireRole(core.RoleAdmin), handlers.DisableAccount)
	}

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}

	return router
}
