// Package http is the gin transport of the wallet authentication service.
package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/walletauth/pkg/slogx"
	"github.com/layer-3/walletauth/service"
)

// RouterConfig holds what the router serves
type RouterConfig struct {
	Auth       *service.AuthService
	OTP        *service.OTPService
	Logger     *slog.Logger
	Ring       *slogx.Ring // Exported at /admin/logs
	AdminToken string
	AuthLimit  RateLimitConfig
	EmailLimit RateLimitConfig // Per user, on /api/email
	Checks     map[string]HealthCheck
}

// SetupRouter sets up the Gin router
func SetupRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), slogx.GinMiddleware(cfg.Logger))

	limit := cfg.AuthLimit
	if limit.RequestsPerWindow <= 0 || limit.Window <= 0 {
		limit = AuthLimit
	}

	emailLimit := cfg.EmailLimit
	if emailLimit.RequestsPerWindow <= 0 || emailLimit.Window <= 0 {
		emailLimit = EmailLimit
	}

	handlers := NewAuthHandlers(cfg.Auth, cfg.OTP, cfg.Logger)

	router.GET("/healthz", HealthHandler(cfg.Checks, cfg.Logger))

	// Auth routes
	auth := router.Group("/auth")
	auth.Use(RateLimitByIP(limit, cfg.Logger))
	{
		auth.POST("/challenge", handlers.Challenge)
		auth.POST("/login", handlers.Login)
		auth.POST("/refresh", handlers.Refresh)
		auth.POST("/logout", handlers.Logout)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(AuthMiddleware(cfg.Auth, cfg.Logger))
	{
		api.GET("/me", handlers.Me)
		api.GET("/wallets", handlers.ListWallets)
		api.POST("/wallets/link", handlers.LinkWallet)
		api.POST("/wallets/primary", handlers.SetPrimaryWallet)
	}

	email := api.Group("/email")
	email.Use(RateLimitByUser(emailLimit, cfg.Logger))
	{
		email.POST("/otp", handlers.RequestEmailOTP)
		email.POST("/verify", handlers.VerifyEmail)
	}

	admin := router.Group("/admin")
	admin.Use(AdminMiddleware(cfg.AdminToken))
	if cfg.Ring != nil {
		admin.GET("/logs", LogsHandler(cfg.Ring))
	}

	return router
}
