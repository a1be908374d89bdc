package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/walletauth/core"
	"github.com/layer-3/walletauth/pkg/slogx"
	"github.com/layer-3/walletauth/service"
)

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	otpService  *service.OTPService
	logger      *slog.Logger
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService, otpService *service.OTPService, logger *slog.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		otpService:  otpService,
		logger:      logger,
	}
}

type walletView struct {
	Address     string    `json:"address"`
	Family      string    `json:"family"`
	WalletType  string    `json:"wallet_type"`
	IsPrimary   bool      `json:"is_primary"`
	FirstUsedAt time.Time `json:"first_used_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
}

func viewWallet(w core.Wallet) walletView {
	return walletView{
		Address:     w.Address,
		Family:      w.Family.String(),
		WalletType:  w.WalletType,
		IsPrimary:   w.IsPrimary,
		FirstUsedAt: w.FirstUsedAt,
		LastUsedAt:  w.LastUsedAt,
	}
}

func viewWallets(wallets []core.Wallet) []walletView {
	out := make([]walletView, len(wallets))
	for i, w := range wallets {
		out[i] = viewWallet(w)
	}
	return out
}

// Challenge handles the challenge request
func (h *AuthHandlers) Challenge(c *gin.Context) {
	var req struct {
		Address    string `json:"address" binding:"required"`
		WalletType string `json:"wallet_type" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	ch, err := h.authService.CreateChallenge(c.Request.Context(), req.Address, req.WalletType)
	if errors.Is(err, core.ErrUnsupportedWalletFamily) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported wallet type"})
		return
	}
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"nonce":      ch.Nonce,
		"message":    ch.Message,
		"expires_at": ch.ExpiresAt.UTC(),
	})
}

// Login handles the login request
func (h *AuthHandlers) Login(c *gin.Context) {
	var req struct {
		Address    string           `json:"address" binding:"required"`
		WalletType string           `json:"wallet_type" binding:"required"`
		Signature  string           `json:"signature" binding:"required"`
		Message    string           `json:"message" binding:"required"`
		PublicKey  string           `json:"public_key"`
		DeviceInfo *core.DeviceInfo `json:"device_info"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	device := req.DeviceInfo
	if device != nil && device.IPAddress == "" {
		device.IPAddress = c.ClientIP()
	}

	res, err := h.authService.Login(c.Request.Context(), service.LoginRequest{
		Address:    req.Address,
		WalletType: req.WalletType,
		Signature:  req.Signature,
		Message:    req.Message,
		PublicKey:  req.PublicKey,
		Device:     device,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token":  res.AccessToken,
		"session_token": res.SessionToken,
		"user_id":       res.UserID,
		"is_new_user":   res.IsNewUser,
		"token_type":    "Bearer",
		"expires_in":    int(res.ExpiresIn.Seconds()),
	})
}

// Refresh exchanges a session token for a fresh access token
func (h *AuthHandlers) Refresh(c *gin.Context) {
	var req struct {
		SessionToken string `json:"session_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	accessToken, err := h.authService.Refresh(c.Request.Context(), req.SessionToken)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": accessToken,
		"token_type":   "Bearer",
		"expires_in":   int(service.DefaultAccessTTL.Seconds()),
	})
}

// Logout handles session logout
func (h *AuthHandlers) Logout(c *gin.Context) {
	var req struct {
		SessionToken string `json:"session_token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	err := h.authService.Logout(c.Request.Context(), req.SessionToken)
	if err != nil && !errors.Is(err, core.ErrSessionNotFound) {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// Me returns information about the authenticated user
func (h *AuthHandlers) Me(c *gin.Context) {
	profile, err := h.authService.Me(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":        profile.User.ID,
		"email":          profile.User.Email,
		"email_verified": profile.User.EmailVerified,
		"address":        c.GetString(ctxAddress),
		"wallets":        viewWallets(profile.Wallets),
		"created_at":     profile.User.CreatedAt,
	})
}

// ListWallets returns the caller's wallets, primary first
func (h *AuthHandlers) ListWallets(c *gin.Context) {
	wallets, err := h.authService.ListWallets(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallets": viewWallets(wallets)})
}

// LinkWallet adds a wallet to the caller. The challenge must have been issued
// for the new address and signed by both the new and the primary wallet.
func (h *AuthHandlers) LinkWallet(c *gin.Context) {
	var req struct {
		Address          string `json:"address" binding:"required"`
		WalletType       string `json:"wallet_type" binding:"required"`
		Signature        string `json:"signature" binding:"required"`
		Message          string `json:"message" binding:"required"`
		PublicKey        string `json:"public_key"`
		PrimarySignature string `json:"primary_signature" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	wallet, err := h.authService.LinkWallet(c.Request.Context(), c.GetString(ctxUserID), service.LinkRequest{
		Address:          req.Address,
		WalletType:       req.WalletType,
		Signature:        req.Signature,
		Message:          req.Message,
		PublicKey:        req.PublicKey,
		PrimarySignature: req.PrimarySignature,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallet": viewWallet(wallet)})
}

// SetPrimaryWallet makes one of the caller's wallets primary
func (h *AuthHandlers) SetPrimaryWallet(c *gin.Context) {
	var req struct {
		Address string `json:"address" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	wallet, err := h.authService.SetPrimaryWallet(c.Request.Context(), c.GetString(ctxUserID), req.Address)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallet": viewWallet(wallet)})
}

// RequestEmailOTP sends a verification code to an email address
func (h *AuthHandlers) RequestEmailOTP(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.otpService.RequestEmailVerification(c.Request.Context(), c.GetString(ctxUserID), req.Email); err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Verification code sent"})
}

// VerifyEmail checks a verification code
func (h *AuthHandlers) VerifyEmail(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
		Code  string `json:"code" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.otpService.VerifyEmail(c.Request.Context(), c.GetString(ctxUserID), req.Email, req.Code); err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Email verified"})
}

// LogsHandler exports the buffered log records, oldest first
func LogsHandler(ring *slogx.Ring) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries := ring.Entries()
		c.JSON(http.StatusOK, gin.H{
			"count":    len(entries),
			"capacity": ring.Cap(),
			"entries":  entries,
		})
	}
}

// HealthCheck reports whether a collaborator is reachable
type HealthCheck func(ctx context.Context) error

// HealthHandler runs every check and answers 503 when one fails
func HealthHandler(checks map[string]HealthCheck, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				slogx.FromContext(ctx, logger).Warn("health check failed", "check", name, "error", err)
				results[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": results})
	}
}
