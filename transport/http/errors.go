package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/walletauth/core"
	"github.com/layer-3/walletauth/pkg/slogx"
	"github.com/layer-3/walletauth/service"
)

// retryAfterSeconds is advertised when a collaborator is down
const retryAfterSeconds = "5"

// writeError maps service errors to responses. Verification details never
// reach the client; they were logged where they happened.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, msg := http.StatusInternalServerError, "Internal error"

	switch {
	case errors.Is(err, core.ErrInfrastructureUnavailable):
		status, msg = http.StatusServiceUnavailable, "Service temporarily unavailable"
		c.Header("Retry-After", retryAfterSeconds)
	case core.IsVerificationFailure(err):
		status, msg = http.StatusUnauthorized, "Authentication failed"
	case errors.Is(err, core.ErrSessionExpired), errors.Is(err, core.ErrTokenExpired):
		status, msg = http.StatusUnauthorized, "Session expired"
	case service.IsSessionError(err):
		status, msg = http.StatusUnauthorized, "Invalid session"
	case errors.Is(err, core.ErrLinkingConflict):
		status, msg = http.StatusConflict, "Already linked to another user"
	case errors.Is(err, core.ErrWalletNotFound):
		status, msg = http.StatusNotFound, "Wallet not found"
	case errors.Is(err, core.ErrUserNotFound):
		status, msg = http.StatusNotFound, "User not found"
	case errors.Is(err, core.ErrInvalidOTP):
		status, msg = http.StatusBadRequest, "Invalid verification code"
	case errors.Is(err, core.ErrTooManyAttempts):
		status, msg = http.StatusTooManyRequests, "Too many verification attempts"
	case errors.Is(err, core.ErrInvalidArgument):
		status, msg = http.StatusBadRequest, "Invalid request"
	}

	if status >= http.StatusInternalServerError {
		slogx.FromContext(c.Request.Context(), logger).Error("request failed", "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
