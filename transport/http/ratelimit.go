package http

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/walletauth/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the time window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate limit
	Burst int
}

// AuthLimit guards the unauthenticated challenge and login endpoints
var AuthLimit = RateLimitConfig{
	RequestsPerWindow: 20,
	Window:            time.Minute,
	Burst:             20,
}

// EmailLimit guards the routes that send email or check emailed codes
var EmailLimit = RateLimitConfig{
	RequestsPerWindow: 5,
	Window:            10 * time.Minute,
	Burst:             5,
}

// KeyExtractor picks the bucket a request is counted in
type KeyExtractor func(c *gin.Context) string

// IPKeyExtractor keys requests by client IP
func IPKeyExtractor(c *gin.Context) string {
	return c.ClientIP()
}

// UserIDKeyExtractor keys requests by the authenticated user, falling back to
// the client IP before AuthMiddleware has run
func UserIDKeyExtractor(c *gin.Context) string {
	if userID := c.GetString(ctxUserID); userID != "" {
		return "user:" + userID
	}
	return "ip:" + c.ClientIP()
}

// rateLimiter manages rate limiters for different keys
type rateLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	mu       sync.Mutex
	// Cleanup old limiters periodically
	lastCleanup time.Time
}

// getLimiter retrieves or creates a rate limiter for the given key
func (rl *rateLimiter) getLimiter(key string) *rate.Limiter {
	if limiter, ok := rl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(rl.rate, rl.burst)
	actual, _ := rl.limiters.LoadOrStore(key, limiter)

	rl.maybeCleanup()

	return actual.(*rate.Limiter)
}

// maybeCleanup drops limiters with a full bucket, which have been idle
func (rl *rateLimiter) maybeCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < 5*time.Minute {
		return
	}
	rl.lastCleanup = time.Now()

	rl.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// RateLimitByIP limits requests per client IP
func RateLimitByIP(config RateLimitConfig, logger *slog.Logger) gin.HandlerFunc {
	return RateLimitMiddleware(config, IPKeyExtractor, logger)
}

// RateLimitByUser limits requests per authenticated user
func RateLimitByUser(config RateLimitConfig, logger *slog.Logger) gin.HandlerFunc {
	return RateLimitMiddleware(config, UserIDKeyExtractor, logger)
}

// RateLimitMiddleware limits requests per key
func RateLimitMiddleware(config RateLimitConfig, keyExtractor KeyExtractor, logger *slog.Logger) gin.HandlerFunc {
	rl := &rateLimiter{
		rate:        rate.Limit(float64(config.RequestsPerWindow) / config.Window.Seconds()),
		burst:       config.Burst,
		lastCleanup: time.Now(),
	}

	return func(c *gin.Context) {
		key := keyExtractor(c)
		limiter := rl.getLimiter(key)

		if !limiter.Allow() {
			// Peek at when the next token frees up without consuming it
			reservation := limiter.Reserve()
			delay := reservation.Delay()
			reservation.Cancel()

			retryAfter := max(int(delay.Seconds()), 1)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.Header("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerWindow))
			c.Header("X-RateLimit-Window", config.Window.String())

			slogx.FromContext(c.Request.Context(), logger).Warn("rate limit exceeded",
				"key", key,
				"endpoint", c.FullPath(),
				"retry_after", retryAfter,
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}

		c.Next()
	}
}
