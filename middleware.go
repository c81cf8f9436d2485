package meetupchat

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/real-rm/golog"

	"github.com/real-rm/meetupchat/internal/auth"
	"github.com/real-rm/meetupchat/internal/chat"
	"github.com/real-rm/meetupchat/internal/constants"
	"github.com/real-rm/meetupchat/internal/httperrors"
	"github.com/real-rm/meetupchat/internal/metrics"
	"github.com/real-rm/meetupchat/internal/ratelimit"
	"github.com/real-rm/meetupchat/internal/util"
)

// contextKeyMemberID holds the authenticated member of a REST request
const contextKeyMemberID = "memberID"

// securityHeadersMiddleware adds standard HTTP security headers to all responses.
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// metricsMiddleware records HTTP request duration for Prometheus monitoring
func metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		metrics.HTTPRequestDuration.With(prometheus.Labels{
			"endpoint": c.FullPath(),
			"method":   c.Request.Method,
		}).Observe(time.Since(start).Seconds())
	}
}

// bearerAuthMiddleware resolves the bearer token of a REST request to a member
func bearerAuthMiddleware(tokens auth.TokenValidator, logger *golog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := util.ExtractBearerToken(c.GetHeader(constants.HeaderAuthorization))
		// No else needed: early return pattern (guard clause)
		if err != nil {
			httperrors.RespondUnauthorized(c, "")
			return
		}

		memberID, err := tokens.Decode(token)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			// Log detailed error server-side, send generic error to client
			logger.Warn("Token validation failed",
				"error", err,
				"component", "auth")
			httperrors.RespondInvalidToken(c)
			return
		}

		c.Set(contextKeyMemberID, memberID)
		c.Next()
	}
}

// memberFromContext returns the member set by bearerAuthMiddleware
func memberFromContext(c *gin.Context) (chat.MemberID, bool) {
	value, exists := c.Get(contextKeyMemberID)
	// No else needed: early return pattern (guard clause)
	if !exists {
		return 0, false
	}
	memberID, ok := value.(chat.MemberID)
	return memberID, ok
}

// sendRateLimitMiddleware shares the per-member send budget of the persistent
// connection with the REST send endpoint
func sendRateLimitMiddleware(limiter *ratelimit.MessageLimiter[chat.MemberID]) gin.HandlerFunc {
	return func(c *gin.Context) {
		memberID, ok := memberFromContext(c)
		// No else needed: early return pattern (guard clause)
		if !ok {
			httperrors.RespondUnauthorized(c, "")
			return
		}
		// No else needed: early return pattern (guard clause)
		if !limiter.Allow(memberID) {
			httperrors.RespondTooManyRequests(c, limiter.RetryAfter(memberID))
			return
		}
		c.Next()
	}
}

// publicRateLimitMiddleware rate limits public endpoints (healthz, readyz, metrics)
// by client IP to prevent abuse.
func publicRateLimitMiddleware(limiter *ratelimit.MessageLimiter[string]) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Use Gin's ClientIP() which respects trusted proxies to prevent X-Forwarded-For spoofing
		clientIP := c.ClientIP()

		// No else needed: early return pattern (guard clause)
		if !limiter.Allow(clientIP) {
			httperrors.RespondTooManyRequests(c, limiter.RetryAfter(clientIP))
			return
		}
		c.Next()
	}
}
