package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carebridge/go-care-alerts/internal/ratelimit"
)

// RateLimitMiddleware applies a fixed-window limit keyed by client IP
// within a route class, so webhook traffic and alert triggering count
// against separate budgets. The limiter decides what happens when its
// shared store is down (fail-open for alert triggering, fail-closed
// elsewhere).
func RateLimitMiddleware(limiter ratelimit.Limiter, class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := class + ":" + c.ClientIP()

		res := limiter.CheckAndIncrement(c.Request.Context(), key)
		if !res.Allowed {
			c.Header("Retry-After", res.ResetAt.UTC().Format(time.RFC1123))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":    "rate limit exceeded",
				"reset_at": res.ResetAt.UTC(),
			})
			return
		}
		c.Next()
	}
}
