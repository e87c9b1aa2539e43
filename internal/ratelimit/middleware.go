package ratelimit

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Middleware returns a gin handler enforcing the limiter for an endpoint
// class. The key is the tenant when known, otherwise the client IP.
func Middleware(limiter *Limiter, class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Tenant-ID")
		if key == "" {
			key = c.ClientIP()
		}

		decision, err := limiter.Allow(c.Request.Context(), class, key)
		if decision != nil {
			c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", decision.Limit))
			c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", decision.Remaining))
		}

		if err != nil {
			if decision != nil && !decision.Allowed {
				c.Header("Retry-After", fmt.Sprintf("%d", int(decision.RetryAfter.Seconds()+0.5)))
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
					"success": false,
					"error":   "Too many requests. Please try again later.",
				})
				return
			}

			// Store failure: fail open rather than blocking ingestion on the
			// limiter backend.
			c.Next()
			return
		}

		c.Next()
	}
}
