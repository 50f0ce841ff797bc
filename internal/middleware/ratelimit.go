// ratelimit.go protects the management plane (/_api) with per-IP limits.
// This is separate from the proxy pipeline's sliding-window limiter: the
// management API is a small CRUD surface where a GCRA limiter (redis_rate)
// over the shared Redis gives smoother behavior than a raw window, and
// where failing open on Redis errors is equally acceptable.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// ManagementRateLimit limits management-API requests per client IP using
// redis_rate when a Redis client is available. With no Redis the middleware
// is a pass-through; the proxy pipeline's local limiter still covers the
// hot path.
func ManagementRateLimit(client *redis.Client, perMinute int) gin.HandlerFunc {
	if client == nil {
		return func(c *gin.Context) { c.Next() }
	}

	limiter := redis_rate.NewLimiter(client)
	limit := redis_rate.PerMinute(perMinute)

	return func(c *gin.Context) {
		res, err := limiter.Allow(c.Request.Context(), "mgmt:ip:"+c.ClientIP(), limit)
		if err != nil {
			// Fail open, same policy as the pipeline limiter.
			slog.Warn("management rate limiter unavailable, allowing request", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(perMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if res.Allowed == 0 {
			retryAfter := int(res.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}
