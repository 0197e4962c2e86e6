package middleware

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig holds per-client HTTP rate limit settings
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained allowance per client
	RequestsPerMinute int
	// Burst is the instantaneous allowance on top of the sustained rate
	Burst int
}

// DefaultRateLimitConfig suits authenticated API usage
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 200, Burst: 50}
}

// AuthRateLimitConfig is stricter, for login and OAuth endpoints
func AuthRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 10, Burst: 5}
}

// RateLimitMiddleware enforces a token-bucket limit per client IP backed by
// Redis, so the limit holds across every API replica sharing the store. A
// Redis failure lets the request through: degraded limiting beats a hard
// outage of the whole API.
func RateLimitMiddleware(rdb *redis.Client, cfg RateLimitConfig) gin.HandlerFunc {
	limiter := redis_rate.NewLimiter(rdb)
	limit := redis_rate.Limit{
		Rate:   cfg.RequestsPerMinute,
		Period: time.Minute,
		Burst:  cfg.Burst,
	}

	return func(c *gin.Context) {
		res, err := limiter.Allow(c.Request.Context(), "ratelimit:http:"+c.ClientIP(), limit)
		if err != nil {
			slog.Warn("rate limit store unavailable, allowing request", "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if res.Allowed == 0 {
			c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
