package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/livepoll/backend/pkg/response"
)

// Limiter bounds how often a key may act.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimitByIP rejects requests from a client IP that exhausted its window. Limiter errors let the
// request through.
func RateLimitByIP(limiter Limiter, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			response.TooManyRequests(c, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
