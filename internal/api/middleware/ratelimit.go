package middleware

import (
	"log/slog"
	"net/http"

	"github.com/pranith684/TaskFlow/internal/pkg/metrics"
	"github.com/pranith684/TaskFlow/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// RateLimit 对敏感端点按客户端 IP 限流，令牌耗尽返回 429。
//
// Redis 不可用时放行并记录告警，限流器只是防护手段，不能成为单点。
func RateLimit(limiter *ratelimit.Limiter, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		allowed, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			if logger != nil {
				logger.Warn("rate limit check failed", slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !allowed {
			metrics.RateLimitRejectedTotal.Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			c.Abort()
			return
		}

		c.Next()
	}
}
