package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RateLimit implements a fixed one-minute window per client using Redis.
// Requests are allowed through when Redis is unavailable.
func RateLimit(redisClient *redis.Client, perMinute int, log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		subject := c.ClientIP()
		if userID, ok := GetUserIDFromContext(c); ok {
			subject = fmt.Sprintf("user:%d", userID)
		}
		key := "rate_limit:" + subject

		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		current, err := redisClient.Get(ctx, key).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			log.WithError(err).Warn("Rate limiter unavailable")
			c.Next()
			return
		}

		if current >= perMinute {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":     "Rate limit exceeded",
				"retryable": true,
			})
			return
		}

		hits, err := redisClient.Incr(ctx, key).Result()
		if err != nil {
			log.WithError(err).Warn("Failed to record rate limit hit")
		} else if hits == 1 {
			// first hit opens the window
			redisClient.Expire(ctx, key, time.Minute)
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(perMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(perMinute-current-1))

		c.Next()
	}
}
