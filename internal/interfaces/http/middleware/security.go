package middleware

import (
	"github.com/gin-gonic/gin"
)

// SecurityHeaders adds security headers to JSON API responses
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		// Cart responses are per-user
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}
