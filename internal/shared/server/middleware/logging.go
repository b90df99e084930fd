package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"msgvault-backend/internal/shared/telemetry"
)

// Context keys handlers may set to enrich the request log line.
const (
	LogPhoneNumberKey = "phoneNumber"
	LogRecordIDKey    = "recordId"
	LogObjectKeyKey   = "objectKey"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": float64(latency.Microseconds()) / 1000.0,
			"username":    UsernameFromContext(c),
			"is_bot":      IsBot(c),
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		}
		if v := c.GetString(LogPhoneNumberKey); v != "" {
			fields["phone_number"] = v
		}
		if v := c.GetString(LogRecordIDKey); v != "" {
			fields["record_id"] = v
		}
		if v := c.GetString(LogObjectKeyKey); v != "" {
			fields["object_key"] = v
		}

		telemetry.Info("request.complete", fields)
	}
}
