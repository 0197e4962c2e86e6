package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/publora/publora/internal/telemetry"
)

// MetricsMiddleware records request count and duration for every request.
// The path label uses the matched route template from c.FullPath() rather
// than the raw URL; requests matching no route are labeled "<no-route>" so
// unhandled paths cannot inflate label cardinality.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		method := c.Request.Method
		status := fmt.Sprintf("%d", c.Writer.Status())
		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
