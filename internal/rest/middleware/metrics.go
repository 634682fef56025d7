package middleware

import (
	"strconv"
	"time"

	"github.com/flexprice/billing/internal/metrics"
	"github.com/gin-gonic/gin"
)

// MetricsMiddleware counts requests and observes their latency by route.
func MetricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
