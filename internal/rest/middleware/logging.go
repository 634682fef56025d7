package middleware

import (
	"net/http"
	"time"

	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/types"
	"github.com/gin-gonic/gin"
)

// LoggingMiddleware logs one line per request. Health and metrics scrapes
// are logged at debug level.
func LoggingMiddleware(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []interface{}{
			"status", status,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", c.FullPath(),
			"latency_ms", time.Since(start).Milliseconds(),
		}
		if q := c.Request.URL.RawQuery; q != "" {
			fields = append(fields, "query", q)
		}
		if requestID := types.GetRequestID(c.Request.Context()); requestID != "" {
			fields = append(fields, "request_id", requestID)
		}
		if sweep := c.Param("sweep"); sweep != "" {
			fields = append(fields, "sweep", sweep)
		}
		if len(c.Errors) > 0 {
			fields = append(fields, "errors", c.Errors.String())
		}

		switch {
		case status >= http.StatusInternalServerError:
			log.Errorw("HTTP_REQUEST_ERROR", fields...)
		case status >= http.StatusBadRequest:
			log.Warnw("HTTP_REQUEST_WARNING", fields...)
		case c.FullPath() == "/health" || c.FullPath() == "/metrics":
			log.Debugw("HTTP_REQUEST_INFO", fields...)
		default:
			log.Infow("HTTP_REQUEST_INFO", fields...)
		}
	}
}
