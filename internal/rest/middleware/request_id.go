package middleware

import (
	"context"

	"github.com/flexprice/billing/internal/types"
	"github.com/gin-gonic/gin"
)

// RequestIDMiddleware propagates X-Request-ID, generating one when absent,
// and stores it on the request context.
func RequestIDMiddleware(c *gin.Context) {
	requestID := c.GetHeader(types.HeaderRequestID)
	if requestID == "" {
		requestID = types.GenerateUUID()
	}

	ctx := context.WithValue(c.Request.Context(), types.CtxRequestID, requestID)
	c.Request = c.Request.WithContext(ctx)
	c.Header(types.HeaderRequestID, requestID)
	c.Next()
}
