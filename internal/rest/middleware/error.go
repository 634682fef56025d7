package middleware

import (
	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the last error attached with c.Error as an
// ErrorResponse, with the status derived from its mark.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		c.JSON(ierr.HTTPStatusFromErr(err), ierr.NewErrorResponse(err))
	}
}
