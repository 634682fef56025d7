package errors

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrorResponse is the JSON body returned for failed API calls.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string                 `json:"code"`
	Display string                 `json:"display"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewErrorResponse builds the response body for err.
func NewErrorResponse(err error) *ErrorResponse {
	display := err.Error()
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		display = strings.Join(hints, "; ")
	}

	details := ReportableDetails(err)
	if len(details) == 0 {
		details = nil
	}

	return &ErrorResponse{
		Success: false,
		Error: ErrorDetail{
			Code:    Code(err),
			Display: display,
			Message: err.Error(),
			Details: details,
		},
	}
}
