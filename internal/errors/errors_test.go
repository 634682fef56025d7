package errors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkAndPredicates(t *testing.T) {
	err := NewError("subscription not found").
		WithHint("Check the subscription ID").
		Mark(ErrNotFound)

	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
	assert.Equal(t, ErrCodeNotFound, Code(err))
	assert.Equal(t, http.StatusNotFound, HTTPStatusFromErr(err))
}

func TestWithErrorKeepsCause(t *testing.T) {
	cause := NewError("boom").Mark(ErrDatabase)
	err := WithError(cause).
		WithHint("Failed to save subscription").
		Mark(ErrSystem)

	assert.True(t, IsDatabase(err))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromErr(err))
}

func TestErrorResponse(t *testing.T) {
	err := NewError("customer already has an active subscription").
		WithHint("Cancel the active subscription first").
		WithReportableDetails(map[string]interface{}{"customer_id": "cus_1"}).
		Mark(ErrAlreadyExists)

	resp := NewErrorResponse(err)
	assert.False(t, resp.Success)
	assert.Equal(t, ErrCodeAlreadyExists, resp.Error.Code)
	assert.Equal(t, "Cancel the active subscription first", resp.Error.Display)
	assert.Equal(t, "cus_1", resp.Error.Details["customer_id"])
	assert.Equal(t, http.StatusConflict, HTTPStatusFromErr(err))
}

func TestStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatusFromErr(NewError("x").Mark(ErrInvalidOperation)))
	assert.Equal(t, http.StatusBadRequest, HTTPStatusFromErr(NewError("x").Mark(ErrValidation)))
	assert.Equal(t, http.StatusBadGateway, HTTPStatusFromErr(NewError("x").Mark(ErrHTTPClient)))
	assert.Equal(t, http.StatusOK, HTTPStatusFromErr(nil))
}
