package errors

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// Error codes used in ErrorResponse payloads
const (
	ErrCodeNotFound         = "not_found"
	ErrCodeAlreadyExists    = "already_exists"
	ErrCodeValidation       = "validation_error"
	ErrCodeInvalidOperation = "invalid_operation"
	ErrCodeHTTPClient       = "http_client_error"
	ErrCodeDatabase         = "database_error"
	ErrCodeSystem           = "system_error"
	ErrCodeInternal         = "internal_error"
)

// InternalError is the sentinel type used as a mark reference.
type InternalError struct {
	Code    string
	Message string
}

func (e *InternalError) Error() string {
	return e.Message
}

func newSentinel(code, message string) *InternalError {
	return &InternalError{Code: code, Message: message}
}

var (
	ErrNotFound         = newSentinel(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = newSentinel(ErrCodeAlreadyExists, "resource already exists")
	ErrValidation       = newSentinel(ErrCodeValidation, "validation error")
	ErrInvalidOperation = newSentinel(ErrCodeInvalidOperation, "invalid operation")
	ErrHTTPClient       = newSentinel(ErrCodeHTTPClient, "http client error")
	ErrDatabase         = newSentinel(ErrCodeDatabase, "database error")
	ErrSystem           = newSentinel(ErrCodeSystem, "system error")
	ErrInternal         = newSentinel(ErrCodeInternal, "internal error")
)

// ordered by precedence when an error carries more than one mark
var sentinels = []*InternalError{
	ErrNotFound,
	ErrAlreadyExists,
	ErrValidation,
	ErrInvalidOperation,
	ErrHTTPClient,
	ErrDatabase,
	ErrSystem,
	ErrInternal,
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsInvalidOperation(err error) bool {
	return errors.Is(err, ErrInvalidOperation)
}

func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// Code returns the code of the first sentinel the error is marked with.
func Code(err error) string {
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Code
		}
	}
	return ErrCodeInternal
}

// HTTPStatusFromErr maps a marked error to the HTTP status used by the API layer.
func HTTPStatusFromErr(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsAlreadyExists(err):
		return http.StatusConflict
	case IsValidation(err), IsInvalidOperation(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrHTTPClient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
