package validator

import (
	"fmt"
	"strings"
	"sync"

	ierr "github.com/flexprice/billing/internal/errors"
	"github.com/go-playground/validator/v10"
)

var (
	validate *validator.Validate
	once     sync.Once
)

func GetValidator() *validator.Validate {
	once.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateRequest validates struct tags and returns an ErrValidation that
// lists every failing field.
func ValidateRequest(req interface{}) error {
	err := GetValidator().Struct(req)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return ierr.WithError(err).
			WithHint("Invalid request").
			Mark(ierr.ErrValidation)
	}

	details := make(map[string]interface{}, len(validationErrs))
	fields := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		details[fe.Field()] = fmt.Sprintf("failed on %s", fe.Tag())
		fields = append(fields, fe.Field())
	}

	return ierr.WithError(err).
		WithHintf("Invalid value for %s", strings.Join(fields, ", ")).
		WithReportableDetails(details).
		Mark(ierr.ErrValidation)
}
