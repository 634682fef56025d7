package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ErrorBuilder accumulates hints and details before the error is marked.
type ErrorBuilder struct {
	err error
}

// NewError starts a builder with a fresh error carrying a stack trace.
func NewError(msg string) *ErrorBuilder {
	return &ErrorBuilder{err: errors.New(msg)}
}

// NewErrorf starts a builder with a formatted message.
func NewErrorf(format string, args ...interface{}) *ErrorBuilder {
	return &ErrorBuilder{err: errors.Newf(format, args...)}
}

// WithError wraps an existing error.
func WithError(err error) *ErrorBuilder {
	if err == nil {
		err = errors.New("unknown error")
	}
	return &ErrorBuilder{err: err}
}

// WithHint attaches a user-facing hint.
func (b *ErrorBuilder) WithHint(hint string) *ErrorBuilder {
	b.err = errors.WithHint(b.err, hint)
	return b
}

func (b *ErrorBuilder) WithHintf(format string, args ...interface{}) *ErrorBuilder {
	b.err = errors.WithHint(b.err, fmt.Sprintf(format, args...))
	return b
}

// WithMessage prefixes the error message.
func (b *ErrorBuilder) WithMessage(msg string) *ErrorBuilder {
	b.err = errors.WithMessage(b.err, msg)
	return b
}

// WithReportableDetails attaches details that are safe to return to callers.
func (b *ErrorBuilder) WithReportableDetails(details map[string]interface{}) *ErrorBuilder {
	b.err = &detailedError{cause: b.err, details: details}
	return b
}

// Mark tags the error with a sentinel and returns it.
func (b *ErrorBuilder) Mark(reference error) error {
	return errors.Mark(b.err, reference)
}

// Err returns the built error without a mark.
func (b *ErrorBuilder) Err() error {
	return b.err
}

type detailedError struct {
	cause   error
	details map[string]interface{}
}

func (e *detailedError) Error() string { return e.cause.Error() }
func (e *detailedError) Unwrap() error { return e.cause }

// ReportableDetails collects every detail map attached along the chain.
func ReportableDetails(err error) map[string]interface{} {
	out := make(map[string]interface{})
	for err != nil {
		if d, ok := err.(*detailedError); ok {
			for k, v := range d.details {
				if _, exists := out[k]; !exists {
					out[k] = v
				}
			}
		}
		err = errors.UnwrapOnce(err)
	}
	return out
}
