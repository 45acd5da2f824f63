package forms

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies service failures for transport mapping. Every error
// returned by the service carries exactly one kind; anything not clearly
// attributable to the caller is Internal.
type ErrorKind string

const (
	ErrorKindValidationFailed ErrorKind = "validation_failed"
	ErrorKindNotFound         ErrorKind = "not_found"
	ErrorKindAccessDenied     ErrorKind = "access_denied"
	ErrorKindConflict         ErrorKind = "conflict"
	ErrorKindInternal         ErrorKind = "internal"
)

// ServiceError is the uniform failure type of the forms service. The code is
// a dotted operation.reason pair, details carry per-field validation
// messages when the kind is ValidationFailed.
type ServiceError struct {
	kind    ErrorKind
	code    string
	details []string
	err     error
}

func (e *ServiceError) Error() string {
	parts := []string{e.code}
	if len(e.details) > 0 {
		parts = append(parts, strings.Join(e.details, "; "))
	}
	if e.err != nil {
		parts = append(parts, e.err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Kind returns the failure classification.
func (e *ServiceError) Kind() ErrorKind {
	return e.kind
}

// Code returns the dotted operation code.
func (e *ServiceError) Code() string {
	return e.code
}

// Details returns the per-field validation messages, if any.
func (e *ServiceError) Details() []string {
	return e.details
}

func newServiceError(kind ErrorKind, operation, reason string, cause error) error {
	return &ServiceError{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

func newValidationError(operation string, details []string) error {
	return &ServiceError{
		kind:    ErrorKindValidationFailed,
		code:    fmt.Sprintf("%s.%s", operation, "validation_failed"),
		details: details,
	}
}

// KindOf extracts the classification from a service failure, mapping
// anything unrecognised to Internal.
func KindOf(err error) ErrorKind {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Kind()
	}
	return ErrorKindInternal
}
