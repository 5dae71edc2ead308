package service

import (
	"errors"
	"fmt"

	"github.com/parsascontentcorner/grokgate/internal/models"
)

// ErrorType is the category of a DomainError.
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeInvalidState ErrorType = "invalid_state"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUpstream     ErrorType = "upstream"
	ErrorTypeInternal     ErrorType = "internal"
)

// DomainError is an error with a category the transport layers map to a status code.
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches any DomainError of the same type.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{Type: errType, Message: message, Err: err}
}

var (
	ErrRecordNotFound = NewDomainError(ErrorTypeNotFound, "message not found", nil)
	ErrNotPending     = NewDomainError(ErrorTypeInvalidState, "message not pending", nil)
	ErrUpstream       = NewDomainError(ErrorTypeUpstream, "AI service call failed", nil)
)

func hasType(err error, t ErrorType) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Type == t
}

// IsNotFound reports whether err is a not_found DomainError.
func IsNotFound(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsInvalidState reports whether err is an invalid_state DomainError.
func IsInvalidState(err error) bool { return hasType(err, ErrorTypeInvalidState) }

// IsValidation reports whether err is a validation DomainError.
func IsValidation(err error) bool { return hasType(err, ErrorTypeValidation) }

// IsUpstream reports whether err is an upstream DomainError.
func IsUpstream(err error) bool { return hasType(err, ErrorTypeUpstream) }

// storeError translates store sentinels into domain errors and wraps the rest as internal.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, models.ErrRecordNotFound):
		return NewDomainError(ErrorTypeNotFound, "message not found", err)
	case errors.Is(err, models.ErrNotPending):
		return NewDomainError(ErrorTypeInvalidState, "message not pending", err)
	}
	return NewDomainError(ErrorTypeInternal, op, err)
}
