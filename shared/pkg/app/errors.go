package app

import (
	"context"
	"errors"
	"fmt"

	"notification-hub/shared/pkg/domain"
)

// Kind is the failure category every handler error carries.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindValidation         Kind = "validation"
	KindConflict           Kind = "conflict"
	KindUnsupportedChannel Kind = "unsupported_channel"
	KindFailure            Kind = "failure"
)

// Error is returned by every Service method.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, KindFailure for errors not raised by this
// package and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFailure
}

// IsPublishFailed reports whether err is a publish failure that happened after
// the change it belongs to was saved.
func IsPublishFailed(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == codePublishFailed
}

func newError(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func validation(code, message string) *Error {
	return newError(KindValidation, code, message, nil)
}

// classify converts a domain or infrastructure error into an *Error.
func classify(err error, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return newError(KindNotFound, "not_found", message, err)
	case errors.Is(err, domain.ErrConflict):
		return newError(KindConflict, "conflict", message, err)
	case errors.Is(err, domain.ErrUnsupportedChannel):
		return newError(KindUnsupportedChannel, "unsupported_channel", message, err)
	case errors.Is(err, domain.ErrInvalidTransition):
		return newError(KindValidation, "invalid_transition", message, err)
	case errors.Is(err, domain.ErrMissingVariables):
		return newError(KindValidation, "missing_variables", message, err)
	case errors.Is(err, domain.ErrEmptyValue),
		errors.Is(err, domain.ErrInvalidFormat),
		errors.Is(err, domain.ErrTooLong):
		return newError(KindValidation, "invalid_input", message, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return newError(KindFailure, "cancelled", message, err)
	}
	return newError(KindFailure, "internal", message, err)
}
