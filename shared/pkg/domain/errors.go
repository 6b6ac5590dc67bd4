package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyValue         = errors.New("value is required")
	ErrInvalidFormat      = errors.New("invalid format")
	ErrTooLong            = errors.New("value is too long")
	ErrUnsupportedChannel = errors.New("unsupported channel")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrMissingVariables   = errors.New("missing template variables")

	// returned by repositories
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// FieldError ties a validation failure to the input field that caused it.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e *FieldError) Unwrap() error { return e.Err }

func fieldErr(field string, err error) error {
	return &FieldError{Field: field, Err: err}
}

// TransitionError reports an action that is not allowed from the current status.
type TransitionError struct {
	Action string
	From   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s notification with status %s", e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// MissingVariablesError lists required template variables absent from a binding.
type MissingVariablesError struct {
	Missing []string
}

func (e *MissingVariablesError) Error() string {
	return "missing template variables: " + strings.Join(e.Missing, ", ")
}

func (e *MissingVariablesError) Unwrap() error { return ErrMissingVariables }
