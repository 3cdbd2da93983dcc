// Package errors provides the cortex result-code taxonomy and the typed
// errors shared by every package in the module.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnauthorized indicates insufficient permissions
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnsupported indicates an unsupported operation
	ErrUnsupported = errors.New("unsupported")
)

// Engine sentinels. errors.Is matches any *Error with the same primary code.
var (
	ErrBusy       = &Error{Code: BUSY}
	ErrLocked     = &Error{Code: LOCKED}
	ErrConstraint = &Error{Code: CONSTRAINT}
	ErrMisuse     = &Error{Code: MISUSE}
	ErrReadOnly   = &Error{Code: READONLY}
	ErrCantOpen   = &Error{Code: CANTOPEN}
	ErrInterrupt  = &Error{Code: INTERRUPT}
	ErrAbort      = &Error{Code: ABORT}
	ErrRange      = &Error{Code: RANGE}
)

// Error is a failure reported by the engine or by the cortex API itself.
type Error struct {
	Op       string // Operation that failed (e.g. "exec", "prepare", "close")
	Code     Code   // Primary result code
	Extended Code   // Extended result code, equal to Code when none is known
	Msg      string // Engine message, empty for the generic code text
	Err      error  // Underlying driver error, if any
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = Errstr(e.ext())
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by primary code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code.Primary() == t.Code.Primary()
}

func (e *Error) ext() Code {
	if e.Extended != 0 {
		return e.Extended
	}
	return e.Code
}

// New creates an *Error for op. code may be primary or extended.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, Code: code.Primary(), Extended: code, Msg: msg}
}

// Wrap converts err into an *Error carrying code. If err is nil, returns nil.
// An err that already is an *Error keeps its code and gains op.
func Wrap(op string, code Code, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return &Error{Op: op, Code: ce.Code, Extended: ce.Extended, Msg: ce.Msg, Err: ce.Err}
	}
	return &Error{Op: op, Code: code.Primary(), Extended: code, Msg: err.Error(), Err: err}
}

// CodeOf returns the extended result code carried by err. nil yields OK,
// validation failures yield MISUSE and anything else yields ERROR.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.ext()
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return MISUSE
	}
	return ERROR
}

// MessageOf returns the text a caller of errmsg would see for err.
func MessageOf(err error) string {
	if err == nil {
		return Errstr(OK)
	}
	var ce *Error
	if errors.As(err, &ce) {
		if ce.Msg != "" {
			return ce.Msg
		}
		return Errstr(ce.ext())
	}
	return err.Error()
}

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "table", "session", "snapshot")
	ID       string // Identifier of the resource
	Err      error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Value   string // Value that failed validation (may be redacted)
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// PermissionError represents an authorization/permission error
type PermissionError struct {
	Operation string
	Resource  string
	Reason    string
	Err       error
}

func (e *PermissionError) Error() string {
	if e.Operation != "" && e.Resource != "" {
		return fmt.Sprintf("permission denied: cannot %s %s: %s", e.Operation, e.Resource, e.Reason)
	}
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

func (e *PermissionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrUnauthorized
}

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewPermission creates a PermissionError
func NewPermission(operation, resource, reason string) *PermissionError {
	return &PermissionError{
		Operation: operation,
		Resource:  resource,
		Reason:    reason,
	}
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
