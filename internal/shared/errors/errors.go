package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types
var (
	ErrNotFound            = errors.New("resource not found")
	ErrInvalidInput        = errors.New("invalid input")
	ErrDuplicateEvent      = errors.New("duplicate event")
	ErrAnalyzerUnavailable = errors.New("analyzer unavailable")
	ErrEmptyKnowledge      = errors.New("knowledge base empty")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInternal            = errors.New("internal error")
)

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// InvalidInput creates an invalid input error. These are caller mistakes
// and are never logged at error level.
func InvalidInput(message string) *AppError {
	return &AppError{
		Err:        ErrInvalidInput,
		Message:    message,
		Code:       "INVALID_INPUT",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Validation creates an invalid input error with field details
func Validation(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrInvalidInput,
		Message:    message,
		Code:       "INVALID_INPUT",
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// DuplicateEvent creates an idempotency collision error. Callers may treat
// it as success; stored state is identical either way.
func DuplicateEvent(message string) *AppError {
	return &AppError{
		Err:        ErrDuplicateEvent,
		Message:    message,
		Code:       "DUPLICATE_EVENT",
		HTTPStatus: http.StatusConflict,
	}
}

// AnalyzerUnavailable creates an error for an exhausted vision provider
func AnalyzerUnavailable(err error) *AppError {
	return &AppError{
		Err:        ErrAnalyzerUnavailable,
		Message:    "vision analyzer unavailable",
		Code:       "ANALYZER_UNAVAILABLE",
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]string{"cause": fmt.Sprint(err)},
	}
}

// EmptyKnowledge creates a hard configuration error for a tradition with
// no loaded records
func EmptyKnowledge(tradition string) *AppError {
	return &AppError{
		Err:        ErrEmptyKnowledge,
		Message:    fmt.Sprintf("no knowledge records loaded for tradition %s", tradition),
		Code:       "EMPTY_KNOWLEDGE",
		HTTPStatus: http.StatusInternalServerError,
		Details:    map[string]string{"tradition": tradition},
	}
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       "UNAUTHORIZED",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Internal creates an internal error
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) *AppError {
	if appErr, ok := err.(*AppError); ok {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       "INTERNAL_ERROR",
		HTTPStatus: http.StatusInternalServerError,
	}
}
