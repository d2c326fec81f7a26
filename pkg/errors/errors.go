package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standard sentinel errors for common cases.
var (
	ErrNotFound           = errors.New("resource not found")
	ErrAlreadyExists      = errors.New("resource already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrInternal           = errors.New("internal error")
)

// genericServerMessage is the only message a client ever sees for a 5xx.
const genericServerMessage = "internal server error"

// AppError represents a structured application error with HTTP status mapping.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a 404 error.
func NotFound(resource, key string) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s %s not found", resource, key),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// AlreadyExists creates a 400 error. Registration conflicts are reported as a
// bad request rather than 409.
func AlreadyExists(resource, field string) *AppError {
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s already registered", field),
		Status:  http.StatusBadRequest,
		Err:     fmt.Errorf("%s: %w", resource, ErrAlreadyExists),
	}
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// InvalidCredentials creates a 401 error. The message is the same whether the
// username is unknown or the password is wrong.
func InvalidCredentials() *AppError {
	return &AppError{
		Code:    "INVALID_CREDENTIALS",
		Message: "incorrect username or password",
		Status:  http.StatusUnauthorized,
		Err:     ErrInvalidCredentials,
	}
}

// InvalidToken creates a 401 error for a refresh token that cannot be used.
func InvalidToken() *AppError {
	return &AppError{
		Code:    "INVALID_TOKEN",
		Message: "invalid refresh token",
		Status:  http.StatusUnauthorized,
		Err:     ErrInvalidToken,
	}
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    "UNAUTHORIZED",
		Message: message,
		Status:  http.StatusUnauthorized,
		Err:     ErrUnauthorized,
	}
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// InactiveUser is the Forbidden case for a disabled account. It is reported
// with status 400.
func InactiveUser() *AppError {
	return &AppError{
		Code:    "INACTIVE_USER",
		Message: "inactive user",
		Status:  http.StatusBadRequest,
		Err:     ErrForbidden,
	}
}

// StoreUnavailable creates a 500 error for an infrastructure failure in the
// credential store. The cause stays reachable through errors.Is/As but never
// reaches the client message.
func StoreUnavailable(err error) *AppError {
	return &AppError{
		Code:    "STORE_UNAVAILABLE",
		Message: genericServerMessage,
		Status:  http.StatusInternalServerError,
		Err:     fmt.Errorf("%w: %w", ErrStoreUnavailable, err),
	}
}

// Internal creates a 500 error.
func Internal(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: genericServerMessage,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
