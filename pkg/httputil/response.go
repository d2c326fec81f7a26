package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/logger"
	"github.com/utafrali/authservice/pkg/validator"
)

// BearerChallenge is the WWW-Authenticate value sent with every 401.
const BearerChallenge = "Bearer"

// Response is the standard JSON response envelope.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse represents an error in the standard response format.
type ErrorResponse struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
// If encoding fails, the error is logged but headers are already sent so nothing can be done.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; nothing meaningful can be done if encoding fails.
	_ = json.NewEncoder(w).Encode(v)
}

// WriteNoStore writes a JSON response that must not be cached by clients or
// intermediaries. Used for token responses.
func WriteNoStore(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	WriteJSON(w, status, v)
}

// WriteError writes a standardized error response based on the error type.
// AppErrors are written with their own code and message; anything else
// becomes a generic 500. Every 5xx is logged with its cause, and every 401
// carries a bearer challenge. It prefers the request-scoped logger from
// context (set by the RequestLogging middleware) over the fallback logger.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}

	requestID := logger.CorrelationIDFromContext(r.Context())

	status := http.StatusInternalServerError
	code := "INTERNAL_ERROR"
	message := "internal server error"

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status, code, message = appErr.Status, appErr.Code, appErr.Message
	} else {
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			code, message = "NOT_FOUND", "resource not found"
		case errors.Is(err, apperrors.ErrAlreadyExists):
			code, message = "ALREADY_EXISTS", "resource already exists"
		case errors.Is(err, apperrors.ErrInvalidInput):
			code, message = "INVALID_INPUT", "invalid input"
		case errors.Is(err, apperrors.ErrUnauthorized):
			code, message = "UNAUTHORIZED", "could not validate credentials"
		}
		if code != "INTERNAL_ERROR" {
			status = apperrors.HTTPStatus(err)
		}
	}

	if status >= http.StatusInternalServerError {
		l.ErrorContext(r.Context(), "internal error",
			slog.String("error", err.Error()),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)
	}

	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", BearerChallenge)
	}

	WriteJSON(w, status, Response{
		Error: &ErrorResponse{Code: code, Message: message, RequestID: requestID},
	})
}

// WriteValidationError writes a standardized validation error response.
// It handles ValidationError from the validator package and returns field-level errors.
func WriteValidationError(w http.ResponseWriter, err error) {
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		WriteJSON(w, http.StatusBadRequest, Response{
			Error: &ErrorResponse{
				Code:    "VALIDATION_ERROR",
				Message: "request validation failed",
				Fields:  valErr.Fields(),
			},
		})
		return
	}

	WriteJSON(w, http.StatusBadRequest, Response{
		Error: &ErrorResponse{Code: "INVALID_INPUT", Message: err.Error()},
	})
}
