package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/dmason-mlb/mlb-qbench/domain/qerr"
)

// ErrAuthentication is the sentinel matched by errors.Is for any
// AuthenticationError.
var ErrAuthentication = errors.New("authentication failed")

// ErrServer is the sentinel matched by errors.Is for any ServerError.
var ErrServer = errors.New("server error")

// APIError is a request-scoped error carrying an HTTP status code.
type APIError struct {
	code    int
	message string
	cause   error
}

// NewAPIError creates an APIError. cause may be nil.
func NewAPIError(code int, message string, cause error) *APIError {
	return &APIError{code: code, message: message, cause: cause}
}

// Code returns the HTTP status code.
func (e *APIError) Code() int { return e.code }

// Message returns the human-readable message.
func (e *APIError) Message() string { return e.message }

func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("api error %d: %s: %s", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("api error %d: %s", e.code, e.message)
}

// Unwrap returns the wrapped cause, if any.
func (e *APIError) Unwrap() error { return e.cause }

// AuthenticationError signals a failed authentication check.
type AuthenticationError struct {
	reason string
}

// NewAuthenticationError creates an AuthenticationError.
func NewAuthenticationError(reason string) *AuthenticationError {
	return &AuthenticationError{reason: reason}
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.reason)
}

// Is matches ErrAuthentication so callers can test with errors.Is without
// importing this type.
func (e *AuthenticationError) Is(target error) bool {
	return target == ErrAuthentication
}

// ServerError signals an unexpected server-side failure with an explicit
// status code (distinct from APIError, which always carries a message
// meant for the client).
type ServerError struct {
	status  int
	message string
}

// NewServerError creates a ServerError.
func NewServerError(status int, message string) *ServerError {
	return &ServerError{status: status, message: message}
}

// StatusCode returns the HTTP status code.
func (e *ServerError) StatusCode() int { return e.status }

// Message returns the human-readable message.
func (e *ServerError) Message() string { return e.message }

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.status, e.message)
}

// Is matches ErrServer so callers can test with errors.Is without
// importing this type.
func (e *ServerError) Is(target error) bool {
	return target == ErrServer
}

// JSONAPIError is a single JSON:API error object.
type JSONAPIError struct {
	Status string `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	ID     string `json:"id,omitempty"`
}

// JSONAPIErrorResponse wraps one or more JSONAPIError objects.
type JSONAPIErrorResponse struct {
	Errors []JSONAPIError `json:"errors"`
}

// WriteError writes a JSON:API formatted error response, mapping the
// error's qerr.Kind (or a typed APIError/ServerError/AuthenticationError)
// to an HTTP status.
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *slog.Logger) {
	status, title := classify(err)
	detail := err.Error()

	requestID := chimiddleware.GetReqID(r.Context())

	if logger != nil {
		logger.Error("request error",
			"request_id", requestID,
			"status", status,
			"error", err.Error(),
			"path", r.URL.Path,
		)
	}

	resp := JSONAPIErrorResponse{
		Errors: []JSONAPIError{
			{
				Status: http.StatusText(status),
				Title:  title,
				Detail: detail,
				ID:     requestID,
			},
		},
	}

	w.Header().Set("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func classify(err error) (status int, title string) {
	var apiErr *APIError
	var serverErr *ServerError
	var authErr *AuthenticationError

	switch {
	case errors.As(err, &apiErr):
		return apiErr.Code(), "API Error"
	case errors.As(err, &serverErr):
		return serverErr.StatusCode(), "Server Error"
	case errors.As(err, &authErr):
		return http.StatusUnauthorized, "Authentication Failed"
	case qerr.Is(err, qerr.KindInvalidInput):
		return http.StatusBadRequest, "Invalid Input"
	case qerr.Is(err, qerr.KindNotFound):
		return http.StatusNotFound, "Not Found"
	case qerr.Is(err, qerr.KindConflict):
		return http.StatusConflict, "Conflict"
	case qerr.Is(err, qerr.KindRateLimited):
		return http.StatusTooManyRequests, "Rate Limited"
	case qerr.Is(err, qerr.KindTransient):
		return http.StatusServiceUnavailable, "Transient Failure"
	case qerr.Is(err, qerr.KindFatalConfig):
		return http.StatusInternalServerError, "Configuration Error"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

// WriteJSON writes a plain JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
