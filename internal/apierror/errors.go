// Package apierror defines the structured errors returned by the HTTP API.
//
// Every error carries an HTTP status, a machine-readable Code and a
// human-readable message. Write renders any error as the standard JSON body;
// errors that are not *Error are reported as INTERNAL_ERROR.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"unicode/utf8"
)

// Code classifies an API error.
type Code string

const (
	// CodeUnauthorized is returned when the bearer token is missing or wrong.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeNotFound is returned when a project does not exist.
	CodeNotFound Code = "NOT_FOUND"
	// CodeValidationFailed is returned when a request payload is malformed.
	CodeValidationFailed Code = "VALIDATION_FAILED"
	// CodePayloadTooLarge is returned when the request body exceeds the configured limit.
	CodePayloadTooLarge Code = "PAYLOAD_TOO_LARGE"
	// CodeRateLimited is returned when a client exceeds its request rate.
	CodeRateLimited Code = "RATE_LIMITED"
	// CodeInternal is returned for unexpected faults.
	CodeInternal Code = "INTERNAL_ERROR"
)

// MaxPayloadEcho is the number of raw payload bytes echoed back in validation errors.
const MaxPayloadEcho = 512

// FieldError describes one invalid field of a request payload.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorDetails is the structured error information in a response.
type ErrorDetails struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Response is the standard API error body.
type Response struct {
	Error   ErrorDetails   `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// Error is an API error with status code, code and optional details.
type Error struct {
	status  int
	code    Code
	message string
	details map[string]any
	cause   error
}

// New creates an Error.
func New(status int, code Code, message string) *Error {
	return &Error{
		status:  status,
		code:    code,
		message: message,
	}
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap records the underlying cause.
func (e *Error) Wrap(err error) *Error {
	e.cause = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// StatusCode returns the HTTP status code.
func (e *Error) StatusCode() int {
	return e.status
}

// Code returns the error code.
func (e *Error) Code() Code {
	return e.code
}

// Details returns a copy of the error details, or nil.
func (e *Error) Details() map[string]any {
	if e.details == nil {
		return nil
	}
	return maps.Clone(e.details)
}

// Unauthorized returns a 401 error.
func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, message)
}

// NotFound returns a 404 error for the named resource.
func NotFound(resource string) *Error {
	return New(http.StatusNotFound, CodeNotFound, resource+" not found")
}

// ValidationFailed returns a 422 error listing the invalid fields and echoing
// up to MaxPayloadEcho bytes of the raw payload.
func ValidationFailed(fields []FieldError, payload []byte) *Error {
	e := New(http.StatusUnprocessableEntity, CodeValidationFailed, "request validation failed").
		WithDetail("errors", fields)
	if len(payload) > 0 {
		e.WithDetail("payload", truncate(payload, MaxPayloadEcho))
	}
	return e
}

// PayloadTooLarge returns a 413 error.
func PayloadTooLarge(limit int64) *Error {
	return New(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "request body too large").
		WithDetail("max_bytes", limit)
}

// RateLimited returns a 429 error.
func RateLimited() *Error {
	return New(http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
}

// Internal returns a 500 error whose message names the failed operation and its cause.
func Internal(op string, err error) *Error {
	return New(http.StatusInternalServerError, CodeInternal, op+" failed").Wrap(err)
}

// truncate cuts b to at most n bytes without splitting a UTF-8 sequence.
func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	for n > 0 && !utf8.RuneStart(b[n]) {
		n--
	}
	return string(b[:n])
}

// Write renders err as a JSON error response.
func Write(w http.ResponseWriter, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = Internal("request", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode())

	response := Response{
		Error: ErrorDetails{
			Code:    apiErr.Code(),
			Message: apiErr.Error(),
		},
		Details: apiErr.Details(),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
