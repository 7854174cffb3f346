// Package errors provides the response envelope and HTTP status code mapping
// for the gateway.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// ErrorCode is the stable error kind returned to callers.
type ErrorCode string

const (
	ErrorCodeUnknownTenant      ErrorCode = "UnknownTenant"
	ErrorCodeAccessDenied       ErrorCode = "AccessDenied"
	ErrorCodeProvisioningFailed ErrorCode = "ProvisioningFailed"
	ErrorCodeNotFound           ErrorCode = "NotFound"
	ErrorCodeInternal           ErrorCode = "Internal"
	ErrorCodeRateLimited        ErrorCode = "RateLimited"
)

// Envelope is the body of every response.
//
//	{"ok": true,  "value": <payload>}
//	{"ok": false, "code": "<ErrorCode>", "message": "<text>"}
type Envelope struct {
	OK      bool        `json:"ok"`
	Value   interface{} `json:"value,omitempty"`
	Code    ErrorCode   `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Success wraps a payload.
func Success(value interface{}) Envelope {
	return Envelope{OK: true, Value: value}
}

// Failure builds an error envelope. An empty message uses the code's
// default text.
func Failure(code ErrorCode, message string) Envelope {
	if message == "" {
		message = DefaultMessage(code)
	}
	return Envelope{Code: code, Message: message}
}

// Error is an error carrying a caller-visible code and message. Page handlers
// return it to fail with something other than Internal.
type Error struct {
	Code    ErrorCode
	Message string
}

// New creates a coded error.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrorCodeUnknownTenant, ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeAccessDenied:
		return http.StatusForbidden
	case ErrorCodeProvisioningFailed:
		return http.StatusServiceUnavailable
	case ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// DefaultMessage returns the caller-visible text for a code.
func DefaultMessage(code ErrorCode) string {
	switch code {
	case ErrorCodeUnknownTenant:
		return "unknown tenant"
	case ErrorCodeAccessDenied:
		return "access denied"
	case ErrorCodeProvisioningFailed:
		return "tenant store is unavailable, try again later"
	case ErrorCodeNotFound:
		return "not found"
	case ErrorCodeRateLimited:
		return "rate limit exceeded"
	default:
		return "internal error"
	}
}

// Handler writes envelopes to HTTP responses.
type Handler struct {
	logger *zap.Logger
}

// NewHandler creates a new error handler.
func NewHandler(logger *zap.Logger) *Handler {
	return &Handler{
		logger: logger,
	}
}

// WriteResponse writes env with the given status code.
func (h *Handler) WriteResponse(w http.ResponseWriter, statusCode int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

// WriteErrorResponse writes an error envelope for code.
func (h *Handler) WriteErrorResponse(w http.ResponseWriter, code ErrorCode, message string, requestID string) {
	statusCode := HTTPStatus(code)
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", string(code)),
		zap.String("request_id", requestID),
	)
	h.WriteResponse(w, statusCode, Failure(code, message))
}

// WriteNotFound writes a NotFound response.
func (h *Handler) WriteNotFound(w http.ResponseWriter, requestID string) {
	h.WriteErrorResponse(w, ErrorCodeNotFound, "", requestID)
}

// WriteInternalError writes an internal error response.
func (h *Handler) WriteInternalError(w http.ResponseWriter, requestID string) {
	h.WriteErrorResponse(w, ErrorCodeInternal, "", requestID)
}

// WriteRateLimitedError writes a rate limit exceeded response.
func (h *Handler) WriteRateLimitedError(w http.ResponseWriter, requestID string) {
	h.WriteErrorResponse(w, ErrorCodeRateLimited, "", requestID)
}
