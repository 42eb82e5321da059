package exporter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorType represents a category of delivery error for metrics and logs.
type ErrorType string

const (
	// ErrorTypeNetwork represents network-level errors (DNS, connection refused, etc.)
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeServerError represents server-side errors (5xx status codes)
	ErrorTypeServerError ErrorType = "server_error"
	// ErrorTypeClientError represents client-side errors (4xx status codes)
	ErrorTypeClientError ErrorType = "client_error"
	// ErrorTypeAuth represents authentication/authorization errors (401, 403)
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeRateLimit represents rate limiting errors (429)
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeUnexpectedStatus covers statuses outside [200,205] that are not errors, e.g. 206 or 3xx.
	ErrorTypeUnexpectedStatus ErrorType = "unexpected_status"
	// ErrorTypeUnknown represents unclassified errors
	ErrorTypeUnknown ErrorType = "unknown"
)

var errorTypes = []ErrorType{
	ErrorTypeNetwork,
	ErrorTypeTimeout,
	ErrorTypeServerError,
	ErrorTypeClientError,
	ErrorTypeAuth,
	ErrorTypeRateLimit,
	ErrorTypeUnexpectedStatus,
	ErrorTypeUnknown,
}

// ExportError is a structured error returned from push and delete calls.
type ExportError struct {
	// Err is the underlying error.
	Err error
	// Type is the classified error type.
	Type ErrorType
	// StatusCode is the HTTP status code (0 for network errors).
	StatusCode int
	// Message is the response body from the collector, trailing newlines trimmed.
	Message string
}

// Error implements the error interface.
func (e *ExportError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("export error: type=%s status=%d", e.Type, e.StatusCode)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ExportError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the same request
// may succeed on an immediate retry.
func (e *ExportError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeServerError, ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether err is a retryable *ExportError.
func IsRetryable(err error) bool {
	var exportErr *ExportError
	if errors.As(err, &exportErr) {
		return exportErr.IsRetryable()
	}
	return false
}

// classifyError categorizes a transport error into a low-cardinality error type.
func classifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"connection refused", "no such host", "network is unreachable", "connection reset", "broken pipe", "eof"} {
		if strings.Contains(errStr, pattern) {
			return ErrorTypeNetwork
		}
	}
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return ErrorTypeTimeout
	}

	return ErrorTypeUnknown
}

// classifyHTTPStatusCode categorizes a non-success HTTP status code.
func classifyHTTPStatusCode(statusCode int) ErrorType {
	switch {
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuth
	case statusCode == 429:
		return ErrorTypeRateLimit
	case statusCode >= 400 && statusCode < 500:
		return ErrorTypeClientError
	case statusCode >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnexpectedStatus
	}
}

// isStatusError reports whether err came from a collector reply rather than the transport.
func isStatusError(err error) bool {
	var exportErr *ExportError
	return errors.As(err, &exportErr) && exportErr.StatusCode != 0
}

// isSuccess reports whether the collector accepted the request.
func isSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode <= 205
}
