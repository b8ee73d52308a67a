// Package errors provides unified error handling with structured error codes.
// Codes cover the capture start stages, format conversion, and the
// transcription boundary so callers can distinguish which stage failed.
package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode identifies a failure class.
type ErrorCode int

const (
	CodeUnknown ErrorCode = iota
	CodeInternal
	CodeInvalidArgument
	CodeUnavailable
	CodeTimeout
	CodeCanceled
	CodePermissionDenied
	CodeTapCreationFailed
	CodeAggregateDeviceFailed
	CodeFormatNegotiationFailed
	CodeDeviceStartFailed
	CodeFormatError
	CodeTranscribeFailed
	CodeConfigInvalid
)

var codeNames = map[ErrorCode]string{
	CodeUnknown:                 "UNKNOWN",
	CodeInternal:                "INTERNAL",
	CodeInvalidArgument:         "INVALID_ARGUMENT",
	CodeUnavailable:             "UNAVAILABLE",
	CodeTimeout:                 "TIMEOUT",
	CodeCanceled:                "CANCELLED",
	CodePermissionDenied:        "PERMISSION_DENIED",
	CodeTapCreationFailed:       "TAP_CREATION_FAILED",
	CodeAggregateDeviceFailed:   "AGGREGATE_DEVICE_FAILED",
	CodeFormatNegotiationFailed: "FORMAT_NEGOTIATION_FAILED",
	CodeDeviceStartFailed:       "DEVICE_START_FAILED",
	CodeFormatError:             "FORMAT_ERROR",
	CodeTranscribeFailed:        "TRANSCRIBE_FAILED",
	CodeConfigInvalid:           "CONFIG_INVALID",
}

func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// httpCodeMap maps error codes to HTTP status codes for the API layer.
var httpCodeMap = map[ErrorCode]int{
	CodeUnknown:                 http.StatusInternalServerError,
	CodeInternal:                http.StatusInternalServerError,
	CodeInvalidArgument:         http.StatusBadRequest,
	CodeUnavailable:             http.StatusServiceUnavailable,
	CodeTimeout:                 http.StatusGatewayTimeout,
	CodeCanceled:                http.StatusConflict,
	CodePermissionDenied:        http.StatusForbidden,
	CodeTapCreationFailed:       http.StatusServiceUnavailable,
	CodeAggregateDeviceFailed:   http.StatusServiceUnavailable,
	CodeFormatNegotiationFailed: http.StatusServiceUnavailable,
	CodeDeviceStartFailed:       http.StatusServiceUnavailable,
	CodeFormatError:             http.StatusBadRequest,
	CodeTranscribeFailed:        http.StatusBadGateway,
	CodeConfigInvalid:           http.StatusBadRequest,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     ErrorCode
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code.String(), e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// HTTPStatus returns the corresponding HTTP status code.
func (e *AppError) HTTPStatus() int {
	if c, ok := httpCodeMap[e.Code]; ok {
		return c
	}
	return http.StatusInternalServerError
}

// New creates a new AppError with the given code and message.
func New(code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code ErrorCode, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// HTTPStatusFor maps any error to an HTTP status code.
func HTTPStatusFor(err error) int {
	if appErr, ok := err.(*AppError); ok {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// IsRetryable returns true if the error is potentially retryable.
// Capture start stages are retryable from Idle; permission denials are not.
func IsRetryable(err error) bool {
	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}
	switch appErr.Code {
	case CodeUnavailable, CodeTimeout, CodeTapCreationFailed, CodeAggregateDeviceFailed,
		CodeFormatNegotiationFailed, CodeDeviceStartFailed, CodeTranscribeFailed:
		return true
	default:
		return false
	}
}
