// Package errors provides error handling functionality for the group chat core.
// It defines error categories, error codes, and the business error type shared by the
// REST and persistent-connection paths.
package errors

import (
	"errors"
	"fmt"

	"github.com/real-rm/meetupchat/internal/chat"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryAuth represents authentication and authorization errors
	CategoryAuth ErrorCategory = "auth"
	// CategoryValidation represents input validation errors
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents references to entities that do not exist
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryService represents service-level errors (database, transport)
	CategoryService ErrorCategory = "service"
	// CategoryRateLimit represents rate limiting errors
	CategoryRateLimit ErrorCategory = "rate_limit"
	// CategoryProtocol represents frame protocol violations
	CategoryProtocol ErrorCategory = "protocol"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Authentication errors
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Validation errors
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
	ErrCodeMissingField  ErrorCode = "MISSING_FIELD"

	// Lookup errors
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Protocol errors
	ErrCodeUnsupportedDestination ErrorCode = "UNSUPPORTED_DESTINATION"
	ErrCodeProtocolViolation      ErrorCode = "PROTOCOL_VIOLATION"

	// Service errors
	ErrCodeDatabaseError ErrorCode = "DATABASE_ERROR"
	ErrCodeServiceError  ErrorCode = "SERVICE_ERROR"

	// Rate limiting errors
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"
	ErrCodeConnectionLimit ErrorCode = "CONNECTION_LIMIT_EXCEEDED"
)

// ChatError represents an application error with category and recoverability information
type ChatError struct {
	Category    ErrorCategory
	Code        ErrorCode
	Message     string
	Recoverable bool
	RetryAfter  int // milliseconds, only for rate limit errors
	Cause       error
}

// Error implements the error interface
func (e *ChatError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *ChatError) Unwrap() error {
	return e.Cause
}

// IsFatal returns true if the error is fatal and requires connection closure
func (e *ChatError) IsFatal() bool {
	return !e.Recoverable
}

// ToErrorInfo converts a ChatError to a chat.ErrorInfo for the wire protocol
func (e *ChatError) ToErrorInfo() *chat.ErrorInfo {
	return &chat.ErrorInfo{
		Code:        string(e.Code),
		Message:     e.Message,
		Recoverable: e.Recoverable,
		RetryAfter:  e.RetryAfter,
	}
}

// NewAuthError creates a new authentication error (fatal)
func NewAuthError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryAuth,
		Code:        code,
		Message:     message,
		Recoverable: false,
		Cause:       cause,
	}
}

// NewValidationError creates a new validation error (recoverable)
func NewValidationError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewServiceError creates a new service error (recoverable with retry)
func NewServiceError(code ErrorCode, message string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryService,
		Code:        code,
		Message:     message,
		Recoverable: true,
		Cause:       cause,
	}
}

// NewRateLimitError creates a new rate limit error (recoverable with retry after)
func NewRateLimitError(code ErrorCode, message string, retryAfter int, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryRateLimit,
		Code:        code,
		Message:     message,
		Recoverable: true,
		RetryAfter:  retryAfter,
		Cause:       cause,
	}
}

// NewProtocolError creates a frame protocol error. Protocol errors raised before a
// connection is authenticated are fatal; the caller decides via recoverable.
func NewProtocolError(code ErrorCode, message string, recoverable bool) *ChatError {
	return &ChatError{
		Category:    CategoryProtocol,
		Code:        code,
		Message:     message,
		Recoverable: recoverable,
	}
}

// Common error constructors for convenience

// ErrInvalidToken creates an invalid token error
func ErrInvalidToken(cause error) *ChatError {
	return NewAuthError(ErrCodeInvalidToken, "Invalid authentication token", cause)
}

// ErrUnauthorized creates an error for frames arriving on an unauthenticated connection
func ErrUnauthorized() *ChatError {
	return NewAuthError(ErrCodeUnauthorized, "Connection is not authenticated", nil)
}

// ErrNotFound creates a not found error for the named entity
func ErrNotFound(entity string, cause error) *ChatError {
	return &ChatError{
		Category:    CategoryNotFound,
		Code:        ErrCodeNotFound,
		Message:     fmt.Sprintf("%s not found", entity),
		Recoverable: true,
		Cause:       cause,
	}
}

// ErrInvalidMessageFormat creates an invalid message format error
func ErrInvalidMessageFormat(details string, cause error) *ChatError {
	return NewValidationError(ErrCodeInvalidFormat, fmt.Sprintf("Invalid message format: %s", details), cause)
}

// ErrMissingField creates a missing field error
func ErrMissingField(fieldName string) *ChatError {
	return NewValidationError(ErrCodeMissingField, fmt.Sprintf("Required field missing: %s", fieldName), nil)
}

// ErrUnsupportedDestination creates an error for destinations outside the chat prefixes
func ErrUnsupportedDestination(destination string) *ChatError {
	return NewProtocolError(ErrCodeUnsupportedDestination,
		fmt.Sprintf("Unsupported destination: %s", destination), true)
}

// ErrDatabaseError creates a database error
func ErrDatabaseError(cause error) *ChatError {
	return NewServiceError(ErrCodeDatabaseError, "Database operation failed", cause)
}

// ErrTooManyRequests creates a too many requests error
func ErrTooManyRequests(retryAfter int) *ChatError {
	return NewRateLimitError(ErrCodeTooManyRequests,
		"Too many requests, please slow down", retryAfter, nil)
}

// ErrConnectionLimitExceeded creates a connection limit exceeded error
func ErrConnectionLimitExceeded(retryAfter int) *ChatError {
	return NewRateLimitError(ErrCodeConnectionLimit,
		"Connection limit exceeded, please try again later", retryAfter, nil)
}

// IsNotFound reports whether err is, or wraps, a NOT_FOUND ChatError
func IsNotFound(err error) bool {
	var chatErr *ChatError
	return errors.As(err, &chatErr) && chatErr.Code == ErrCodeNotFound
}

// AsChatError returns err as a ChatError, wrapping unknown errors as a generic service error
func AsChatError(err error) *ChatError {
	var chatErr *ChatError
	if errors.As(err, &chatErr) {
		return chatErr
	}
	return NewServiceError(ErrCodeServiceError, "An unexpected error occurred", err)
}
