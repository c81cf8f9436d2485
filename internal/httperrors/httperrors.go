// Package httperrors provides generic error responses for the REST endpoints.
// It ensures that internal implementation details are not leaked to clients.
package httperrors

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/real-rm/meetupchat/internal/constants"
	chaterrors "github.com/real-rm/meetupchat/internal/errors"
)

// ErrorResponse is the body of every failed REST call. It mirrors the success
// envelope so clients can always read code and message.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Generic error messages that don't expose internal details
const (
	MsgUnauthorized       = "Authentication required"
	MsgInvalidToken       = "Invalid or expired authentication token"
	MsgInternalError      = "An internal error occurred"
	MsgServiceUnavailable = "Service temporarily unavailable"
	MsgResourceNotFound   = "Resource not found"
	MsgBadRequest         = "Bad request"
	MsgTooManyRequests    = "Too many requests, please try again later"
)

// Error codes for client-side handling
const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeInvalidToken       = "INVALID_TOKEN"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeNotFound           = "NOT_FOUND"
	CodeBadRequest         = "BAD_REQUEST"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"
)

// RespondUnauthorized sends a 401 response with a generic message
func RespondUnauthorized(c *gin.Context, message string) {
	if message == "" {
		message = MsgUnauthorized
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Code: CodeUnauthorized, Message: message})
}

// RespondInvalidToken sends a 401 response for invalid tokens
func RespondInvalidToken(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Code: CodeInvalidToken, Message: MsgInvalidToken})
}

// RespondBadRequest sends a 400 response
func RespondBadRequest(c *gin.Context, message string) {
	if message == "" {
		message = MsgBadRequest
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: CodeBadRequest, Message: message})
}

// RespondInternalError sends a 500 response with a generic message
func RespondInternalError(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Code: CodeInternalError, Message: MsgInternalError})
}

// RespondServiceUnavailable sends a 503 response
func RespondServiceUnavailable(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, ErrorResponse{Code: CodeServiceUnavailable, Message: MsgServiceUnavailable})
}

// RespondNotFound sends a 404 response
func RespondNotFound(c *gin.Context, message string) {
	if message == "" {
		message = MsgResourceNotFound
	}
	c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Code: CodeNotFound, Message: message})
}

// RespondTooManyRequests sends a 429 response with a Retry-After header in seconds
func RespondTooManyRequests(c *gin.Context, retryAfterMs int) {
	seconds := retryAfterMs / constants.MillisecondsPerSecond
	// No else needed: optional operation (round up to the minimum)
	if seconds < constants.MinRetryAfterSeconds {
		seconds = constants.MinRetryAfterSeconds
	}
	c.Header(constants.HeaderRetryAfter, strconv.Itoa(seconds))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Code: CodeTooManyRequests, Message: MsgTooManyRequests})
}

// RespondError maps a business error onto a REST response. ChatErrors keep their
// code and client-facing message; anything else becomes a generic 500.
func RespondError(c *gin.Context, err error) {
	chatErr := chaterrors.AsChatError(err)

	switch chatErr.Category {
	case chaterrors.CategoryNotFound:
		c.AbortWithStatusJSON(http.StatusNotFound, ErrorResponse{Code: string(chatErr.Code), Message: chatErr.Message})
	case chaterrors.CategoryValidation, chaterrors.CategoryProtocol:
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: string(chatErr.Code), Message: chatErr.Message})
	case chaterrors.CategoryAuth:
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Code: string(chatErr.Code), Message: chatErr.Message})
	case chaterrors.CategoryRateLimit:
		RespondTooManyRequests(c, chatErr.RetryAfter)
	default:
		RespondInternalError(c)
	}
}
