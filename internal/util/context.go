// Package util provides common utility functions shared by the chat packages.
package util

import (
	"context"
	"time"

	"github.com/real-rm/meetupchat/internal/constants"
)

// contextKey is an unexported type for context keys in this package.
type contextKey string

// connectionIDKey is the context key for the connection a request belongs to.
const connectionIDKey contextKey = "connection_id"

// NewTimeoutContext creates a new context with the specified timeout.
//
// Example:
//
//	ctx, cancel := util.NewTimeoutContext(constants.MessageAppendTimeout)
//	defer cancel()
func NewTimeoutContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

// NewDefaultTimeoutContext creates a new context with the default database timeout.
func NewDefaultTimeoutContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), constants.DefaultContextTimeout)
}

// ContextWithConnectionID returns a child context carrying the connection ID for logging.
func ContextWithConnectionID(parent context.Context, connectionID string) context.Context {
	return context.WithValue(parent, connectionIDKey, connectionID)
}

// ConnectionIDFromContext extracts the connection ID from the context.
// Returns empty string if none is set.
func ConnectionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(connectionIDKey).(string); ok {
		return id
	}
	return ""
}
