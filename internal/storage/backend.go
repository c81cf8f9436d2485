// Package storage persists chat rooms, memberships and messages. Message ids come
// from an atomic per-store counter so they strictly increase in persistence order.
// Two backends are provided: MongoDB through gomongo and an embedded badger store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/real-rm/golog"

	"github.com/real-rm/meetupchat/internal/chat"
	"github.com/real-rm/meetupchat/internal/constants"
	"github.com/real-rm/meetupchat/internal/metrics"
)

var (
	// ErrNotFound is returned when the requested room, membership or message does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidMessage is returned when a message is nil or incomplete
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidID is returned for non-positive identifiers
	ErrInvalidID = errors.New("identifier must be positive")
)

// Backend is the persistence contract shared by the MongoDB and badger stores
type Backend interface {
	// Name identifies the backend in logs and metrics
	Name() string

	// CreateRoom returns the room of groupID, creating it when absent.
	// created reports whether this call created it.
	CreateRoom(ctx context.Context, groupID chat.GroupID) (room *chat.ChatRoom, created bool, err error)
	FindRoom(ctx context.Context, roomID chat.RoomID) (*chat.ChatRoom, error)
	FindRoomByGroup(ctx context.Context, groupID chat.GroupID) (*chat.ChatRoom, error)

	// AddMember returns the membership of memberID in roomID, creating it when absent
	AddMember(ctx context.Context, roomID chat.RoomID, memberID chat.MemberID) (*chat.RoomMembership, error)
	RemoveMember(ctx context.Context, roomID chat.RoomID, memberID chat.MemberID) error
	FindMembership(ctx context.Context, roomID chat.RoomID, memberID chat.MemberID) (*chat.RoomMembership, error)

	// InsertMessage assigns msg.ID from the message counter and stores msg
	InsertMessage(ctx context.Context, msg *chat.ChatMessage) error
	// FindMessages returns up to limit non-deleted messages of roomID ordered by id
	// descending. A non-nil cursor restricts results to ids <= *cursor.
	FindMessages(ctx context.Context, roomID chat.RoomID, cursor *chat.MessageID, limit int) ([]*chat.ChatMessage, error)
	SoftDeleteMessage(ctx context.Context, roomID chat.RoomID, messageID chat.MessageID, at time.Time) error

	Ping(ctx context.Context) error
	Close() error
}

// retryConfig holds configuration for retry logic on transient errors
type retryConfig struct {
	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
}

// defaultRetryConfig provides default retry configuration
var defaultRetryConfig = retryConfig{
	maxAttempts:  constants.MaxRetryAttempts,
	initialDelay: constants.InitialRetryDelay,
	maxDelay:     constants.MaxRetryDelay,
	multiplier:   constants.RetryMultiplier,
}

// isRetryableError checks if an error is transient
func isRetryableError(err error) bool {
	// No else needed: early return pattern (guard clause)
	if err == nil {
		return false
	}

	// No else needed: early return pattern (guard clause)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return containsAny(err.Error(), []string{
		"connection refused",
		"connection reset",
		"i/o timeout",
		"temporary failure",
		"server selection timeout",
		"no reachable servers",
		"connection pool",
		"socket",
		"Transaction Conflict",
	})
}

// containsAny checks if a string contains any of the given substrings
func containsAny(s string, substrings []string) bool {
	for _, substr := range substrings {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// retryOperation executes fn, retrying transient failures with exponential backoff
func retryOperation(ctx context.Context, logger *golog.Logger, operation string, fn func() error) error {
	return retryWithConfig(ctx, logger, defaultRetryConfig, operation, fn)
}

func retryWithConfig(ctx context.Context, logger *golog.Logger, cfg retryConfig, operation string, fn func() error) error {
	var lastErr error
	delay := cfg.initialDelay

	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		err := fn()
		// No else needed: early return pattern (guard clause - success case)
		if err == nil {
			return nil
		}

		// No else needed: early return pattern (guard clause - non-retryable error)
		if !isRetryableError(err) {
			return err
		}

		lastErr = err

		// No else needed: optional operation (only retry if attempts remain)
		if attempt < cfg.maxAttempts {
			logger.Warn("Store operation failed, retrying",
				"operation", operation,
				"attempt", attempt,
				"max_attempts", cfg.maxAttempts,
				"delay", delay,
				"error", err)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("operation cancelled during retry: %w", ctx.Err())
			}

			delay = time.Duration(float64(delay) * cfg.multiplier)
			// No else needed: optional operation (only cap if exceeds max)
			if delay > cfg.maxDelay {
				delay = cfg.maxDelay
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", cfg.maxAttempts, lastErr)
}

// observe records the duration of a backend operation
func observe(backend, operation string, start time.Time) {
	metrics.StoreOperationDuration.WithLabelValues(backend, operation).Observe(time.Since(start).Seconds())
}
