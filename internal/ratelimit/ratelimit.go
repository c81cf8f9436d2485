// Package ratelimit bounds how often members may send messages, how many
// connections each member may hold, and how often clients hit public endpoints.
package ratelimit

import (
	"sync"
	"time"

	"github.com/real-rm/golog"

	"github.com/real-rm/meetupchat/internal/constants"
	"github.com/real-rm/meetupchat/internal/metrics"
	"github.com/real-rm/meetupchat/internal/util"
)

// ConnectionLimiter caps concurrent connections per key
type ConnectionLimiter[K comparable] struct {
	connections map[K]int
	maxPerKey   int
	mu          sync.RWMutex
}

// NewConnectionLimiter creates a limiter allowing maxPerKey connections per key
func NewConnectionLimiter[K comparable](maxPerKey int) *ConnectionLimiter[K] {
	return &ConnectionLimiter[K]{
		connections: make(map[K]int),
		maxPerKey:   maxPerKey,
	}
}

// Allow reserves a connection slot for key, reporting false when the cap is reached
func (cl *ConnectionLimiter[K]) Allow(key K) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	count := cl.connections[key]
	// No else needed: early return pattern (guard clause)
	if count >= cl.maxPerKey {
		metrics.RateLimited.WithLabelValues("connection").Inc()
		return false
	}

	cl.connections[key] = count + 1
	return true
}

// Release frees one connection slot of key
func (cl *ConnectionLimiter[K]) Release(key K) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	count, ok := cl.connections[key]
	// No else needed: early return pattern (guard clause)
	if !ok {
		return
	}
	if count <= 1 {
		delete(cl.connections, key)
		return
	}
	cl.connections[key] = count - 1
}

// Count returns the connections currently held by key
func (cl *ConnectionLimiter[K]) Count(key K) int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.connections[key]
}

// MessageLimiter is a sliding window limiter allowing limit events per window per key
type MessageLimiter[K comparable] struct {
	name   string
	events map[K][]time.Time
	window time.Duration
	limit  int
	now    func() time.Time
	mu     sync.Mutex

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	cleanupWg       sync.WaitGroup
}

// NewMessageLimiter creates a limiter labelled name in metrics
func NewMessageLimiter[K comparable](name string, window time.Duration, limit int) *MessageLimiter[K] {
	return &MessageLimiter[K]{
		name:            name,
		events:          make(map[K][]time.Time),
		window:          window,
		limit:           limit,
		now:             time.Now,
		cleanupInterval: constants.DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
}

// Allow records an event for key unless the window is already full
func (ml *MessageLimiter[K]) Allow(key K) bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()
	recent := ml.recentLocked(key, now)

	// No else needed: early return pattern (guard clause)
	if len(recent) >= ml.limit {
		ml.events[key] = recent
		metrics.RateLimited.WithLabelValues(ml.name).Inc()
		return false
	}

	ml.events[key] = append(recent, now)
	return true
}

// RetryAfter returns the milliseconds until key may send again, 0 if it may now
func (ml *MessageLimiter[K]) RetryAfter(key K) int {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()
	recent := ml.recentLocked(key, now)
	// No else needed: early return pattern (guard clause)
	if len(recent) < ml.limit {
		return 0
	}

	// recent is in insertion order, so the first entry expires first
	retryAfter := recent[0].Add(ml.window).Sub(now)
	// No else needed: early return pattern (guard clause)
	if retryAfter <= 0 {
		return 0
	}
	return int(retryAfter.Milliseconds())
}

func (ml *MessageLimiter[K]) recentLocked(key K, now time.Time) []time.Time {
	cutoff := now.Add(-ml.window)
	events := ml.events[key]
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	return events[i:]
}

// Cleanup drops expired events and returns how many were removed
func (ml *MessageLimiter[K]) Cleanup() int {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()
	removed := 0
	for key, events := range ml.events {
		recent := ml.recentLocked(key, now)
		removed += len(events) - len(recent)
		if len(recent) == 0 {
			delete(ml.events, key)
			continue
		}
		ml.events[key] = recent
	}
	return removed
}

// StartCleanup periodically prunes expired events until StopCleanup
func (ml *MessageLimiter[K]) StartCleanup(logger *golog.Logger) {
	ml.cleanupWg.Add(1)
	util.SafeGo(logger, "ratelimit-cleanup", func() {
		defer ml.cleanupWg.Done()
		ticker := time.NewTicker(ml.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				// No else needed: optional operation (log only when something was pruned)
				if removed := ml.Cleanup(); removed > 0 {
					logger.Debug("Rate limiter cleanup", "limiter", ml.name, "removed", removed)
				}
			case <-ml.stopCleanup:
				return
			}
		}
	})
}

// StopCleanup stops the cleanup goroutine and waits for it to exit
func (ml *MessageLimiter[K]) StopCleanup() {
	ml.stopOnce.Do(func() { close(ml.stopCleanup) })
	ml.cleanupWg.Wait()
}
