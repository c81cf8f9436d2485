// Package testutil provides common test helpers and hand-written fakes shared by
// the package tests.
package testutil

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/real-rm/golog"
	"github.com/stretchr/testify/assert"

	"github.com/real-rm/meetupchat/internal/chat"
	chaterrors "github.com/real-rm/meetupchat/internal/errors"
)

// TestJWTSecret is a secret long enough to pass production validation
const TestJWTSecret = "meetupchat-test-secret-0123456789abcdef"

// ErrFakeInvalidToken is returned by FakeTokenValidator for unknown tokens
var ErrFakeInvalidToken = errors.New("fake: invalid token")

// ErrFakeMemberNotFound is returned by FakeMemberDirectory for unknown members
var ErrFakeMemberNotFound = errors.New("fake: member not found")

// CreateTestLogger creates a logger for testing that writes to a temporary directory
func CreateTestLogger(t *testing.T) *golog.Logger {
	logger, err := golog.InitLog(golog.LogConfig{
		Dir:            t.TempDir(),
		Level:          "error",
		StandardOutput: false,
	})
	if err != nil {
		t.Fatalf("Failed to create test logger: %v", err)
	}
	return logger
}

// SignTestToken signs an HS256 token carrying memberID as member_id
func SignTestToken(t *testing.T, secret string, memberID chat.MemberID, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{
		"member_id": int64(memberID),
		"exp":       time.Now().Add(expiresIn).Unix(),
		"iat":       time.Now().Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("Failed to sign test token: %v", err)
	}
	return token
}

// FakeTokenValidator maps literal tokens registered through Allow to member ids
type FakeTokenValidator struct {
	mu     sync.Mutex
	tokens map[string]chat.MemberID
	calls  int
}

// NewFakeTokenValidator creates an empty fake validator
func NewFakeTokenValidator() *FakeTokenValidator {
	return &FakeTokenValidator{tokens: make(map[string]chat.MemberID)}
}

// Allow registers token as valid for memberID
func (f *FakeTokenValidator) Allow(token string, memberID chat.MemberID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[token] = memberID
}

// Decode returns the member registered for token
func (f *FakeTokenValidator) Decode(token string) (chat.MemberID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	id, ok := f.tokens[token]
	if !ok {
		return 0, ErrFakeInvalidToken
	}
	return id, nil
}

// Calls returns how many times Decode was invoked
func (f *FakeTokenValidator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FakeMemberDirectory is an in-memory member directory
type FakeMemberDirectory struct {
	mu      sync.RWMutex
	members map[chat.MemberID]*chat.Member
	Err     error
}

// NewFakeMemberDirectory creates a directory holding members
func NewFakeMemberDirectory(members ...*chat.Member) *FakeMemberDirectory {
	d := &FakeMemberDirectory{members: make(map[chat.MemberID]*chat.Member)}
	for _, m := range members {
		d.members[m.ID] = m
	}
	return d
}

// Put adds or replaces a member
func (d *FakeMemberDirectory) Put(m *chat.Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[m.ID] = m
}

// FindMember returns a copy of the member with id, or a NOT_FOUND ChatError
func (d *FakeMemberDirectory) FindMember(_ context.Context, id chat.MemberID) (*chat.Member, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.Err != nil {
		return nil, d.Err
	}
	m, ok := d.members[id]
	if !ok {
		return nil, chaterrors.ErrNotFound("member", ErrFakeMemberNotFound)
	}
	copied := *m
	return &copied, nil
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}

// Eventually polls cond until it holds or timeout elapses
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Eventually(t, cond, timeout, 10*time.Millisecond, msgAndArgs...)
}

// AssertGoroutineCount checks that the goroutine count did not grow beyond a small tolerance
func AssertGoroutineCount(t *testing.T, before, after int, description string) {
	t.Helper()
	tolerance := 5
	t.Logf("Goroutine count (%s): %d -> %d", description, before, after)
	assert.InDelta(t, before, after, float64(tolerance),
		"Goroutine count should not increase significantly")
}

// MeasureGoroutines returns the current goroutine count after letting exiting goroutines settle
func MeasureGoroutines() int {
	runtime.GC()
	time.Sleep(100 * time.Millisecond)
	return runtime.NumGoroutine()
}

// IsSkippable reports whether err looks like an unreachable external dependency
func IsSkippable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "no reachable servers", "server selection", "i/o timeout", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
