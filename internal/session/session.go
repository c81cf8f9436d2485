// Package session holds the identity bound to a persistent connection once its
// CONNECT frame has been authenticated. Sessions live only as long as their
// connection and are never persisted.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/real-rm/meetupchat/internal/chat"
)

var (
	// ErrSessionNotFound is returned when no session is bound to a connection
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidMemberID is returned when the member ID is not positive
	ErrInvalidMemberID = errors.New("member ID must be positive")
	// ErrInvalidConnectionID is returned when connection ID is empty
	ErrInvalidConnectionID = errors.New("connection ID cannot be empty")
	// ErrAlreadyAuthenticated is returned when a connection already has a session
	ErrAlreadyAuthenticated = errors.New("connection is already authenticated")
)

// AuthenticatedSession is the identity of an authenticated connection. It is
// created exactly once per connection and never changes afterwards.
type AuthenticatedSession struct {
	MemberID     chat.MemberID
	ConnectionID string
	ConnectedAt  time.Time
}

// Binding carries the session of one connection. Connections embed it so every
// frame handler reads the identity from the connection itself. The zero value
// is unauthenticated.
type Binding struct {
	current atomic.Pointer[AuthenticatedSession]
}

// Session returns the bound session, or nil before CONNECT succeeded
func (b *Binding) Session() *AuthenticatedSession {
	return b.current.Load()
}

// BindSession attaches sess for the rest of the connection's life
func (b *Binding) BindSession(sess *AuthenticatedSession) {
	b.current.Store(sess)
}

// Manager tracks the sessions of live connections for counting and limits
type Manager struct {
	sessions       map[string]*AuthenticatedSession      // connectionID -> session
	memberSessions map[chat.MemberID]map[string]struct{} // memberID -> connectionIDs
	mu             sync.RWMutex
}

// NewManager creates a new session manager
func NewManager() *Manager {
	return &Manager{
		sessions:       make(map[string]*AuthenticatedSession),
		memberSessions: make(map[chat.MemberID]map[string]struct{}),
	}
}

// Bind creates the session of connectionID for memberID.
// Returns ErrAlreadyAuthenticated if the connection already has a session.
func (m *Manager) Bind(memberID chat.MemberID, connectionID string) (*AuthenticatedSession, error) {
	if memberID <= 0 {
		return nil, ErrInvalidMemberID
	}
	if connectionID == "" {
		return nil, ErrInvalidConnectionID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.sessions[connectionID]; exists {
		return nil, fmt.Errorf("%w: connection %s bound to member %d",
			ErrAlreadyAuthenticated, connectionID, existing.MemberID)
	}

	sess := &AuthenticatedSession{
		MemberID:     memberID,
		ConnectionID: connectionID,
		ConnectedAt:  time.Now(),
	}
	m.sessions[connectionID] = sess

	conns, ok := m.memberSessions[memberID]
	if !ok {
		conns = make(map[string]struct{})
		m.memberSessions[memberID] = conns
	}
	conns[connectionID] = struct{}{}

	return sess, nil
}

// Get returns the session bound to connectionID
func (m *Manager) Get(connectionID string) (*AuthenticatedSession, error) {
	if connectionID == "" {
		return nil, ErrInvalidConnectionID
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, exists := m.sessions[connectionID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, connectionID)
	}
	return sess, nil
}

// End releases the session of connectionID. Ending an unknown connection is a no-op
// and reports false.
func (m *Manager) End(connectionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[connectionID]
	if !exists {
		return false
	}
	delete(m.sessions, connectionID)

	if conns, ok := m.memberSessions[sess.MemberID]; ok {
		delete(conns, connectionID)
		if len(conns) == 0 {
			delete(m.memberSessions, sess.MemberID)
		}
	}
	return true
}

// CountByMember returns the number of live sessions of a member
func (m *Manager) CountByMember(memberID chat.MemberID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.memberSessions[memberID])
}

// ActiveCount returns the number of live sessions
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
