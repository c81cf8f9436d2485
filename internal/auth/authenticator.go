package auth

import (
	"errors"

	"github.com/real-rm/golog"

	chaterrors "github.com/real-rm/meetupchat/internal/errors"
	"github.com/real-rm/meetupchat/internal/frame"
	"github.com/real-rm/meetupchat/internal/metrics"
	"github.com/real-rm/meetupchat/internal/session"
	"github.com/real-rm/meetupchat/internal/util"
)

// Rejection reasons recorded on the auth rejection metric
const (
	ReasonMissingToken = "missing_token"
	ReasonInvalidToken = "invalid_token"
	ReasonExpiredToken = "expired_token"
)

// ConnectionAuthenticator binds an identity to a connection from the bearer
// token carried by its CONNECT frame. It is the only place sessions are created.
type ConnectionAuthenticator struct {
	validator TokenValidator
	sessions  *session.Manager
	logger    *golog.Logger
}

// NewConnectionAuthenticator creates an authenticator backed by validator
func NewConnectionAuthenticator(validator TokenValidator, sessions *session.Manager, logger *golog.Logger) *ConnectionAuthenticator {
	return &ConnectionAuthenticator{
		validator: validator,
		sessions:  sessions,
		logger:    logger.WithGroup("auth"),
	}
}

// Authenticate validates the Authorization header of a CONNECT frame and binds the
// resulting member to connectionID. Missing or invalid credentials yield a fatal
// ChatError and no session. A connection that is already authenticated yields a
// recoverable protocol error and keeps its existing session.
func (a *ConnectionAuthenticator) Authenticate(connectionID string, connect *frame.Connect) (*session.AuthenticatedSession, error) {
	// No else needed: early return pattern (no re-authentication)
	if _, err := a.sessions.Get(connectionID); err == nil {
		return nil, errAlreadyAuthenticated()
	}

	token, err := util.ExtractBearerToken(connect.Authorization)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		metrics.AuthRejections.WithLabelValues(ReasonMissingToken).Inc()
		a.logger.Warn("Rejected CONNECT without bearer token",
			"connection_id", connectionID,
			"error", err)
		return nil, chaterrors.NewAuthError(chaterrors.ErrCodeUnauthorized, "Bearer token required", err)
	}

	memberID, err := a.validator.Decode(token)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		reason := ReasonInvalidToken
		if errors.Is(err, ErrExpiredToken) {
			reason = ReasonExpiredToken
		}
		metrics.AuthRejections.WithLabelValues(reason).Inc()
		a.logger.Warn("Rejected CONNECT with invalid token",
			"connection_id", connectionID,
			"reason", reason,
			"error", err)
		return nil, chaterrors.ErrInvalidToken(err)
	}

	sess, err := a.sessions.Bind(memberID, connectionID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		if errors.Is(err, session.ErrAlreadyAuthenticated) {
			return nil, errAlreadyAuthenticated()
		}
		return nil, chaterrors.NewAuthError(chaterrors.ErrCodeUnauthorized, "Unable to bind session", err)
	}

	metrics.AuthenticatedSessions.Inc()
	a.logger.Info("Connection authenticated",
		"connection_id", connectionID,
		"member_id", memberID,
		"member_sessions", a.sessions.CountByMember(memberID))

	return sess, nil
}

// Release ends the session of a closed connection and reports whether one was
// bound. It is safe to call for connections that never authenticated.
func (a *ConnectionAuthenticator) Release(connectionID string) bool {
	// No else needed: early return pattern (nothing bound)
	if !a.sessions.End(connectionID) {
		return false
	}
	metrics.AuthenticatedSessions.Dec()
	return true
}

func errAlreadyAuthenticated() *chaterrors.ChatError {
	return chaterrors.NewProtocolError(chaterrors.ErrCodeProtocolViolation,
		"Connection is already authenticated", true)
}

// Sessions exposes the session manager backing the authenticator
func (a *ConnectionAuthenticator) Sessions() *session.Manager {
	return a.sessions
}
