// Package router dispatches decoded client frames of one connection to the
// authenticator, the broker and the ingestor. Both transports share it.
package router

import (
	"context"
	"strconv"
	"strings"

	"github.com/real-rm/golog"

	"github.com/real-rm/meetupchat/internal/auth"
	"github.com/real-rm/meetupchat/internal/broker"
	"github.com/real-rm/meetupchat/internal/chat"
	"github.com/real-rm/meetupchat/internal/constants"
	chaterrors "github.com/real-rm/meetupchat/internal/errors"
	"github.com/real-rm/meetupchat/internal/frame"
	"github.com/real-rm/meetupchat/internal/ingest"
	"github.com/real-rm/meetupchat/internal/metrics"
	"github.com/real-rm/meetupchat/internal/ratelimit"
	"github.com/real-rm/meetupchat/internal/session"
	"github.com/real-rm/meetupchat/internal/util"
)

// Conn is one client connection as seen by the router. Embedding
// session.Binding provides the session methods.
type Conn interface {
	broker.Subscriber
	// Write queues an encoded server frame without blocking
	Write(data []byte) bool
	// Session returns the identity bound by CONNECT, nil before it
	Session() *session.AuthenticatedSession
	// BindSession attaches the identity for the rest of the connection's life
	BindSession(sess *session.AuthenticatedSession)
}

// MessageSender persists and broadcasts a chat message
type MessageSender interface {
	Send(ctx context.Context, roomID chat.RoomID, senderID chat.MemberID, content string) (*ingest.Result, error)
}

// Broadcaster manages the subscriptions of connections
type Broadcaster interface {
	Subscribe(topic, subscriptionID string, sub broker.Subscriber) error
	Unsubscribe(connID, subscriptionID string) bool
	Remove(connID string) int
}

// sendBody is the JSON body of a SEND frame
type sendBody struct {
	Content string `json:"content"`
}

// FrameRouter routes the frames of every connection. Frames of one connection
// must be handed to it sequentially; connections are routed concurrently.
type FrameRouter struct {
	authenticator *auth.ConnectionAuthenticator
	broker        Broadcaster
	sender        MessageSender
	sendLimiter   *ratelimit.MessageLimiter[chat.MemberID]
	connLimiter   *ratelimit.ConnectionLimiter[chat.MemberID]
	logger        *golog.Logger
}

// New creates a frame router. The limiters are optional.
func New(authenticator *auth.ConnectionAuthenticator, b Broadcaster, sender MessageSender,
	sendLimiter *ratelimit.MessageLimiter[chat.MemberID], connLimiter *ratelimit.ConnectionLimiter[chat.MemberID],
	logger *golog.Logger) *FrameRouter {
	return &FrameRouter{
		authenticator: authenticator,
		broker:        b,
		sender:        sender,
		sendLimiter:   sendLimiter,
		connLimiter:   connLimiter,
		logger:        logger.WithGroup("router"),
	}
}

// Handle decodes and routes one inbound payload. It returns false when the
// connection must be closed after the queued frames are flushed.
func (r *FrameRouter) Handle(ctx context.Context, conn Conn, data []byte) bool {
	f, err := frame.Decode(data)
	if err != nil {
		fatal := conn.Session() == nil
		r.logger.Warn("Malformed frame",
			"connection_id", conn.ConnectionID(),
			"authenticated", !fatal,
			"error", err)
		r.writeError(conn, chaterrors.NewProtocolError(chaterrors.ErrCodeProtocolViolation, err.Error(), !fatal), "")
		return !fatal
	}
	// No else needed: early return pattern (heart-beat)
	if f == nil {
		return true
	}
	return r.Route(ctx, conn, f)
}

// Route dispatches a decoded frame. CONNECT is the only frame accepted before the
// connection is authenticated; anything else closes it.
func (r *FrameRouter) Route(ctx context.Context, conn Conn, f frame.ClientFrame) bool {
	metrics.FramesReceived.WithLabelValues(f.Command()).Inc()

	// No else needed: early return pattern (handshake)
	if connect, ok := f.(*frame.Connect); ok {
		return r.handleConnect(conn, connect)
	}

	sess := conn.Session()
	// No else needed: early return pattern (guard clause)
	if sess == nil {
		r.logger.Warn("Frame before CONNECT",
			"connection_id", conn.ConnectionID(),
			"command", f.Command())
		r.writeError(conn, chaterrors.ErrUnauthorized(), f.ReceiptID())
		return false
	}

	switch fr := f.(type) {
	case *frame.Subscribe:
		return r.handleSubscribe(sess, conn, fr)
	case *frame.Unsubscribe:
		return r.handleUnsubscribe(sess, conn, fr)
	case *frame.Send:
		return r.handleSend(ctx, sess, conn, fr)
	case *frame.Disconnect:
		r.writeReceipt(conn, fr.Receipt)
		r.logger.Debug("Client disconnect", "connection_id", sess.ConnectionID, "member_id", sess.MemberID)
		return false
	default:
		r.writeError(conn, chaterrors.NewProtocolError(chaterrors.ErrCodeProtocolViolation,
			"unsupported command "+f.Command(), false), f.ReceiptID())
		return false
	}
}

func (r *FrameRouter) handleConnect(conn Conn, connect *frame.Connect) bool {
	connID := conn.ConnectionID()

	// A second CONNECT is refused before its credentials are looked at
	// No else needed: early return pattern (guard clause)
	if existing := conn.Session(); existing != nil {
		r.logger.Warn("CONNECT on authenticated connection",
			"connection_id", connID,
			"member_id", existing.MemberID)
		r.writeError(conn, chaterrors.NewProtocolError(chaterrors.ErrCodeProtocolViolation,
			"Connection is already authenticated", true), connect.Receipt)
		return true
	}

	sess, err := r.authenticator.Authenticate(connID, connect)
	if err != nil {
		chatErr := chaterrors.AsChatError(err)
		r.writeError(conn, chatErr, connect.Receipt)
		return !chatErr.IsFatal()
	}

	// No else needed: early return pattern (connection cap)
	if r.connLimiter != nil && !r.connLimiter.Allow(sess.MemberID) {
		r.authenticator.Release(connID)
		r.logger.Warn("Connection limit reached", "member_id", sess.MemberID, "connection_id", connID)
		limitErr := chaterrors.ErrConnectionLimitExceeded(0)
		limitErr.Recoverable = false
		r.writeError(conn, limitErr, connect.Receipt)
		return false
	}

	conn.BindSession(sess)

	data, err := frame.EncodeConnected(connID)
	if err != nil {
		util.LogError(r.logger, "router", "encode CONNECTED", err, "connection_id", connID)
		return false
	}
	r.write(conn, data)
	r.writeReceipt(conn, connect.Receipt)
	return true
}

func (r *FrameRouter) handleSubscribe(sess *session.AuthenticatedSession, conn Conn, sub *frame.Subscribe) bool {
	roomID, ok := roomFromDestination(sub.Destination, constants.SubscribePrefix)
	// No else needed: early return pattern (guard clause)
	if !ok {
		r.logger.Info("Refused subscription",
			"connection_id", sess.ConnectionID,
			"member_id", sess.MemberID,
			"destination", sub.Destination)
		r.writeError(conn, chaterrors.ErrUnsupportedDestination(sub.Destination), sub.Receipt)
		return true
	}

	if err := r.broker.Subscribe(broker.RoomTopic(roomID), sub.ID, conn); err != nil {
		r.writeError(conn, chaterrors.NewProtocolError(chaterrors.ErrCodeProtocolViolation, err.Error(), true), sub.Receipt)
		return true
	}
	r.writeReceipt(conn, sub.Receipt)
	return true
}

func (r *FrameRouter) handleUnsubscribe(sess *session.AuthenticatedSession, conn Conn, unsub *frame.Unsubscribe) bool {
	// No else needed: optional operation (unknown ids are ignored)
	if !r.broker.Unsubscribe(sess.ConnectionID, unsub.ID) {
		r.logger.Debug("Unsubscribe for unknown subscription",
			"connection_id", sess.ConnectionID,
			"subscription_id", unsub.ID)
	}
	r.writeReceipt(conn, unsub.Receipt)
	return true
}

func (r *FrameRouter) handleSend(ctx context.Context, sess *session.AuthenticatedSession, conn Conn, send *frame.Send) bool {
	roomID, ok := roomFromDestination(send.Destination, constants.PublishPrefix)
	// No else needed: early return pattern (guard clause)
	if !ok {
		r.writeError(conn, chaterrors.ErrUnsupportedDestination(send.Destination), send.Receipt)
		return true
	}

	// No else needed: early return pattern (rate limit)
	if r.sendLimiter != nil && !r.sendLimiter.Allow(sess.MemberID) {
		r.writeError(conn, chaterrors.ErrTooManyRequests(r.sendLimiter.RetryAfter(sess.MemberID)), send.Receipt)
		return true
	}

	content, err := decodeContent(send)
	if err != nil {
		r.writeError(conn, chaterrors.ErrInvalidMessageFormat("body must be {\"content\": string}", err), send.Receipt)
		return true
	}

	sendCtx, cancel := context.WithTimeout(ctx, constants.MessageAppendTimeout)
	defer cancel()

	// The sender is always the session's member; frames carry no identity.
	if _, err := r.sender.Send(sendCtx, roomID, sess.MemberID, content); err != nil {
		chatErr := chaterrors.AsChatError(err)
		r.logger.Info("SEND rejected",
			"connection_id", sess.ConnectionID,
			"member_id", sess.MemberID,
			"room_id", roomID,
			"code", chatErr.Code)
		recoverable := *chatErr
		recoverable.Recoverable = true
		r.writeError(conn, &recoverable, send.Receipt)
		return true
	}
	r.writeReceipt(conn, send.Receipt)
	return true
}

// Disconnect releases everything the connection held. It is safe to call for
// connections that never authenticated and more than once.
func (r *FrameRouter) Disconnect(conn Conn) {
	connID := conn.ConnectionID()
	removed := r.broker.Remove(connID)

	// No else needed: optional operation (only authenticated connections hold a slot)
	if sess := conn.Session(); sess != nil && r.authenticator.Release(connID) {
		if r.connLimiter != nil {
			r.connLimiter.Release(sess.MemberID)
		}
	}
	r.logger.Debug("Connection released", "connection_id", connID, "subscriptions", removed)
}

// roomFromDestination parses {prefix}{roomId}
func roomFromDestination(destination, prefix string) (chat.RoomID, bool) {
	raw, ok := strings.CutPrefix(destination, prefix)
	// No else needed: early return pattern (guard clause)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	// No else needed: early return pattern (guard clause)
	if err != nil || id <= 0 {
		return 0, false
	}
	return chat.RoomID(id), true
}

// decodeContent reads the message text from a SEND body. JSON bodies carry
// {"content": ...}; text/plain bodies are the content itself.
func decodeContent(send *frame.Send) (string, error) {
	// No else needed: early return pattern (plain text)
	if strings.HasPrefix(send.ContentType, "text/plain") {
		return string(send.Body), nil
	}
	var body sendBody
	if err := util.UnmarshalJSON(send.Body, &body); err != nil {
		return "", err
	}
	return body.Content, nil
}

func (r *FrameRouter) writeError(conn Conn, chatErr *chaterrors.ChatError, receiptID string) {
	body, err := util.MarshalJSON(chatErr.ToErrorInfo())
	if err != nil {
		util.LogError(r.logger, "router", "encode error info", err)
		body = nil
	}
	data, err := frame.EncodeError(string(chatErr.Code), body, receiptID)
	if err != nil {
		util.LogError(r.logger, "router", "encode ERROR", err)
		return
	}
	r.write(conn, data)
}

func (r *FrameRouter) writeReceipt(conn Conn, receiptID string) {
	// No else needed: early return pattern (no receipt requested)
	if receiptID == "" {
		return
	}
	data, err := frame.EncodeReceipt(receiptID)
	if err != nil {
		util.LogError(r.logger, "router", "encode RECEIPT", err)
		return
	}
	r.write(conn, data)
}

func (r *FrameRouter) write(conn Conn, data []byte) {
	// No else needed: optional operation (count only delivered frames)
	if !conn.Write(data) {
		r.logger.Warn("Outbound buffer full, frame dropped", "connection_id", conn.ConnectionID())
		return
	}
	metrics.FramesSent.Inc()
}
