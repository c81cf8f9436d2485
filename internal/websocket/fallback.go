package websocket

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/real-rm/golog"

	"github.com/real-rm/meetupchat/internal/frame"
	"github.com/real-rm/meetupchat/internal/httperrors"
	"github.com/real-rm/meetupchat/internal/metrics"
	"github.com/real-rm/meetupchat/internal/session"
	"github.com/real-rm/meetupchat/internal/util"
)

// sseEvent is the SSE event name carrying one server frame
const sseEvent = "frame"

// FallbackSession is a connection whose server frames are streamed as Server-Sent
// Events and whose client frames arrive as separate POST requests.
type FallbackSession struct {
	session.Binding

	id     string
	events chan []byte

	// finishing is closed when the router asked to close; the stream drains first
	finishing  chan struct{}
	finishOnce sync.Once
	done       chan struct{}
	doneOnce   sync.Once

	mu       sync.Mutex
	attached bool
	// sendMu keeps the frames of one session in order across concurrent POSTs
	sendMu sync.Mutex
}

func newFallbackSession(sendBuffer int) *FallbackSession {
	return &FallbackSession{
		id:        uuid.NewString(),
		events:    make(chan []byte, sendBuffer),
		finishing: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ConnectionID returns the fallback session id
func (s *FallbackSession) ConnectionID() string {
	return s.id
}

// Write queues an encoded frame for the stream without blocking
func (s *FallbackSession) Write(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- data:
		return true
	default:
		return false
	}
}

// Deliver wraps payload in a MESSAGE frame for the subscription and queues it
func (s *FallbackSession) Deliver(destination, subscriptionID, messageID string, payload []byte) bool {
	data, err := frame.EncodeMessage(destination, subscriptionID, messageID, payload)
	if err != nil {
		return false
	}
	return s.Write(data)
}

func (s *FallbackSession) finish() {
	s.finishOnce.Do(func() { close(s.finishing) })
}

func (s *FallbackSession) close() {
	s.doneOnce.Do(func() { close(s.done) })
}

// closing reports whether the session stopped accepting client frames
func (s *FallbackSession) closing() bool {
	select {
	case <-s.finishing:
		return true
	case <-s.done:
		return true
	default:
		return false
	}
}

// attach marks the stream as opened, reporting false if it already was
func (s *FallbackSession) attach() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	// No else needed: early return pattern (guard clause)
	if s.attached {
		return false
	}
	s.attached = true
	return true
}

func (s *FallbackSession) isAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attached
}

// FallbackHandler serves the SSE fallback transport
type FallbackHandler struct {
	frames         FrameHandler
	logger         *golog.Logger
	maxMessageSize int64
	sendBuffer     int
	attachTimeout  time.Duration

	sessions map[string]*FallbackSession
	closed   bool
	mu       sync.RWMutex
}

// NewFallbackHandler creates the fallback transport. Sessions whose stream is not
// opened within attachTimeout are discarded.
func NewFallbackHandler(frames FrameHandler, logger *golog.Logger, maxMessageSize int64, sendBuffer int, attachTimeout time.Duration) *FallbackHandler {
	return &FallbackHandler{
		frames:         frames,
		logger:         logger.WithGroup("fallback"),
		maxMessageSize: maxMessageSize,
		sendBuffer:     sendBuffer,
		attachTimeout:  attachTimeout,
		sessions:       make(map[string]*FallbackSession),
	}
}

// Open creates a session and returns its id
func (h *FallbackHandler) Open(c *gin.Context) {
	sess := newFallbackSession(h.sendBuffer)

	h.mu.Lock()
	// No else needed: early return pattern (reject new sessions during shutdown)
	if h.closed {
		h.mu.Unlock()
		httperrors.RespondServiceUnavailable(c)
		return
	}
	h.sessions[sess.id] = sess
	h.mu.Unlock()
	metrics.ActiveConnections.WithLabelValues(transportFallback).Inc()

	time.AfterFunc(h.attachTimeout, func() {
		// No else needed: optional operation (expire only unattached sessions)
		if !sess.isAttached() {
			h.logger.Info("Fallback session expired before stream attached", "session_id", sess.id)
			h.release(sess)
		}
	})

	h.logger.Info("Fallback session opened", "session_id", sess.id)
	c.JSON(http.StatusCreated, gin.H{"sessionId": sess.id})
}

// Stream streams the session's server frames as SSE until it closes
func (h *FallbackHandler) Stream(c *gin.Context) {
	sess, ok := h.lookup(c.Param("sessionId"))
	// No else needed: early return pattern (guard clause)
	if !ok {
		httperrors.RespondNotFound(c, "Session not found")
		return
	}
	// No else needed: early return pattern (guard clause)
	if !sess.attach() {
		c.AbortWithStatusJSON(http.StatusConflict, httperrors.ErrorResponse{
			Code:    "STREAM_ALREADY_ATTACHED",
			Message: "Stream already attached",
		})
		return
	}
	defer h.release(sess)

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case data := <-sess.events:
			c.SSEvent(sseEvent, sseData(data))
			return true
		case <-sess.finishing:
			for {
				select {
				case data := <-sess.events:
					c.SSEvent(sseEvent, sseData(data))
				default:
					return false
				}
			}
		case <-sess.done:
			return false
		case <-ctx.Done():
			return false
		}
	})
}

// Send routes one client frame carried in the request body
func (h *FallbackHandler) Send(c *gin.Context) {
	sess, ok := h.lookup(c.Param("sessionId"))
	// No else needed: early return pattern (guard clause)
	if !ok {
		httperrors.RespondNotFound(c, "Session not found")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxMessageSize))
	// No else needed: early return pattern (guard clause)
	if err != nil {
		httperrors.RespondBadRequest(c, "Frame too large or unreadable")
		return
	}

	sess.sendMu.Lock()
	defer sess.sendMu.Unlock()
	// No else needed: early return pattern (guard clause)
	if sess.closing() {
		httperrors.RespondNotFound(c, "Session closed")
		return
	}

	keep := h.frames.Handle(util.ContextWithConnectionID(c.Request.Context(), sess.id), sess, body)
	// No else needed: optional operation (router requested close)
	if !keep {
		// The stream drains queued frames and releases the session. An
		// unattached session is released when its attach timeout fires.
		sess.finish()
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (h *FallbackHandler) lookup(id string) (*FallbackSession, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sess, ok := h.sessions[id]
	return sess, ok
}

// release removes the session and frees everything the router tracks for it
func (h *FallbackHandler) release(sess *FallbackSession) {
	h.mu.Lock()
	_, exists := h.sessions[sess.id]
	delete(h.sessions, sess.id)
	h.mu.Unlock()

	// No else needed: early return pattern (already released)
	if !exists {
		return
	}
	sess.close()
	h.frames.Disconnect(sess)
	metrics.ActiveConnections.WithLabelValues(transportFallback).Dec()
	h.logger.Info("Fallback session closed", "session_id", sess.id)
}

// SessionCount returns the number of open fallback sessions
func (h *FallbackHandler) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown closes every fallback session and refuses new ones
func (h *FallbackHandler) Shutdown() {
	h.mu.Lock()
	h.closed = true
	sessions := make([]*FallbackSession, 0, len(h.sessions))
	for _, sess := range h.sessions {
		sessions = append(sessions, sess)
	}
	h.mu.Unlock()

	for _, sess := range sessions {
		h.release(sess)
	}
	h.logger.Info("Fallback sessions closed", "count", len(sessions))
}

// sseData drops the frame terminator, which SSE framing replaces
func sseData(data []byte) string {
	return string(bytes.TrimRight(data, "\x00"))
}
