// Package websocket carries the framed chat protocol over WebSocket connections and
// over an SSE fallback for clients that cannot open one. Authentication happens in
// the CONNECT frame, not on the HTTP upgrade.
package websocket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/real-rm/golog"

	"github.com/real-rm/meetupchat/internal/frame"
	"github.com/real-rm/meetupchat/internal/metrics"
	"github.com/real-rm/meetupchat/internal/router"
	"github.com/real-rm/meetupchat/internal/session"
	"github.com/real-rm/meetupchat/internal/util"
)

const (
	transportWebSocket = "websocket"
	transportFallback  = "fallback"
)

var (
	// upgrader configures the WebSocket upgrade
	// SECURITY: In production, this service MUST be deployed behind a reverse proxy
	// that terminates TLS so clients connect over WSS.
	// The CheckOrigin function is configured per-handler to validate allowed origins.
	upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{"v12.stomp", "v11.stomp", "v10.stomp"},
	}

	// pongWait is the time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// pingPeriod is the interval for sending ping messages (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// writeWait is the time allowed to write a message to the peer
	writeWait = 10 * time.Second
)

// FrameHandler routes the inbound frames of a connection
type FrameHandler interface {
	Handle(ctx context.Context, conn router.Conn, data []byte) bool
	Disconnect(conn router.Conn)
}

// Connection is one WebSocket client. Outbound frames are queued on send and
// written by a single writer goroutine.
type Connection struct {
	session.Binding

	conn *websocket.Conn
	id   string

	send chan []byte
	// done is closed when the connection is torn down; writes after it are refused
	done       chan struct{}
	closeOnce  sync.Once
	writerDone chan struct{}
}

func newConnection(conn *websocket.Conn, sendBuffer int) *Connection {
	return &Connection{
		conn:       conn,
		id:         uuid.NewString(),
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// ConnectionID returns the server-assigned connection id
func (c *Connection) ConnectionID() string {
	return c.id
}

// Write queues an encoded frame. It never blocks and reports false when the
// connection is closed or its buffer is full.
func (c *Connection) Write(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Deliver wraps payload in a MESSAGE frame for the subscription and queues it
func (c *Connection) Deliver(destination, subscriptionID, messageID string, payload []byte) bool {
	data, err := frame.EncodeMessage(destination, subscriptionID, messageID, payload)
	if err != nil {
		return false
	}
	return c.Write(data)
}

// teardown stops the writer and closes the socket
func (c *Connection) teardown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Handler upgrades HTTP requests and pumps frames between sockets and the router
type Handler struct {
	frames         FrameHandler
	logger         *golog.Logger
	allowedOrigins map[string]bool
	maxMessageSize int64
	sendBuffer     int

	connections map[string]*Connection
	mu          sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHandler creates a WebSocket handler
func NewHandler(frames FrameHandler, logger *golog.Logger, maxMessageSize int64, sendBuffer int) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		frames:         frames,
		logger:         logger.WithGroup("websocket"),
		allowedOrigins: make(map[string]bool),
		maxMessageSize: maxMessageSize,
		sendBuffer:     sendBuffer,
		connections:    make(map[string]*Connection),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// SetAllowedOrigins configures the allowed origins for WebSocket connections
// If no origins are set, all origins are allowed (development mode)
func (h *Handler) SetAllowedOrigins(origins []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.allowedOrigins = make(map[string]bool)
	for _, origin := range origins {
		h.allowedOrigins[origin] = true
	}

	h.logger.Info("Configured allowed origins",
		"count", len(origins),
		"origins", origins)
}

// IsOpenOrigin returns true when no allowed origins are configured,
// meaning all origins are accepted.
func (h *Handler) IsOpenOrigin() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allowedOrigins) == 0
}

// checkOrigin validates the origin of a WebSocket upgrade request
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")

	h.mu.RLock()
	defer h.mu.RUnlock()

	// No else needed: early return pattern (development mode)
	if len(h.allowedOrigins) == 0 {
		return true
	}

	// No else needed: early return pattern (guard clause)
	if h.allowedOrigins[origin] {
		return true
	}

	h.logger.Warn("Origin not allowed", "origin", origin)
	return false
}

// HandleWebSocket upgrades the request and starts the read and write pumps.
// The connection stays unauthenticated until its CONNECT frame is accepted.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// No else needed: early return pattern (shutting down)
	if h.ctx.Err() != nil {
		http.Error(w, "Server shutting down", http.StatusServiceUnavailable)
		return
	}

	localUpgrader := upgrader
	localUpgrader.CheckOrigin = h.checkOrigin

	ws, err := localUpgrader.Upgrade(w, r, nil)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		util.LogError(h.logger, "websocket", "upgrade connection", err)
		return
	}

	// Set read limit to prevent memory exhaustion from oversized frames
	ws.SetReadLimit(h.maxMessageSize)

	conn := newConnection(ws, h.sendBuffer)
	h.register(conn)

	h.logger.Info("WebSocket connection established",
		"connection_id", conn.id,
		"subprotocol", ws.Subprotocol())

	util.SafeGo(h.logger, "readPump", func() { h.readPump(conn) })
	util.SafeGo(h.logger, "writePump", func() { h.writePump(conn) })
}

func (h *Handler) register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[conn.id] = conn
	metrics.ActiveConnections.WithLabelValues(transportWebSocket).Inc()
}

func (h *Handler) unregister(conn *Connection) {
	h.mu.Lock()
	_, exists := h.connections[conn.id]
	delete(h.connections, conn.id)
	h.mu.Unlock()

	// No else needed: optional operation (count each connection once)
	if exists {
		metrics.ActiveConnections.WithLabelValues(transportWebSocket).Dec()
	}
}

// ConnectionCount returns the number of open WebSocket connections
func (h *Handler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// readPump reads frames until the socket fails or the router asks to close.
// Frames of one connection are routed strictly in arrival order.
func (h *Handler) readPump(c *Connection) {
	defer func() {
		h.frames.Disconnect(c)
		h.unregister(c)
		c.teardown()
		<-c.writerDone
		_ = c.conn.Close()
		h.logger.Info("WebSocket connection closed", "connection_id", c.id)
	}()

	ctx := util.ContextWithConnectionID(h.ctx, c.id)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				h.logger.Warn("WebSocket frame size limit exceeded",
					"connection_id", c.id,
					"limit", h.maxMessageSize)
			case websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure):
				util.LogError(h.logger, "websocket", "handle unexpected close", err, "connection_id", c.id)
			default:
				h.logger.Debug("WebSocket connection closing", "connection_id", c.id)
			}
			return
		}

		// No else needed: early return pattern (router requested close)
		if !h.frames.Handle(ctx, c, data) {
			h.closeAfterFlush(c)
			return
		}
	}
}

// closeAfterFlush queues the close sentinel behind the frames already queued so
// an ERROR frame reaches the client before the socket closes
func (h *Handler) closeAfterFlush(c *Connection) {
	select {
	case c.send <- nil:
		select {
		case <-c.writerDone:
		case <-time.After(writeWait):
		}
	case <-time.After(writeWait):
	}
}

// writePump writes queued frames and periodic pings. A nil frame is the close
// sentinel.
func (h *Handler) writePump(c *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.writerDone)
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			// No else needed: close sentinel handling (sends close and returns)
			if data == nil {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			// No else needed: error handling with return (exits function)
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			// No else needed: error handling with return (exits function)
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// ShutdownWithContext closes every connection with a going-away close frame
func (h *Handler) ShutdownWithContext(ctx context.Context) error {
	h.cancel()

	h.mu.RLock()
	connections := make([]*Connection, 0, len(h.connections))
	for _, conn := range h.connections {
		connections = append(connections, conn)
	}
	h.mu.RUnlock()

	h.logger.Info("Shutting down WebSocket handler", "connections", len(connections))

	var wg sync.WaitGroup
	for _, conn := range connections {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			c.teardown()
			<-c.writerDone
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"),
				time.Now().Add(writeWait))
			_ = c.conn.Close()
		}(conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("All WebSocket connections closed gracefully")
		return nil
	case <-ctx.Done():
		h.logger.Warn("Shutdown deadline exceeded, forcing closure",
			"remaining_connections", len(connections))
		return ctx.Err()
	}
}
