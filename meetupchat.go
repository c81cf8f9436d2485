// Package meetupchat provides the service registration for the group chat core.
// It integrates with gomain by implementing a Register function that sets up the
// WebSocket, fallback and REST endpoints of the chat service.
package meetupchat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/real-rm/goconfig"
	"github.com/real-rm/golog"
	"github.com/real-rm/gomongo"

	"github.com/real-rm/meetupchat/internal/auth"
	"github.com/real-rm/meetupchat/internal/broker"
	"github.com/real-rm/meetupchat/internal/chat"
	"github.com/real-rm/meetupchat/internal/config"
	"github.com/real-rm/meetupchat/internal/constants"
	"github.com/real-rm/meetupchat/internal/ingest"
	"github.com/real-rm/meetupchat/internal/member"
	"github.com/real-rm/meetupchat/internal/ratelimit"
	"github.com/real-rm/meetupchat/internal/room"
	"github.com/real-rm/meetupchat/internal/router"
	"github.com/real-rm/meetupchat/internal/session"
	"github.com/real-rm/meetupchat/internal/storage"
	"github.com/real-rm/meetupchat/internal/util"
	"github.com/real-rm/meetupchat/internal/websocket"
)

var (
	// Global reference for graceful shutdown
	current    *service
	shutdownMu sync.Mutex
)

// dependencies are the outside collaborators of the chat core
type dependencies struct {
	backend storage.Backend
	members member.Directory
	tokens  auth.TokenValidator
}

// service wires every chat component together
type service struct {
	cfg    *config.Config
	logger *golog.Logger

	backend  storage.Backend
	members  member.Directory
	tokens   auth.TokenValidator
	registry *room.Registry
	store    *storage.MessageStore
	broker   *broker.Broker
	ingestor *ingest.Ingestor
	sessions *session.Manager
	frames   *router.FrameRouter
	ws       *websocket.Handler
	fallback *websocket.FallbackHandler

	sendLimiter   *ratelimit.MessageLimiter[chat.MemberID]
	publicLimiter *ratelimit.MessageLimiter[string]
}

// Register registers the chat service with the gomain router.
// This function is called by gomain during service initialization.
//
// Parameters:
//   - r: Gin router for registering HTTP and WebSocket endpoints
//   - accessor: Configuration accessor for loading service settings
//   - logger: Logger for structured logging
//   - mongo: MongoDB client for member profiles and, in mongo mode, chat data
//
// Returns:
//   - error: Any error that occurred during registration
func Register(r *gin.Engine, accessor *goconfig.ConfigAccessor, logger *golog.Logger, mongo *gomongo.Mongo) error {
	chatLogger := logger.WithGroup("meetupchat")
	chatLogger.Info("Initializing meetupchat service")

	cfg, err := config.Load(config.FromAccessor(accessor))
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Validate critical configuration at startup so misconfigurations are caught
	// before serving traffic
	// No else needed: early return pattern (guard clause)
	if err := cfg.Validate(); err != nil {
		chatLogger.Error("Configuration validation failed", "error", err)
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	deps, err := openDependencies(cfg, mongo, chatLogger)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		return err
	}

	svc := newService(cfg, deps, chatLogger)
	svc.routes(r)

	// Start background goroutines only after all validation is complete,
	// so we don't leak goroutines if Register() returns an error.
	svc.start()

	// Stop any previously-registered instance to prevent goroutine leaks
	// when Register() is called multiple times (tests, hot-reload).
	shutdownMu.Lock()
	previous := current
	current = svc
	shutdownMu.Unlock()
	// No else needed: optional operation (replace previous instance)
	if previous != nil {
		_ = previous.shutdown(context.Background())
	}

	chatLogger.Info("Meetupchat service registered successfully",
		"store", deps.backend.Name(),
		"websocket_endpoint", cfg.PathPrefix+"/ws",
		"history_endpoint", cfg.PathPrefix+"/chat/messages",
		"health_endpoints", cfg.PathPrefix+"/healthz, "+cfg.PathPrefix+"/readyz",
		"metrics_endpoint", cfg.PathPrefix+"/metrics/prometheus",
	)
	return nil
}

// openDependencies opens the configured store and the member directory
func openDependencies(cfg *config.Config, mongo *gomongo.Mongo, logger *golog.Logger) (*dependencies, error) {
	// No else needed: early return pattern (guard clause)
	if mongo == nil {
		return nil, errors.New("MongoDB client is required for the member directory")
	}

	ctx, cancel := util.NewTimeoutContext(constants.MongoIndexTimeout)
	defer cancel()

	directory := member.NewMongoDirectory(mongo, cfg.Database, logger)
	// No else needed: early return pattern (guard clause)
	if err := directory.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to create member indexes: %w", err)
	}

	var backend storage.Backend
	switch cfg.Store {
	case constants.StoreBadger:
		badgerBackend, err := storage.OpenBadgerBackend(cfg.BadgerDir, logger)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		backend = badgerBackend
	default:
		mongoBackend := storage.NewMongoBackend(mongo, cfg.Database, logger)
		// No else needed: early return pattern (guard clause)
		if err := mongoBackend.EnsureIndexes(ctx); err != nil {
			return nil, fmt.Errorf("failed to create chat indexes: %w", err)
		}
		backend = mongoBackend
	}

	return &dependencies{
		backend: backend,
		members: directory,
		tokens:  auth.NewJWTValidator(cfg.JWTSecret),
	}, nil
}

// newService builds the component graph. Nothing runs until start.
func newService(cfg *config.Config, deps *dependencies, logger *golog.Logger) *service {
	s := &service{
		cfg:     cfg,
		logger:  logger,
		backend: deps.backend,
		members: deps.members,
		tokens:  deps.tokens,
	}

	s.registry = room.NewRegistry(deps.backend, logger)
	s.store = storage.NewMessageStore(deps.backend, logger)
	s.broker = broker.New(cfg.BroadcastBuffer, logger)
	s.ingestor = ingest.New(s.registry, deps.members, s.store, s.broker, cfg.MaxContentLength, logger)
	s.sessions = session.NewManager()

	s.sendLimiter = ratelimit.NewMessageLimiter[chat.MemberID]("send", cfg.SendRateWindow, cfg.SendRateLimit)
	s.publicLimiter = ratelimit.NewMessageLimiter[string]("public", time.Minute, constants.PublicEndpointRate)
	connLimiter := ratelimit.NewConnectionLimiter[chat.MemberID](cfg.MaxConnectionsPerMember)

	authn := auth.NewConnectionAuthenticator(deps.tokens, s.sessions, logger)
	s.frames = router.New(authn, s.broker, s.ingestor, s.sendLimiter, connLimiter, logger)

	s.ws = websocket.NewHandler(s.frames, logger, cfg.MaxMessageSize, cfg.SendBuffer)
	s.fallback = websocket.NewFallbackHandler(s.frames, logger, cfg.MaxMessageSize, cfg.SendBuffer, cfg.FallbackAttachTimeout)

	s.ws.SetAllowedOrigins(cfg.AllowedOrigins)
	// SECURITY: When no origins are configured, ALL origins are accepted.
	// This is acceptable only in development.
	// No else needed: optional operation (development warning)
	if s.ws.IsOpenOrigin() {
		logger.Warn("No allowed origins configured, allowing all origins (development mode)")
	}
	return s
}

func (s *service) start() {
	s.broker.Start()
	s.sendLimiter.StartCleanup(s.logger)
	s.publicLimiter.StartCleanup(s.logger)
}

// routes registers middleware and every endpoint under the path prefix
func (s *service) routes(r *gin.Engine) {
	// No else needed: optional operation (CORS configuration with fallback logging)
	if len(s.cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.CORSAllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
		s.logger.Info("CORS middleware configured", "allowed_origins", s.cfg.CORSAllowedOrigins)
	} else {
		s.logger.Warn("No CORS origins configured, CORS middleware not enabled")
	}

	r.Use(securityHeadersMiddleware())
	r.Use(metricsMiddleware())

	s.logger.Info("Using HTTP path prefix", "prefix", s.cfg.PathPrefix)

	group := r.Group(strings.TrimSuffix(s.cfg.PathPrefix, "/"))
	{
		group.GET("/ws", func(c *gin.Context) {
			s.ws.HandleWebSocket(c.Writer, c.Request)
		})
		group.POST("/ws/fallback", s.fallback.Open)
		group.GET("/ws/fallback/:sessionId/stream", s.fallback.Stream)
		group.POST("/ws/fallback/:sessionId/send", s.fallback.Send)

		api := group.Group("/chat")
		api.Use(bearerAuthMiddleware(s.tokens, s.logger))
		{
			api.GET("/messages", s.handleGetMessages)
			api.POST("/messages", sendRateLimitMiddleware(s.sendLimiter), s.handleSendMessage)
			api.POST("/rooms", s.handleCreateRoom)
			api.GET("/rooms", s.handleGetRoom)
			api.POST("/rooms/:groupId/members", s.handleJoinRoom)
			api.DELETE("/rooms/:groupId/members", s.handleLeaveRoom)
		}

		public := publicRateLimitMiddleware(s.publicLimiter)
		group.GET("/healthz", public, handleHealthCheck)
		group.GET("/readyz", public, s.handleReadyCheck)
		group.GET("/metrics/prometheus", public, gin.WrapH(promhttp.Handler()))
	}
}

// shutdown closes every connection, stops background work and closes the store
func (s *service) shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown of meetupchat service")

	var errs []error
	// No else needed: optional operation (error collection)
	if err := s.ws.ShutdownWithContext(ctx); err != nil {
		s.logger.Warn("WebSocket handler shutdown error", "error", err)
		errs = append(errs, err)
	}
	s.fallback.Shutdown()

	// Queued broadcast events are delivered before the dispatcher exits
	s.broker.Stop()
	s.sendLimiter.StopCleanup()
	s.publicLimiter.StopCleanup()

	// No else needed: optional operation (error collection)
	if err := s.backend.Close(); err != nil {
		util.LogError(s.logger, "meetupchat", "close store", err)
		errs = append(errs, err)
	}

	s.logger.Info("Meetupchat service shutdown complete")
	return errors.Join(errs...)
}

// Shutdown gracefully shuts down the chat service.
// It closes all persistent connections, drains queued broadcasts and closes the store.
// This function should be called when the application receives a SIGTERM or SIGINT signal.
// It respects the context deadline and will force shutdown if the deadline is exceeded.
func Shutdown(ctx context.Context) error {
	shutdownMu.Lock()
	svc := current
	current = nil
	shutdownMu.Unlock()

	// No else needed: early return pattern (nothing registered)
	if svc == nil {
		return nil
	}
	return svc.shutdown(ctx)
}
