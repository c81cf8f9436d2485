package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/real-rm/goconfig"
	"github.com/real-rm/golog"
	"github.com/real-rm/gomongo"

	"github.com/real-rm/meetupchat"
	"github.com/real-rm/meetupchat/internal/config"
	"github.com/real-rm/meetupchat/internal/constants"
	"github.com/real-rm/meetupchat/internal/util"
)

// loadDotEnv loads variables from the given .env files. Missing files are not an
// error; variables already set in the environment win.
func loadDotEnv(files ...string) error {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		// No else needed: optional operation (skip missing files)
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	// No else needed: early return pattern (nothing to load)
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// loadConfiguration loads the configuration and returns the config accessor
func loadConfiguration() (*goconfig.ConfigAccessor, error) {
	if err := goconfig.LoadConfig(); err != nil {
		return nil, err
	}

	cfg, err := goconfig.Default()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// initializeLogger initializes the logger with the given configuration
func initializeLogger(cfg *goconfig.ConfigAccessor) (*golog.Logger, error) {
	logDir, _ := cfg.ConfigStringWithDefault("log.dir", constants.DefaultLogDir)
	logLevel, _ := cfg.ConfigStringWithDefault("log.level", constants.DefaultLogLevel)
	standardOutput, _ := cfg.ConfigBoolWithDefault("log.standardOutput", true)

	logger, err := golog.InitLog(golog.LogConfig{
		Dir:            logDir,
		Level:          logLevel,
		StandardOutput: standardOutput,
		InfoFile:       "info.log",
		WarnFile:       "warn.log",
		ErrorFile:      "error.log",
	})
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// getServerPort retrieves the server port from configuration
func getServerPort(cfg *goconfig.ConfigAccessor) int {
	port, _ := cfg.ConfigIntWithDefault("server.port", constants.DefaultPort)
	return port
}

// setupSignalHandler sets up signal handling for graceful shutdown
func setupSignalHandler() chan os.Signal {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan
}

// NewHTTPServer creates an HTTP server with production-safe timeout defaults.
// Use this when running meetupchat as a standalone server (not via gomain).
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  constants.HTTPReadTimeout,
		WriteTimeout: constants.HTTPWriteTimeout,
		IdleTimeout:  constants.HTTPIdleTimeout,
	}
}

// serve runs srv on listener until a signal arrives or the server fails, then
// shuts down the HTTP server followed by the chat service
func serve(srv *http.Server, listener net.Listener, sigChan <-chan os.Signal, logger *golog.Logger, shutdown func(context.Context) error) error {
	serveErr := make(chan error, 1)
	util.SafeGo(logger, "httpServer", func() {
		serveErr <- srv.Serve(listener)
	})

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Shutting down gracefully", "signal", sig.String())
	case err := <-serveErr:
		// No else needed: optional operation (unexpected server exit)
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("http server failed: %w", err)
		}
	}

	ctx, cancel := util.NewTimeoutContext(constants.ShutdownTimeout)
	defer cancel()

	// No else needed: optional operation (error logging)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("HTTP server shutdown error", "error", err)
	}
	// No else needed: optional operation (error collection)
	if err := shutdown(ctx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// runWithSignalChannel is a testable version of run that accepts a signal channel
func runWithSignalChannel(sigChan chan os.Signal) error {
	// No else needed: optional operation (local development convenience)
	if err := loadDotEnv(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}

	logger, err := initializeLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	mongo, err := gomongo.InitMongoDB(logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	// ClientIP only trusts forwarding headers from private networks
	// No else needed: early return pattern (guard clause)
	if err := engine.SetTrustedProxies(config.SplitList(constants.DefaultTrustedProxies)); err != nil {
		return fmt.Errorf("failed to set trusted proxies: %w", err)
	}
	// No else needed: early return pattern (guard clause)
	if err := meetupchat.Register(engine, cfg, logger, mongo); err != nil {
		return err
	}

	port := getServerPort(cfg)
	addr := fmt.Sprintf(":%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = meetupchat.Shutdown(context.Background())
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	logger.Info("Server starting", "port", port)

	return serve(NewHTTPServer(addr, engine), listener, sigChan, logger, meetupchat.Shutdown)
}

func main() {
	if err := runMain(); err != nil {
		log.Fatalf("Failed to run server: %v", err)
	}
}

// runMain is the testable main function
func runMain() error {
	sigChan := setupSignalHandler()
	return runWithSignalChannel(sigChan)
}
