// Package config builds the typed service configuration from the goconfig file,
// environment overrides and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/real-rm/goconfig"
	"github.com/samber/lo"

	"github.com/real-rm/meetupchat/internal/constants"
	"github.com/real-rm/meetupchat/internal/util"
)

// Environment variables that take priority over the config file
const (
	EnvJWTSecret  = "JWT_SECRET"
	EnvPathPrefix = "MEETUPCHAT_PATH_PREFIX"
	EnvStore      = "MEETUPCHAT_STORE"
)

// Source reads raw configuration values
type Source interface {
	ConfigString(key string) (string, error)
	ConfigStringWithDefault(key string, defaultValue string) (string, error)
	ConfigIntWithDefault(key string, defaultValue int) (int, error)
}

type accessorSource struct {
	accessor *goconfig.ConfigAccessor
}

// FromAccessor reads configuration from a loaded goconfig accessor
func FromAccessor(accessor *goconfig.ConfigAccessor) Source {
	return accessorSource{accessor: accessor}
}

func (s accessorSource) ConfigString(key string) (string, error) {
	return s.accessor.ConfigString(key)
}

func (s accessorSource) ConfigStringWithDefault(key string, defaultValue string) (string, error) {
	return s.accessor.ConfigStringWithDefault(key, defaultValue)
}

func (s accessorSource) ConfigIntWithDefault(key string, defaultValue int) (int, error) {
	return s.accessor.ConfigIntWithDefault(key, defaultValue)
}

// Config holds all service configuration
type Config struct {
	Port       int
	PathPrefix string
	JWTSecret  string

	// Store selects the persistence backend: "mongo" or "badger"
	Store     string
	BadgerDir string
	Database  string

	MaxContentLength int
	MaxMessageSize   int64
	BroadcastBuffer  int
	SendBuffer       int

	AllowedOrigins     []string
	CORSAllowedOrigins []string

	SendRateLimit           int
	SendRateWindow          time.Duration
	MaxConnectionsPerMember int
	FallbackAttachTimeout   time.Duration
}

// Load reads the configuration. Priority: environment variable > config file > default.
func Load(src Source) (*Config, error) {
	var err error
	cfg := &Config{}

	cfg.JWTSecret = os.Getenv(EnvJWTSecret)
	if cfg.JWTSecret == "" {
		cfg.JWTSecret, err = src.ConfigString("meetupchat.jwt_secret")
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return nil, fmt.Errorf("failed to get JWT secret: %w", err)
		}
	}

	if cfg.PathPrefix, err = stringValue(src, EnvPathPrefix, "meetupchat.path_prefix", constants.DefaultPathPrefix); err != nil {
		return nil, err
	}
	if cfg.Store, err = stringValue(src, EnvStore, "meetupchat.store", constants.DefaultStore); err != nil {
		return nil, err
	}
	if cfg.BadgerDir, err = stringValue(src, "", "meetupchat.badger_dir", constants.DefaultBadgerDir); err != nil {
		return nil, err
	}
	if cfg.Database, err = stringValue(src, "", "meetupchat.database", constants.DefaultDatabase); err != nil {
		return nil, err
	}

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"server.port", constants.DefaultPort, &cfg.Port},
		{"meetupchat.max_content_length", constants.DefaultMaxContentLength, &cfg.MaxContentLength},
		{"meetupchat.broadcast_buffer", constants.DefaultBroadcastBuffer, &cfg.BroadcastBuffer},
		{"meetupchat.send_buffer", constants.DefaultSendBuffer, &cfg.SendBuffer},
		{"meetupchat.send_rate_limit", constants.DefaultSendRateLimit, &cfg.SendRateLimit},
		{"meetupchat.max_connections_per_member", constants.DefaultMaxConnectionsPerMember, &cfg.MaxConnectionsPerMember},
	}
	for _, item := range ints {
		*item.dest, err = src.ConfigIntWithDefault(item.key, item.def)
		// No else needed: early return pattern (guard clause)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s: %w", item.key, err)
		}
	}

	maxMessageSize, err := src.ConfigIntWithDefault("meetupchat.max_message_size", constants.DefaultMaxMessageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to get meetupchat.max_message_size: %w", err)
	}
	cfg.MaxMessageSize = int64(maxMessageSize)

	if cfg.SendRateWindow, err = durationValue(src, "meetupchat.send_rate_window", constants.DefaultSendRateWindow); err != nil {
		return nil, err
	}
	if cfg.FallbackAttachTimeout, err = durationValue(src, "meetupchat.fallback_attach_timeout", constants.FallbackAttachTimeout); err != nil {
		return nil, err
	}

	if cfg.AllowedOrigins, err = listValue(src, "meetupchat.allowed_origins"); err != nil {
		return nil, err
	}
	if cfg.CORSAllowedOrigins, err = listValue(src, "meetupchat.cors_allowed_origins"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, errors.New("server port must be between 1 and 65535"))
	}
	if err := ValidateJWTSecret(c.JWTSecret); err != nil {
		errs = append(errs, err)
	}
	if err := ValidatePathPrefix(c.PathPrefix); err != nil {
		errs = append(errs, err)
	}

	switch c.Store {
	case constants.StoreMongo:
		if c.Database == "" {
			errs = append(errs, errors.New("database name is required for the mongo store"))
		}
	case constants.StoreBadger:
		if c.BadgerDir == "" {
			errs = append(errs, errors.New("badger directory is required for the badger store"))
		}
	default:
		errs = append(errs, fmt.Errorf("store must be %q or %q (got %q)", constants.StoreMongo, constants.StoreBadger, c.Store))
	}

	positives := []struct {
		name  string
		value int
	}{
		{"max content length", c.MaxContentLength},
		{"broadcast buffer", c.BroadcastBuffer},
		{"send buffer", c.SendBuffer},
		{"max connections per member", c.MaxConnectionsPerMember},
	}
	for _, p := range positives {
		if err := util.ValidatePositive(p.value, p.name); err != nil {
			errs = append(errs, err)
		}
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, errors.New("max message size must be positive"))
	}
	if c.SendRateLimit <= 0 || c.SendRateWindow <= 0 {
		errs = append(errs, errors.New("send rate limit and window must be positive"))
	}
	if c.FallbackAttachTimeout <= 0 {
		errs = append(errs, errors.New("fallback attach timeout must be positive"))
	}

	return errors.Join(errs...)
}

// ValidateJWTSecret rejects empty, short, placeholder and weak secrets
func ValidateJWTSecret(secret string) error {
	// No else needed: early return pattern (guard clause)
	if secret == "" {
		return errors.New("JWT secret is required")
	}
	// No else needed: early return pattern (guard clause)
	if containsPlaceholder(secret) {
		return errors.New("JWT secret contains a placeholder value, set a real secret before deploying")
	}

	// Check minimum length (32 characters for strong security)
	// No else needed: early return pattern (guard clause)
	if err := util.ValidateMinLength(secret, constants.MinJWTSecretLength, "JWT secret"); err != nil {
		return fmt.Errorf("%w. Generate a strong secret with: openssl rand -base64 32", err)
	}

	// No else needed: early return pattern (guard clause)
	if weak, pattern := util.ContainsWeakPattern(secret, constants.WeakSecrets); weak {
		return fmt.Errorf(
			"JWT secret appears to be weak (contains '%s'). "+
				"Use a cryptographically random secret generated with: openssl rand -base64 32",
			pattern)
	}
	return nil
}

// ValidatePathPrefix requires a non-root prefix starting with '/' and no trailing slash
func ValidatePathPrefix(prefix string) error {
	switch {
	case prefix == "":
		return errors.New("path prefix cannot be empty")
	case !strings.HasPrefix(prefix, "/"):
		return fmt.Errorf("path prefix must start with '/' (got: %s)", prefix)
	case len(prefix) > 1 && strings.HasSuffix(prefix, "/"):
		return fmt.Errorf("path prefix must not end with '/' (got: %s)", prefix)
	}
	return nil
}

func containsPlaceholder(value string) bool {
	upper := strings.ToUpper(value)
	return strings.Contains(upper, "REPLACE_WITH") ||
		strings.Contains(upper, "PLACEHOLDER") ||
		strings.Contains(upper, "CHANGE-ME") ||
		strings.Contains(upper, "CHANGE_ME") ||
		strings.Contains(upper, "YOUR-")
}

func stringValue(src Source, env, key, def string) (string, error) {
	if env != "" {
		if value := os.Getenv(env); value != "" {
			return value, nil
		}
	}
	value, err := src.ConfigStringWithDefault(key, def)
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func durationValue(src Source, key string, def time.Duration) (time.Duration, error) {
	raw, err := src.ConfigStringWithDefault(key, def.String())
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	// Bare integers are seconds
	if seconds, convErr := strconv.Atoi(raw); convErr == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %w", key, err)
	}
	return d, nil
}

// listValue parses a comma-separated setting, dropping blanks
func listValue(src Source, key string) ([]string, error) {
	raw, err := src.ConfigStringWithDefault(key, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return SplitList(raw), nil
}

// SplitList splits a comma-separated list and trims each entry
func SplitList(raw string) []string {
	return lo.Compact(lo.Map(strings.Split(raw, ","), func(item string, _ int) string {
		return strings.TrimSpace(item)
	}))
}
