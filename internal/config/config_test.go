package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/real-rm/goconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/real-rm/meetupchat/internal/constants"
)

const strongSecret = "q3Vt9xZk2LmN8pRw4sYb7cFh1jGd6aEu"

// mapSource serves configuration from a flat key map
type mapSource map[string]string

func (m mapSource) ConfigString(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", errors.New("key not found: " + key)
	}
	return v, nil
}

func (m mapSource) ConfigStringWithDefault(key string, defaultValue string) (string, error) {
	if v, ok := m[key]; ok {
		return v, nil
	}
	return defaultValue, nil
}

func (m mapSource) ConfigIntWithDefault(key string, defaultValue int) (int, error) {
	v, ok := m[key]
	if !ok {
		return defaultValue, nil
	}
	var n int
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0, errors.New("not an integer: " + v)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvJWTSecret, "")
	t.Setenv(EnvPathPrefix, "")
	t.Setenv(EnvStore, "")
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(mapSource{"meetupchat.jwt_secret": strongSecret})
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultPort, cfg.Port)
	assert.Equal(t, constants.DefaultPathPrefix, cfg.PathPrefix)
	assert.Equal(t, constants.StoreMongo, cfg.Store)
	assert.Equal(t, constants.DefaultBadgerDir, cfg.BadgerDir)
	assert.Equal(t, constants.DefaultDatabase, cfg.Database)
	assert.Equal(t, constants.DefaultMaxContentLength, cfg.MaxContentLength)
	assert.Equal(t, int64(constants.DefaultMaxMessageSize), cfg.MaxMessageSize)
	assert.Equal(t, constants.DefaultBroadcastBuffer, cfg.BroadcastBuffer)
	assert.Equal(t, constants.DefaultSendRateLimit, cfg.SendRateLimit)
	assert.Equal(t, constants.DefaultSendRateWindow, cfg.SendRateWindow)
	assert.Equal(t, constants.DefaultMaxConnectionsPerMember, cfg.MaxConnectionsPerMember)
	assert.Equal(t, constants.FallbackAttachTimeout, cfg.FallbackAttachTimeout)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.Empty(t, cfg.CORSAllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileValues(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(mapSource{
		"server.port":                           "9090",
		"meetupchat.jwt_secret":                 strongSecret,
		"meetupchat.path_prefix":                "/festival/chat",
		"meetupchat.store":                      "badger",
		"meetupchat.badger_dir":                 "/var/lib/chat",
		"meetupchat.max_content_length":         "500",
		"meetupchat.send_rate_window":           "30s",
		"meetupchat.fallback_attach_timeout":    "10",
		"meetupchat.allowed_origins":            "https://a.example, https://b.example,,",
		"meetupchat.max_connections_per_member": "3",
	})
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/festival/chat", cfg.PathPrefix)
	assert.Equal(t, constants.StoreBadger, cfg.Store)
	assert.Equal(t, "/var/lib/chat", cfg.BadgerDir)
	assert.Equal(t, 500, cfg.MaxContentLength)
	assert.Equal(t, 30*time.Second, cfg.SendRateWindow)
	assert.Equal(t, 10*time.Second, cfg.FallbackAttachTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 3, cfg.MaxConnectionsPerMember)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvironmentWins(t *testing.T) {
	clearEnv(t)
	envSecret := strings.Repeat("Zq7", 12)
	t.Setenv(EnvJWTSecret, envSecret)
	t.Setenv(EnvPathPrefix, "/env")
	t.Setenv(EnvStore, "badger")

	cfg, err := Load(mapSource{
		"meetupchat.jwt_secret":  strongSecret,
		"meetupchat.path_prefix": "/file",
		"meetupchat.store":       "mongo",
	})
	require.NoError(t, err)
	assert.Equal(t, envSecret, cfg.JWTSecret)
	assert.Equal(t, "/env", cfg.PathPrefix)
	assert.Equal(t, "badger", cfg.Store)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load(mapSource{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT secret")

	_, err = Load(mapSource{"meetupchat.jwt_secret": strongSecret, "meetupchat.send_rate_window": "soon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "send_rate_window")

	_, err = Load(mapSource{"meetupchat.jwt_secret": strongSecret, "server.port": "eighty"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := &Config{Port: 0, PathPrefix: "chat/", Store: "redis", JWTSecret: "short"}
	err := cfg.Validate()
	require.Error(t, err)

	msg := err.Error()
	for _, want := range []string{"port", "JWT secret", "path prefix", "store must be", "max content length", "send rate limit"} {
		assert.Contains(t, msg, want)
	}
}

func TestValidateJWTSecret(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		wantErr string
	}{
		{"empty", "", "required"},
		{"short", "abc", "at least 32"},
		{"placeholder", "REPLACE_WITH_A_REAL_SECRET_VALUE_0123456789", "placeholder"},
		{"weak", "mysupersecretkeythatislongenough1234", "weak"},
		{"strong", strongSecret, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJWTSecret(tt.secret)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidatePathPrefix(t *testing.T) {
	assert.NoError(t, ValidatePathPrefix("/meetupchat"))
	assert.NoError(t, ValidatePathPrefix("/"))
	assert.Error(t, ValidatePathPrefix(""))
	assert.Error(t, ValidatePathPrefix("meetupchat"))
	assert.Error(t, ValidatePathPrefix("/meetupchat/"))
}

func TestSplitList(t *testing.T) {
	assert.Empty(t, SplitList(""))
	assert.Empty(t, SplitList(" , ,"))
	assert.Equal(t, []string{"a", "b"}, SplitList(" a ,b"))
}

func TestLoad_FromGoconfigFile(t *testing.T) {
	clearEnv(t)
	content := `
[server]
port = 8181

[meetupchat]
jwt_secret = "` + strongSecret + `"
store = "badger"
send_rate_limit = 12
cors_allowed_origins = "https://app.example"
`
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("RMBASE_FILE_CFG", path)

	goconfig.ResetConfig()
	t.Cleanup(goconfig.ResetConfig)
	require.NoError(t, goconfig.LoadConfig())
	accessor, err := goconfig.Default()
	require.NoError(t, err)

	cfg, err := Load(FromAccessor(accessor))
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Port)
	assert.Equal(t, strongSecret, cfg.JWTSecret)
	assert.Equal(t, constants.StoreBadger, cfg.Store)
	assert.Equal(t, 12, cfg.SendRateLimit)
	assert.Equal(t, []string{"https://app.example"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, constants.DefaultPathPrefix, cfg.PathPrefix)
}
