package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Auth.SupabaseURL = "https://project.supabase.co"
	cfg.Auth.SupabaseServiceRoleKey = "service-role-key"
	return cfg
}

func TestConfig_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.Equal(t, 4000, cfg.HTTP.Port)
	assert.Equal(t, "/ws", cfg.WebSocket.Path)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, 100, cfg.WebSocket.SendBuffer)
	assert.Equal(t, int64(1<<20), cfg.WebSocket.MaxMessageBytes)
	assert.Equal(t, 2000, cfg.Session.MaxChatLength)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, RateLimitBackendMemory, cfg.RateLimit.Backend)
	assert.False(t, cfg.RabbitMQ.Enabled)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestConfig_DefaultsNeedCredentials(t *testing.T) {
	err := DefaultConfig().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "supabase")

	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"negative port", func(c *Config) { c.HTTP.Port = -1 }, "port"},
		{"port too large", func(c *Config) { c.HTTP.Port = 70000 }, "port"},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }, "host"},
		{"relative ws path", func(c *Config) { c.WebSocket.Path = "ws" }, "path"},
		{"pong wait not above ping", func(c *Config) { c.WebSocket.PongWait = c.WebSocket.PingInterval }, "pong wait"},
		{"zero send buffer", func(c *Config) { c.WebSocket.SendBuffer = 0 }, "send buffer"},
		{"unknown auth mode", func(c *Config) { c.Auth.Mode = "ldap" }, "auth mode"},
		{"jwt without secret", func(c *Config) { c.Auth.Mode = AuthModeJWT }, "jwt_secret"},
		{"zero chat length", func(c *Config) { c.Session.MaxChatLength = 0 }, "chat length"},
		{"empty sqlite path", func(c *Config) { c.Database.Path = "" }, "database path"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres }, "dsn"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "driver"},
		{"redis limiter without redis", func(c *Config) { c.RateLimit.Backend = RateLimitBackendRedis }, "redis.enabled"},
		{"rabbit without exchange", func(c *Config) {
			c.RabbitMQ.Enabled = true
			c.RabbitMQ.Exchange = ""
		}, "exchange"},
		{"missing section", func(c *Config) { c.Redis = nil }, "section"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateAlternateBackends(t *testing.T) {
	cfg := validConfig()
	cfg.Auth.Mode = AuthModeJWT
	cfg.Auth.JWTSecret = "secret"
	cfg.Database.Driver = DriverPostgres
	cfg.Database.DSN = "postgres://localhost/mentorsync"
	cfg.Redis.Enabled = true
	cfg.RateLimit.Backend = RateLimitBackendRedis
	cfg.RabbitMQ.Enabled = true

	assert.NoError(t, cfg.Validate())
}

func TestConfig_LoadFromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MENTORSYNC_AUTH_MODE", "jwt")
	t.Setenv("MENTORSYNC_AUTH_JWT_SECRET", "from-env")
	t.Setenv("MENTORSYNC_HTTP_PORT", "9090")
	t.Setenv("MENTORSYNC_WEBSOCKET_PING_INTERVAL", "15s")
	t.Setenv("MENTORSYNC_RATELIMIT_LIMIT", "5")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, AuthModeJWT, cfg.Auth.Mode)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 15*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, 5, cfg.RateLimit.Limit)
	// untouched keys keep defaults
	assert.Equal(t, 60*time.Second, cfg.WebSocket.PongWait)
	assert.Equal(t, "./data/mentorsync.db", cfg.Database.Path)
}

func TestConfig_LoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mentorsync.yaml")
	content := `
http:
  port: 8081
  allowed_origins:
    - https://app.example.com
auth:
  mode: jwt
  jwt_secret: file-secret
session:
  max_chat_length: 500
database:
  path: /tmp/file.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8081, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, 500, cfg.Session.MaxChatLength)
	assert.Equal(t, "/tmp/file.db", cfg.Database.Path)
}

func TestConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mentorsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  mode: jwt\n  jwt_secret: s\nhttp:\n  port: 8081\n"), 0o644))
	t.Setenv("MENTORSYNC_HTTP_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.HTTP.Port)
}

func TestConfig_LoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestConfig_LoadRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MENTORSYNC_AUTH_MODE", "jwt")
	t.Setenv("MENTORSYNC_AUTH_JWT_SECRET", "s")
	t.Setenv("MENTORSYNC_HTTP_PORT", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestConfig_Addr(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 4100
	assert.Equal(t, "127.0.0.1:4100", cfg.Addr())
}
