package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Store)
	assert.Equal(t, 54*time.Second, cfg.Realtime.PingInterval)
	assert.Equal(t, 60*time.Second, cfg.Realtime.PongWait)
	assert.Equal(t, 64, cfg.Realtime.SendBuffer)
	assert.Empty(t, cfg.Realtime.AllowedOrigins)
	assert.False(t, cfg.Push.Enabled)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("STORE", "Memory")
	t.Setenv("WS_PING_INTERVAL", "5s")
	t.Setenv("WS_PONG_WAIT", "7s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "not-a-number")
	t.Setenv("PUSH_ENABLED", "true")
	t.Setenv("JWT_ISSUER", "issuer")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Store)
	assert.Equal(t, 5*time.Second, cfg.Realtime.PingInterval)
	assert.Equal(t, 7*time.Second, cfg.Realtime.PongWait)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Realtime.AllowedOrigins)
	assert.Equal(t, 2.5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.True(t, cfg.Push.Enabled)
	assert.Equal(t, "issuer", cfg.JWT.Issuer)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("unknown store", func(t *testing.T) {
		t.Setenv("STORE", "redis")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("ping not shorter than pong wait", func(t *testing.T) {
		t.Setenv("WS_PING_INTERVAL", "60s")
		t.Setenv("WS_PONG_WAIT", "60s")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("default secret in production", func(t *testing.T) {
		t.Setenv("ENV", "production")
		_, err := Load()
		assert.Error(t, err)
	})
}
