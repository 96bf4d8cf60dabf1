package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8080", cfg.Port)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, StoreMongo, cfg.StoreDriver)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "hive", cfg.Mongo.Database)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 5*time.Second, cfg.FanoutTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://App.Example.com/,not-a-url,http://localhost:3000")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_BURST", "10")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "500ms")
	t.Setenv("STORE_DRIVER", "Memory")
	t.Setenv("MONGO_DATABASE", "chat")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("TOKEN_TTL", "2h")
	t.Setenv("FANOUT_TIMEOUT", "1s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Port)
	assert.Equal(t, []string{"https://app.example.com", "http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, []string{"not-a-url"}, cfg.IgnoredOrigins())
	assert.Equal(t, int64(1024), cfg.MaxMessageSize)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	assert.Equal(t, 500*time.Millisecond, cfg.RateLimit.RefillInterval)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, "chat", cfg.Mongo.Database)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.Equal(t, time.Second, cfg.FanoutTimeout)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("TOKEN_TTL", "forever")

	_, err := Load()
	assert.Error(t, err)
}

func TestSanitizeFallsBack(t *testing.T) {
	cfg := Sanitize(Config{
		Port:           "127.0.0.1:7000",
		MaxMessageSize: -1,
		RateLimit:      RateLimitConfig{Burst: -3},
		StoreDriver:    "postgres",
	})

	assert.Equal(t, "127.0.0.1:7000", cfg.Port)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, StoreMongo, cfg.StoreDriver)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestOriginAllowed(t *testing.T) {
	cfg := Sanitize(Config{AllowedOrigins: []string{"http://example.com"}})

	tests := []struct {
		origin string
		want   bool
	}{
		{"http://example.com", true},
		{"HTTP://EXAMPLE.COM", true},
		{"http://example.com/some/path", true},
		{"https://example.com", false},
		{"http://example.com:8080", false},
		{"http://example.com:80", true},
		{"http://evil.com", false},
		{"", false},
		{"not-a-url", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, cfg.OriginAllowed(tt.origin), tt.origin)
	}

	all := Sanitize(Config{AllowedOrigins: []string{"*"}})
	assert.True(t, all.OriginAllowed("http://anything.test"))
	assert.False(t, all.OriginAllowed(""))
	assert.False(t, all.OriginAllowed("garbage"))
}

func TestParseOriginPolicy(t *testing.T) {
	p := ParseOriginPolicy([]string{
		" https://App.Example.com:443/login ",
		"https://app.example.com",
		"http://[::1]:3000",
		"ws://localhost:80",
		"",
		"localhost:3000",
	})

	assert.Equal(t, []string{"https://app.example.com", "http://[::1]:3000", "ws://localhost"}, p.list)
	assert.Equal(t, []string{"localhost:3000"}, p.ignored)
	assert.True(t, p.Allows("https://app.example.com"))
	assert.True(t, p.Allows("http://[::1]:3000"))
	assert.False(t, p.Allows("http://[::1]"))
	assert.False(t, p.Allows("https://app.example.com:8443"))
}

func TestRequireWSAuthFromEnv(t *testing.T) {
	t.Setenv("REQUIRE_WS_AUTH", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.RequireWSAuth)
	assert.False(t, Default().RequireWSAuth)
}
