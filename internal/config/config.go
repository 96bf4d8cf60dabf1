// Package config provides the runtime defaults, environment loading and
// validation for the hivechat service.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

const (
	defaultPort           = ":8080"
	defaultMaxMessageSize = 4096
	defaultBurst          = 5
	defaultRefill         = time.Second
	defaultTokenTTL       = 24 * time.Hour
	defaultShutdown       = 15 * time.Second
	defaultFanout         = 5 * time.Second
	defaultMongoURI       = "mongodb://localhost:27017"
	defaultMongoDatabase  = "hive"
	defaultMongoPoolSize  = 20
)

// RateLimitConfig defines the parameters for per-connection inbound event
// rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"RATE_LIMIT_BURST"`
	RefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL"`
}

// MongoConfig selects the document store.
type MongoConfig struct {
	URI         string `env:"MONGO_URI"`
	Database    string `env:"MONGO_DATABASE"`
	MaxPoolSize int    `env:"MONGO_MAX_POOL_SIZE"`
}

// Config holds every process setting.
type Config struct {
	Port           string   `env:"SERVER_PORT"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxMessageSize int64    `env:"MAX_MESSAGE_SIZE"`
	RateLimit      RateLimitConfig

	// RequireWSAuth refuses websocket upgrades that carry no token. Without
	// it an anonymous socket may set up as any user id.
	RequireWSAuth bool `env:"REQUIRE_WS_AUTH"`

	StoreDriver string `env:"STORE_DRIVER"`
	Mongo       MongoConfig

	JWTSecret       string        `env:"JWT_SECRET"`
	TokenTTL        time.Duration `env:"TOKEN_TTL"`
	LogLevel        string        `env:"LOG_LEVEL"`
	LogFormat       string        `env:"LOG_FORMAT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
	FanoutTimeout   time.Duration `env:"FANOUT_TIMEOUT"`

	origins OriginPolicy
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Sanitize(Config{
		AllowedOrigins: []string{"http://localhost:8080"},
		LogLevel:       "info",
	})
}

// Load reads the environment on top of the defaults.
func Load() (Config, error) {
	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	return Sanitize(cfg), nil
}

// Sanitize fills zero or invalid fields with defaults and normalizes the
// origin allow-list.
func Sanitize(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefill
	}
	switch strings.ToLower(strings.TrimSpace(cfg.StoreDriver)) {
	case StoreMemory:
		cfg.StoreDriver = StoreMemory
	default:
		cfg.StoreDriver = StoreMongo
	}
	if cfg.Mongo.URI == "" {
		cfg.Mongo.URI = defaultMongoURI
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = defaultMongoDatabase
	}
	if cfg.Mongo.MaxPoolSize <= 0 {
		cfg.Mongo.MaxPoolSize = defaultMongoPoolSize
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdown
	}
	if cfg.FanoutTimeout <= 0 {
		cfg.FanoutTimeout = defaultFanout
	}

	cfg.origins = ParseOriginPolicy(cfg.AllowedOrigins)
	cfg.AllowedOrigins = cfg.origins.list
	return cfg
}

// IgnoredOrigins lists configured origins that could not be parsed.
func (c Config) IgnoredOrigins() []string {
	return c.origins.ignored
}

// OriginAllowed reports whether a browser Origin header passes the
// allow-list. An empty header is rejected.
func (c Config) OriginAllowed(origin string) bool {
	return c.origins.Allows(origin)
}
