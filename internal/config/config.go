// Package config loads AgentChat runtime settings from defaults, an optional
// YAML file, and environment variables, and sanitizes the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Tyrowin/agentchat/internal/logging"
)

// Token store backends.
const (
	TokenStoreMemory = "memory"
	TokenStoreRedis  = "redis"
)

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	MaxMessageSize int64    `mapstructure:"max_message_size"`
	SendBuffer     int      `mapstructure:"send_buffer"`
}

// RateLimitConfig defines the parameters for per-connection frame rate limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// LivenessConfig controls the server-initiated ping sweep.
type LivenessConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// HistoryConfig bounds room and DM history reads.
type HistoryConfig struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// DatabaseConfig points at the SQLite file.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// AuthConfig configures password hashing and session tokens.
type AuthConfig struct {
	BcryptCost int           `mapstructure:"bcrypt_cost"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	TokenStore string        `mapstructure:"token_store"`
}

// RedisConfig is used when the token store backend is redis.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// Config holds every AgentChat setting.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Liveness  LivenessConfig  `mapstructure:"liveness"`
	History   HistoryConfig   `mapstructure:"history"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       logging.Config  `mapstructure:"log"`
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           ":3000",
			AllowedOrigins: []string{"http://localhost:3000"},
			MaxMessageSize: 64 << 10,
			SendBuffer:     256,
		},
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		Liveness: LivenessConfig{Interval: 30 * time.Second},
		History: HistoryConfig{
			DefaultLimit: 100,
			MaxLimit:     1000,
		},
		Database: DatabaseConfig{Path: "agentchat.db"},
		Auth: AuthConfig{
			BcryptCost: 10,
			TokenStore: TokenStoreMemory,
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
			Prefix:  "agentchat:token",
		},
		Log: logging.Config{
			Level:       "info",
			ServiceName: "agentchat",
		},
	}
}

// Load reads configuration from an optional YAML file and the environment.
// path may name a file or a directory containing config.yaml; an empty path
// searches the working directory and ./config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	bindEnv(v)

	v.SetConfigType("yaml")
	if info, err := os.Stat(path); path != "" && err == nil && !info.IsDir() {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		if path != "" {
			v.AddConfigPath(path)
		}
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg = Sanitize(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.max_message_size", d.Server.MaxMessageSize)
	v.SetDefault("server.send_buffer", d.Server.SendBuffer)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
	v.SetDefault("rate_limit.refill_interval", d.RateLimit.RefillInterval)
	v.SetDefault("liveness.interval", d.Liveness.Interval)
	v.SetDefault("history.default_limit", d.History.DefaultLimit)
	v.SetDefault("history.max_limit", d.History.MaxLimit)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("auth.bcrypt_cost", d.Auth.BcryptCost)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("auth.token_store", d.Auth.TokenStore)
	v.SetDefault("redis.address", d.Redis.Address)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("log.service_name", d.Log.ServiceName)
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "PORT", "SERVER_PORT")
	_ = v.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")
	_ = v.BindEnv("server.max_message_size", "MAX_MESSAGE_SIZE")
	_ = v.BindEnv("server.send_buffer", "SEND_BUFFER")
	_ = v.BindEnv("rate_limit.burst", "RATE_LIMIT_BURST")
	_ = v.BindEnv("rate_limit.refill_interval", "RATE_LIMIT_REFILL_INTERVAL")
	_ = v.BindEnv("liveness.interval", "HEARTBEAT_INTERVAL")
	_ = v.BindEnv("history.default_limit", "HISTORY_LIMIT")
	_ = v.BindEnv("history.max_limit", "HISTORY_MAX_LIMIT")
	_ = v.BindEnv("database.path", "DB_PATH")
	_ = v.BindEnv("auth.bcrypt_cost", "BCRYPT_ROUNDS")
	_ = v.BindEnv("auth.token_ttl", "TOKEN_TTL")
	_ = v.BindEnv("auth.token_store", "TOKEN_STORE")
	_ = v.BindEnv("redis.address", "REDIS_ADDRESS")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("redis.prefix", "REDIS_PREFIX")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.pretty", "LOG_PRETTY")
}

// Sanitize replaces out-of-range values with defaults and normalizes strings.
func Sanitize(cfg Config) Config {
	d := Default()

	cfg.Server.Port = normalizePort(cfg.Server.Port, d.Server.Port)
	cfg.Server.AllowedOrigins = splitOrigins(cfg.Server.AllowedOrigins)
	if cfg.Server.MaxMessageSize <= 0 {
		cfg.Server.MaxMessageSize = d.Server.MaxMessageSize
	}
	if cfg.Server.SendBuffer <= 0 {
		cfg.Server.SendBuffer = d.Server.SendBuffer
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = d.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = d.RateLimit.RefillInterval
	}
	if cfg.Liveness.Interval <= 0 {
		cfg.Liveness.Interval = d.Liveness.Interval
	}
	if cfg.History.DefaultLimit <= 0 {
		cfg.History.DefaultLimit = d.History.DefaultLimit
	}
	if cfg.History.MaxLimit < cfg.History.DefaultLimit {
		cfg.History.MaxLimit = max(d.History.MaxLimit, cfg.History.DefaultLimit)
	}
	if cfg.Auth.BcryptCost <= 0 {
		cfg.Auth.BcryptCost = d.Auth.BcryptCost
	}
	if cfg.Auth.TokenTTL < 0 {
		cfg.Auth.TokenTTL = 0
	}
	cfg.Auth.TokenStore = strings.ToLower(strings.TrimSpace(cfg.Auth.TokenStore))
	if cfg.Auth.TokenStore == "" {
		cfg.Auth.TokenStore = d.Auth.TokenStore
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}
	return cfg
}

// Validate reports settings that cannot be repaired by Sanitize.
func (c Config) Validate() error {
	switch c.Auth.TokenStore {
	case TokenStoreMemory, TokenStoreRedis:
	default:
		return fmt.Errorf("auth.token_store must be %q or %q, got %q", TokenStoreMemory, TokenStoreRedis, c.Auth.TokenStore)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path must not be empty")
	}
	if c.Auth.TokenStore == TokenStoreRedis && strings.TrimSpace(c.Redis.Address) == "" {
		return errors.New("redis.address is required when auth.token_store is redis")
	}
	return nil
}

func normalizePort(port, def string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return def
	}
	if !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}

// splitOrigins flattens comma-separated entries so that both YAML lists and a
// single ALLOWED_ORIGINS string are accepted.
func splitOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, entry := range origins {
		for _, part := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
