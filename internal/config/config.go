// Package config loads the service process configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MAGICLINK_SERVER_PORT.
const EnvPrefix = "MAGICLINK"

// Config holds all configuration for the service.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Redis          RedisConfig          `mapstructure:"redis"`
	RateLimiter    RateLimiterConfig    `mapstructure:"rate_limiter"`
	ChallengeLimit ChallengeLimitConfig `mapstructure:"challenge_limit"`
	Audit          AuditConfig          `mapstructure:"audit"`
	Metrics        MetricsConfig        `mapstructure:"metrics"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Settings       SettingsConfig       `mapstructure:"settings"`
	Auth           AuthConfig           `mapstructure:"auth"`
}

// ServerConfig holds HTTP server configuration. WriteTimeout must outlast
// the longest challenge timeout a tenant may configure.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
	PublicBaseURL   string        `mapstructure:"public_base_url"`
}

// RedisConfig holds the directory and limiter backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// RateLimiterConfig holds the process-wide HTTP token bucket.
type RateLimiterConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

// ChallengeLimitConfig holds the per-user challenge budget.
type ChallengeLimitConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxChallenges int           `mapstructure:"max_challenges"`
	Window        time.Duration `mapstructure:"window"`
}

// AuditConfig selects the audit sink. Sink is "log" or "stdout".
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Sink       string `mapstructure:"sink"`
	BufferSize int    `mapstructure:"buffer_size"`
	DropIfFull bool   `mapstructure:"drop_if_full"`
}

// MetricsConfig holds metric collection and exposure.
type MetricsConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	LatencyHistograms bool   `mapstructure:"latency_histograms"`
	Path              string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration. Format is "json" or "console".
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// SettingsConfig points at the per-tenant settings file.
type SettingsConfig struct {
	File  string `mapstructure:"file"`
	Watch bool   `mapstructure:"watch"`
}

// AuthConfig holds the shared secrets of the flow endpoint and the
// dashboard identity tokens.
type AuthConfig struct {
	FlowSecret  string        `mapstructure:"flow_secret"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer"`
	TokenTTL    time.Duration `mapstructure:"token_ttl"`
	AdminTenant string        `mapstructure:"admin_tenant"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("magiclink")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/magiclink/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "150s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.public_base_url", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "ml")

	v.SetDefault("rate_limiter.enabled", true)
	v.SetDefault("rate_limiter.requests_per_second", 200.0)
	v.SetDefault("rate_limiter.burst_size", 50)

	v.SetDefault("challenge_limit.enabled", false)
	v.SetDefault("challenge_limit.max_challenges", 5)
	v.SetDefault("challenge_limit.window", "5m")

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.sink", "log")
	v.SetDefault("audit.buffer_size", 1024)
	v.SetDefault("audit.drop_if_full", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.latency_histograms", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("settings.file", "tenants.yaml")
	v.SetDefault("settings.watch", true)

	v.SetDefault("auth.flow_secret", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "magiclink")
	v.SetDefault("auth.token_ttl", "8h")
	v.SetDefault("auth.admin_tenant", "master")
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.RateLimiter.Enabled {
		if c.RateLimiter.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate limiter requests per second must be positive")
		}
		if c.RateLimiter.BurstSize <= 0 {
			return fmt.Errorf("rate limiter burst size must be positive")
		}
	}
	if c.ChallengeLimit.Enabled {
		if c.ChallengeLimit.MaxChallenges <= 0 {
			return fmt.Errorf("challenge limit max challenges must be positive")
		}
		if c.ChallengeLimit.Window <= 0 {
			return fmt.Errorf("challenge limit window must be positive")
		}
	}
	if c.Audit.Enabled {
		switch c.Audit.Sink {
		case "log", "stdout":
		default:
			return fmt.Errorf("unknown audit sink: %q", c.Audit.Sink)
		}
		if c.Audit.BufferSize <= 0 {
			return fmt.Errorf("audit buffer size must be positive")
		}
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown logging format: %q", c.Logging.Format)
	}
	if strings.TrimSpace(c.Settings.File) == "" {
		return fmt.Errorf("settings file is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth jwt secret must be at least 32 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth token ttl must be positive")
	}
	return nil
}
