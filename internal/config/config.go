// Package config loads the engine configuration from a YAML file with
// PROGRESSION_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration tree.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Auth      AuthConfig      `yaml:"auth"`
	Levels    LevelsConfig    `yaml:"levels"`
	Notify    NotifyConfig    `yaml:"notify"`
	Audit     AuditConfig     `yaml:"audit"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
}

// DatabaseConfig controls the postgres connection. An empty driver keeps the
// engine on the in-memory store.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"`
}

// LoggingConfig mirrors pkg/logger's configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePrefix string `yaml:"file_prefix"`
}

// AuthConfig holds static service tokens and the JWT user list.
type AuthConfig struct {
	JWTSecret string       `yaml:"jwt_secret"`
	Tokens    []string     `yaml:"tokens"`
	Users     []UserConfig `yaml:"users"`
}

// UserConfig is one configured login. Password may be plain text or a bcrypt
// hash.
type UserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// LevelsConfig points at the level settings file and its reload schedule.
type LevelsConfig struct {
	SettingsPath   string `yaml:"settings_path"`
	ReloadSchedule string `yaml:"reload_schedule"`
}

// NotifyConfig enables the optional level-up notification channels.
type NotifyConfig struct {
	Redis    RedisConfig    `yaml:"redis"`
	Realtime RealtimeConfig `yaml:"realtime"`
}

// RedisConfig configures the redis pub/sub notifier. An empty addr disables
// it.
type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// RealtimeConfig configures the websocket gateway notifier. An empty URL
// disables it.
type RealtimeConfig struct {
	GatewayURL string `yaml:"gateway_url"`
	Topic      string `yaml:"topic"`
}

// AuditConfig controls the request audit trail.
type AuditConfig struct {
	MaxEntries int    `yaml:"max_entries"`
	FilePath   string `yaml:"file_path"`
	Postgres   bool   `yaml:"postgres"`
}

// RateLimitConfig controls the per-caller token bucket.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// Load reads config.yaml (or the file named by PROGRESSION_CONFIG), applies
// environment overrides, and validates the result. A missing file is not an
// error; defaults plus environment are enough to run with the memory store.
func Load() (*Config, error) {
	path := strings.TrimSpace(os.Getenv("PROGRESSION_CONFIG"))
	if path == "" {
		path = "config.yaml"
	}
	return LoadFromPath(path)
}

// LoadFromPath reads a specific configuration file.
func LoadFromPath(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults plus environment only.
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  15,
			WriteTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Audit: AuditConfig{
			MaxEntries: 200,
		},
		RateLimit: RateLimitConfig{
			RPS:   10,
			Burst: 20,
		},
	}
}

func (c *Config) applyEnv() {
	c.Server.Host = envDefault("PROGRESSION_SERVER_HOST", c.Server.Host)
	c.Server.Port = envIntDefault("PROGRESSION_SERVER_PORT", c.Server.Port)

	c.Database.Driver = envDefault("PROGRESSION_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = envDefault("PROGRESSION_DB_DSN", c.Database.DSN)
	if c.Database.DSN == "" {
		// The deployment environment's conventional variable.
		c.Database.DSN = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	}
	if c.Database.DSN != "" && c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}

	c.Logging.Level = envDefault("PROGRESSION_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envDefault("PROGRESSION_LOG_FORMAT", c.Logging.Format)

	c.Auth.JWTSecret = envDefault("PROGRESSION_JWT_SECRET", c.Auth.JWTSecret)
	if raw := strings.TrimSpace(os.Getenv("PROGRESSION_API_TOKENS")); raw != "" {
		c.Auth.Tokens = splitTokens(raw)
	}

	c.Levels.SettingsPath = envDefault("PROGRESSION_LEVELS_PATH", c.Levels.SettingsPath)
	c.Levels.ReloadSchedule = envDefault("PROGRESSION_RELOAD_SCHEDULE", c.Levels.ReloadSchedule)

	c.Notify.Redis.Addr = envDefault("PROGRESSION_REDIS_ADDR", c.Notify.Redis.Addr)
	c.Notify.Redis.Password = envDefault("PROGRESSION_REDIS_PASSWORD", c.Notify.Redis.Password)
	c.Notify.Realtime.GatewayURL = envDefault("PROGRESSION_REALTIME_URL", c.Notify.Realtime.GatewayURL)
	c.Notify.Realtime.Topic = envDefault("PROGRESSION_REALTIME_TOPIC", c.Notify.Realtime.Topic)

	c.Audit.FilePath = envDefault("PROGRESSION_AUDIT_FILE", c.Audit.FilePath)
	c.RateLimit.Enabled = envBoolDefault("PROGRESSION_RATE_LIMIT", c.RateLimit.Enabled)
}

// Validate rejects configurations the runtime cannot act on.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Driver != "" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when database.driver is set")
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate_limit.rps must be positive when rate limiting is enabled, got %v", c.RateLimit.RPS)
	}
	if c.Audit.MaxEntries < 0 {
		return fmt.Errorf("audit.max_entries must not be negative, got %d", c.Audit.MaxEntries)
	}
	for i, user := range c.Auth.Users {
		if strings.TrimSpace(user.Username) == "" {
			return fmt.Errorf("auth.users[%d]: username is required", i)
		}
		if user.Password == "" {
			return fmt.Errorf("auth.users[%d] (%s): password is required", i, user.Username)
		}
	}
	if len(c.Auth.Users) > 0 && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required when auth.users are configured")
	}
	return nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitTokens(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
