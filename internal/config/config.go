package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the proof-of-play service.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
	Metrics   MetricsConfig
	Geo       GeoConfig
	Import    ImportConfig
}

type ServerConfig struct {
	Addr            string
	Env             string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxConns     int
	MinConns     int
	ConnLifetime time.Duration
	ConnIdleTime time.Duration
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

type AuthConfig struct {
	Enabled   bool
	SkipPaths []string
}

type RateLimitConfig struct {
	Enabled     bool
	ImportRPS   float64
	ImportBurst int
	ReportRPS   float64
	ReportBurst int
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// GeoConfig configures GeoIP lookup for import batch auditing.
type GeoConfig struct {
	Enabled      bool
	DatabasePath string
}

// ImportConfig holds ingestion settings.
type ImportConfig struct {
	// Provider is the tag recorded on kiosks created by this pipeline.
	Provider string
	// MaxBodyBytes caps the accepted report payload size.
	MaxBodyBytes int64
	// DefaultDurationSec is substituted on the read side when a play has no
	// recorded duration.
	DefaultDurationSec int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("POP_HTTP_ADDR", ":8080"),
			Env:             getEnv("POP_ENV", "development"),
			ShutdownTimeout: getDurationEnv("POP_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POP_DB_HOST", "localhost"),
			Port:     getIntEnv("POP_DB_PORT", 5432),
			User:     getEnv("POP_DB_USER", "popserver"),
			Password: getEnv("POP_DB_PASSWORD", "popserver_secret"),
			DBName:   getEnv("POP_DB_NAME", "popserver"),
			SSLMode:  getEnv("POP_DB_SSLMODE", "disable"),
			MaxConns:     getIntEnv("POP_DB_MAX_CONNS", 25),
			MinConns:     getIntEnv("POP_DB_MIN_CONNS", 5),
			ConnLifetime: getDurationEnv("POP_DB_CONN_LIFETIME", time.Hour),
			ConnIdleTime: getDurationEnv("POP_DB_CONN_IDLE_TIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			Addr:         getEnv("POP_REDIS_ADDR", "localhost:6379"),
			Password:     getEnv("POP_REDIS_PASSWORD", ""),
			DB:           getIntEnv("POP_REDIS_DB", 0),
			PoolSize:     getIntEnv("POP_REDIS_POOL_SIZE", 50),
			MinIdleConns: getIntEnv("POP_REDIS_MIN_IDLE_CONNS", 2),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("POP_AUTH_ENABLED", true),
			SkipPaths: getSliceEnv("POP_AUTH_SKIP_PATHS", []string{"/health", "/metrics"}),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getBoolEnv("POP_RATE_LIMIT_ENABLED", true),
			ImportRPS:   getFloatEnv("POP_RATE_LIMIT_IMPORT_RPS", 10),
			ImportBurst: getIntEnv("POP_RATE_LIMIT_IMPORT_BURST", 5),
			ReportRPS:   getFloatEnv("POP_RATE_LIMIT_REPORT_RPS", 100),
			ReportBurst: getIntEnv("POP_RATE_LIMIT_REPORT_BURST", 20),
		},
		Log: LogConfig{
			Level:  getEnv("POP_LOG_LEVEL", "info"),
			Format: getEnv("POP_LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("POP_METRICS_ENABLED", true),
			Path:    getEnv("POP_METRICS_PATH", "/metrics"),
		},
		Geo: GeoConfig{
			Enabled:      getBoolEnv("POP_GEO_ENABLED", false),
			DatabasePath: getEnv("POP_GEO_DB_PATH", "/app/data/GeoLite2-Country.mmdb"),
		},
		Import: ImportConfig{
			Provider:           getEnv("POP_IMPORT_PROVIDER", "optisigns"),
			MaxBodyBytes:       getInt64Env("POP_IMPORT_MAX_BODY_BYTES", 32<<20),
			DefaultDurationSec: getIntEnv("POP_IMPORT_DEFAULT_DURATION_SEC", 15),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Import.Provider == "" {
		return fmt.Errorf("POP_IMPORT_PROVIDER must not be empty")
	}
	if c.Import.MaxBodyBytes <= 0 {
		return fmt.Errorf("POP_IMPORT_MAX_BODY_BYTES must be positive")
	}
	if c.Import.DefaultDurationSec <= 0 {
		return fmt.Errorf("POP_IMPORT_DEFAULT_DURATION_SEC must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getInt64Env(key string, def int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
