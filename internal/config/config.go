// Package config loads service configuration from the environment via Viper.
// A .env file in the working directory is loaded first; real environment
// variables take precedence over it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // REPORT_TIMEZONE must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// Config groups the application configuration.
type Config struct {
	App     AppConfig
	HTTP    HTTPConfig
	Storage StorageConfig
	DB      DBConfig
	Redis   RedisConfig
	Guard   GuardConfig
	Report  ReportConfig
	Dev     DevConfig
}

// AppConfig is general application configuration.
type AppConfig struct {
	Env      string // development, staging, production
	Name     string
	LogLevel string
}

// IsDevelopment reports whether the service runs in development mode.
func (c AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

// Addr returns host:port.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig selects the backend.
type StorageConfig struct {
	Driver string
}

// DBConfig configures PostgreSQL.
type DBConfig struct {
	URL              string
	MaxConns         int
	MinConns         int
	StatementTimeout time.Duration
	MigrateOnStart   bool
}

// RedisConfig enables the cross-process lock and the report cache when URL is set.
type RedisConfig struct {
	URL       string
	KeyPrefix string
}

// GuardConfig tunes admission.
type GuardConfig struct {
	MaxAttempts  int
	RetryBackoff time.Duration
	LockTTL      time.Duration
	LockWait     time.Duration
}

// ReportConfig tunes reporting.
type ReportConfig struct {
	Timezone string
	CacheTTL time.Duration
}

// Location resolves Timezone.
func (c ReportConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// DevConfig seeds the in-memory master-data directory.
type DevConfig struct {
	Materials  []string
	Warehouses []string
}

// Load reads the configuration.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Env:      v.GetString("APP_ENV"),
			Name:     v.GetString("APP_NAME"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		HTTP: HTTPConfig{
			Host:            v.GetString("HTTP_HOST"),
			Port:            v.GetInt("HTTP_PORT"),
			ShutdownTimeout: v.GetDuration("HTTP_SHUTDOWN_TIMEOUT"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(v.GetString("STORAGE_DRIVER")),
		},
		DB: DBConfig{
			URL:              v.GetString("DATABASE_URL"),
			MaxConns:         v.GetInt("DB_MAX_CONNS"),
			MinConns:         v.GetInt("DB_MIN_CONNS"),
			StatementTimeout: v.GetDuration("DB_STATEMENT_TIMEOUT"),
			MigrateOnStart:   v.GetBool("MIGRATE_ON_START"),
		},
		Redis: RedisConfig{
			URL:       v.GetString("REDIS_URL"),
			KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
		},
		Guard: GuardConfig{
			MaxAttempts:  v.GetInt("GUARD_MAX_ATTEMPTS"),
			RetryBackoff: v.GetDuration("GUARD_RETRY_BACKOFF"),
			LockTTL:      v.GetDuration("GUARD_LOCK_TTL"),
			LockWait:     v.GetDuration("GUARD_LOCK_WAIT"),
		},
		Report: ReportConfig{
			Timezone: v.GetString("REPORT_TIMEZONE"),
			CacheTTL: v.GetDuration("REPORT_CACHE_TTL"),
		},
		Dev: DevConfig{
			Materials:  splitList(v.GetString("DEV_MATERIALS")),
			Warehouses: splitList(v.GetString("DEV_WAREHOUSES")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "stockledger")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("HTTP_SHUTDOWN_TIMEOUT", "30s")
	v.SetDefault("STORAGE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 25)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_STATEMENT_TIMEOUT", "30s")
	v.SetDefault("MIGRATE_ON_START", true)
	v.SetDefault("REDIS_KEY_PREFIX", "stockledger:")
	v.SetDefault("GUARD_MAX_ATTEMPTS", 5)
	v.SetDefault("GUARD_RETRY_BACKOFF", "10ms")
	v.SetDefault("GUARD_LOCK_TTL", "10s")
	v.SetDefault("GUARD_LOCK_WAIT", "5s")
	v.SetDefault("REPORT_TIMEZONE", "UTC")
	v.SetDefault("REPORT_CACHE_TTL", "10m")
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.DB.URL == "" {
			return errors.New("DATABASE_URL is required for the postgres storage driver")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be %q or %q, got %q", DriverMemory, DriverPostgres, c.Storage.Driver)
	}
	if c.Guard.MaxAttempts < 1 {
		return errors.New("GUARD_MAX_ATTEMPTS must be at least 1")
	}
	if _, err := c.Report.Location(); err != nil {
		return fmt.Errorf("REPORT_TIMEZONE: %w", err)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
