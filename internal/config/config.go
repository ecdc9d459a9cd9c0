package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Ledger    LedgerConfig
	Scheduler SchedulerConfig
	Logging   LoggingConfig
	Business  BusinessConfig
	Health    HealthConfig
}

type ServerConfig struct {
	Port         string        `mapstructure:"SERVER_PORT"`
	Host         string        `mapstructure:"SERVER_HOST"`
	Env          string        `mapstructure:"ENV"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
}

// StoreConfig selects the document store driver: memory, postgres or redis.
type StoreConfig struct {
	Driver string `mapstructure:"STORE_DRIVER"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"DATABASE_URL"`
	MaxOpenConns    int           `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `mapstructure:"DATABASE_CONN_MAX_LIFETIME"`
}

type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     string `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

// LedgerConfig selects the ledger driver: memory or rpc.
type LedgerConfig struct {
	Driver  string        `mapstructure:"LEDGER_DRIVER"`
	RPCURL  string        `mapstructure:"LEDGER_RPC_URL"`
	Timeout time.Duration `mapstructure:"LEDGER_TIMEOUT"`
}

type SchedulerConfig struct {
	Cron          string        `mapstructure:"SCHEDULER_CRON"`
	Timezone      string        `mapstructure:"SCHEDULER_TIMEZONE"`
	CatchUp       string        `mapstructure:"SCHEDULER_CATCH_UP"`
	TransferDelay time.Duration `mapstructure:"SCHEDULER_TRANSFER_DELAY"`
	LockTTL       time.Duration `mapstructure:"SCHEDULER_LOCK_TTL"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
}

type BusinessConfig struct {
	DefaultInactivityPeriod time.Duration `mapstructure:"DEFAULT_INACTIVITY_PERIOD"`
	MinInactivityPeriod     time.Duration `mapstructure:"MIN_INACTIVITY_PERIOD"`
	LoanDueSoonDays         int           `mapstructure:"LOAN_DUE_SOON_DAYS"`
	EnforceSingleActiveLoan bool          `mapstructure:"ENFORCE_SINGLE_ACTIVE_LOAN"`
}

type HealthConfig struct {
	Timeout time.Duration `mapstructure:"HEALTH_CHECK_TIMEOUT"`
}

var defaults = map[string]any{
	"SERVER_PORT":                "8080",
	"SERVER_HOST":                "0.0.0.0",
	"ENV":                        "development",
	"SERVER_READ_TIMEOUT":        "15s",
	"SERVER_WRITE_TIMEOUT":       "30s",
	"STORE_DRIVER":               "memory",
	"DATABASE_URL":               "",
	"DATABASE_MAX_OPEN_CONNS":    25,
	"DATABASE_MAX_IDLE_CONNS":    5,
	"DATABASE_CONN_MAX_LIFETIME": "5m",
	"REDIS_HOST":                 "",
	"REDIS_PORT":                 "6379",
	"REDIS_PASSWORD":             "",
	"REDIS_DB":                   0,
	"LEDGER_DRIVER":              "memory",
	"LEDGER_RPC_URL":             "",
	"LEDGER_TIMEOUT":             "20s",
	"SCHEDULER_CRON":             "0 * * * * *",
	"SCHEDULER_TIMEZONE":         "UTC",
	"SCHEDULER_CATCH_UP":         "skip",
	"SCHEDULER_TRANSFER_DELAY":   "0s",
	"SCHEDULER_LOCK_TTL":         "55s",
	"LOG_LEVEL":                  "info",
	"LOG_FORMAT":                 "json",
	"DEFAULT_INACTIVITY_PERIOD":  "8760h",
	"MIN_INACTIVITY_PERIOD":      "24h",
	"LOAN_DUE_SOON_DAYS":         3,
	"ENFORCE_SINGLE_ACTIVE_LOAN": true,
	"HEALTH_CHECK_TIMEOUT":       "5s",
}

// Load reads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	// Read from environment variables
	v.AutomaticEnv()

	// Try to read from .env file (optional)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./deployments")

	// Don't fail if .env file doesn't exist
	_ = v.ReadInConfig()

	return FromViper(v)
}

// FromViper decodes and validates a Config from an already populated viper
// instance. Every section reads the same flat key space.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	sections := []any{
		&cfg.Server, &cfg.Store, &cfg.Database, &cfg.Redis, &cfg.Ledger,
		&cfg.Scheduler, &cfg.Logging, &cfg.Business, &cfg.Health,
	}
	for _, s := range sections {
		if err := v.Unmarshal(s); err != nil {
			return nil, fmt.Errorf("unable to decode config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	case "redis":
		if c.Redis.Host == "" {
			return fmt.Errorf("REDIS_HOST is required for the redis store")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of memory, postgres, redis")
	}

	switch c.Ledger.Driver {
	case "memory":
	case "rpc":
		if c.Ledger.RPCURL == "" {
			return fmt.Errorf("LEDGER_RPC_URL is required for the rpc ledger")
		}
	default:
		return fmt.Errorf("LEDGER_DRIVER must be one of memory, rpc")
	}

	if c.Scheduler.CatchUp != "skip" && c.Scheduler.CatchUp != "all" {
		return fmt.Errorf("SCHEDULER_CATCH_UP must be skip or all")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE must be a valid location: %w", err)
	}

	if c.Business.MinInactivityPeriod <= 0 {
		return fmt.Errorf("MIN_INACTIVITY_PERIOD must be greater than 0")
	}
	if c.Business.DefaultInactivityPeriod < c.Business.MinInactivityPeriod {
		return fmt.Errorf("DEFAULT_INACTIVITY_PERIOD must be at least MIN_INACTIVITY_PERIOD")
	}
	if c.Business.LoanDueSoonDays < 0 {
		return fmt.Errorf("LOAN_DUE_SOON_DAYS must not be negative")
	}

	if c.Health.Timeout <= 0 {
		return fmt.Errorf("HEALTH_CHECK_TIMEOUT must be greater than 0")
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// RedisEnabled reports whether a redis host is configured.
func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Redis.Host) != ""
}

// Addr is the redis host:port.
func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, r.Port)
}

// Location returns the scheduler's time zone.
func (s SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
