package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":3013"
	defaultDatabaseURL     = "sqlite:///tmp/blertbank.db"
	defaultReplayCacheTTL  = 24 * time.Hour
	defaultShutdownTimeout = 5 * time.Second
	defaultAllowedOrigin   = "http://localhost:3000"

	// StoreDriverGorm persists through gorm (postgres or sqlite).
	StoreDriverGorm = "gorm"
	// StoreDriverPgx persists through a pgx pool (postgres only).
	StoreDriverPgx = "pgx"
)

// ErrInvalidConfig reports a configuration that cannot start the service.
var ErrInvalidConfig = errors.New("invalid config")

// DefaultSystemAccounts are the pools created by the seeding command.
var DefaultSystemAccounts = []string{"treasury", "purchases"}

// DefaultNonNegativeSystemAccounts are system pools that must never go below zero.
var DefaultNonNegativeSystemAccounts = []string{"purchases"}

// Config aggregates runtime settings for the ledger service.
type Config struct {
	ListenAddr                string
	GRPCListenAddr            string
	DatabaseURL               string
	StoreDriver               string
	ServiceToken              string
	RedisAddr                 string
	RedisPassword             string
	RedisDB                   int
	ReplayCacheTTL            time.Duration
	SystemAccounts            []string
	NonNegativeSystemAccounts []string
	AllowedOrigins            []string
	ShutdownTimeout           time.Duration
	LogDevelopment            bool
}

// Validate applies defaults and checks the settings shared by every command.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.StoreDriver = strings.ToLower(defaultIfEmpty(cfg.StoreDriver, StoreDriverGorm))
	cfg.GRPCListenAddr = strings.TrimSpace(cfg.GRPCListenAddr)
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)
	if cfg.ReplayCacheTTL <= 0 {
		cfg.ReplayCacheTTL = defaultReplayCacheTTL
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if len(cfg.SystemAccounts) == 0 {
		cfg.SystemAccounts = append([]string{}, DefaultSystemAccounts...)
	}
	if cfg.NonNegativeSystemAccounts == nil {
		cfg.NonNegativeSystemAccounts = append([]string{}, DefaultNonNegativeSystemAccounts...)
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	switch cfg.StoreDriver {
	case StoreDriverGorm:
	case StoreDriverPgx:
		if !IsPostgresURL(cfg.DatabaseURL) {
			return fmt.Errorf("%w: store driver %q requires a postgres database url", ErrInvalidConfig, StoreDriverPgx)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, cfg.StoreDriver)
	}
	if cfg.RedisDB < 0 {
		return fmt.Errorf("%w: redis db must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ValidateForServe also requires the shared service token; the server refuses to start without it.
func (cfg *Config) ValidateForServe() error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.ServiceToken) == "" {
		return fmt.Errorf("%w: service token is required", ErrInvalidConfig)
	}
	if cfg.GRPCListenAddr != "" && cfg.GRPCListenAddr == cfg.ListenAddr {
		return fmt.Errorf("%w: grpc and http listen addresses must differ", ErrInvalidConfig)
	}
	return nil
}

// IsPostgresURL reports whether the DSN points at PostgreSQL.
func IsPostgresURL(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseList splits comma-delimited values into a slice.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
