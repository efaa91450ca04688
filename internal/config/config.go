// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Roles accepted in CUS_API_KEYS.
const (
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleAuthor = "author"
	RoleViewer = "viewer"
)

// MinAPIKeyLength is the minimum accepted length of an API key.
const MinAPIKeyLength = 16

// Config holds the application configuration loaded from environment variables.
type Config struct {
	DBPath     string `env:"CUS_DB_PATH" envDefault:"./data/cus.db"`
	ServerHost string `env:"CUS_SERVER_HOST" envDefault:"localhost"`
	ServerPort int    `env:"CUS_SERVER_PORT" envDefault:"8080"`
	Env        string `env:"CUS_ENV" envDefault:"development"`
	LogLevel   string `env:"CUS_LOG_LEVEL" envDefault:"info"`

	// Timezone is the site zone used to interpret wall-clock input.
	// Accepts an IANA name ("Europe/Berlin") or a fixed offset ("+02:00").
	Timezone string `env:"CUS_TIMEZONE" envDefault:"UTC"`

	// Lock and transient backend
	RedisURL    string `env:"CUS_REDIS_URL"`
	CachePrefix string `env:"CUS_CACHE_PREFIX" envDefault:"cus:"`

	// Notifications
	AMQPURL      string `env:"CUS_AMQP_URL"`
	AMQPExchange string `env:"CUS_AMQP_EXCHANGE" envDefault:"cus.events"`

	// RawAPIKeys holds "key:role:user_id" triples.
	RawAPIKeys []string `env:"CUS_API_KEYS" envSeparator:","`
	APIKeys    []APIKey

	SweepSchedule   string        `env:"CUS_SWEEP_SCHEDULE" envDefault:"*/5 * * * *"`
	SweepBatch      int           `env:"CUS_SWEEP_BATCH" envDefault:"50"`
	LockTTL         time.Duration `env:"CUS_LOCK_TTL" envDefault:"5m"`
	PastGrace       time.Duration `env:"CUS_PAST_GRACE" envDefault:"5m"`
	HomepageCatchUp time.Duration `env:"CUS_HOMEPAGE_CATCHUP" envDefault:"60s"`
	PublishRate     time.Duration `env:"CUS_PUBLISH_RATE" envDefault:"10s"`

	IntegrationsFile string `env:"CUS_INTEGRATIONS_FILE"`
	Integrations     Integrations
}

// APIKey maps a bearer token to an acting user.
type APIKey struct {
	Key    string
	Role   string
	UserID int64
}

// IsDevelopment returns true if the application is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ServerAddr returns the full server address in host:port format.
func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// UseRedis returns true if the Redis lock backend is configured.
func (c Config) UseRedis() bool {
	return c.RedisURL != ""
}

// UseAMQP returns true if RabbitMQ notifications are configured.
func (c Config) UseAMQP() bool {
	return c.AMQPURL != ""
}

// SlogLevel converts LogLevel to a slog.Level.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load parses environment variables and returns a Config struct.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	keys, err := parseAPIKeys(cfg.RawAPIKeys)
	if err != nil {
		return nil, err
	}
	cfg.APIKeys = keys

	if len(cfg.APIKeys) == 0 && !cfg.IsDevelopment() {
		return nil, fmt.Errorf("CUS_API_KEYS must define at least one key outside development")
	}

	if cfg.SweepBatch <= 0 {
		return nil, fmt.Errorf("CUS_SWEEP_BATCH must be positive, got %d", cfg.SweepBatch)
	}
	if cfg.LockTTL <= 0 {
		return nil, fmt.Errorf("CUS_LOCK_TTL must be positive, got %s", cfg.LockTTL)
	}

	cfg.Integrations = DefaultIntegrations()
	if cfg.IntegrationsFile != "" {
		integrations, err := LoadIntegrations(cfg.IntegrationsFile)
		if err != nil {
			return nil, err
		}
		cfg.Integrations = integrations
	}

	return cfg, nil
}

// parseAPIKeys parses "key:role:user_id" entries.
func parseAPIKeys(raw []string) ([]APIKey, error) {
	keys := make([]APIKey, 0, len(raw))
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("CUS_API_KEYS entry must be key:role:user_id")
		}

		key, role := parts[0], strings.ToLower(parts[1])
		if len(key) < MinAPIKeyLength {
			return nil, fmt.Errorf("CUS_API_KEYS key must be at least %d characters", MinAPIKeyLength)
		}
		switch role {
		case RoleAdmin, RoleEditor, RoleAuthor, RoleViewer:
		default:
			return nil, fmt.Errorf("CUS_API_KEYS role %q is not one of admin, editor, author, viewer", role)
		}

		userID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil || userID <= 0 {
			return nil, fmt.Errorf("CUS_API_KEYS user id %q must be a positive integer", parts[2])
		}

		keys = append(keys, APIKey{Key: key, Role: role, UserID: userID})
	}
	return keys, nil
}
