package storage

import (
	"context"
	"strings"

	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"
)

// Config selects and configures a storage backend.
type Config struct {
	Backend       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Stores bundles the alias store with the roster source that goes with it.
// The Redis backend holds aliases only, so its rosters live in memory.
type Stores struct {
	Aliases AliasStore
	Rosters RosterProvider
	Writer  RosterWriter
}

// Close releases the underlying connections.
func (s *Stores) Close() error {
	return s.Aliases.Close()
}

// Open builds the stores for cfg.Backend.
func Open(ctx context.Context, cfg Config, log logger.Logger) (*Stores, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		m := NewMemoryStore()
		return &Stores{Aliases: m, Rosters: m, Writer: m}, nil

	case BackendSQLite:
		if cfg.SQLitePath == "" {
			return nil, errors.ConfigurationError(errors.CodeMissingConfig, "store-dsn", "", nil).
				WithSuggestion("set --store-dsn to the SQLite database path")
		}
		s, err := NewSQLiteStore(cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		return &Stores{Aliases: s, Rosters: s, Writer: s}, nil

	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.ConfigurationError(errors.CodeMissingConfig, "redis-addr", "", nil).
				WithSuggestion("set --redis-addr, e.g. localhost:6379")
		}
		r, err := NewRedisStore(ctx, RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}, log)
		if err != nil {
			return nil, err
		}
		m := NewMemoryStore()
		return &Stores{Aliases: r, Rosters: m, Writer: m}, nil
	}

	return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "store", cfg.Backend, nil).
		WithSuggestion("use one of: memory, sqlite, redis")
}
