// ABOUTME: Backend factory selecting a store implementation from configuration
// ABOUTME: Maps database.driver to the SQLite, Postgres, Redis or in-memory backend

package store

import (
	"context"
	"fmt"

	"github.com/2389/cachet/internal/config"
)

// Open returns the Backend named by cfg.Driver. maxPending only applies to
// the memory driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, maxPending int) (Backend, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return NewSQLiteStore(cfg.Path)
	case config.DriverPostgres:
		return NewPostgresStore(ctx, cfg.URL)
	case config.DriverRedis:
		return OpenRedisStore(ctx, cfg.URL)
	case config.DriverMemory:
		return NewMemoryStore(maxPending), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
