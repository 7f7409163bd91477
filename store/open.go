// Package store selects a library.Store backend from configuration.
package store

import (
	"context"
	"fmt"

	"library-circulation/config"
	"library-circulation/library"
	"library-circulation/store/memory"
	"library-circulation/store/postgres"
	"library-circulation/store/sqlite"
)

// Open opens the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.Store) (library.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
