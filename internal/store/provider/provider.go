// Package provider opens the store.SiteStore selected by configuration.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/makt28/mandown/internal/config"
	"github.com/makt28/mandown/internal/store"
	"github.com/makt28/mandown/internal/store/postgres"
	"github.com/makt28/mandown/internal/store/sqlite"
)

// Open creates the store for cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (store.SiteStore, error) {
	logger.Info("opening site store", "driver", cfg.Driver)

	var (
		s   store.SiteStore
		err error
	)
	switch cfg.Driver {
	case config.DriverMemory:
		s = store.NewMemoryStore()
	case config.DriverFile:
		s, err = store.OpenFile(cfg.DSN)
	case config.DriverSQLite:
		s, err = sqlite.New(ctx, cfg.DSN)
	case config.DriverPostgres:
		s, err = postgres.New(ctx, cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return s, nil
}
