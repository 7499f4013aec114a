package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/LaunchLoop/internal/adapter/badger"
	"github.com/Strob0t/LaunchLoop/internal/adapter/memstore"
	"github.com/Strob0t/LaunchLoop/internal/adapter/postgres"
	"github.com/Strob0t/LaunchLoop/internal/config"
	"github.com/Strob0t/LaunchLoop/internal/port/database"
	"github.com/Strob0t/LaunchLoop/internal/port/eventstore"
)

// storage is the selected persistence backend.
type storage struct {
	Store  database.Store
	Events eventstore.Store
	Close  func()
}

// openStorage opens the backend named by cfg.Storage.Driver. Postgres
// migrations are applied before the store is returned.
func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.Storage.Driver {
	case "badger":
		s, err := badger.Open(cfg.Badger)
		if err != nil {
			return nil, fmt.Errorf("badger: %w", err)
		}
		slog.Info("badger store opened", "path", cfg.Badger.Path, "in_memory", cfg.Badger.InMemory)
		return &storage{Store: s, Events: s, Close: func() {
			if err := s.Close(); err != nil {
				slog.Error("badger close failed", "error", err)
			}
		}}, nil

	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres connected", "max_conns", cfg.Postgres.MaxConns)
		return &storage{Store: postgres.NewStore(pool), Events: postgres.NewEventStore(pool), Close: pool.Close}, nil

	default:
		s := memstore.New(cfg.Collector.HistoryLimit)
		slog.Warn("using in-memory storage; state is lost on restart")
		return &storage{Store: s, Events: s, Close: func() {}}, nil
	}
}
