package main

import (
	"context"
	"fmt"

	"github.com/guillermoBallester/agentproxy/internal/adapter/postgres"
	"github.com/guillermoBallester/agentproxy/internal/adapter/sqlite"
	"github.com/guillermoBallester/agentproxy/internal/config"
	"github.com/guillermoBallester/agentproxy/internal/core/port"
	"github.com/guillermoBallester/agentproxy/internal/store"
)

// backend bundles the execution adapter chosen by DATABASE_URL. A zero
// backend (nil executor) means dry-run mode.
type backend struct {
	system    string
	executor  port.StatementExecutor
	describer port.SchemaDescriber
	close     func()
}

func openBackend(ctx context.Context, cfg *config.Config) (backend, error) {
	switch cfg.Backend() {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{
			MaxConns:        cfg.PoolMaxConns,
			MinConns:        cfg.PoolMinConns,
			MaxConnLifetime: cfg.PoolMaxConnLifetime,
		})
		if err != nil {
			return backend{}, fmt.Errorf("connecting to database: %w", err)
		}
		return backend{
			system:    "postgresql",
			executor:  postgres.NewExecutor(pool, cfg.StatementTimeout),
			describer: postgres.NewDescriber(pool, cfg.Schemas),
			close:     pool.Close,
		}, nil

	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, cfg.DatabaseURL, cfg.StatementTimeout)
		if err != nil {
			return backend{}, fmt.Errorf("connecting to database: %w", err)
		}
		return backend{
			system:    "sqlite",
			executor:  db,
			describer: db,
			close:     func() { _ = db.Close() },
		}, nil

	default:
		return backend{close: func() {}}, nil
	}
}

func openStore(ctx context.Context, cfg *config.Config) (port.RecordStore, func(), error) {
	if cfg.StoreBackend != config.StoreRedis {
		return store.NewMemoryStore(), func() {}, nil
	}
	client, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return store.NewRedisStore(client, cfg.RecordTTL), func() { _ = client.Close() }, nil
}
