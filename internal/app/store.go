package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"taskpulse/internal/notify"
)

const applicationName = "taskpulse"

// newStore opens the notification store selected by cfg.Store.Driver.
//
// Ownership model:
//   - app owns the pgx pool lifecycle; PostgresStore.Close() is a no-op
//   - SQLiteStore owns its *sql.DB and is closed through Store.Close
func newStore(ctx context.Context, cfg StoreConfig, log Logger) (notify.Store, *pgxpool.Pool, error) {
	switch cfg.Driver {
	case StoreSQLite:
		st, err := notify.NewSQLiteStore(cfg.SQLitePath, log)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info("store.enabled.sqlite", "path", cfg.SQLitePath)
		return st, nil, nil

	case StorePostgres:
		pool, err := newDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		st, err := notify.NewPostgresStore(pool, notify.WithSchema(cfg.Schema))
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("migrate postgres store: %w", err)
			}
			log.Info("store.postgres.migrated", "schema", cfg.Schema)
		}
		log.Info("store.enabled.postgres", "schema", cfg.Schema, "max_conns", pool.Config().MaxConns)
		return st, pool, nil

	default:
		log.Info("store.enabled.inmemory")
		return notify.NewInMemoryStore(), nil, nil
	}
}

// newDBPool builds a pgxpool from the store config and validates connectivity.
func newDBPool(ctx context.Context, cfg StoreConfig) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns >= 0 {
		pcfg.MinConns = cfg.MinConns
	}
	if _, ok := pcfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		pcfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	if err := PingDB(ctx, pool, 3*time.Second); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// PingDB checks if we can acquire a connection within timeout.
func PingDB(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}
