package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/CorbanSy/PropDash-sub000/store"
	"github.com/CorbanSy/PropDash-sub000/store/badger"
	bunstore "github.com/CorbanSy/PropDash-sub000/store/bun"
	"github.com/CorbanSy/PropDash-sub000/store/memory"
	"github.com/CorbanSy/PropDash-sub000/store/postgres"
	redisstore "github.com/CorbanSy/PropDash-sub000/store/redis"
)

// openStore opens the configured backend. The dispatcher closes the store
// on shutdown; the returned close func releases whatever the daemon opened
// underneath it and is safe to call after that.
func openStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (store.Store, func() error, error) {
	switch cfg.Driver {
	case "memory":
		s := memory.New()
		return s, s.Close, nil

	case "postgres":
		s, err := postgres.New(ctx, cfg.DSN, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case "bun":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		return bunstore.New(db, bunstore.WithLogger(logger)), db.Close, nil

	case "redis":
		opts, err := goredis.ParseURL(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("redis dsn: %w", err)
		}
		client := goredis.NewClient(opts)
		return redisstore.New(client, redisstore.WithLogger(logger)), client.Close, nil

	case "badger":
		s, err := badger.Open(cfg.Path, badger.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
