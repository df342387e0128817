package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/target/booking-session/config"
	"github.com/target/booking-session/internal/bootstrap"
)

// sessionHandle bundles the wired session with whatever infrastructure its
// storage backend opened.
type sessionHandle struct {
	*bootstrap.SessionComponents
	db    *sql.DB
	redis redis.UniversalClient
}

// openSession connects the storage backend, builds the session subsystem and
// restores the persisted session.
func openSession(cmdCtx *commandContext) (*sessionHandle, error) {
	cfg := &cmdCtx.Config
	db, redisClient, err := connectStorage(cmdCtx.Logger, cfg)
	if err != nil {
		return nil, err
	}

	store, err := bootstrap.BuildSessionStore(bootstrap.StorageDeps{
		Config:      cfg.Storage,
		DB:          db,
		RedisClient: redisClient,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return nil, errors.Join(err, closeInfra(db, redisClient))
	}

	session, err := bootstrap.BuildSession(cmdCtx.Ctx, bootstrap.AuthConfig{
		Auth:   cfg.Auth,
		Store:  store,
		Logger: cmdCtx.Logger,
	})
	if err != nil {
		return nil, errors.Join(err, closeInfra(db, redisClient))
	}

	if err := session.Service.Hydrate(cmdCtx.Ctx); err != nil {
		cmdCtx.Logger.Warn("session restore failed", "error", err)
	}

	return &sessionHandle{SessionComponents: session, db: db, redis: redisClient}, nil
}

func (h *sessionHandle) Close() error {
	return closeInfra(h.db, h.redis)
}

// connectStorage opens the database or redis client the storage backend needs.
//
//nolint:ireturn // returning redis.UniversalClient keeps sentinel/cluster support flexible.
func connectStorage(logger *slog.Logger, cfg *config.AppConfig) (*sql.DB, redis.UniversalClient, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendPostgres:
		db, err := bootstrap.ConnectDB(bootstrap.DatabaseConfig{DBConfig: cfg.Postgres, Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("connect db: %w", err)
		}
		return db, nil, nil
	case config.StorageBackendRedis:
		if !hasRedisConfig(&cfg.Redis) {
			return nil, nil, errors.New("redis storage selected but no redis configuration found")
		}
		client, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{RedisConfig: cfg.Redis, Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		return nil, client, nil
	default:
		return nil, nil, nil
	}
}

func hasRedisConfig(cfg *config.RedisConfig) bool {
	if cfg == nil {
		return false
	}
	if cfg.UseCluster {
		return len(cfg.ClusterNodes) > 0 || cfg.URI != ""
	}
	if cfg.UseSentinel {
		return len(cfg.SentinelNodes) > 0
	}
	return cfg.URI != ""
}

func closeInfra(db *sql.DB, redisClient redis.UniversalClient) error {
	var closeErr error
	if db != nil {
		if err := db.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close db: %w", err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close redis: %w", err))
		}
	}
	return closeErr
}
