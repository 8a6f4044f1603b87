// Package bootstrap builds the collaborators both binaries share from the
// loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/internal/cache"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/config"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/ingest"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/migrate"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/queue"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/storage"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/util"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/leaselock"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger/console"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/store"
	pgstore "github.com/KiborgBeliash/web-service-vuz-rf/pkg/store/pgx"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/store/sqlite"

	"github.com/rabbitmq/amqp091-go"
)

// Databases and brokers started alongside the binaries may not accept
// connections yet.
const (
	connectAttempts = 5
	connectDelay    = 2 * time.Second
)

// StoreHandle pairs a snapshot store with the locker that serializes
// ingestion runs against it.
type StoreHandle struct {
	Store  store.SnapshotStore
	Locker ingest.Locker
}

func InitLogger(cfg *config.Config) {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Logging.Debug,
		Format: cfg.Logging.Format,
	}))
}

// OpenStore opens the configured store. Postgres is migrated first and
// guarded by a lease lock; SQLite is single-process and needs no lock.
func OpenStore(ctx context.Context, cfg *config.Config) (*StoreHandle, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		err := util.RetryErrWithContext(ctx, connectAttempts, connectDelay, func(context.Context) error {
			return migrate.Up(cfg.Store.MigrationsPath, cfg.Store.DatabaseURL)
		})
		if err != nil {
			return nil, err
		}
		s, err := util.RetryWithContext(ctx, connectAttempts, connectDelay, func(ctx context.Context) (*pgstore.SnapshotDBStorage, error) {
			return pgstore.Open(ctx, cfg.Store.DatabaseURL)
		})
		if err != nil {
			return nil, err
		}
		return &StoreHandle{
			Store:  s,
			Locker: ingest.LeaseLocker{Client: leaselock.New(s.Pool())},
		}, nil
	case config.StoreSQLite:
		s, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &StoreHandle{Store: s, Locker: ingest.NoLock{}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidStoreDriver, cfg.Store.Driver)
	}
}

// OpenCache opens the configured cache backend.
func OpenCache(ctx context.Context, cfg *config.Config) (*cache.Store, error) {
	switch cfg.Cache.Driver {
	case config.CacheFS:
		backend, err := cache.NewFSBackend(cfg.Cache.Dir)
		if err != nil {
			return nil, err
		}
		return cache.New(backend), nil
	case config.CacheS3:
		client, err := storage.NewS3Client(ctx, cfg.Cache.S3)
		if err != nil {
			return nil, err
		}
		return cache.New(cache.NewS3Backend(client, cfg.Cache.S3.Bucket, cfg.Cache.S3Prefix)), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidCacheDriver, cfg.Cache.Driver)
	}
}

// ConnectQueue dials RabbitMQ, retrying while the broker starts.
func ConnectQueue(ctx context.Context, cfg *config.Config) (*amqp091.Connection, error) {
	return util.RetryWithContext(ctx, connectAttempts, connectDelay, func(context.Context) (*amqp091.Connection, error) {
		conn, err := queue.Init(cfg.Queue.URL())
		if err != nil {
			logger.Warn("Waiting for RabbitMQ", "host", cfg.Queue.Host, "err", err)
		}
		return conn, err
	})
}
