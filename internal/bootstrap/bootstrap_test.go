package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/KiborgBeliash/web-service-vuz-rf/internal/config"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/ingest"
)

func TestOpenStore_SQLite(t *testing.T) {
	cfg := config.Default()
	cfg.Store.SQLitePath = filepath.Join(t.TempDir(), "registry.db")

	handle, err := OpenStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer handle.Store.Close()

	if _, ok := handle.Locker.(ingest.NoLock); !ok {
		t.Fatalf("expected NoLock for sqlite, got %T", handle.Locker)
	}
	info, err := handle.Store.SnapshotInfo(context.Background())
	if err != nil || info.Generation != 0 {
		t.Fatalf("expected an empty store, got %+v, %v", info, err)
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "mysql"
	if _, err := OpenStore(context.Background(), cfg); !errors.Is(err, config.ErrInvalidStoreDriver) {
		t.Fatalf("expected ErrInvalidStoreDriver, got %v", err)
	}
}

func TestOpenCache_FS(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Dir = filepath.Join(t.TempDir(), "cache")

	c, err := OpenCache(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	changed, err := c.HasChangedHash(context.Background(), "a.zip", "00")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !changed {
		t.Fatal("expected an unknown key to count as changed")
	}
}

func TestOpenCache_UnknownDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Driver = "gcs"
	if _, err := OpenCache(context.Background(), cfg); !errors.Is(err, config.ErrInvalidCacheDriver) {
		t.Fatalf("expected ErrInvalidCacheDriver, got %v", err)
	}
}
