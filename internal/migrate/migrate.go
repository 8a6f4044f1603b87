// Package migrate applies the versioned Postgres schema.
package migrate

import (
	"errors"
	"fmt"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

const DefaultSource = "file://migrations"

// Up migrates databaseURL to the latest version found at sourceURL.
func Up(sourceURL, databaseURL string) error {
	if sourceURL == "" {
		sourceURL = DefaultSource
	}
	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", version)
	}
	logger.Info("Database schema up to date", "version", version)
	return nil
}
