package migrate

import (
	"database/sql"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/store"

	"github.com/golang-migrate/migrate/v4/source/file"
)

func normalizeSQL(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func TestInitMigrationMatchesStoreSchema(t *testing.T) {
	src, err := (&file.File{}).Open("file://../../migrations")
	if err != nil {
		t.Fatalf("failed to open migrations: %v", err)
	}
	defer src.Close()

	first, err := src.First()
	if err != nil {
		t.Fatalf("failed to read first migration: %v", err)
	}
	if first != 1 {
		t.Fatalf("expected first version 1, got %d", first)
	}

	r, _, err := src.ReadUp(first)
	if err != nil {
		t.Fatalf("failed to read up migration: %v", err)
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	up := normalizeSQL(string(body))

	var want []string
	want = append(want, store.BootstrapSQL(store.Postgres)...)
	want = append(want, store.CreateGenerationSQL(store.Postgres, 0)...)
	want = append(want, store.PointViewsSQL(store.Postgres, 0)...)
	for _, stmt := range want {
		if !strings.Contains(up, normalizeSQL(stmt)+";") {
			t.Fatalf("expected up migration to contain %q", normalizeSQL(stmt))
		}
	}
	if !strings.Contains(up, "CREATE TABLE IF NOT EXISTS app_locks") {
		t.Fatal("expected up migration to create app_locks")
	}

	down, _, err := src.ReadDown(first)
	if err != nil {
		t.Fatalf("failed to read down migration: %v", err)
	}
	down.Close()
}

func TestPostgresDriverRegistered(t *testing.T) {
	if !slices.Contains(sql.Drivers(), "postgres") {
		t.Fatalf("expected postgres sql driver to be registered, got %v", sql.Drivers())
	}
}
