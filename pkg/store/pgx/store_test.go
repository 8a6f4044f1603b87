package pgx

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB records every statement. Only the methods the store calls are
// implemented; the embedded interfaces panic on anything else.
type fakeDB struct {
	generation int64
	tables     []string
	copyErr    error

	log        []string
	copied     map[string]int
	metaArgs   []any
	committed  bool
	rolledBack bool
}

type fakeTx struct {
	pgxv5.Tx
	db *fakeDB
}

type fakeRow struct {
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeRows struct {
	pgxv5.Rows
	values []string
	pos    int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.values)
}

func (r *fakeRows) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.values[r.pos-1]
	return nil
}

func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) Close()                                       {}
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.log = append(db.log, "conn: "+sql)
	return pgconn.CommandTag{}, nil
}

func (db *fakeDB) Query(context.Context, string, ...any) (pgxv5.Rows, error) {
	return nil, errors.New("not implemented")
}

func (db *fakeDB) QueryRow(context.Context, string, ...any) pgxv5.Row {
	return fakeRow{scan: func(...any) error { return errors.New("not implemented") }}
}

func (db *fakeDB) Begin(context.Context) (pgxv5.Tx, error) {
	db.log = append(db.log, "begin")
	return &fakeTx{db: db}, nil
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.db.log = append(tx.db.log, sql)
	if strings.HasPrefix(sql, "UPDATE snapshot_meta") {
		tx.db.metaArgs = args
	}
	return pgconn.CommandTag{}, nil
}

func (tx *fakeTx) QueryRow(_ context.Context, sql string, _ ...any) pgxv5.Row {
	return fakeRow{scan: func(dest ...any) error {
		switch {
		case sql == lockMetaSQL:
			*(dest[0].(*int64)) = tx.db.generation
		case sql == viewCountSQL:
			*(dest[0].(*int)) = len(store.Views)
		default:
			return errors.New("unexpected query: " + sql)
		}
		return nil
	}}
}

func (tx *fakeTx) Query(_ context.Context, sql string, _ ...any) (pgxv5.Rows, error) {
	if sql != tableListSQL {
		return nil, errors.New("unexpected query: " + sql)
	}
	return &fakeRows{values: tx.db.tables}, nil
}

func (tx *fakeTx) CopyFrom(_ context.Context, table pgxv5.Identifier, _ []string, src pgxv5.CopyFromSource) (int64, error) {
	if tx.db.copyErr != nil {
		return 0, tx.db.copyErr
	}
	if tx.db.copied == nil {
		tx.db.copied = map[string]int{}
	}
	n := 0
	for src.Next() {
		if _, err := src.Values(); err != nil {
			return 0, err
		}
		n++
	}
	tx.db.copied[table[0]] = n
	tx.db.log = append(tx.db.log, "copy "+table[0])
	return int64(n), nil
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.db.committed = true
	tx.db.log = append(tx.db.log, "commit")
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if !tx.db.committed {
		tx.db.rolledBack = true
	}
	return nil
}

func sampleSnapshot() *common.Snapshot {
	return &common.Snapshot{
		Organizations: []common.Organization{{ID: "O1"}, {ID: "O2"}},
		Programs:      []common.Program{{ID: "P1"}},
		Associations: []common.Association{
			{OrganizationID: "O1", ProgramID: "P1"},
			{OrganizationID: "O2", ProgramID: "P1"},
		},
	}
}

func TestReplaceSnapshot_WritesNextGeneration(t *testing.T) {
	db := &fakeDB{
		generation: 3,
		tables: []string{
			"snapshot_meta", "app_locks",
			"organizations_g3", "programs_g3", "associations_g3",
			"organizations_g1",
		},
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewSnapshotDBStorageWithConnection(db, WithClock(func() time.Time { return now }))

	info, err := s.ReplaceSnapshot(context.Background(), sampleSnapshot(), common.SnapshotSource{URL: "u", ArchiveSHA256: "h"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if info.Generation != 4 || info.Organizations != 2 || info.Associations != 2 || !info.ReplacedAt.Equal(now) {
		t.Fatalf("unexpected info %+v", info)
	}
	if !db.committed || db.rolledBack {
		t.Fatalf("expected commit without rollback, committed=%v rolledBack=%v", db.committed, db.rolledBack)
	}

	want := map[string]int{"organizations_g4": 2, "programs_g4": 1, "associations_g4": 2}
	for table, n := range want {
		if db.copied[table] != n {
			t.Fatalf("expected %d rows copied into %s, got %d", n, table, db.copied[table])
		}
	}
	if len(db.metaArgs) != 7 || db.metaArgs[0] != int64(4) || db.metaArgs[1] != "u" || db.metaArgs[2] != "h" {
		t.Fatalf("unexpected meta args %v", db.metaArgs)
	}

	idx := func(stmt string) int {
		i := slices.Index(db.log, stmt)
		if i < 0 {
			t.Fatalf("expected statement %q in %v", stmt, db.log)
		}
		return i
	}
	dropStale := idx("DROP TABLE IF EXISTS organizations_g1")
	copyOrgs := idx("copy organizations_g4")
	view := idx("CREATE OR REPLACE VIEW organizations AS SELECT * FROM organizations_g4")
	commit := idx("commit")
	dropOld := idx("conn: DROP TABLE IF EXISTS organizations_g3")
	if !(dropStale < copyOrgs && copyOrgs < view && view < commit && commit < dropOld) {
		t.Fatalf("unexpected statement order %v", db.log)
	}
}

func TestReplaceSnapshot_FailureRollsBack(t *testing.T) {
	db := &fakeDB{generation: 1, copyErr: errors.New("connection reset")}
	s := NewSnapshotDBStorageWithConnection(db)

	_, err := s.ReplaceSnapshot(context.Background(), sampleSnapshot(), common.SnapshotSource{})
	if !errors.Is(err, common.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if db.committed || !db.rolledBack {
		t.Fatalf("expected rollback, committed=%v rolledBack=%v", db.committed, db.rolledBack)
	}
	for _, stmt := range db.log {
		if strings.HasPrefix(stmt, "conn: ") || strings.Contains(stmt, "VIEW") {
			t.Fatalf("expected nothing outside the failed transaction, got %q", stmt)
		}
	}
}

func TestReplaceSnapshot_InvalidSnapshotTouchesNothing(t *testing.T) {
	db := &fakeDB{}
	s := NewSnapshotDBStorageWithConnection(db)

	snap := sampleSnapshot()
	snap.Associations = append(snap.Associations, common.Association{OrganizationID: "O9", ProgramID: "P1"})
	_, err := s.ReplaceSnapshot(context.Background(), snap, common.SnapshotSource{})
	if !errors.Is(err, common.ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if len(db.log) != 0 {
		t.Fatalf("expected no database calls, got %v", db.log)
	}
}

func TestEnsureSchema_ViewsPresent(t *testing.T) {
	db := &fakeDB{}
	s := NewSnapshotDBStorageWithConnection(db)
	if err := s.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !db.committed {
		t.Fatal("expected bootstrap to commit")
	}
	for _, stmt := range db.log {
		if strings.Contains(stmt, "CREATE TABLE organizations_g") {
			t.Fatalf("expected no generation to be created, got %q", stmt)
		}
	}
}
