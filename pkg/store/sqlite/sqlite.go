// Package sqlite is the single-file snapshot store used for local runs and
// tests. It shares the generation table layout of the Postgres store.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/store"

	"modernc.org/sqlite"
)

// maxVariables stays below SQLITE_MAX_VARIABLE_NUMBER.
const maxVariables = 30000

func init() {
	sqlite.MustRegisterDeterministicScalarFunction("casefold", 1, casefold)
}

// casefold lower-cases text with full Unicode rules. The built-in lower()
// only handles ASCII.
func casefold(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return strings.ToLower(fmt.Sprint(v)), nil
	}
}

type Store struct {
	db *sql.DB
	// SQLite allows a single writer; replaces are serialized here as well.
	writeMu sync.Mutex
	now     func() time.Time

	// beforeCommit runs right before a replace commits; tests use it to
	// force a failure inside the transaction.
	beforeCommit func() error
}

var _ store.SnapshotStore = (*Store)(nil)

// Open opens (creating if needed) the database at path and makes sure the
// snapshot views exist.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "education.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range store.BootstrapSQL(store.SQLite) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}

	var views int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'view' AND name IN (?, ?, ?)`,
		store.OrganizationsView, store.ProgramsView, store.AssociationsView,
	).Scan(&views)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	if views == len(store.Views) {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bootstrap: %w", err)
	}
	defer tx.Rollback()

	var gen int64
	if err := tx.QueryRowContext(ctx, `SELECT generation FROM snapshot_meta WHERE id = 1`).Scan(&gen); err != nil {
		return fmt.Errorf("read generation: %w", err)
	}
	var tables int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		store.GenerationTable(store.OrganizationsView, gen)).Scan(&tables); err != nil {
		return fmt.Errorf("inspect generation: %w", err)
	}
	var stmts []string
	if tables == 0 {
		stmts = append(stmts, store.CreateGenerationSQL(store.SQLite, gen)...)
	}
	stmts = append(stmts, store.PointViewsSQL(store.SQLite, gen)...)
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap generation %d: %w", gen, err)
		}
	}
	return tx.Commit()
}

// ReplaceSnapshot writes snapshot as a new generation and repoints the views
// in the same transaction.
func (s *Store) ReplaceSnapshot(ctx context.Context, snapshot *common.Snapshot, source common.SnapshotSource) (common.SnapshotInfo, error) {
	if err := store.ValidateSnapshot(snapshot); err != nil {
		return common.SnapshotInfo{}, common.StoreError("validate", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	current, err := s.currentGeneration(ctx)
	if err != nil {
		return common.SnapshotInfo{}, common.StoreError("snapshot_meta", err)
	}
	s.collectGarbage(ctx, current)

	next := current + 1
	info := common.SnapshotInfo{
		Generation:    next,
		SourceURL:     source.URL,
		ArchiveSHA256: source.ArchiveSHA256,
		ReplacedAt:    s.now().UTC(),
		Organizations: int64(len(snapshot.Organizations)),
		Programs:      int64(len(snapshot.Programs)),
		Associations:  int64(len(snapshot.Associations)),
	}

	if err := s.writeGeneration(ctx, snapshot, info); err != nil {
		return common.SnapshotInfo{}, common.StoreError(fmt.Sprintf("generation %d", next), err)
	}

	s.dropGeneration(ctx, current)
	return info, nil
}

func (s *Store) writeGeneration(ctx context.Context, snapshot *common.Snapshot, info common.SnapshotInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	gen := info.Generation
	for _, stmt := range store.CreateGenerationSQL(store.SQLite, gen) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}

	orgs := snapshot.Organizations
	if err := insertRows(ctx, tx, store.GenerationTable(store.OrganizationsView, gen), store.OrganizationColumns, len(orgs),
		func(i int) []any { return store.OrganizationValues(&orgs[i]) }); err != nil {
		return fmt.Errorf("insert organizations: %w", err)
	}
	progs := snapshot.Programs
	if err := insertRows(ctx, tx, store.GenerationTable(store.ProgramsView, gen), store.ProgramColumns, len(progs),
		func(i int) []any { return store.ProgramValues(&progs[i]) }); err != nil {
		return fmt.Errorf("insert programs: %w", err)
	}
	assocs := snapshot.Associations
	if err := insertRows(ctx, tx, store.GenerationTable(store.AssociationsView, gen), store.AssociationColumns, len(assocs),
		func(i int) []any { return []any{assocs[i].OrganizationID, assocs[i].ProgramID} }); err != nil {
		return fmt.Errorf("insert associations: %w", err)
	}

	for _, stmt := range store.PointViewsSQL(store.SQLite, gen) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("repoint views: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, store.UpdateMetaSQL(store.SQLite),
		gen, info.SourceURL, info.ArchiveSHA256, info.ReplacedAt.Format(time.RFC3339Nano),
		info.Organizations, info.Programs, info.Associations,
	); err != nil {
		return fmt.Errorf("update snapshot_meta: %w", err)
	}

	if s.beforeCommit != nil {
		if err := s.beforeCommit(); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertRows(ctx context.Context, tx *sql.Tx, table string, columns []string, total int, row func(i int) []any) error {
	chunk := min(maxVariables/len(columns), 500)
	return store.ChunkRange(total, chunk, func(start, end int) error {
		args := make([]any, 0, (end-start)*len(columns))
		for i := start; i < end; i++ {
			args = append(args, row(i)...)
		}
		_, err := tx.ExecContext(ctx, store.InsertQuery(store.SQLite, table, columns, end-start), args...)
		return err
	})
}

func (s *Store) currentGeneration(ctx context.Context) (int64, error) {
	var gen int64
	err := s.db.QueryRowContext(ctx, `SELECT generation FROM snapshot_meta WHERE id = 1`).Scan(&gen)
	return gen, err
}

// dropGeneration removes a superseded generation. Failures only leave
// garbage behind for the next replace to collect.
func (s *Store) dropGeneration(ctx context.Context, gen int64) {
	for _, stmt := range store.DropGenerationSQL(gen) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			logger.Warn("[Store][ReplaceSnapshot] Failed to drop superseded generation", "generation", gen, "err", err)
			return
		}
	}
}

func (s *Store) collectGarbage(ctx context.Context, current int64) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		logger.Warn("[Store][ReplaceSnapshot] Failed to list generation tables", "err", err)
		return
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			logger.Warn("[Store][ReplaceSnapshot] Failed to list generation tables", "err", err)
			return
		}
		tables = append(tables, name)
	}
	rows.Close()

	for _, gen := range store.StaleGenerations(tables, current) {
		logger.Info("[Store][ReplaceSnapshot] Dropping stale generation", "generation", gen)
		s.dropGeneration(ctx, gen)
	}
}

// Tables lists the user tables of the database.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) ListOrganizations(ctx context.Context, params store.ListParams) (store.OrganizationPage, error) {
	params = params.Normalized()
	countQ, pageQ := store.BuildListQueries(store.SQLite, params)

	var total int
	if err := s.db.QueryRowContext(ctx, countQ.SQL, countQ.Args...).Scan(&total); err != nil {
		return store.OrganizationPage{}, fmt.Errorf("count organizations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, pageQ.SQL, pageQ.Args...)
	if err != nil {
		return store.OrganizationPage{}, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	var items []common.Organization
	for rows.Next() {
		o, err := store.ScanOrganization(rows)
		if err != nil {
			return store.OrganizationPage{}, fmt.Errorf("scan organization: %w", err)
		}
		items = append(items, o)
	}
	if err := rows.Err(); err != nil {
		return store.OrganizationPage{}, err
	}
	return store.NewOrganizationPage(items, params.Page, total), nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (store.OrganizationDetail, error) {
	q := store.OrganizationByIDQuery(store.SQLite, id)
	org, err := store.ScanOrganization(s.db.QueryRowContext(ctx, q.SQL, q.Args...))
	if errors.Is(err, sql.ErrNoRows) {
		return store.OrganizationDetail{}, store.ErrOrganizationNotFound
	}
	if err != nil {
		return store.OrganizationDetail{}, fmt.Errorf("get organization: %w", err)
	}

	pq := store.ProgramsOfOrganizationQuery(store.SQLite, id)
	rows, err := s.db.QueryContext(ctx, pq.SQL, pq.Args...)
	if err != nil {
		return store.OrganizationDetail{}, fmt.Errorf("list programs: %w", err)
	}
	defer rows.Close()

	programs := []common.Program{}
	for rows.Next() {
		p, err := store.ScanProgram(rows)
		if err != nil {
			return store.OrganizationDetail{}, fmt.Errorf("scan program: %w", err)
		}
		programs = append(programs, p)
	}
	if err := rows.Err(); err != nil {
		return store.OrganizationDetail{}, err
	}
	return store.OrganizationDetail{Organization: org, Programs: programs}, nil
}

func (s *Store) FilterValues(ctx context.Context) (store.FilterValues, error) {
	var lists [][]string
	for _, q := range store.FilterValueQueries {
		values, err := s.distinct(ctx, q)
		if err != nil {
			return store.FilterValues{}, err
		}
		lists = append(lists, values)
	}
	return store.FilterValues{
		Regions:      lists[0],
		Forms:        lists[1],
		ProgramNames: lists[2],
		UGSNames:     lists[3],
	}, nil
}

func (s *Store) distinct(ctx context.Context, q store.Query) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("distinct values: %w", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) SnapshotInfo(ctx context.Context) (common.SnapshotInfo, error) {
	var (
		info       common.SnapshotInfo
		replacedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, store.SnapshotInfoSQL).Scan(
		&info.Generation, &info.SourceURL, &info.ArchiveSHA256, &replacedAt,
		&info.Organizations, &info.Programs, &info.Associations,
	)
	if err != nil {
		return common.SnapshotInfo{}, fmt.Errorf("read snapshot_meta: %w", err)
	}
	if replacedAt.Valid && replacedAt.String != "" {
		t, err := time.Parse(time.RFC3339Nano, replacedAt.String)
		if err != nil {
			return common.SnapshotInfo{}, fmt.Errorf("parse replaced_at: %w", err)
		}
		info.ReplacedAt = t
	}
	return info, nil
}
