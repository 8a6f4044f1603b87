// Package pgx implements the snapshot store on PostgreSQL.
package pgx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/internal/util"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// SnapshotDBStorage keeps each snapshot in its own generation tables and
// serves readers through views that are repointed on replace.
type SnapshotDBStorage struct {
	conn pgxIConn
	pool *pgxpool.Pool
	now  func() time.Time
}

type SnapshotDBStorageOption func(*SnapshotDBStorage)

func WithClock(now func() time.Time) SnapshotDBStorageOption {
	return func(s *SnapshotDBStorage) {
		s.now = now
	}
}

var _ store.SnapshotStore = (*SnapshotDBStorage)(nil)

// Open connects to databaseURL and makes sure the reader views exist.
func Open(ctx context.Context, databaseURL string, opts ...SnapshotDBStorageOption) (*SnapshotDBStorage, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := NewSnapshotDBStorageWithConnection(pool, opts...)
	s.pool = pool
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewSnapshotDBStorageWithConnection wraps an existing connection or pool.
// Close does not close conn.
func NewSnapshotDBStorageWithConnection(conn pgxIConn, opts ...SnapshotDBStorageOption) *SnapshotDBStorage {
	s := &SnapshotDBStorage{
		conn: conn,
		now:  time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

func (s *SnapshotDBStorage) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *SnapshotDBStorage) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const viewCountSQL = `SELECT COUNT(*) FROM information_schema.views
WHERE table_schema = current_schema() AND table_name = ANY($1)`

const tableListSQL = `SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'`

const lockMetaSQL = `SELECT generation FROM snapshot_meta WHERE id = 1 FOR UPDATE`

// EnsureSchema creates snapshot_meta and an empty generation behind the views
// when the migrations have not done so.
func (s *SnapshotDBStorage) EnsureSchema(ctx context.Context) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin bootstrap: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range store.BootstrapSQL(store.Postgres) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap schema: %w", err)
		}
	}

	var views int
	if err := tx.QueryRow(ctx, viewCountSQL, store.Views).Scan(&views); err != nil {
		return fmt.Errorf("failed to inspect views: %w", err)
	}
	if views == len(store.Views) {
		return tx.Commit(ctx)
	}

	var gen int64
	if err := tx.QueryRow(ctx, lockMetaSQL).Scan(&gen); err != nil {
		return fmt.Errorf("failed to read generation: %w", err)
	}
	tables, err := listTables(ctx, tx)
	if err != nil {
		return err
	}
	var stmts []string
	if !hasGeneration(tables, gen) {
		stmts = append(stmts, store.CreateGenerationSQL(store.Postgres, gen)...)
	}
	stmts = append(stmts, store.PointViewsSQL(store.Postgres, gen)...)
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to bootstrap generation %d: %w", gen, err)
		}
	}
	logger.Info("[Store] Bootstrapped snapshot views", "generation", gen)
	return tx.Commit(ctx)
}

func hasGeneration(tables []string, gen int64) bool {
	want := store.GenerationTable(store.OrganizationsView, gen)
	for _, t := range tables {
		if t == want {
			return true
		}
	}
	return false
}

func listTables(ctx context.Context, conn interface {
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
}) ([]string, error) {
	rows, err := conn.Query(ctx, tableListSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	tables, err := pgxv5.CollectRows(rows, pgxv5.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	return tables, nil
}

// ReplaceSnapshot loads snapshot into generation current+1 and repoints the
// views in one transaction. The meta row is locked first, so concurrent
// replaces queue up behind each other. Stale generations left behind by an
// earlier crash are dropped in the same transaction.
func (s *SnapshotDBStorage) ReplaceSnapshot(
	ctx context.Context,
	snapshot *common.Snapshot,
	source common.SnapshotSource,
) (common.SnapshotInfo, error) {
	if err := store.ValidateSnapshot(snapshot); err != nil {
		return common.SnapshotInfo{}, common.StoreError("validate", err)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return common.SnapshotInfo{}, common.StoreError("begin", err)
	}
	defer tx.Rollback(ctx)

	var current int64
	if err := tx.QueryRow(ctx, lockMetaSQL).Scan(&current); err != nil {
		return common.SnapshotInfo{}, common.StoreError("snapshot_meta", err)
	}

	tables, err := listTables(ctx, tx)
	if err != nil {
		return common.SnapshotInfo{}, common.StoreError("information_schema", err)
	}
	for _, gen := range store.StaleGenerations(tables, current) {
		logger.Info("[Store][ReplaceSnapshot] Dropping stale generation", "generation", gen)
		for _, stmt := range store.DropGenerationSQL(gen) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return common.SnapshotInfo{}, common.StoreError(fmt.Sprintf("generation %d", gen), err)
			}
		}
	}

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
	resource := fmt.Sprintf("generation %d", next)

	logger.Debug("[Store][ReplaceSnapshot] Writing generation", "generation", next,
		"organizations", info.Organizations, "programs", info.Programs, "associations", info.Associations)

	if err := writeGeneration(ctx, tx, snapshot, next); err != nil {
		return common.SnapshotInfo{}, common.StoreError(resource, err)
	}
	for _, stmt := range store.PointViewsSQL(store.Postgres, next) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return common.SnapshotInfo{}, common.StoreError(resource, fmt.Errorf("failed to repoint views: %w", err))
		}
	}
	if _, err := tx.Exec(ctx, store.UpdateMetaSQL(store.Postgres),
		next, info.SourceURL, info.ArchiveSHA256, info.ReplacedAt,
		info.Organizations, info.Programs, info.Associations,
	); err != nil {
		return common.SnapshotInfo{}, common.StoreError(resource, fmt.Errorf("failed to update snapshot_meta: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return common.SnapshotInfo{}, common.StoreError(resource, fmt.Errorf("failed to commit: %w", err))
	}

	for _, stmt := range store.DropGenerationSQL(current) {
		if _, err := s.conn.Exec(ctx, stmt); err != nil {
			logger.Warn("[Store][ReplaceSnapshot] Failed to drop superseded generation", "generation", current, "err", err)
			break
		}
	}
	return info, nil
}

func writeGeneration(ctx context.Context, tx pgxv5.Tx, snapshot *common.Snapshot, gen int64) error {
	for _, stmt := range store.CreateGenerationSQL(store.Postgres, gen) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}

	orgs := snapshot.Organizations
	if _, err := tx.CopyFrom(ctx,
		pgxv5.Identifier{store.GenerationTable(store.OrganizationsView, gen)},
		store.OrganizationColumns,
		pgxv5.CopyFromSlice(len(orgs), func(i int) ([]any, error) {
			return util.SanitizePostgresRow(store.OrganizationValues(&orgs[i])), nil
		}),
	); err != nil {
		return fmt.Errorf("failed to copy organizations: %w", err)
	}

	progs := snapshot.Programs
	if _, err := tx.CopyFrom(ctx,
		pgxv5.Identifier{store.GenerationTable(store.ProgramsView, gen)},
		store.ProgramColumns,
		pgxv5.CopyFromSlice(len(progs), func(i int) ([]any, error) {
			return util.SanitizePostgresRow(store.ProgramValues(&progs[i])), nil
		}),
	); err != nil {
		return fmt.Errorf("failed to copy programs: %w", err)
	}

	assocs := snapshot.Associations
	if _, err := tx.CopyFrom(ctx,
		pgxv5.Identifier{store.GenerationTable(store.AssociationsView, gen)},
		store.AssociationColumns,
		pgxv5.CopyFromSlice(len(assocs), func(i int) ([]any, error) {
			return util.SanitizePostgresRow([]any{assocs[i].OrganizationID, assocs[i].ProgramID}), nil
		}),
	); err != nil {
		return fmt.Errorf("failed to copy associations: %w", err)
	}
	return nil
}

func (s *SnapshotDBStorage) ListOrganizations(ctx context.Context, params store.ListParams) (store.OrganizationPage, error) {
	params = params.Normalized()
	countQ, pageQ := store.BuildListQueries(store.Postgres, params)

	var total int
	if err := s.conn.QueryRow(ctx, countQ.SQL, countQ.Args...).Scan(&total); err != nil {
		return store.OrganizationPage{}, fmt.Errorf("failed to count organizations: %w", err)
	}

	rows, err := s.conn.Query(ctx, pageQ.SQL, pageQ.Args...)
	if err != nil {
		return store.OrganizationPage{}, fmt.Errorf("failed to list organizations: %w", err)
	}
	items, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Organization, error) {
		return store.ScanOrganization(row)
	})
	if err != nil {
		return store.OrganizationPage{}, fmt.Errorf("failed to scan organizations: %w", err)
	}
	return store.NewOrganizationPage(items, params.Page, total), nil
}

func (s *SnapshotDBStorage) GetOrganization(ctx context.Context, id string) (store.OrganizationDetail, error) {
	q := store.OrganizationByIDQuery(store.Postgres, id)
	org, err := store.ScanOrganization(s.conn.QueryRow(ctx, q.SQL, q.Args...))
	if errors.Is(err, pgxv5.ErrNoRows) {
		return store.OrganizationDetail{}, store.ErrOrganizationNotFound
	}
	if err != nil {
		return store.OrganizationDetail{}, fmt.Errorf("failed to get organization: %w", err)
	}

	pq := store.ProgramsOfOrganizationQuery(store.Postgres, id)
	rows, err := s.conn.Query(ctx, pq.SQL, pq.Args...)
	if err != nil {
		return store.OrganizationDetail{}, fmt.Errorf("failed to list programs: %w", err)
	}
	programs, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Program, error) {
		return store.ScanProgram(row)
	})
	if err != nil {
		return store.OrganizationDetail{}, fmt.Errorf("failed to scan programs: %w", err)
	}
	if programs == nil {
		programs = []common.Program{}
	}
	return store.OrganizationDetail{Organization: org, Programs: programs}, nil
}

func (s *SnapshotDBStorage) FilterValues(ctx context.Context) (store.FilterValues, error) {
	lists := make([][]string, len(store.FilterValueQueries))
	for i, q := range store.FilterValueQueries {
		rows, err := s.conn.Query(ctx, q.SQL, q.Args...)
		if err != nil {
			return store.FilterValues{}, fmt.Errorf("failed to query filter values: %w", err)
		}
		values, err := pgxv5.CollectRows(rows, pgxv5.RowTo[string])
		if err != nil {
			return store.FilterValues{}, fmt.Errorf("failed to scan filter values: %w", err)
		}
		if values == nil {
			values = []string{}
		}
		lists[i] = values
	}
	return store.FilterValues{
		Regions:      lists[0],
		Forms:        lists[1],
		ProgramNames: lists[2],
		UGSNames:     lists[3],
	}, nil
}

func (s *SnapshotDBStorage) SnapshotInfo(ctx context.Context) (common.SnapshotInfo, error) {
	var (
		info       common.SnapshotInfo
		replacedAt *time.Time
	)
	err := s.conn.QueryRow(ctx, store.SnapshotInfoSQL).Scan(
		&info.Generation, &info.SourceURL, &info.ArchiveSHA256, &replacedAt,
		&info.Organizations, &info.Programs, &info.Associations,
	)
	if err != nil {
		return common.SnapshotInfo{}, fmt.Errorf("failed to read snapshot_meta: %w", err)
	}
	if replacedAt != nil {
		info.ReplacedAt = replacedAt.UTC()
	}
	return info, nil
}
