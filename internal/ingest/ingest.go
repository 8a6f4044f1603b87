// Package ingest runs one ingestion of the registry: locate the newest
// archive, skip it when unchanged, otherwise extract, normalize and replace
// the stored snapshot. Stages run strictly in order and the first failure
// aborts the run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/internal/archive"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/cache"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/fetch"
	"github.com/KiborgBeliash/web-service-vuz-rf/internal/timing"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/leaselock"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/normalize"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type Outcome string

const (
	OutcomeReplaced  Outcome = "replaced"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)

// Stage names as they appear in logs, metrics and reports.
const (
	StageLocate   = "locate"
	StageDownload = "download"
	StageDetect   = "detect"
	StageExtract  = "extract"
	StageParse    = "parse"
	StageStore    = "store"
	StageCommit   = "commit"
)

const summarySamples = 5

// Report describes a finished run.
type Report struct {
	RunID         string                 `json:"run_id"`
	Outcome       Outcome                `json:"outcome"`
	ArchiveURL    string                 `json:"archive_url,omitempty"`
	ArchiveSHA256 string                 `json:"archive_sha256,omitempty"`
	Snapshot      common.SnapshotInfo    `json:"snapshot"`
	Stats         normalize.Stats        `json:"stats"`
	Stages        []timing.StageDuration `json:"-"`
	Elapsed       time.Duration          `json:"elapsed"`
	FailedStage   string                 `json:"failed_stage,omitempty"`
}

type RunOptions struct {
	// Force ingests the archive even when its hash matches the cache.
	Force bool
	// Trigger is logged with the run, e.g. "cli" or "queue".
	Trigger string
}

// Locker serializes runs against the same store.
type Locker interface {
	WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// NoLock runs fn directly. It suits single-process stores such as SQLite.
type NoLock struct{}

func (NoLock) WithLease(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// LeaseLocker holds a Postgres lease for the duration of a run.
type LeaseLocker struct {
	Client  *leaselock.Client
	Options leaselock.Options
}

func (l LeaseLocker) WithLease(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return l.Client.WithLease(ctx, key, l.Options, fn)
}

// Recorder receives run figures. *metrics.Metrics implements it.
type Recorder interface {
	ObserveStage(stage string, d time.Duration)
	ObserveParse(stats normalize.Stats)
	ObserveSnapshot(info common.SnapshotInfo)
	ObserveRun(outcome string, finishedAt time.Time)
}

// Notifier is told about every replaced snapshot. Failures are logged and
// do not fail the run.
type Notifier interface {
	SnapshotReplaced(ctx context.Context, report *Report) error
}

type Params struct {
	Fetcher      *fetch.Fetcher
	Cache        *cache.Store
	Store        store.SnapshotWriter
	BaseURL      string
	LookbackDays int
	// WorkDir receives the download and the extraction directory of each
	// run; both are removed before Run returns.
	WorkDir string
}

type Pipeline struct {
	fetcher      *fetch.Fetcher
	cache        *cache.Store
	store        store.SnapshotWriter
	baseURL      string
	lookbackDays int
	workDir      string

	locker   Locker
	recorder Recorder
	notifier Notifier
	now      func() time.Time
}

type Option func(*Pipeline)

func WithLocker(l Locker) Option {
	return func(p *Pipeline) {
		p.locker = l
	}
}

func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) {
		p.notifier = n
	}
}

func New(params Params, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:      params.Fetcher,
		cache:        params.Cache,
		store:        params.Store,
		baseURL:      params.BaseURL,
		lookbackDays: params.LookbackDays,
		workDir:      params.WorkDir,
		locker:       NoLock{},
		now:          time.Now,
	}
	if p.fetcher == nil {
		p.fetcher = fetch.New()
	}
	if p.baseURL == "" {
		p.baseURL = fetch.DefaultBaseURL
	}
	if p.lookbackDays <= 0 {
		p.lookbackDays = fetch.DefaultLookbackDays
	}
	if p.workDir == "" {
		p.workDir = os.TempDir()
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(p)
	}
	return p
}

// run carries the state of one Run call.
type run struct {
	p      *Pipeline
	opts   RunOptions
	report *Report
	sw     *timing.Stopwatch
}

// Run performs one ingestion. The returned report is never nil; on failure
// it names the stage that failed and err is a *common.StageError (or a lease
// error when another run holds the store).
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	runID, err := gonanoid.New()
	if err != nil {
		return &Report{Outcome: OutcomeFailed}, fmt.Errorf("failed to generate run id: %w", err)
	}

	r := &run{
		p:      p,
		opts:   opts,
		report: &Report{RunID: runID},
		sw:     timing.NewStopwatch(),
	}
	logger.Info("Ingestion started", "run_id", runID, "trigger", opts.Trigger, "force", opts.Force)

	err = p.locker.WithLease(ctx, leaselock.SnapshotKey, r.execute)

	r.report.Stages = r.sw.Stages()
	r.report.Elapsed = r.sw.Elapsed()
	if err != nil {
		r.report.Outcome = OutcomeFailed
		if r.report.FailedStage == "" {
			r.report.FailedStage = common.Stage(err)
		}
		logger.Error("Ingestion failed",
			"run_id", runID,
			"stage", r.report.FailedStage,
			"duration", timing.FormatDuration(r.report.Elapsed),
			"err", err,
		)
	}
	if p.recorder != nil {
		p.recorder.ObserveRun(string(r.report.Outcome), p.now())
	}
	return r.report, err
}

// stage times fn and logs its start and end.
func (r *run) stage(name, resource string, fn func() error) error {
	logger.Info("Stage started", "run_id", r.report.RunID, "stage", name, "resource", resource)
	stop := r.sw.Track(name)
	err := fn()
	d := stop()
	if r.p.recorder != nil {
		r.p.recorder.ObserveStage(name, d)
	}
	if err != nil {
		r.report.FailedStage = name
		return err
	}
	logger.Info("Stage finished", "run_id", r.report.RunID, "stage", name, "resource", resource,
		"duration", timing.FormatDuration(d))
	return nil
}

func (r *run) execute(ctx context.Context) error {
	p := r.p

	var archiveURL string
	if err := r.stage(StageLocate, p.baseURL, func() error {
		u, err := p.fetcher.LocateLatest(ctx, p.baseURL, p.lookbackDays)
		archiveURL = u
		return err
	}); err != nil {
		return err
	}
	r.report.ArchiveURL = archiveURL

	var dl *fetch.Download
	if err := r.stage(StageDownload, archiveURL, func() error {
		d, err := p.fetcher.Download(ctx, archiveURL, p.workDir)
		dl = d
		return err
	}); err != nil {
		return err
	}
	defer func() {
		if err := dl.Remove(); err != nil {
			logger.Warn("Failed to remove downloaded archive", "run_id", r.report.RunID, "path", dl.Path, "err", err)
		}
	}()
	r.report.ArchiveSHA256 = dl.SHA256

	changed := true
	if err := r.stage(StageDetect, dl.Name, func() error {
		c, err := p.cache.HasChangedHash(ctx, dl.Name, dl.SHA256)
		changed = c
		return err
	}); err != nil {
		return err
	}
	if !changed && !r.opts.Force {
		r.report.Outcome = OutcomeUnchanged
		logger.Info("Archive unchanged since last ingest, skipping",
			"run_id", r.report.RunID, "archive", dl.Name, "sha256", dl.SHA256)
		return nil
	}

	extractDir, err := os.MkdirTemp(p.workDir, "extract-*")
	if err != nil {
		r.report.FailedStage = StageExtract
		return common.ExtractionError(p.workDir, fmt.Errorf("failed to create extraction dir: %w", err))
	}
	defer func() {
		if err := os.RemoveAll(extractDir); err != nil {
			logger.Warn("Failed to remove extraction dir", "run_id", r.report.RunID, "path", extractDir, "err", err)
		}
	}()

	var document string
	if err := r.stage(StageExtract, dl.Name, func() error {
		files, err := archive.Extract(dl.Path, extractDir)
		if err != nil {
			return err
		}
		document, err = archive.FindDocument(files, fetch.DocumentNameForArchive(dl.Name))
		return err
	}); err != nil {
		return err
	}

	var parsed *normalize.Result
	if err := r.stage(StageParse, document, func() error {
		res, err := normalize.Parse(document)
		parsed = res
		return err
	}); err != nil {
		return err
	}
	r.report.Stats = parsed.Stats
	r.logParseStats(parsed.Stats)
	if p.recorder != nil {
		p.recorder.ObserveParse(parsed.Stats)
	}

	source := common.SnapshotSource{URL: archiveURL, ArchiveSHA256: dl.SHA256}
	if err := r.stage(StageStore, "snapshot", func() error {
		info, err := p.store.ReplaceSnapshot(ctx, &parsed.Snapshot, source)
		r.report.Snapshot = info
		return err
	}); err != nil {
		return err
	}
	r.report.Outcome = OutcomeReplaced
	if p.recorder != nil {
		p.recorder.ObserveSnapshot(r.report.Snapshot)
	}

	// The hash is recorded only once the snapshot is in place, so a failed
	// replace is retried by the next run.
	if err := r.stage(StageCommit, dl.Name, func() error {
		f, err := dl.Open()
		if err != nil {
			return common.CacheIOError(dl.Name, err)
		}
		defer f.Close()
		return p.cache.Commit(ctx, dl.Name, f)
	}); err != nil {
		return err
	}

	// The snapshot is already replaced; a leftover archive is only disk usage.
	if err := p.cache.Prune(ctx, dl.Name); err != nil {
		logger.Warn("Failed to prune cached archives", "run_id", r.report.RunID, "keep", dl.Name, "err", err)
	}

	r.logSummary(&parsed.Snapshot)

	if p.notifier != nil {
		if err := p.notifier.SnapshotReplaced(ctx, r.report); err != nil {
			logger.Warn("Failed to announce replaced snapshot", "run_id", r.report.RunID, "err", err)
		}
	}
	return nil
}

func (r *run) logParseStats(stats normalize.Stats) {
	logger.Info("Document parsed",
		"run_id", r.report.RunID,
		"organization_records", stats.OrganizationRecords,
		"duplicate_organizations", stats.DuplicateOrganizations,
		"program_records", stats.ProgramRecords,
		"duplicate_programs", stats.DuplicatePrograms,
		"program_occurrences", stats.ProgramOccurrences,
		"records_without_id", stats.RecordsWithoutID,
	)
	if stats.ProgramsOutsideSupplement > 0 {
		logger.Warn("Programs outside any supplement were skipped",
			"run_id", r.report.RunID, "count", stats.ProgramsOutsideSupplement)
	}
	if stats.DanglingAssociations > 0 {
		logger.Warn("Dropped dangling associations",
			"run_id", r.report.RunID,
			"count", stats.DanglingAssociations,
			"sample", formatPairs(stats.DanglingSample),
		)
	}
}

func (r *run) logSummary(snapshot *common.Snapshot) {
	sample := snapshot.Associations
	if len(sample) > summarySamples {
		sample = sample[:summarySamples]
	}
	info := r.report.Snapshot
	logger.Info("Snapshot replaced",
		"run_id", r.report.RunID,
		"generation", info.Generation,
		"organizations", info.Organizations,
		"programs", info.Programs,
		"associations", info.Associations,
		"sample", formatPairs(sample),
		"duration", timing.FormatDuration(r.sw.Elapsed()),
	)
}

func formatPairs(pairs []common.Association) string {
	parts := make([]string, len(pairs))
	for i, a := range pairs {
		parts[i] = a.OrganizationID + "->" + a.ProgramID
	}
	return strings.Join(parts, ", ")
}

// ExitCode maps a Run error onto the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, common.ErrNotFound):
		return 2
	case errors.Is(err, common.ErrNetwork):
		return 3
	case errors.Is(err, common.ErrCacheIO):
		return 4
	case errors.Is(err, common.ErrExtraction):
		return 5
	case errors.Is(err, common.ErrParse):
		return 6
	case errors.Is(err, common.ErrStore):
		return 7
	case errors.Is(err, leaselock.ErrBusy):
		return 8
	default:
		return 1
	}
}
