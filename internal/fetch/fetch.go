// Package fetch locates and downloads the dated registry archive.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultBaseURL         = "https://islod.obrnadzor.gov.ru/opendata"
	DefaultLookbackDays    = 3
	DefaultProbeTimeout    = 5 * time.Second
	DefaultDownloadTimeout = 10 * time.Minute

	structureSuffix = "-structure-20160713"
	dateLayout      = "20060102"
)

// ArchiveName is the file name of the archive published on date.
func ArchiveName(date time.Time) string {
	return "data-" + date.Format(dateLayout) + structureSuffix + ".zip"
}

// DocumentName is the name of the XML document inside the archive published on date.
func DocumentName(date time.Time) string {
	return "data-" + date.Format(dateLayout) + structureSuffix + ".xml"
}

// DocumentNameForArchive maps an archive file name to the document name it
// is expected to contain.
func DocumentNameForArchive(archiveName string) string {
	base := path.Base(archiveName)
	return strings.TrimSuffix(base, path.Ext(base)) + ".xml"
}

// Download is an archive fetched into a temporary file.
type Download struct {
	URL    string
	Path   string
	Name   string
	Size   int64
	SHA256 string
}

// Open reopens the downloaded file for reading.
func (d *Download) Open() (*os.File, error) {
	return os.Open(d.Path)
}

// Remove deletes the temporary file. It is safe to call more than once.
func (d *Download) Remove() error {
	if d == nil || d.Path == "" {
		return nil
	}
	if err := os.Remove(d.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type Fetcher struct {
	client          *http.Client
	now             func() time.Time
	probeTimeout    time.Duration
	downloadTimeout time.Duration
}

type Option func(*Fetcher)

// WithClock replaces the clock used to derive candidate dates.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) { f.client = client }
}

func WithProbeTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.probeTimeout = d
		}
	}
}

func WithDownloadTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.downloadTimeout = d
		}
	}
}

func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:          http.DefaultClient,
		now:             time.Now,
		probeTimeout:    DefaultProbeTimeout,
		downloadTimeout: DefaultDownloadTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Candidates lists the archive URLs for the days 1..lookbackDays before
// today, most recent first.
func (f *Fetcher) Candidates(baseURL string, lookbackDays int) []string {
	base := strings.TrimRight(baseURL, "/")
	today := f.now()
	out := make([]string, 0, lookbackDays)
	for i := 1; i <= lookbackDays; i++ {
		out = append(out, base+"/"+ArchiveName(today.AddDate(0, 0, -i)))
	}
	return out
}

// LocateLatest probes the candidate URLs concurrently and returns the most
// recent one that answers a HEAD request with a 2xx status. Probe failures
// only mean the candidate is skipped.
func (f *Fetcher) LocateLatest(ctx context.Context, baseURL string, maxLookbackDays int) (string, error) {
	if maxLookbackDays <= 0 {
		maxLookbackDays = DefaultLookbackDays
	}
	candidates := f.Candidates(baseURL, maxLookbackDays)
	found := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	for i, candidate := range candidates {
		g.Go(func() error {
			if err := f.probe(gctx, candidate); err != nil {
				logger.Debug("Archive probe failed", "url", candidate, "err", err)
				return nil
			}
			found[i] = true
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return "", common.NetworkError(baseURL, err)
	}

	for i, ok := range found {
		if ok {
			return candidates[i], nil
		}
	}
	return "", common.NotFoundError(baseURL, fmt.Errorf("tried %d candidates", len(candidates)))
}

func (f *Fetcher) probe(ctx context.Context, rawURL string) error {
	ctx, cancel := context.WithTimeout(ctx, f.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Download fetches rawURL into a temporary file inside dir and hashes it
// while streaming. The caller owns the returned file and must Remove it.
func (f *Fetcher) Download(ctx context.Context, rawURL, dir string) (*Download, error) {
	ctx, cancel := context.WithTimeout(ctx, f.downloadTimeout)
	defer cancel()

	name := archiveNameFromURL(rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, common.NetworkError(rawURL, fmt.Errorf("failed to create request: %w", err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, common.NetworkError(rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, common.NetworkError(rawURL, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, common.NetworkError(rawURL, fmt.Errorf("failed to create download dir: %w", err))
	}
	tmp, err := os.CreateTemp(dir, name+".*.part")
	if err != nil {
		return nil, common.NetworkError(rawURL, fmt.Errorf("failed to create temp file: %w", err))
	}

	hasher := sha256.New()
	size, copyErr := io.Copy(io.MultiWriter(tmp, hasher), resp.Body)
	closeErr := tmp.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(tmp.Name())
		return nil, common.NetworkError(rawURL, fmt.Errorf("failed to read body: %w", copyErr))
	}

	return &Download{
		URL:    rawURL,
		Path:   tmp.Name(),
		Name:   name,
		Size:   size,
		SHA256: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

func archiveNameFromURL(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		if base := path.Base(u.Path); base != "/" && base != "." {
			return base
		}
	}
	return "archive.zip"
}
