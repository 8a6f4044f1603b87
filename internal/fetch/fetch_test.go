package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
)

var fixedNow = time.Date(2024, 3, 10, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func TestNames(t *testing.T) {
	date := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	if got := ArchiveName(date); got != "data-20240309-structure-20160713.zip" {
		t.Fatalf("unexpected archive name %s", got)
	}
	if got := DocumentName(date); got != "data-20240309-structure-20160713.xml" {
		t.Fatalf("unexpected document name %s", got)
	}
	if got := DocumentNameForArchive("/tmp/x/data-20240309-structure-20160713.zip"); got != "data-20240309-structure-20160713.xml" {
		t.Fatalf("unexpected document name for archive %s", got)
	}
}

func TestCandidates_MostRecentFirst(t *testing.T) {
	f := New(WithClock(fixedClock))
	got := f.Candidates("http://example.test/opendata/", 3)
	want := []string{
		"http://example.test/opendata/data-20240309-structure-20160713.zip",
		"http://example.test/opendata/data-20240308-structure-20160713.zip",
		"http://example.test/opendata/data-20240307-structure-20160713.zip",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d candidates, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidate %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestLocateLatest_PrefersMostRecentExisting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("expected HEAD, got %s", r.Method)
		}
		switch {
		case strings.Contains(r.URL.Path, "20240309"):
			w.WriteHeader(http.StatusNotFound)
		case strings.Contains(r.URL.Path, "20240308"), strings.Contains(r.URL.Path, "20240307"):
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := New(WithClock(fixedClock), WithHTTPClient(srv.Client()))
	got, err := f.LocateLatest(context.Background(), srv.URL, 3)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !strings.HasSuffix(got, "data-20240308-structure-20160713.zip") {
		t.Fatalf("expected the 8th, got %s", got)
	}
}

func TestLocateLatest_SlowProbeIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "20240309") {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(WithClock(fixedClock), WithHTTPClient(srv.Client()), WithProbeTimeout(50*time.Millisecond))
	got, err := f.LocateLatest(context.Background(), srv.URL, 3)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !strings.HasSuffix(got, "data-20240308-structure-20160713.zip") {
		t.Fatalf("expected the 8th after timed out probe, got %s", got)
	}
}

func TestLocateLatest_NotFound(t *testing.T) {
	var probes atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(WithClock(fixedClock), WithHTTPClient(srv.Client()))
	_, err := f.LocateLatest(context.Background(), srv.URL, 3)
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if probes.Load() != 3 {
		t.Fatalf("expected 3 probes, got %d", probes.Load())
	}
}

func TestDownload_WritesFileAndHash(t *testing.T) {
	body := []byte("zip-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := New(WithHTTPClient(srv.Client()))
	dl, err := f.Download(context.Background(), srv.URL+"/data-20240309-structure-20160713.zip", dir)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	defer dl.Remove()

	if dl.Name != "data-20240309-structure-20160713.zip" {
		t.Fatalf("unexpected name %s", dl.Name)
	}
	if filepath.Dir(dl.Path) != dir {
		t.Fatalf("expected file inside %s, got %s", dir, dl.Path)
	}
	sum := sha256.Sum256(body)
	if dl.SHA256 != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected hash %s", dl.SHA256)
	}
	if dl.Size != int64(len(body)) {
		t.Fatalf("expected size %d, got %d", len(body), dl.Size)
	}
	data, err := os.ReadFile(dl.Path)
	if err != nil || string(data) != string(body) {
		t.Fatalf("unexpected file content %q (%v)", data, err)
	}

	if err := dl.Remove(); err != nil {
		t.Fatalf("expected nil error on remove, got %v", err)
	}
	if _, err := os.Stat(dl.Path); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed, got %v", err)
	}
	if err := dl.Remove(); err != nil {
		t.Fatalf("expected second remove to be a no-op, got %v", err)
	}
}

func TestDownload_Non2xxIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := New(WithHTTPClient(srv.Client()))
	_, err := f.Download(context.Background(), srv.URL+"/a.zip", dir)
	if !errors.Is(err, common.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected no files left behind, got %d", len(entries))
	}
}

func TestDownload_TimeoutIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	f := New(WithHTTPClient(srv.Client()), WithDownloadTimeout(50*time.Millisecond))
	_, err := f.Download(context.Background(), srv.URL+"/a.zip", t.TempDir())
	if !errors.Is(err, common.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}
