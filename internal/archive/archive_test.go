package archive

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
)

func writeZip(t *testing.T, entries map[string]string, order []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	for _, name := range order {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("failed to add %s: %v", name, err)
		}
		if _, err := w.Write([]byte(entries[name])); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close zip file: %v", err)
	}
	return path
}

func TestExtract_WritesEntriesInOrder(t *testing.T) {
	archivePath := writeZip(t, map[string]string{
		"data.xml":       "<root/>",
		"docs/readme.md": "hello",
	}, []string{"data.xml", "docs/readme.md"})

	dest := filepath.Join(t.TempDir(), "out")
	files, err := Extract(archivePath, dest)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(files))
	}
	if filepath.Base(files[0]) != "data.xml" || filepath.Base(files[1]) != "readme.md" {
		t.Fatalf("unexpected order %v", files)
	}
	data, err := os.ReadFile(files[1])
	if err != nil || string(data) != "hello" {
		t.Fatalf("unexpected content %q (%v)", data, err)
	}
}

func TestExtract_CorruptArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.zip")
	if err := os.WriteFile(path, []byte("this is not a zip"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	_, err := Extract(path, t.TempDir())
	if !errors.Is(err, common.ErrExtraction) {
		t.Fatalf("expected ErrExtraction, got %v", err)
	}
}

func TestExtract_RejectsZipSlip(t *testing.T) {
	archivePath := writeZip(t, map[string]string{
		"../escape.txt": "boom",
	}, []string{"../escape.txt"})

	parent := t.TempDir()
	dest := filepath.Join(parent, "out")
	_, err := Extract(archivePath, dest)
	if !errors.Is(err, common.ErrExtraction) || !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("expected unsafe path extraction error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(parent, "escape.txt")); !os.IsNotExist(statErr) {
		t.Fatal("expected nothing written outside destination")
	}
}

func TestExtract_EntryTooLarge(t *testing.T) {
	archivePath := writeZip(t, map[string]string{
		"big.xml": strings.Repeat("x", 1024),
	}, []string{"big.xml"})

	_, err := Extractor{MaxEntrySize: 100}.Extract(archivePath, t.TempDir())
	if !errors.Is(err, ErrEntryTooLarge) {
		t.Fatalf("expected ErrEntryTooLarge, got %v", err)
	}
}

func TestFindDocument(t *testing.T) {
	files := []string{"/x/readme.txt", "/x/data-20240309-structure-20160713.xml", "/x/other.xml"}
	got, err := FindDocument(files, "data-20240309-structure-20160713.xml")
	if err != nil || got != files[1] {
		t.Fatalf("expected exact match, got %s (%v)", got, err)
	}

	got, err = FindDocument([]string{"/x/readme.txt", "/x/renamed.XML"}, "data-20240309-structure-20160713.xml")
	if err != nil || got != "/x/renamed.XML" {
		t.Fatalf("expected single xml fallback, got %s (%v)", got, err)
	}

	_, err = FindDocument([]string{"/x/a.xml", "/x/b.xml"}, "data.xml")
	if !errors.Is(err, common.ErrExtraction) {
		t.Fatalf("expected ErrExtraction for ambiguous archive, got %v", err)
	}

	_, err = FindDocument(nil, "data.xml")
	if !errors.Is(err, ErrNoDocument) {
		t.Fatalf("expected ErrNoDocument, got %v", err)
	}
}
