// Package archive unpacks downloaded registry archives.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"
)

// DefaultMaxEntrySize bounds the uncompressed size of a single entry.
const DefaultMaxEntrySize int64 = 8 << 30

var (
	ErrUnsafePath    = errors.New("entry escapes destination")
	ErrEntryTooLarge = errors.New("entry exceeds size limit")
	ErrNoDocument    = errors.New("no document in archive")
)

type Extractor struct {
	MaxEntrySize int64
}

// Extract unpacks archivePath into destDir using DefaultMaxEntrySize.
func Extract(archivePath, destDir string) ([]string, error) {
	return Extractor{}.Extract(archivePath, destDir)
}

// Extract creates destDir if needed and writes every entry below it. The
// returned paths follow archive order. On error, files already written stay
// in place; callers discard destDir.
func (e Extractor) Extract(archivePath, destDir string) ([]string, error) {
	limit := e.MaxEntrySize
	if limit <= 0 {
		limit = DefaultMaxEntrySize
	}

	// Insecure names are rejected per entry by safeJoin below.
	zr, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, common.ExtractionError(archivePath, fmt.Errorf("failed to open archive: %w", err))
	}
	defer zr.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, common.ExtractionError(destDir, fmt.Errorf("failed to create destination: %w", err))
	}
	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, common.ExtractionError(destDir, err)
	}

	var written []string
	for _, f := range zr.File {
		target, err := safeJoin(root, f.Name)
		if err != nil {
			return nil, common.ExtractionError(f.Name, err)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, common.ExtractionError(f.Name, err)
			}
			continue
		}
		if f.UncompressedSize64 > uint64(limit) {
			return nil, common.ExtractionError(f.Name, fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, f.UncompressedSize64))
		}

		if err := writeEntry(f, target, limit); err != nil {
			return nil, common.ExtractionError(f.Name, err)
		}
		written = append(written, target)
	}

	logger.Debug("Archive extracted", "archive", archivePath, "files", len(written))
	return written, nil
}

func writeEntry(f *zip.File, target string, limit int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open entry: %w", err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	// The header size can lie, so the copy is capped as well.
	n, copyErr := io.Copy(out, io.LimitReader(rc, limit+1))
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to write entry: %w", copyErr)
	}
	if n > limit {
		return ErrEntryTooLarge
	}
	return closeErr
}

func safeJoin(root, name string) (string, error) {
	clean := filepath.FromSlash(name)
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	target := filepath.Join(root, clean)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

// FindDocument picks the registry document among extracted files. It prefers
// the file named want; otherwise a single .xml file is accepted.
func FindDocument(files []string, want string) (string, error) {
	var xmlFiles []string
	for _, f := range files {
		if filepath.Base(f) == want {
			return f, nil
		}
		if strings.EqualFold(filepath.Ext(f), ".xml") {
			xmlFiles = append(xmlFiles, f)
		}
	}
	if len(xmlFiles) == 1 {
		logger.Warn("Expected document not found, using the only XML file in the archive",
			"expected", want, "using", filepath.Base(xmlFiles[0]))
		return xmlFiles[0], nil
	}
	return "", common.ExtractionError(want, fmt.Errorf("%w: found %d xml files", ErrNoDocument, len(xmlFiles)))
}
