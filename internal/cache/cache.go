// Package cache records a content hash per resource so a run can tell
// whether the published archive changed since the last successful ingest.
package cache

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/logger"
)

// TableName is the blob holding the key:hash table.
const TableName = "hashes.txt"

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrInvalidKey   = errors.New("invalid cache key")
)

// Backend stores named blobs in a flat namespace.
type Backend interface {
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, r io.Reader) error
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]string, error)
}

// Store answers change-detection questions against the hash table kept in
// its backend. It holds no state between calls.
type Store struct {
	backend Backend
}

func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// HashReader returns the hex encoded sha256 of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Lookup returns the recorded hash for key.
func (s *Store) Lookup(ctx context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, common.CacheIOError(key, err)
	}
	table, err := s.readTable(ctx)
	if err != nil {
		return "", false, common.CacheIOError(TableName, err)
	}
	hash, ok := table[key]
	return hash, ok, nil
}

// HasChanged reports whether content hashes differently from the value
// recorded for key. A key without a record counts as changed.
func (s *Store) HasChanged(ctx context.Context, key string, content io.Reader) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, common.CacheIOError(key, err)
	}
	hash, err := HashReader(content)
	if err != nil {
		return false, common.CacheIOError(key, fmt.Errorf("failed to hash content: %w", err))
	}
	return s.HasChangedHash(ctx, key, hash)
}

// HasChangedHash is HasChanged for a precomputed hex sha256.
func (s *Store) HasChangedHash(ctx context.Context, key, hash string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, common.CacheIOError(key, err)
	}
	table, err := s.readTable(ctx)
	if err != nil {
		return false, common.CacheIOError(TableName, err)
	}
	recorded, ok := table[key]
	return !ok || !strings.EqualFold(recorded, hash), nil
}

// Commit stores content under key and records its hash. Entries for other
// keys are preserved.
func (s *Store) Commit(ctx context.Context, key string, content io.Reader) error {
	if err := validateKey(key); err != nil {
		return common.CacheIOError(key, err)
	}

	var hash string
	if rs, ok := content.(io.ReadSeeker); ok {
		h, err := HashReader(rs)
		if err != nil {
			return common.CacheIOError(key, fmt.Errorf("failed to hash content: %w", err))
		}
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return common.CacheIOError(key, fmt.Errorf("failed to rewind content: %w", err))
		}
		if err := s.backend.Put(ctx, key, rs); err != nil {
			return common.CacheIOError(key, err)
		}
		hash = h
	} else {
		hasher := sha256.New()
		if err := s.backend.Put(ctx, key, io.TeeReader(content, hasher)); err != nil {
			return common.CacheIOError(key, err)
		}
		hash = hex.EncodeToString(hasher.Sum(nil))
	}

	table, err := s.readTable(ctx)
	if err != nil {
		return common.CacheIOError(TableName, err)
	}
	table[key] = hash
	if err := s.backend.Put(ctx, TableName, bytes.NewReader(encodeTable(table))); err != nil {
		return common.CacheIOError(TableName, err)
	}

	logger.Debug("Cache entry committed", "key", key, "sha256", hash)
	return nil
}

// Prune deletes every cached blob except the hash table and the names in keep.
func (s *Store) Prune(ctx context.Context, keep ...string) error {
	names, err := s.backend.List(ctx)
	if err != nil {
		return common.CacheIOError("", err)
	}
	for _, name := range names {
		if name == TableName || slices.Contains(keep, name) {
			continue
		}
		if err := s.backend.Delete(ctx, name); err != nil {
			return common.CacheIOError(name, err)
		}
		logger.Debug("Pruned cached blob", "name", name)
	}
	return nil
}

func (s *Store) readTable(ctx context.Context) (map[string]string, error) {
	data, err := s.backend.Get(ctx, TableName)
	if errors.Is(err, ErrBlobNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeTable(data), nil
}

func decodeTable(data []byte) map[string]string {
	table := map[string]string{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		key, hash, ok := strings.Cut(line, ":")
		key, hash = strings.TrimSpace(key), strings.TrimSpace(hash)
		if !ok || key == "" || !isHexSHA256(hash) {
			logger.Warn("Skipping malformed cache table line", "line", lineNo)
			continue
		}
		table[key] = strings.ToLower(hash)
	}
	return table
}

func encodeTable(table map[string]string) []byte {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k)
		buf.WriteByte(':')
		buf.WriteString(table[k])
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func isHexSHA256(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func validateKey(key string) error {
	switch {
	case key == "", key == TableName:
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.ContainsAny(key, ":\r\n/\\"):
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidKey, key)
	}
	return nil
}
