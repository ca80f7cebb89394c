// Package local persists cached responses on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/favicon-edge/internal/cache"
)

// Namer maps cache keys to relative object paths.
type Namer interface {
	ObjectName(prefix, key string) string
}

// Config captures the parameters for the filesystem cache.
type Config struct {
	// BaseDir is the root directory where entries are stored.
	BaseDir string
	Prefix  string
}

// Store implements cache.Store with one JSON file per key.
type Store struct {
	baseDir string
	prefix  string
	namer   Namer
}

// New creates a filesystem-backed store, creating BaseDir when missing and
// failing fast when it is not writable.
func New(cfg Config, namer Namer) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if namer == nil {
		return nil, fmt.Errorf("namer is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{baseDir: cfg.BaseDir, prefix: cfg.Prefix, namer: namer}, nil
}

// Match reads the entry for key.
func (s *Store) Match(_ context.Context, key string) (cache.Entry, error) {
	fullPath, err := s.path(key)
	if err != nil {
		return cache.Entry{}, err
	}
	// #nosec G304 -- path is derived from a digest and checked against baseDir.
	data, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return cache.Entry{}, cache.ErrMiss
	}
	if err != nil {
		return cache.Entry{}, fmt.Errorf("read cache file: %w", err)
	}
	return cache.Decode(data)
}

// Put writes entry atomically via a temp file and rename.
func (s *Store) Put(_ context.Context, key string, entry cache.Entry) error {
	fullPath, err := s.path(key)
	if err != nil {
		return err
	}
	data, err := cache.Encode(entry)
	if err != nil {
		return err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".entry-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

func (s *Store) path(key string) (string, error) {
	fullPath := filepath.Join(s.baseDir, filepath.FromSlash(s.namer.ObjectName(s.prefix, key)))
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
