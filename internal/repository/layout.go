// internal/repository/layout.go
package repository

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"timeline/internal/config"
	"timeline/internal/content"
	"timeline/internal/errors"
	"timeline/internal/storage"
)

const (
	metadataSuffix = ".timeline"
	badgerDir      = "db"
	sqliteFile     = "repo.sqlite"
	objectsDir     = "objects"
)

// Options configures how repositories are opened.
type Options struct {
	Backend     string // backend for new repositories; existing ones keep theirs
	CacheSize   int
	IOTimeout   time.Duration
	SyncWrites  bool
	Compression content.CompressionOptions
}

// OptionsFromConfig maps the storage section of cfg to Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Backend:    cfg.Storage.Backend,
		CacheSize:  cfg.Storage.CacheSize,
		IOTimeout:  cfg.Storage.IOTimeout,
		SyncWrites: cfg.Storage.SyncWrites,
		Compression: content.CompressionOptions{
			MinSize: cfg.Storage.Compression.MinSize,
			Level:   cfg.Storage.Compression.Level,
		},
	}
}

// DefaultOptions are used by tests and embedded callers.
func DefaultOptions() Options {
	return Options{
		Backend:     config.BackendBadger,
		CacheSize:   8,
		IOTimeout:   30 * time.Second,
		SyncWrites:  true,
		Compression: content.DefaultCompressionOptions(),
	}
}

// MetadataPath derives the repository identity of a tracked file: a hidden
// sibling named after the file, so two files in one directory never share a
// repository and the identity never equals a tracked file's own name.
func MetadataPath(tracked string) (string, error) {
	if strings.TrimSpace(tracked) == "" {
		return "", errors.ValidationError("file path is required", nil)
	}
	abs, err := filepath.Abs(tracked)
	if err != nil {
		return "", errors.ValidationError(fmt.Sprintf("resolving %s", tracked), map[string]string{"error": err.Error()})
	}
	base := filepath.Base(abs)
	if base == string(filepath.Separator) || base == "." {
		return "", errors.ValidationError("file path must name a file", map[string]string{"file_path": tracked})
	}
	return filepath.Join(filepath.Dir(abs), "."+base+metadataSuffix), nil
}

// ResolveIdentity returns the repository identity for a request: dbPath when
// the caller sent one, otherwise the path derived from filePath.
func ResolveIdentity(dbPath, filePath string) (string, error) {
	if strings.TrimSpace(dbPath) != "" {
		abs, err := filepath.Abs(dbPath)
		if err != nil {
			return "", errors.ValidationError(fmt.Sprintf("resolving %s", dbPath), map[string]string{"error": err.Error()})
		}
		return abs, nil
	}
	if strings.TrimSpace(filePath) == "" {
		return "", errors.ValidationError("db_path or file_path is required", nil)
	}
	return MetadataPath(filePath)
}

// Exists reports whether a repository has been created at root.
func Exists(root string) bool {
	return detectBackend(root) != ""
}

// detectBackend returns the backend of the repository at root, or "" if
// there is none.
func detectBackend(root string) string {
	if _, err := os.Stat(filepath.Join(root, sqliteFile)); err == nil {
		return config.BackendSQLite
	}
	if info, err := os.Stat(filepath.Join(root, badgerDir)); err == nil && info.IsDir() {
		return config.BackendBadger
	}
	return ""
}

// initialize creates the repository directory layout under root.
func initialize(root string) error {
	dirs := []string{
		root,
		filepath.Join(root, objectsDir),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	return nil
}

func openStore(root string, opts Options) (storage.Store, string, error) {
	backend := detectBackend(root)
	if backend == "" {
		backend = opts.Backend
	}

	switch backend {
	case config.BackendSQLite:
		s, err := storage.OpenSQLite(filepath.Join(root, sqliteFile))
		return s, backend, err
	case config.BackendBadger, "":
		s, err := storage.OpenBadger(filepath.Join(root, badgerDir), storage.BadgerOptions{SyncWrites: opts.SyncWrites})
		return s, config.BackendBadger, err
	default:
		return nil, "", fmt.Errorf("unknown storage backend %q", backend)
	}
}
