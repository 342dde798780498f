// Package fileio runs filesystem operations under a context deadline and
// writes files atomically. Timeouts and failures come back as IO errors.
package fileio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"timeline/internal/errors"
)

// Run executes fn and waits for it or for ctx, whichever finishes first.
// When ctx wins, fn keeps running in the background and its result is dropped.
func Run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return errors.IO(op, err)
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		if err != nil {
			if _, ok := errors.As(err); ok {
				return err
			}
			return errors.IO(op, err)
		}
		return nil
	case <-ctx.Done():
		return errors.IO(op, ctx.Err())
	}
}

// ReadFile reads path under ctx.
func ReadFile(ctx context.Context, path string) ([]byte, error) {
	var data []byte
	err := Run(ctx, fmt.Sprintf("reading %s", path), func() error {
		var err error
		data, err = os.ReadFile(path)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteFileAtomic writes data to a temp file next to path, syncs it and
// renames it over path, so readers see either the old or the new content.
// If ctx expires first the rename is skipped, so a write reported as failed
// does not land later.
func WriteFileAtomic(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	return Run(ctx, fmt.Sprintf("writing %s", path), func() error {
		return writeAtomic(ctx, path, data, perm)
	})
}

func writeAtomic(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("setting permissions: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("abandoning write: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems refuse fsync on directories; the rename already happened.
	_ = d.Sync()
	return nil
}
