package fileio

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"timeline/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.blend")
	ctx := context.Background()

	require.NoError(t, WriteFileAtomic(ctx, path, []byte("v1"), 0644))
	require.NoError(t, WriteFileAtomic(ctx, path, []byte("v2"), 0644))

	data, err := ReadFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestReadFileMissingIsIOError(t *testing.T) {
	_, err := ReadFile(context.Background(), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeIO))
}

func TestRunTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	err := Run(ctx, "slow op", func() error {
		<-release
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrorTypeIO))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunKeepsTypedErrors(t *testing.T) {
	err := Run(context.Background(), "op", func() error {
		return errors.NotFound("checkpoint not found")
	})
	assert.True(t, errors.Is(err, errors.ErrorTypeNotFound))
}

func TestWriteAtomicSkipsRenameAfterDeadline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.blend")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := writeAtomic(ctx, path, []byte("late"), 0644)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), data)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}
