package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"timeline/shared/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommitter struct {
	mu   sync.Mutex
	reqs []types.CommitRequest
}

func (f *fakeCommitter) Commit(_ context.Context, req types.CommitRequest) (*types.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return &types.Checkpoint{Hash: strings.Repeat("a", 64), Message: req.Message}, nil
}

func (f *fakeCommitter) requests() []types.CommitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.CommitRequest(nil), f.reqs...)
}

func startWatcher(t *testing.T, file string, c Committer) {
	t.Helper()

	w, err := New(file, c, Options{Debounce: 50 * time.Millisecond}, nil)
	require.NoError(t, err)
	w.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "draft.txt")
	require.NoError(t, os.WriteFile(file, []byte("v0"), 0o644))

	c := &fakeCommitter{}
	startWatcher(t, file, c)

	for i := 1; i <= 5; i++ {
		require.NoError(t, os.WriteFile(file, []byte{'v', byte('0' + i)}, 0o644))
	}

	require.Eventually(t, func() bool { return len(c.requests()) == 1 }, 3*time.Second, 10*time.Millisecond)

	req := c.requests()[0]
	assert.Equal(t, "Autosave 2024-05-01T12:00:00Z", req.Message)
	abs, _ := filepath.Abs(file)
	assert.Equal(t, abs, req.FilePath)

	assert.Never(t, func() bool { return len(c.requests()) > 1 }, 300*time.Millisecond, 20*time.Millisecond)
}

func TestWatcher_IgnoresOtherFilesAndUnchangedContent(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "draft.txt")
	require.NoError(t, os.WriteFile(file, []byte("same"), 0o644))

	c := &fakeCommitter{}
	startWatcher(t, file, c)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(file, []byte("same"), 0o644))

	assert.Never(t, func() bool { return len(c.requests()) > 0 }, 300*time.Millisecond, 20*time.Millisecond)
}

func TestWatcher_RenameOverFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "draft.txt")
	require.NoError(t, os.WriteFile(file, []byte("old"), 0o644))

	c := &fakeCommitter{}
	startWatcher(t, file, c)

	tmp := filepath.Join(dir, ".draft.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("new"), 0o644))
	require.NoError(t, os.Rename(tmp, file))

	require.Eventually(t, func() bool { return len(c.requests()) == 1 }, 3*time.Second, 10*time.Millisecond)
}
