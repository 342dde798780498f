package client

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"timeline/internal/config"
	"timeline/internal/errors"
	"timeline/internal/logging"
	"timeline/internal/server"
	"timeline/shared/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()

	// Repositories created by the test live under t.TempDir, which must be
	// removed after the server's repositories are closed.
	t.TempDir()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = config.BackendSQLite

	s, err := server.New(cfg, logging.Nop())
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})

	return New(ts.URL, opts...)
}

func TestClient_Workflow(t *testing.T) {
	c := newTestClient(t, WithHealthGate())
	ctx := context.Background()

	dir := t.TempDir()
	file := filepath.Join(dir, "notes.txt")
	dbPath := filepath.Join(dir, ".timeline")
	ref := types.RepoRef{DBPath: dbPath, FilePath: file}

	require.NoError(t, c.Health(ctx))

	require.NoError(t, os.WriteFile(file, []byte("first"), 0o644))
	first, err := c.Commit(ctx, types.CommitRequest{RepoRef: ref, Message: "first"})
	require.NoError(t, err)
	assert.Equal(t, "main", first.Branch)
	assert.Empty(t, first.ParentHash)

	latest, err := c.LatestCommit(ctx, dbPath, "")
	require.NoError(t, err)
	assert.Equal(t, first.Hash, latest)

	b, err := c.NewBranch(ctx, types.BranchRequest{RepoRef: ref, BranchName: "feature/draft", Checkout: true})
	require.NoError(t, err)
	assert.Equal(t, first.Hash, b.Head)

	current, err := c.CurrentBranch(ctx, dbPath)
	require.NoError(t, err)
	assert.Equal(t, "feature/draft", current)

	require.NoError(t, os.WriteFile(file, []byte("second"), 0o644))
	second, err := c.Commit(ctx, types.CommitRequest{RepoRef: ref, Message: "second"})
	require.NoError(t, err)
	assert.Equal(t, first.Hash, second.ParentHash)

	history, err := c.Checkpoints(ctx, dbPath, "feature/draft", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.Hash, history[0].Hash)

	history, err = c.Checkpoints(ctx, dbPath, "main", 0)
	require.NoError(t, err)
	require.Len(t, history, 1)

	names, err := c.Branches(ctx, dbPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"feature/draft", "main"}, names)

	_, err = c.Restore(ctx, types.RestoreRequest{RepoRef: ref, Hash: first.Hash})
	require.NoError(t, err)
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))

	switched, err := c.SwitchBranch(ctx, types.BranchRequest{RepoRef: types.RepoRef{DBPath: dbPath}, BranchName: "main"})
	require.NoError(t, err)
	assert.Equal(t, first.Hash, switched.Head)

	entries, err := c.Log(ctx, dbPath, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, second.Hash, entries[0].Hash)

	d, err := c.Diff(ctx, dbPath, first.Hash, second.Hash, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"-first", "+second"}, d.Hunks[0].Lines)
	assert.Contains(t, d.Patch, "-first\n+second\n")

	info, err := c.Info(ctx, dbPath)
	require.NoError(t, err)
	assert.Equal(t, "main", info.CurrentBranch)
	assert.EqualValues(t, 2, info.Checkpoints)
	assert.Equal(t, config.BackendSQLite, info.Backend)
}

func TestClient_Config(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), ".timeline")

	name, err := c.GetConfig(ctx, dbPath, "name")
	require.NoError(t, err)
	assert.Equal(t, "Anon", name)

	_, err = c.SetConfig(ctx, types.ConfigRequest{RepoRef: types.RepoRef{DBPath: dbPath}, Key: "name", Value: "Ada"})
	require.NoError(t, err)

	name, err = c.GetConfig(ctx, dbPath, "name")
	require.NoError(t, err)
	assert.Equal(t, "Ada", name)
}

func TestClient_Errors(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), ".timeline")

	_, err := c.SwitchBranch(ctx, types.BranchRequest{RepoRef: types.RepoRef{DBPath: dbPath}, BranchName: "nope"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeNotFound, errors.TypeOf(err))

	_, err = c.Commit(ctx, types.CommitRequest{Message: "no file"})
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeValidation, errors.TypeOf(err))

	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, 400, e.Code)
}

func TestClient_Unreachable(t *testing.T) {
	ts := httptest.NewServer(nil)
	url := ts.URL
	ts.Close()

	c := New(url, WithTimeout(time.Second), WithHealthGate())
	_, err := c.Branches(context.Background(), "/tmp/.timeline")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeUnavailable, errors.TypeOf(err))
}

func TestEscapeBranch(t *testing.T) {
	assert.Equal(t, "feature/x", escapeBranch("feature/x"))
	assert.Equal(t, "a%20b", escapeBranch("a b"))
}
