package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"timeline/internal/errors"
	"timeline/internal/logging"
	"timeline/internal/repository"
	"timeline/shared/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	mux    *http.ServeMux
	file   string
	dbPath string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	// Created before the manager so it is removed after the manager closes.
	dir := t.TempDir()

	registry, err := repository.NewRegistry(repository.DefaultOptions(), 4, nil)
	require.NoError(t, err)
	manager := repository.NewManager(registry, nil)
	t.Cleanup(func() { manager.Close() })

	mux := http.NewServeMux()
	NewHandler(manager, logging.Nop(), 0).Routes(mux)

	return &testEnv{
		mux:    mux,
		file:   filepath.Join(dir, "scene.blend"),
		dbPath: filepath.Join(dir, ".timeline"),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) escaped() string {
	return url.PathEscape(e.dbPath)
}

func (e *testEnv) commit(t *testing.T, data, msg string) types.Checkpoint {
	t.Helper()
	require.NoError(t, os.WriteFile(e.file, []byte(data), 0644))

	rec := e.do(t, "POST", "/commit", types.CommitRequest{
		RepoRef: types.RepoRef{DBPath: e.dbPath, FilePath: e.file},
		Message: msg,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var cp types.Checkpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cp))
	return cp
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func assertErrorType(t *testing.T, rec *httptest.ResponseRecorder, status int, kind errors.ErrorType) {
	t.Helper()
	assert.Equal(t, status, rec.Code)
	e := decode[errors.Error](t, rec)
	assert.Equal(t, kind, e.Type)
}

func TestHandler_Health(t *testing.T) {
	env := setupTestEnv(t)

	for _, path := range []string{"/healthcheck", "/health"} {
		rec := env.do(t, "GET", path, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", decode[types.HealthResponse](t, rec).Status)
	}
}

func TestHandler_Workflow(t *testing.T) {
	env := setupTestEnv(t)

	// Fresh repository reads
	rec := env.do(t, "GET", "/branches/"+env.escaped(), nil)
	assert.Equal(t, []string{"main"}, decode[[]string](t, rec))

	rec = env.do(t, "GET", "/latest-commit/"+env.escaped(), nil)
	assert.Equal(t, "", decode[string](t, rec))

	h1 := env.commit(t, "A", "first")
	h2 := env.commit(t, "B", "second")
	assert.Equal(t, h1.Hash, h2.ParentHash)

	rec = env.do(t, "GET", "/latest-commit/"+env.escaped(), nil)
	assert.Equal(t, h2.Hash, decode[string](t, rec))

	rec = env.do(t, "POST", "/branches/new", types.BranchRequest{
		RepoRef:    types.RepoRef{DBPath: env.dbPath, FilePath: env.file},
		BranchName: "feature/x",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, h2.Hash, decode[types.Branch](t, rec).Head)

	rec = env.do(t, "POST", "/branches/new", types.BranchRequest{
		RepoRef:    types.RepoRef{DBPath: env.dbPath},
		BranchName: "feature/x",
	})
	assertErrorType(t, rec, http.StatusConflict, errors.ErrorTypeAlreadyExists)

	rec = env.do(t, "POST", "/branches/switch", types.BranchRequest{
		RepoRef:    types.RepoRef{DBPath: env.dbPath, FilePath: env.file},
		BranchName: "feature/x",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, "GET", "/branches/current/"+env.escaped(), nil)
	assert.Equal(t, "feature/x", decode[string](t, rec))

	h3 := env.commit(t, "C", "third")
	assert.Equal(t, "feature/x", h3.Branch)

	rec = env.do(t, "GET", "/checkpoints/"+env.escaped()+"/main", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{h2.Hash, h1.Hash}, checkpointHashes(decode[[]types.Checkpoint](t, rec)))

	rec = env.do(t, "GET", "/checkpoints/"+env.escaped()+"/feature/x", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{h3.Hash, h2.Hash, h1.Hash}, checkpointHashes(decode[[]types.Checkpoint](t, rec)))

	rec = env.do(t, "GET", "/checkpoints/"+env.escaped()+"?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{h3.Hash}, checkpointHashes(decode[[]types.Checkpoint](t, rec)))

	rec = env.do(t, "GET", "/checkpoints/"+env.escaped()+"/nope", nil)
	assertErrorType(t, rec, http.StatusNotFound, errors.ErrorTypeNotFound)

	rec = env.do(t, "GET", "/latest-commit/"+env.escaped()+"?branch=main", nil)
	assert.Equal(t, h2.Hash, decode[string](t, rec))

	rec = env.do(t, "GET", "/log/"+env.escaped(), nil)
	assert.Len(t, decode[[]types.Checkpoint](t, rec), 3)

	rec = env.do(t, "GET", "/info/"+env.escaped(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[types.RepositoryInfo](t, rec)
	assert.Equal(t, uint64(3), info.Checkpoints)
	assert.Equal(t, "feature/x", info.CurrentBranch)

	// Switching back to main rewrites the tracked file with main's head.
	rec = env.do(t, "POST", "/branches/switch", types.BranchRequest{
		RepoRef:    types.RepoRef{DBPath: env.dbPath, FilePath: env.file},
		BranchName: "main",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	data, err := os.ReadFile(env.file)
	require.NoError(t, err)
	assert.Equal(t, []byte("B"), data)
}

func TestHandler_Restore(t *testing.T) {
	env := setupTestEnv(t)

	h1 := env.commit(t, "version one", "one")
	h2 := env.commit(t, "version two", "two")

	rec := env.do(t, "POST", "/restore", types.RestoreRequest{
		RepoRef: types.RepoRef{DBPath: env.dbPath, FilePath: env.file},
		Hash:    h1.Hash,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	data, err := os.ReadFile(env.file)
	require.NoError(t, err)
	assert.Equal(t, []byte("version one"), data)

	rec = env.do(t, "GET", "/latest-commit/"+env.escaped(), nil)
	assert.Equal(t, h2.Hash, decode[string](t, rec), "restore leaves the head alone")

	rec = env.do(t, "POST", "/restore", types.RestoreRequest{
		RepoRef: types.RepoRef{DBPath: env.dbPath, FilePath: env.file},
		Hash:    "deadbeef",
	})
	assertErrorType(t, rec, http.StatusNotFound, errors.ErrorTypeNotFound)
}

func TestHandler_Diff(t *testing.T) {
	env := setupTestEnv(t)

	h1 := env.commit(t, "one\ntwo\nthree\n", "first")
	h2 := env.commit(t, "one\n2\nthree\n", "second")

	rec := env.do(t, "GET", "/diff/"+env.escaped()+"?context=1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	d := decode[types.Diff](t, rec)
	assert.Equal(t, h1.Hash, d.From)
	assert.Equal(t, h2.Hash, d.To)
	assert.Equal(t, 1, d.Additions)
	assert.Equal(t, 1, d.Deletions)
	require.Len(t, d.Hunks, 1)
	assert.Equal(t, []string{" one", "-two", "+2", " three"}, d.Hunks[0].Lines)
	assert.Equal(t, "@@ -1,3 +1,3 @@\n one\n-two\n+2\n three\n", d.Patch)

	rec = env.do(t, "GET", "/diff/"+env.escaped()+"?to="+h1.Hash, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d = decode[types.Diff](t, rec)
	assert.Empty(t, d.From)
	assert.Equal(t, 3, d.Additions)

	rec = env.do(t, "GET", "/diff/"+env.escaped()+"?context=-1", nil)
	assertErrorType(t, rec, http.StatusBadRequest, errors.ErrorTypeValidation)
}

func TestWriteError_Status(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   errors.ErrorType
	}{
		{"typed", errors.NotFound("missing"), http.StatusNotFound, errors.ErrorTypeNotFound},
		{"untyped", fmt.Errorf("boom"), http.StatusInternalServerError, errors.ErrorTypeInternal},
	}

	h := NewHandler(nil, logging.Nop(), 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeError(rec, httptest.NewRequest("GET", "/status", nil), tt.err)
			assertErrorType(t, rec, tt.status, tt.kind)
		})
	}
}

func TestHandler_Errors(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   errors.ErrorType
	}{
		{
			name:   "commit missing file path",
			method: "POST",
			path:   "/commit",
			body:   map[string]string{"db_path": "/tmp/x", "message": "m"},
			status: http.StatusBadRequest,
			kind:   errors.ErrorTypeValidation,
		},
		{
			name:   "commit unreadable file",
			method: "POST",
			path:   "/commit",
			body:   types.CommitRequest{RepoRef: types.RepoRef{FilePath: filepath.Join(t.TempDir(), "missing.blend")}},
			status: http.StatusInternalServerError,
			kind:   errors.ErrorTypeIO,
		},
		{
			name:   "switch unknown branch",
			method: "POST",
			path:   "/branches/switch",
			body:   types.BranchRequest{RepoRef: types.RepoRef{DBPath: env.dbPath}, BranchName: "nope"},
			status: http.StatusNotFound,
			kind:   errors.ErrorTypeNotFound,
		},
		{
			name:   "invalid branch name",
			method: "POST",
			path:   "/branches/new",
			body:   types.BranchRequest{RepoRef: types.RepoRef{DBPath: env.dbPath}, BranchName: "has space"},
			status: http.StatusBadRequest,
			kind:   errors.ErrorTypeValidation,
		},
		{
			name:   "malformed body",
			method: "POST",
			path:   "/branches/new",
			body:   "not an object",
			status: http.StatusBadRequest,
			kind:   errors.ErrorTypeValidation,
		},
		{
			name:   "bad limit",
			method: "GET",
			path:   "/log/" + env.escaped() + "?limit=-1",
			status: http.StatusBadRequest,
			kind:   errors.ErrorTypeValidation,
		},
		{
			name:   "unknown setting",
			method: "GET",
			path:   "/config/" + env.escaped() + "/email",
			status: http.StatusBadRequest,
			kind:   errors.ErrorTypeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			assertErrorType(t, rec, tt.status, tt.kind)
		})
	}
}

func TestHandler_ExpectedHeadConflict(t *testing.T) {
	env := setupTestEnv(t)
	env.commit(t, "A", "first")

	stale := ""
	require.NoError(t, os.WriteFile(env.file, []byte("B"), 0644))
	rec := env.do(t, "POST", "/commit", types.CommitRequest{
		RepoRef:      types.RepoRef{DBPath: env.dbPath, FilePath: env.file},
		ExpectedHead: &stale,
	})
	assertErrorType(t, rec, http.StatusConflict, errors.ErrorTypeIntegrity)
}

func TestHandler_Config(t *testing.T) {
	env := setupTestEnv(t)

	rec := env.do(t, "GET", "/config/"+env.escaped()+"/name", nil)
	assert.Equal(t, repository.DefaultName, decode[string](t, rec))

	rec = env.do(t, "POST", "/config", types.ConfigRequest{
		RepoRef: types.RepoRef{DBPath: env.dbPath},
		Key:     "name",
		Value:   "Ada",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, "GET", "/config/"+env.escaped()+"/name", nil)
	assert.Equal(t, "Ada", decode[string](t, rec))

	cp := env.commit(t, "A", "by ada")
	assert.Equal(t, "Ada", cp.Author)
}

func TestHandler_DerivedIdentity(t *testing.T) {
	env := setupTestEnv(t)
	require.NoError(t, os.WriteFile(env.file, []byte("A"), 0644))

	rec := env.do(t, "POST", "/commit", types.CommitRequest{
		RepoRef: types.RepoRef{FilePath: env.file},
		Message: "no db path",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cp := decode[types.Checkpoint](t, rec)

	id, err := repository.MetadataPath(env.file)
	require.NoError(t, err)
	rec = env.do(t, "GET", "/latest-commit/"+url.PathEscape(id), nil)
	assert.Equal(t, cp.Hash, decode[string](t, rec))
}

func checkpointHashes(cps []types.Checkpoint) []string {
	out := make([]string, len(cps))
	for i, cp := range cps {
		out[i] = cp.Hash
	}
	return out
}
