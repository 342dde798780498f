package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"timeline/internal/config"
	"timeline/internal/logging"
	"timeline/internal/middleware"
	"timeline/shared/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.ShutdownTimeout = time.Second
	return cfg
}

func TestServer_Handler(t *testing.T) {
	s, err := New(testConfig(t), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.manager.Close() })

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthcheck", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))

	var health types.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "timeline_http_requests_total"))
}

func TestServer_ServeAndShutdown(t *testing.T) {
	s, err := New(testConfig(t), logging.Nop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Error(t, s.manager.Healthcheck())
}

func TestServer_ShutdownBoundsRepositoryClose(t *testing.T) {
	project := filepath.Join(t.TempDir(), "project")
	require.NoError(t, os.MkdirAll(project, 0o755))
	file := filepath.Join(project, "scene.blend")
	require.NoError(t, os.WriteFile(file, []byte("scene"), 0o644))

	cfg := testConfig(t)
	cfg.Storage.Backend = config.BackendBadger
	s, err := New(cfg, logging.Nop())
	require.NoError(t, err)

	body, err := json.Marshal(types.CommitRequest{
		RepoRef: types.RepoRef{FilePath: file},
		Message: "first",
	})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/commit", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// An open store whose directory disappears may never finish closing.
	require.NoError(t, os.RemoveAll(project))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()
	cancel()

	select {
	case <-done:
	case <-time.After(cfg.Server.ShutdownTimeout + 5*time.Second):
		t.Fatal("Serve did not return within the shutdown timeout")
	}
	assert.Error(t, s.manager.Healthcheck())
}
