// internal/api/handlers.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"timeline/internal/branch"
	"timeline/internal/checkpoint"
	"timeline/internal/errors"
	"timeline/internal/fileio"
	"timeline/internal/logging"
	"timeline/internal/metrics"
	"timeline/internal/repository"
	"timeline/internal/validation"
	"timeline/shared/types"

	"go.uber.org/zap"
)

// Handler serves the checkpoint API. It reads and writes tracked files and
// delegates everything else to the repository manager.
type Handler struct {
	manager   *repository.Manager
	logger    *logging.Logger
	ioTimeout time.Duration
}

func NewHandler(manager *repository.Manager, logger *logging.Logger, ioTimeout time.Duration) *Handler {
	if ioTimeout <= 0 {
		ioTimeout = 30 * time.Second
	}
	return &Handler{manager: manager, logger: logger, ioTimeout: ioTimeout}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthcheck", h.Health)
	mux.HandleFunc("GET /health", h.Health)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /commit", h.Commit)
	mux.HandleFunc("POST /restore", h.Restore)
	mux.HandleFunc("GET /checkpoints/{db_path}", h.ListCheckpoints)
	mux.HandleFunc("GET /checkpoints/{db_path}/{branch...}", h.ListCheckpoints)
	mux.HandleFunc("GET /latest-commit/{db_path}", h.LatestCommit)
	mux.HandleFunc("GET /log/{db_path}", h.Log)
	mux.HandleFunc("GET /info/{db_path}", h.Info)
	mux.HandleFunc("GET /diff/{db_path}", h.Diff)

	mux.HandleFunc("GET /branches/{db_path}", h.ListBranches)
	mux.HandleFunc("GET /branches/current/{db_path}", h.CurrentBranch)
	mux.HandleFunc("POST /branches/new", h.NewBranch)
	mux.HandleFunc("POST /branches/switch", h.SwitchBranch)

	mux.HandleFunc("GET /config/{db_path}/{key}", h.GetConfig)
	mux.HandleFunc("POST /config", h.SetConfig)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Healthcheck(); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.HealthResponse{Status: "healthy"})
}

func (h *Handler) Commit(w http.ResponseWriter, r *http.Request) {
	var req types.CommitRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := repository.ResolveIdentity(req.DBPath, req.FilePath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.ioTimeout)
	defer cancel()

	data, err := fileio.ReadFile(ctx, req.FilePath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	cp, err := h.manager.Commit(ctx, id, repository.CommitParams{
		Content:      data,
		Message:      req.Message,
		ExpectedHead: req.ExpectedHead,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckpoint(cp))
}

// Restore writes a checkpoint's content back to the tracked file. Branch
// heads and the cursor are left alone.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	var req types.RestoreRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := repository.ResolveIdentity(req.DBPath, req.FilePath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.ioTimeout)
	defer cancel()

	cp, data, err := h.manager.Restore(ctx, id, req.Hash)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := writeTracked(ctx, req.FilePath, data); err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.WithRequestID(r.Context()).Info("Restored checkpoint",
		zap.String("repo", id),
		zap.String("hash", cp.Hash),
		zap.String("file", req.FilePath))
	writeJSON(w, http.StatusOK, toCheckpoint(cp))
}

func (h *Handler) ListCheckpoints(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	history, err := h.manager.ListCheckpoints(id, r.PathValue("branch"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckpoints(history))
}

// LatestCommit answers with the head hash of the requested branch (default:
// the active one), or "" when it has no checkpoints.
func (h *Handler) LatestCommit(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cp, err := h.manager.LatestCheckpoint(id, r.URL.Query().Get("branch"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	hash := ""
	if cp != nil {
		hash = cp.Hash
	}
	writeJSON(w, http.StatusOK, hash)
}

func (h *Handler) Log(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := limitParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.manager.Log(id, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCheckpoints(entries))
}

func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	info, err := h.manager.Info(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.RepositoryInfo{
		Path:          info.Path,
		ProjectID:     info.ProjectID,
		Backend:       info.Backend,
		CreatedAt:     info.CreatedAt,
		CurrentBranch: info.CurrentBranch,
		Branches:      info.Branches,
		Checkpoints:   info.Checkpoints,
	})
}

func (h *Handler) ListBranches(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	names, err := h.manager.ListBranches(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *Handler) CurrentBranch(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.manager.CurrentBranch(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b.Name)
}

func (h *Handler) NewBranch(w http.ResponseWriter, r *http.Request) {
	var req types.BranchRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := repository.ResolveIdentity(req.DBPath, req.FilePath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	b, err := h.manager.NewBranch(id, req.BranchName, req.Checkout)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBranch(b))
}

// SwitchBranch moves the cursor. When the request names the tracked file
// and the target branch has a head, the file is rewritten with its content.
func (h *Handler) SwitchBranch(w http.ResponseWriter, r *http.Request) {
	var req types.BranchRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := repository.ResolveIdentity(req.DBPath, req.FilePath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	b, err := h.manager.SwitchBranch(id, req.BranchName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if req.FilePath != "" && b.Head != "" {
		ctx, cancel := context.WithTimeout(r.Context(), h.ioTimeout)
		defer cancel()

		_, data, err := h.manager.Restore(ctx, id, b.Head)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if err := writeTracked(ctx, req.FilePath, data); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toBranch(b))
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	value, err := h.manager.Setting(id, r.PathValue("key"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func (h *Handler) SetConfig(w http.ResponseWriter, r *http.Request) {
	var req types.ConfigRequest
	if err := validation.DecodeRequest(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := repository.ResolveIdentity(req.DBPath, req.FilePath)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.manager.SetSetting(id, req.Key, req.Value); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.ConfigValue{Key: req.Key, Value: req.Value})
}

// Diff compares two checkpoints as text. Query parameters from and to name
// the checkpoints; context sets the number of context lines.
func (h *Handler) Diff(w http.ResponseWriter, r *http.Request) {
	id, err := pathIdentity(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	contextLines := repository.DefaultContextLines
	if raw := r.URL.Query().Get("context"); raw != "" {
		contextLines, err = strconv.Atoi(raw)
		if err != nil || contextLines < 0 {
			h.writeError(w, r, errors.ValidationError("context must be a non-negative integer", map[string]string{"context": raw}))
			return
		}
	}

	q := r.URL.Query()
	cmp, err := h.manager.Diff(r.Context(), id, q.Get("from"), q.Get("to"), contextLines)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDiff(cmp))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := errors.As(err)
	if !ok {
		e = errors.Internal("internal error", err)
	}
	status := errors.HTTPStatus(e)

	log := h.logger.WithRequestID(r.Context())
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("type", string(e.Type)),
		zap.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", fields...)
	} else {
		log.Warn("Request rejected", fields...)
	}

	writeJSON(w, status, e)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeTracked replaces the tracked file, keeping its permissions. Once ctx
// has expired the file is left untouched, so a request answered with an IO
// error never rewrites it afterwards.
func writeTracked(ctx context.Context, path string, data []byte) error {
	perm := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	return fileio.WriteFileAtomic(ctx, path, data, perm)
}

// pathIdentity resolves the {db_path} path parameter.
func pathIdentity(r *http.Request) (string, error) {
	return repository.ResolveIdentity(r.PathValue("db_path"), "")
}

func limitParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.ValidationError("limit must be a non-negative integer", map[string]string{"limit": raw})
	}
	return limit, nil
}

func toCheckpoint(cp *checkpoint.Checkpoint) types.Checkpoint {
	return types.Checkpoint{
		Hash:        cp.Hash,
		Message:     cp.Message,
		ParentHash:  cp.ParentHash,
		Branch:      cp.Branch,
		ContentHash: cp.ContentHash,
		Size:        cp.Size,
		Author:      cp.Author,
		CreatedAt:   cp.CreatedAt,
	}
}

func toCheckpoints(cps []*checkpoint.Checkpoint) []types.Checkpoint {
	out := make([]types.Checkpoint, len(cps))
	for i, cp := range cps {
		out[i] = toCheckpoint(cp)
	}
	return out
}

func toDiff(cmp *repository.Comparison) types.Diff {
	out := types.Diff{
		To:        cmp.To.Hash,
		Additions: cmp.Result.Stats.Additions,
		Deletions: cmp.Result.Stats.Deletions,
		Hunks:     make([]types.Hunk, len(cmp.Result.Hunks)),
		Patch:     cmp.Result.Format(),
	}
	if cmp.From != nil {
		out.From = cmp.From.Hash
	}
	for i, hunk := range cmp.Result.Hunks {
		lines := make([]string, len(hunk.Lines))
		for j, l := range hunk.Lines {
			lines[j] = l.Type.String() + l.Content
		}
		out.Hunks[i] = types.Hunk{
			OldStart: hunk.OldStart,
			OldLines: hunk.OldLines,
			NewStart: hunk.NewStart,
			NewLines: hunk.NewLines,
			Lines:    lines,
		}
	}
	return out
}

func toBranch(b *branch.Branch) types.Branch {
	return types.Branch{
		Name:      b.Name,
		Head:      b.Head,
		Base:      b.Base,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}
