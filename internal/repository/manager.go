// internal/repository/manager.go
package repository

import (
	"context"
	stderrors "errors"
	"fmt"

	"timeline/internal/branch"
	"timeline/internal/checkpoint"
	"timeline/internal/errors"
	"timeline/internal/validation"

	"go.uber.org/zap"
)

// Manager exposes repository operations by identity. Mutations create the
// repository on first use; reads of a repository that does not exist yet
// answer as a fresh one without creating anything on disk.
type Manager struct {
	registry *Registry
	logger   *zap.Logger
}

func NewManager(registry *Registry, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{registry: registry, logger: logger}
}

// with runs fn against the repository at id. It reports missing=true instead
// of calling fn when the repository does not exist and create is false.
func (m *Manager) with(id string, create bool, fn func(r *Repository) error) (missing bool, err error) {
	repo, release, err := m.registry.Acquire(id, create)
	if stderrors.Is(err, ErrNotInitialized) {
		return true, nil
	}
	if err != nil {
		if _, ok := errors.As(err); ok {
			return false, err
		}
		m.logger.Error("Failed to acquire repository", zap.String("repo", id), zap.Error(err))
		return false, errors.Unavailable("repository registry unavailable", err)
	}
	defer release()
	return false, fn(repo)
}

func (m *Manager) Commit(ctx context.Context, id string, p CommitParams) (*checkpoint.Checkpoint, error) {
	var cp *checkpoint.Checkpoint
	_, err := m.with(id, true, func(r *Repository) error {
		var err error
		cp, err = r.Commit(ctx, p)
		return err
	})
	return cp, err
}

func (m *Manager) Restore(ctx context.Context, id, hash string) (*checkpoint.Checkpoint, []byte, error) {
	var cp *checkpoint.Checkpoint
	var data []byte
	missing, err := m.with(id, false, func(r *Repository) error {
		var err error
		cp, data, err = r.Restore(ctx, hash)
		return err
	})
	if missing {
		return nil, nil, errors.NotFound(fmt.Sprintf("checkpoint not found: %s", hash))
	}
	return cp, data, err
}

// Diff compares two checkpoints of id. See Repository.Diff for defaults.
func (m *Manager) Diff(ctx context.Context, id, from, to string, contextLines int) (*Comparison, error) {
	var cmp *Comparison
	missing, err := m.with(id, false, func(r *Repository) error {
		var err error
		cmp, err = r.Diff(ctx, from, to, contextLines)
		return err
	})
	if missing {
		return nil, errors.NotFound(fmt.Sprintf("repository not initialized: %s", id))
	}
	return cmp, err
}

func (m *Manager) NewBranch(id, name string, checkout bool) (*branch.Branch, error) {
	var b *branch.Branch
	_, err := m.with(id, true, func(r *Repository) error {
		var err error
		b, err = r.NewBranch(name, checkout)
		return err
	})
	return b, err
}

// SwitchBranch moves the cursor of id to name. On a repository that does
// not exist yet only the default branch is known and it is already active.
func (m *Manager) SwitchBranch(id, name string) (*branch.Branch, error) {
	var b *branch.Branch
	missing, err := m.with(id, false, func(r *Repository) error {
		var err error
		b, err = r.SwitchBranch(name)
		return err
	})
	if missing {
		if err := validation.BranchName(name); err != nil {
			return nil, err
		}
		if name != branch.Default {
			return nil, errors.NotFound(fmt.Sprintf("branch not found: %s", name))
		}
		return branch.Fresh(), nil
	}
	return b, err
}

func (m *Manager) ListBranches(id string) ([]string, error) {
	var names []string
	missing, err := m.with(id, false, func(r *Repository) error {
		var err error
		names, err = r.Branches()
		return err
	})
	if missing {
		return []string{branch.Default}, nil
	}
	return names, err
}

func (m *Manager) CurrentBranch(id string) (*branch.Branch, error) {
	var b *branch.Branch
	missing, err := m.with(id, false, func(r *Repository) error {
		var err error
		b, err = r.CurrentBranch()
		return err
	})
	if missing {
		return branch.Fresh(), nil
	}
	return b, err
}

// ListCheckpoints returns the history of name, or of the active branch when
// name is empty.
func (m *Manager) ListCheckpoints(id, name string, limit int) ([]*checkpoint.Checkpoint, error) {
	var history []*checkpoint.Checkpoint
	missing, err := m.with(id, false, func(r *Repository) error {
		var err error
		history, err = r.Checkpoints(name, limit)
		return err
	})
	if missing {
		if name != "" && name != branch.Default {
			return nil, errors.NotFound(fmt.Sprintf("branch not found: %s", name))
		}
		return []*checkpoint.Checkpoint{}, nil
	}
	return history, err
}

// LatestCheckpoint returns the head of name (or the active branch), or nil
// when that branch has no checkpoints.
func (m *Manager) LatestCheckpoint(id, name string) (*checkpoint.Checkpoint, error) {
	var cp *checkpoint.Checkpoint
	missing, err := m.with(id, false, func(r *Repository) error {
		var err error
		cp, err = r.Latest(name)
		return err
	})
	if missing {
		if name != "" && name != branch.Default {
			return nil, errors.NotFound(fmt.Sprintf("branch not found: %s", name))
		}
		return nil, nil
	}
	return cp, err
}

// Log returns every checkpoint of id, newest first.
func (m *Manager) Log(id string, limit int) ([]*checkpoint.Checkpoint, error) {
	var entries []*checkpoint.Checkpoint
	missing, err := m.with(id, false, func(r *Repository) error {
		var err error
		entries, err = r.Log(limit)
		return err
	})
	if missing {
		return []*checkpoint.Checkpoint{}, nil
	}
	return entries, err
}

func (m *Manager) Info(id string) (*Info, error) {
	var info *Info
	missing, err := m.with(id, false, func(r *Repository) error {
		var err error
		info, err = r.Info()
		return err
	})
	if missing {
		return nil, errors.NotFound(fmt.Sprintf("repository not initialized: %s", id))
	}
	return info, err
}

func (m *Manager) Setting(id, key string) (string, error) {
	var value string
	missing, err := m.with(id, false, func(r *Repository) error {
		var err error
		value, err = r.Setting(key)
		return err
	})
	if missing {
		if err := validateSetting(key); err != nil {
			return "", err
		}
		return DefaultSetting(key), nil
	}
	return value, err
}

func (m *Manager) SetSetting(id, key, value string) error {
	_, err := m.with(id, true, func(r *Repository) error {
		return r.SetSetting(key, value)
	})
	return err
}

// Healthcheck reports whether the manager can serve requests.
func (m *Manager) Healthcheck() error {
	if m.registry.Closed() {
		return errors.Unavailable("repository manager is shut down", errRegistryClosed)
	}
	return nil
}

// Close closes every open repository.
func (m *Manager) Close() error {
	return m.registry.Close()
}
