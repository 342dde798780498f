// internal/repository/repository.go
package repository

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"timeline/internal/branch"
	"timeline/internal/checkpoint"
	"timeline/internal/content"
	"timeline/internal/errors"
	"timeline/internal/metrics"
	"timeline/internal/storage"
	"timeline/internal/validation"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	projectIDKey  = "meta:project_id"
	createdAtKey  = "meta:created_at"
	settingPrefix = "config"

	// SettingName is the author stamped on new checkpoints.
	SettingName = "name"
	DefaultName = "Anon"
)

// Repository is the open versioning state of one tracked file. Mutations are
// serialized by mu and each runs in a single transaction; reads run in
// snapshot transactions without taking mu.
type Repository struct {
	Path    string
	Backend string

	kv        storage.Store
	blobs     *content.Store
	log       *checkpoint.Log
	branches  *branch.Table
	ioTimeout time.Duration
	logger    *zap.Logger

	mu sync.Mutex
}

// CommitParams describes a commit.
type CommitParams struct {
	Content []byte
	Message string
	// ExpectedHead, when set, must equal the active branch's head.
	ExpectedHead *string
}

// Info summarizes a repository.
type Info struct {
	Path          string    `json:"path"`
	ProjectID     string    `json:"project_id"`
	Backend       string    `json:"backend"`
	CreatedAt     time.Time `json:"created_at"`
	CurrentBranch string    `json:"current_branch"`
	Branches      int       `json:"branches"`
	Checkpoints   uint64    `json:"checkpoints"`
}

// Open opens the repository at root, creating it if needed.
func Open(root string, opts Options, logger *zap.Logger) (*Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = DefaultOptions().IOTimeout
	}

	if err := initialize(root); err != nil {
		return nil, errors.IO("initializing repository", err)
	}

	kv, backend, err := openStore(root, opts)
	if err != nil {
		return nil, errors.IO("opening metadata store", err)
	}

	blobs, err := content.New(kv, content.Options{
		Root:        filepath.Join(root, objectsDir),
		CacheSize:   opts.CacheSize,
		Compression: opts.Compression,
	})
	if err != nil {
		kv.Close()
		return nil, errors.IO("opening content store", err)
	}

	log := checkpoint.NewLog()
	r := &Repository{
		Path:      root,
		Backend:   backend,
		kv:        kv,
		blobs:     blobs,
		log:       log,
		branches:  branch.NewTable(log),
		ioTimeout: opts.IOTimeout,
		logger:    logger.With(zap.String("repo", root)),
	}

	if err := kv.Update(r.init); err != nil {
		r.Close()
		return nil, errors.IO("initializing repository", err)
	}

	return r, nil
}

func (r *Repository) init(txn storage.Txn) error {
	if err := r.branches.Init(txn); err != nil {
		return err
	}
	ok, err := storage.Exists(txn, []byte(projectIDKey))
	if err != nil || ok {
		return err
	}
	if err := txn.Set([]byte(projectIDKey), []byte(uuid.NewString())); err != nil {
		return err
	}
	r.logger.Info("Created repository", zap.String("backend", r.Backend))
	return txn.Set([]byte(createdAtKey), []byte(time.Now().UTC().Format(time.RFC3339Nano)))
}

// Close releases the metadata store and content resources.
func (r *Repository) Close() error {
	r.blobs.Close()
	if err := r.kv.Close(); err != nil {
		return fmt.Errorf("closing metadata store: %w", err)
	}
	return nil
}

// Commit stores content and appends a checkpoint on the active branch,
// chained to its head. Either the checkpoint, its blob and the new head all
// become visible, or none of them do.
func (r *Repository) Commit(ctx context.Context, p CommitParams) (*checkpoint.Checkpoint, error) {
	if err := validation.Message(p.Message); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.ioTimeout)
	defer cancel()

	blob, err := r.blobs.Stage(ctx, p.Content)
	if err != nil {
		return nil, err
	}

	var cp *checkpoint.Checkpoint
	var created bool
	err = r.kv.Update(func(txn storage.Txn) error {
		current, err := r.branches.Current(txn)
		if err != nil {
			return err
		}
		head, err := r.branches.Head(txn, current)
		if err != nil {
			return err
		}
		if p.ExpectedHead != nil && *p.ExpectedHead != head {
			return errors.Integrity(fmt.Sprintf("branch %s moved: expected head %q, found %q", current, *p.ExpectedHead, head))
		}

		author, err := r.setting(txn, SettingName)
		if err != nil {
			return err
		}

		cp, created, err = r.log.Append(txn, checkpoint.Params{
			ParentHash:  head,
			Branch:      current,
			Message:     p.Message,
			ContentHash: blob.Hash,
			Size:        blob.Size,
			Author:      author,
		})
		if err != nil {
			return err
		}
		if created {
			if err := r.blobs.Register(txn, blob); err != nil {
				return err
			}
		}
		_, err = r.branches.AdvanceHead(txn, current, cp.Hash)
		return err
	})
	if err != nil {
		return nil, r.txnError("commit", err)
	}

	if created {
		metrics.CheckpointsCreated.Inc()
	}
	r.logger.Info("Committed checkpoint",
		zap.String("branch", cp.Branch),
		zap.String("hash", cp.Hash),
		zap.Bool("created", created),
		zap.Int64("size", cp.Size))

	return cp, nil
}

// Restore returns a checkpoint and its content. No pointer moves.
func (r *Repository) Restore(ctx context.Context, hash string) (*checkpoint.Checkpoint, []byte, error) {
	if hash == "" {
		return nil, nil, errors.ValidationError("hash is required", nil)
	}

	var cp *checkpoint.Checkpoint
	err := r.kv.View(func(txn storage.Txn) error {
		var err error
		cp, err = r.log.Get(txn, hash)
		return err
	})
	if err != nil {
		return nil, nil, r.txnError("restore", err)
	}

	data, err := r.readContent(ctx, cp)
	if err != nil {
		return nil, nil, err
	}
	return cp, data, nil
}

// readContent loads the snapshot of cp within the I/O timeout. A checkpoint
// whose blob is gone is an integrity failure, not a missing checkpoint.
func (r *Repository) readContent(ctx context.Context, cp *checkpoint.Checkpoint) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.ioTimeout)
	defer cancel()

	data, err := r.blobs.Get(ctx, cp.ContentHash)
	if err != nil {
		if errors.Is(err, errors.ErrorTypeNotFound) {
			return nil, errors.Integrity(fmt.Sprintf("content of checkpoint %s is missing", cp.Hash))
		}
		return nil, err
	}
	return data, nil
}

// NewBranch forks name at the active head, switching to it when checkout is set.
func (r *Repository) NewBranch(name string, checkout bool) (*branch.Branch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b *branch.Branch
	err := r.kv.Update(func(txn storage.Txn) error {
		var err error
		b, err = r.branches.Create(txn, name)
		if err != nil || !checkout {
			return err
		}
		_, err = r.branches.Switch(txn, name)
		return err
	})
	if err != nil {
		return nil, r.txnError("new branch", err)
	}

	r.logger.Info("Created branch",
		zap.String("branch", b.Name),
		zap.String("hash", b.Head),
		zap.Bool("checkout", checkout))
	return b, nil
}

// SwitchBranch makes name the active branch.
func (r *Repository) SwitchBranch(name string) (*branch.Branch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b *branch.Branch
	err := r.kv.Update(func(txn storage.Txn) error {
		var err error
		b, err = r.branches.Switch(txn, name)
		return err
	})
	if err != nil {
		return nil, r.txnError("switch branch", err)
	}

	r.logger.Info("Switched branch", zap.String("branch", b.Name), zap.String("hash", b.Head))
	return b, nil
}

// Branches returns the branch names in sorted order.
func (r *Repository) Branches() ([]string, error) {
	var names []string
	err := r.kv.View(func(txn storage.Txn) error {
		branches, err := r.branches.List(txn)
		if err != nil {
			return err
		}
		for _, b := range branches {
			names = append(names, b.Name)
		}
		return nil
	})
	if err != nil {
		return nil, r.txnError("list branches", err)
	}
	sort.Strings(names)
	return names, nil
}

// CurrentBranch returns the active branch.
func (r *Repository) CurrentBranch() (*branch.Branch, error) {
	var b *branch.Branch
	err := r.kv.View(func(txn storage.Txn) error {
		name, err := r.branches.Current(txn)
		if err != nil {
			return err
		}
		b, err = r.branches.Get(txn, name)
		return err
	})
	if err != nil {
		return nil, r.txnError("current branch", err)
	}
	return b, nil
}

// Checkpoints returns the history of a branch, newest first. An empty name
// selects the active branch.
func (r *Repository) Checkpoints(name string, limit int) ([]*checkpoint.Checkpoint, error) {
	var history []*checkpoint.Checkpoint
	err := r.kv.View(func(txn storage.Txn) error {
		head, err := r.resolveHead(txn, name)
		if err != nil {
			return err
		}
		history, err = r.log.List(txn, head, limit)
		return err
	})
	if err != nil {
		return nil, r.txnError("list checkpoints", err)
	}
	return history, nil
}

// Latest returns the head checkpoint of a branch, or nil when the branch is
// empty. An empty name selects the active branch.
func (r *Repository) Latest(name string) (*checkpoint.Checkpoint, error) {
	var cp *checkpoint.Checkpoint
	err := r.kv.View(func(txn storage.Txn) error {
		head, err := r.resolveHead(txn, name)
		if err != nil {
			return err
		}
		cp, err = r.log.Latest(txn, head)
		return err
	})
	if err != nil {
		return nil, r.txnError("latest checkpoint", err)
	}
	return cp, nil
}

// Log returns every checkpoint of the repository, newest first.
func (r *Repository) Log(limit int) ([]*checkpoint.Checkpoint, error) {
	var entries []*checkpoint.Checkpoint
	err := r.kv.View(func(txn storage.Txn) error {
		var err error
		entries, err = r.log.Entries(txn, limit)
		return err
	})
	if err != nil {
		return nil, r.txnError("log", err)
	}
	return entries, nil
}

func (r *Repository) Info() (*Info, error) {
	info := &Info{Path: r.Path, Backend: r.Backend}
	err := r.kv.View(func(txn storage.Txn) error {
		id, err := txn.Get([]byte(projectIDKey))
		if err != nil {
			return fmt.Errorf("reading project id: %w", err)
		}
		info.ProjectID = string(id)

		raw, err := txn.Get([]byte(createdAtKey))
		if err != nil {
			return fmt.Errorf("reading creation time: %w", err)
		}
		if info.CreatedAt, err = time.Parse(time.RFC3339Nano, string(raw)); err != nil {
			return fmt.Errorf("parsing creation time: %w", err)
		}

		if info.CurrentBranch, err = r.branches.Current(txn); err != nil {
			return err
		}
		branches, err := r.branches.List(txn)
		if err != nil {
			return err
		}
		info.Branches = len(branches)
		info.Checkpoints, err = r.log.Count(txn)
		return err
	})
	if err != nil {
		return nil, r.txnError("info", err)
	}
	return info, nil
}

// Setting returns a repository setting, or its default.
func (r *Repository) Setting(key string) (string, error) {
	if err := validateSetting(key); err != nil {
		return "", err
	}
	var value string
	err := r.kv.View(func(txn storage.Txn) error {
		var err error
		value, err = r.setting(txn, key)
		return err
	})
	if err != nil {
		return "", r.txnError("read setting", err)
	}
	return value, nil
}

// SetSetting stores a repository setting.
func (r *Repository) SetSetting(key, value string) error {
	if err := validateSetting(key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.kv.Update(func(txn storage.Txn) error {
		return txn.Set(storage.Key(settingPrefix, key), []byte(value))
	})
	if err != nil {
		return r.txnError("write setting", err)
	}
	r.logger.Info("Updated setting", zap.String("key", key))
	return nil
}

func (r *Repository) setting(txn storage.Txn, key string) (string, error) {
	raw, err := txn.Get(storage.Key(settingPrefix, key))
	if stderrors.Is(err, storage.ErrNotFound) {
		return DefaultSetting(key), nil
	}
	if err != nil {
		return "", fmt.Errorf("reading setting %s: %w", key, err)
	}
	return string(raw), nil
}

func (r *Repository) resolveHead(txn storage.Txn, name string) (string, error) {
	if name == "" {
		var err error
		if name, err = r.branches.Current(txn); err != nil {
			return "", err
		}
	}
	return r.branches.Head(txn, name)
}

// txnError keeps typed errors and reports everything else as IO.
func (r *Repository) txnError(op string, err error) error {
	if _, ok := errors.As(err); ok {
		return err
	}
	r.logger.Error("Storage failure", zap.String("op", op), zap.Error(err))
	return errors.IO(op, err)
}

// DefaultSetting is the value of an unset setting.
func DefaultSetting(key string) string {
	if key == SettingName {
		return DefaultName
	}
	return ""
}

func validateSetting(key string) error {
	if key != SettingName {
		return errors.ValidationError(fmt.Sprintf("unknown setting %q", key), map[string][]string{"supported": {SettingName}})
	}
	return nil
}
