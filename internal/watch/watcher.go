// Package watch turns saves of a tracked file into checkpoints.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"timeline/internal/content"
	"timeline/shared/types"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const DefaultDebounce = 500 * time.Millisecond

// Committer records a checkpoint of a file. *client.Client implements it.
type Committer interface {
	Commit(ctx context.Context, req types.CommitRequest) (*types.Checkpoint, error)
}

type Options struct {
	DBPath   string
	Debounce time.Duration
	// OnCommit, if set, is called after every autosave.
	OnCommit func(*types.Checkpoint)
}

// Watcher watches the directory of one file, since editors often replace a
// file by renaming a temporary one over it, and commits after each burst of
// events for that file settles.
type Watcher struct {
	file      string
	opts      Options
	committer Committer
	fsw       *fsnotify.Watcher
	logger    *zap.Logger
	now       func() time.Time

	lastHash string
}

func New(file string, committer Committer, opts Options, logger *zap.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", file, err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		file:      abs,
		opts:      opts,
		committer: committer,
		fsw:       fsw,
		logger:    logger.With(zap.String("file", abs)),
		now:       time.Now,
	}
	if data, err := os.ReadFile(abs); err == nil {
		w.lastHash = content.Hash(data)
	}
	return w, nil
}

// Run processes events until ctx is canceled. A pending burst is dropped on
// cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	timer := time.NewTimer(w.opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.file {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.opts.Debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", zap.Error(err))

		case <-timer.C:
			w.autosave(ctx)
		}
	}
}

func (w *Watcher) autosave(ctx context.Context) {
	data, err := os.ReadFile(w.file)
	if err != nil {
		// Mid-rename or deleted; the next event retries.
		w.logger.Debug("file not readable", zap.Error(err))
		return
	}
	hash := content.Hash(data)
	if hash == w.lastHash {
		return
	}

	cp, err := w.committer.Commit(ctx, types.CommitRequest{
		RepoRef: types.RepoRef{DBPath: w.opts.DBPath, FilePath: w.file},
		Message: "Autosave " + w.now().Format(time.RFC3339),
	})
	if err != nil {
		w.logger.Error("autosave failed", zap.Error(err))
		return
	}
	w.lastHash = hash
	w.logger.Info("autosaved", zap.String("hash", cp.Hash))
	if w.opts.OnCommit != nil {
		w.opts.OnCommit(cp)
	}
}
