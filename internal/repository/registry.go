// internal/repository/registry.go
package repository

import (
	stderrors "errors"
	"sync"

	"timeline/internal/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// ErrNotInitialized is returned by Acquire when the repository does not
// exist and create is false.
var ErrNotInitialized = stderrors.New("repository not initialized")

var errRegistryClosed = stderrors.New("registry closed")

type handle struct {
	repo *Repository
	refs int
}

// doomed is a repository waiting to be closed outside the registry lock.
type doomed struct {
	path string
	h    *handle
	done chan struct{}
}

// Registry keeps a bounded set of repositories open. A repository evicted
// from the cache while still in use is parked in closing and closed on its
// last release, unless it is acquired again first.
//
// Opening and closing happen outside mu. While either is in flight for a
// path, busy holds a channel that is closed when it finishes, and other
// acquirers of that path wait on it.
type Registry struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	open    *lru.Cache[string, *handle]
	closing map[string]*handle
	busy    map[string]chan struct{}
	evicted []doomed
	closed  bool
}

// NewRegistry creates a registry holding at most maxOpen idle repositories.
func NewRegistry(opts Options, maxOpen int, logger *zap.Logger) (*Registry, error) {
	if maxOpen <= 0 {
		maxOpen = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		opts:    opts,
		logger:  logger,
		closing: make(map[string]*handle),
		busy:    make(map[string]chan struct{}),
	}

	cache, err := lru.NewWithEvict[string, *handle](maxOpen, r.onEvict)
	if err != nil {
		return nil, err
	}
	r.open = cache
	return r, nil
}

// Acquire returns the repository at path and a release func that must be
// called when the caller is done with it. When create is false and no
// repository exists at path, ErrNotInitialized is returned.
func (r *Registry) Acquire(path string, create bool) (*Repository, func(), error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, nil, errRegistryClosed
		}

		if h := r.lookup(path); h != nil {
			h.refs++
			r.updateGauge()
			evicted := r.takeEvicted()
			r.mu.Unlock()

			r.closeAll(evicted)
			return h.repo, r.releaser(path, h), nil
		}

		if wait, ok := r.busy[path]; ok {
			r.mu.Unlock()
			<-wait
			continue
		}

		done := make(chan struct{})
		r.busy[path] = done
		r.mu.Unlock()

		repo, err := r.openRepository(path, create)

		r.mu.Lock()
		delete(r.busy, path)
		close(done)
		if err != nil {
			r.mu.Unlock()
			return nil, nil, err
		}
		if r.closed {
			r.mu.Unlock()
			r.closeHandle(path, &handle{repo: repo})
			return nil, nil, errRegistryClosed
		}
		h := &handle{repo: repo, refs: 1}
		r.open.Add(path, h)
		r.updateGauge()
		evicted := r.takeEvicted()
		r.mu.Unlock()

		r.closeAll(evicted)
		r.logger.Debug("Opened repository", zap.String("repo", path))
		return repo, r.releaser(path, h), nil
	}
}

// lookup finds an open or parked handle, moving a parked one back into the
// cache. Must be called with mu held.
func (r *Registry) lookup(path string) *handle {
	if h, ok := r.open.Get(path); ok {
		return h
	}
	if h, ok := r.closing[path]; ok {
		delete(r.closing, path)
		r.open.Add(path, h)
		return h
	}
	return nil
}

func (r *Registry) openRepository(path string, create bool) (*Repository, error) {
	if !create && !Exists(path) {
		return nil, ErrNotInitialized
	}
	return Open(path, r.opts, r.logger)
}

func (r *Registry) releaser(path string, h *handle) func() {
	var once sync.Once
	return func() {
		once.Do(func() { r.release(path, h) })
	}
}

func (r *Registry) release(path string, h *handle) {
	r.mu.Lock()
	h.refs--
	if h.refs == 0 && r.closing[path] == h {
		delete(r.closing, path)
		r.doom(path, h)
	}
	r.updateGauge()
	evicted := r.takeEvicted()
	r.mu.Unlock()

	r.closeAll(evicted)
}

// onEvict runs inside open's methods, which are only called with mu held.
func (r *Registry) onEvict(path string, h *handle) {
	if h.refs > 0 {
		r.closing[path] = h
		return
	}
	r.doom(path, h)
}

// doom marks path busy and queues h to be closed once mu is released.
func (r *Registry) doom(path string, h *handle) {
	done := make(chan struct{})
	r.busy[path] = done
	r.evicted = append(r.evicted, doomed{path: path, h: h, done: done})
}

func (r *Registry) takeEvicted() []doomed {
	evicted := r.evicted
	r.evicted = nil
	return evicted
}

// closeAll closes the queued repositories and clears their busy marks.
func (r *Registry) closeAll(evicted []doomed) {
	for _, d := range evicted {
		r.closeHandle(d.path, d.h)

		r.mu.Lock()
		if r.busy[d.path] == d.done {
			delete(r.busy, d.path)
		}
		close(d.done)
		r.updateGauge()
		r.mu.Unlock()
	}
}

func (r *Registry) closeHandle(path string, h *handle) {
	if err := h.repo.Close(); err != nil {
		r.logger.Error("Failed to close repository", zap.String("repo", path), zap.Error(err))
		return
	}
	r.logger.Debug("Closed repository", zap.String("repo", path))
}

// Len returns the number of repositories currently open, including parked
// ones still in use.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count()
}

func (r *Registry) count() int {
	return r.open.Len() + len(r.closing)
}

// Closed reports whether Close has been called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Registry) updateGauge() {
	metrics.OpenRepositories.Set(float64(r.count()))
}

// Close closes every repository, including those still in use. It blocks
// until every store has been closed.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true

	r.open.Purge()
	for path, h := range r.closing {
		delete(r.closing, path)
		r.doom(path, h)
	}
	evicted := r.takeEvicted()
	r.mu.Unlock()

	r.closeAll(evicted)
	return nil
}
