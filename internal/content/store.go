// internal/content/store.go
package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"timeline/internal/errors"
	"timeline/internal/fileio"
	"timeline/internal/metrics"
	"timeline/internal/storage"

	lru "github.com/hashicorp/golang-lru/v2"
)

const metaPrefix = "content"

// Store provides deduplicated, content-addressed blob storage. Blob bytes
// live under root as files named by their sha256; metadata lives in the
// repository's KV store.
type Store struct {
	root  string
	kv    storage.Store
	cache *lru.Cache[string, []byte] // decoded content, read-only
	comp  *compressionManager
}

// New creates a new Store instance
func New(kv storage.Store, opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 8
	}

	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating content store directory: %w", err)
	}

	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	comp, err := newCompressionManager(opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("initializing compression: %w", err)
	}

	return &Store{
		root:  opts.Root,
		kv:    kv,
		cache: cache,
		comp:  comp,
	}, nil
}

// Hash returns the content identifier of content.
func Hash(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// ValidHash reports whether hash is a well-formed content identifier.
func ValidHash(hash string) bool {
	if len(hash) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

// Stage writes content to disk and returns its descriptor. Registered blobs
// are never rewritten; an unregistered leftover from an earlier failed
// commit is replaced.
func (s *Store) Stage(ctx context.Context, content []byte) (Blob, error) {
	hash := Hash(content)
	blob := Blob{Hash: hash, Size: int64(len(content))}

	meta, err := s.meta(hash)
	if err == nil {
		blob.StoredSize = meta.StoredSize
		blob.Compressed = meta.Compressed
		return blob, nil
	}
	if !errors.Is(err, errors.ErrorTypeNotFound) {
		return Blob{}, err
	}

	stored, compressed := s.comp.compress(content)
	blob.StoredSize = int64(len(stored))
	blob.Compressed = compressed

	if err := fileio.WriteFileAtomic(ctx, s.contentPath(hash), stored, 0644); err != nil {
		return Blob{}, err
	}
	metrics.BlobBytesWritten.Add(float64(len(stored)))

	return blob, nil
}

// Register records blob inside txn, or bumps its reference count if it is
// already known. The blob becomes visible when txn commits.
func (s *Store) Register(txn storage.Txn, blob Blob) error {
	key := storage.Key(metaPrefix, blob.Hash)

	var meta Meta
	err := storage.GetJSON(txn, key, &meta)
	switch {
	case err == nil:
		meta.RefCount++
	case stderrors.Is(err, storage.ErrNotFound):
		meta = Meta{
			Hash:       blob.Hash,
			Size:       blob.Size,
			StoredSize: blob.StoredSize,
			Compressed: blob.Compressed,
			RefCount:   1,
			CreatedAt:  time.Now().UTC(),
		}
	default:
		return fmt.Errorf("reading blob metadata: %w", err)
	}

	return storage.SetJSON(txn, key, meta)
}

// Put stores content and returns its hash. Putting identical bytes again
// returns the same hash without writing the blob twice.
func (s *Store) Put(ctx context.Context, content []byte) (string, error) {
	blob, err := s.Stage(ctx, content)
	if err != nil {
		return "", err
	}

	err = s.kv.Update(func(txn storage.Txn) error {
		exists, err := storage.Exists(txn, storage.Key(metaPrefix, blob.Hash))
		if err != nil || exists {
			return err
		}
		return s.Register(txn, blob)
	})
	if err != nil {
		return "", errors.IO("registering blob", err)
	}
	return blob.Hash, nil
}

// Get retrieves content by hash and verifies it against the hash.
// The returned slice is shared with the cache and must not be modified.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	if !ValidHash(hash) {
		return nil, errors.ValidationError("invalid content hash", map[string]string{"hash": hash})
	}

	if content, ok := s.cache.Get(hash); ok {
		return content, nil
	}

	meta, err := s.meta(hash)
	if err != nil {
		return nil, err
	}

	stored, err := fileio.ReadFile(ctx, s.contentPath(hash))
	if err != nil {
		return nil, err
	}

	content := stored
	if meta.Compressed {
		content, err = s.comp.decompress(stored)
		if err != nil {
			return nil, errors.IO(fmt.Sprintf("decoding blob %s", hash), err)
		}
	}

	if Hash(content) != hash {
		return nil, errors.IO(fmt.Sprintf("blob %s failed verification", hash), fmt.Errorf("content hash mismatch"))
	}

	s.cache.Add(hash, content)
	return content, nil
}

// Meta returns the metadata of a registered blob.
func (s *Store) Meta(hash string) (Meta, error) {
	if !ValidHash(hash) {
		return Meta{}, errors.ValidationError("invalid content hash", map[string]string{"hash": hash})
	}
	return s.meta(hash)
}

// Exists checks if content is registered
func (s *Store) Exists(hash string) (bool, error) {
	if !ValidHash(hash) {
		return false, nil
	}
	if s.cache.Contains(hash) {
		return true, nil
	}
	_, err := s.meta(hash)
	if errors.Is(err, errors.ErrorTypeNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the compression resources.
func (s *Store) Close() {
	s.comp.close()
	s.cache.Purge()
}

func (s *Store) meta(hash string) (Meta, error) {
	var meta Meta
	err := s.kv.View(func(txn storage.Txn) error {
		return storage.GetJSON(txn, storage.Key(metaPrefix, hash), &meta)
	})
	if stderrors.Is(err, storage.ErrNotFound) {
		return Meta{}, errors.NotFound(fmt.Sprintf("content not found: %s", hash))
	}
	if err != nil {
		return Meta{}, errors.IO("reading blob metadata", err)
	}
	return meta, nil
}

func (s *Store) contentPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}
