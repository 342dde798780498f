// internal/checkpoint/log.go
package checkpoint

import (
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"timeline/internal/errors"
	"timeline/internal/storage"
)

const (
	recordPrefix = "checkpoint"
	logPrefix    = "log"
	seqKey       = "meta:seq"
	clockKey     = "meta:clock"
)

// Log is the append-only checkpoint record of one repository. It holds no
// state of its own; every method works inside the caller's transaction so
// appends commit together with the branch head that points at them.
type Log struct {
	now func() time.Time
}

// NewLog creates a Log stamping checkpoints with the wall clock.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append records a checkpoint. If an identical checkpoint already exists it
// is returned unchanged with created set to false.
func (l *Log) Append(txn storage.Txn, p Params) (cp *Checkpoint, created bool, err error) {
	if p.Branch == "" {
		return nil, false, errors.ValidationError("branch is required", nil)
	}
	if p.ContentHash == "" {
		return nil, false, errors.ValidationError("content hash is required", nil)
	}

	hash := ComputeHash(p)
	existing, err := l.Get(txn, hash)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, errors.ErrorTypeNotFound) {
		return nil, false, err
	}

	if p.ParentHash != "" {
		ok, err := storage.Exists(txn, storage.Key(recordPrefix, p.ParentHash))
		if err != nil {
			return nil, false, fmt.Errorf("checking parent: %w", err)
		}
		if !ok {
			return nil, false, errors.Integrity(fmt.Sprintf("parent checkpoint %s does not exist", p.ParentHash))
		}
	}

	seq, err := readUint(txn, seqKey)
	if err != nil {
		return nil, false, err
	}
	seq++

	createdAt, err := l.tick(txn)
	if err != nil {
		return nil, false, err
	}

	cp = &Checkpoint{
		Hash:        hash,
		Message:     p.Message,
		ParentHash:  p.ParentHash,
		Branch:      p.Branch,
		ContentHash: p.ContentHash,
		Size:        p.Size,
		Author:      p.Author,
		CreatedAt:   createdAt,
		Seq:         seq,
	}

	if err := storage.SetJSON(txn, storage.Key(recordPrefix, hash), cp); err != nil {
		return nil, false, err
	}
	if err := txn.Set(logKey(seq), []byte(hash)); err != nil {
		return nil, false, fmt.Errorf("writing log entry: %w", err)
	}
	if err := txn.Set([]byte(seqKey), []byte(strconv.FormatUint(seq, 10))); err != nil {
		return nil, false, fmt.Errorf("writing sequence: %w", err)
	}

	return cp, true, nil
}

// Get returns the checkpoint with the given hash.
func (l *Log) Get(txn storage.Txn, hash string) (*Checkpoint, error) {
	if hash == "" {
		return nil, errors.NotFound("checkpoint not found")
	}
	var cp Checkpoint
	err := storage.GetJSON(txn, storage.Key(recordPrefix, hash), &cp)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFound(fmt.Sprintf("checkpoint not found: %s", hash))
	}
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	return &cp, nil
}

// List walks parent links from head and returns the history newest first.
// A limit of zero or less returns the whole history.
func (l *Log) List(txn storage.Txn, head string, limit int) ([]*Checkpoint, error) {
	history := []*Checkpoint{}
	for hash := head; hash != ""; {
		if limit > 0 && len(history) >= limit {
			break
		}
		cp, err := l.Get(txn, hash)
		if err != nil {
			if errors.Is(err, errors.ErrorTypeNotFound) {
				return nil, errors.Integrity(fmt.Sprintf("history references missing checkpoint %s", hash))
			}
			return nil, err
		}
		history = append(history, cp)
		hash = cp.ParentHash
	}
	return history, nil
}

// Latest returns the checkpoint at head, or nil for an empty head.
func (l *Log) Latest(txn storage.Txn, head string) (*Checkpoint, error) {
	if head == "" {
		return nil, nil
	}
	return l.Get(txn, head)
}

// Entries lists every checkpoint in the repository in reverse append order.
func (l *Log) Entries(txn storage.Txn, limit int) ([]*Checkpoint, error) {
	var hashes []string
	err := txn.Scan(storage.Prefix(logPrefix), true, func(_, value []byte) error {
		if limit > 0 && len(hashes) >= limit {
			return storage.ErrStopScan
		}
		hashes = append(hashes, string(value))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning log: %w", err)
	}

	entries := make([]*Checkpoint, 0, len(hashes))
	for _, hash := range hashes {
		cp, err := l.Get(txn, hash)
		if err != nil {
			return nil, err
		}
		entries = append(entries, cp)
	}
	return entries, nil
}

// Count returns the number of checkpoints appended so far.
func (l *Log) Count(txn storage.Txn) (uint64, error) {
	return readUint(txn, seqKey)
}

// tick returns a creation time strictly after the previous one, so
// created_at is monotonic even if the wall clock steps back.
func (l *Log) tick(txn storage.Txn) (time.Time, error) {
	last, err := readUint(txn, clockKey)
	if err != nil {
		return time.Time{}, err
	}
	now := l.now().UTC().UnixNano()
	if uint64(now) <= last {
		now = int64(last) + 1
	}
	if err := txn.Set([]byte(clockKey), []byte(strconv.FormatInt(now, 10))); err != nil {
		return time.Time{}, fmt.Errorf("writing clock: %w", err)
	}
	return time.Unix(0, now).UTC(), nil
}

func logKey(seq uint64) []byte {
	return storage.Key(logPrefix, fmt.Sprintf("%020d", seq))
}

func readUint(txn storage.Txn, key string) (uint64, error) {
	raw, err := txn.Get([]byte(key))
	if stderrors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", key, err)
	}
	v, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return v, nil
}
