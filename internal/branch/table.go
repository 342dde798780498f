// Package branch keeps the branch table of a repository: one record per
// branch naming its head checkpoint, and the active-branch cursor.
package branch

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"timeline/internal/checkpoint"
	"timeline/internal/errors"
	"timeline/internal/storage"
	"timeline/internal/validation"
)

// Default is the branch every repository starts with.
const Default = "main"

const (
	branchPrefix = "branch"
	currentKey   = "meta:current"
)

type Branch struct {
	Name      string    `json:"name"`
	Head      string    `json:"head"`
	Base      string    `json:"base"` // head it was forked from
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Table operates on branch records inside the caller's transaction.
type Table struct {
	log *checkpoint.Log
}

func NewTable(log *checkpoint.Log) *Table {
	return &Table{log: log}
}

// Fresh is the state of a repository that has never been written.
func Fresh() *Branch {
	return &Branch{Name: Default}
}

// Init writes the default branch and points the cursor at it. It is a no-op
// on an initialized repository.
func (t *Table) Init(txn storage.Txn) error {
	ok, err := storage.Exists(txn, []byte(currentKey))
	if err != nil || ok {
		return err
	}
	now := time.Now().UTC()
	b := &Branch{Name: Default, CreatedAt: now, UpdatedAt: now}
	if err := t.put(txn, b); err != nil {
		return err
	}
	return txn.Set([]byte(currentKey), []byte(Default))
}

// Get returns the named branch.
func (t *Table) Get(txn storage.Txn, name string) (*Branch, error) {
	var b Branch
	err := storage.GetJSON(txn, storage.Key(branchPrefix, name), &b)
	if stderrors.Is(err, storage.ErrNotFound) {
		return nil, errors.NotFound(fmt.Sprintf("branch not found: %s", name))
	}
	if err != nil {
		return nil, fmt.Errorf("reading branch: %w", err)
	}
	return &b, nil
}

// Head returns the head checkpoint hash of the named branch.
func (t *Table) Head(txn storage.Txn, name string) (string, error) {
	b, err := t.Get(txn, name)
	if err != nil {
		return "", err
	}
	return b.Head, nil
}

// Current returns the active branch name.
func (t *Table) Current(txn storage.Txn) (string, error) {
	raw, err := txn.Get([]byte(currentKey))
	if stderrors.Is(err, storage.ErrNotFound) {
		return Default, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading current branch: %w", err)
	}
	return string(raw), nil
}

// List returns all branches in name order.
func (t *Table) List(txn storage.Txn) ([]*Branch, error) {
	var branches []*Branch
	err := txn.Scan(storage.Prefix(branchPrefix), false, func(_, value []byte) error {
		var b Branch
		if err := json.Unmarshal(value, &b); err != nil {
			return fmt.Errorf("decoding branch: %w", err)
		}
		branches = append(branches, &b)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	return branches, nil
}

// Create forks a new branch at the active branch's head.
func (t *Table) Create(txn storage.Txn, name string) (*Branch, error) {
	if err := validation.BranchName(name); err != nil {
		return nil, err
	}

	exists, err := storage.Exists(txn, storage.Key(branchPrefix, name))
	if err != nil {
		return nil, fmt.Errorf("checking branch: %w", err)
	}
	if exists {
		return nil, errors.AlreadyExists(fmt.Sprintf("branch already exists: %s", name))
	}

	current, err := t.Current(txn)
	if err != nil {
		return nil, err
	}
	head, err := t.Head(txn, current)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	b := &Branch{Name: name, Head: head, Base: head, CreatedAt: now, UpdatedAt: now}
	if err := t.put(txn, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Switch moves the cursor to name. Heads are not touched.
func (t *Table) Switch(txn storage.Txn, name string) (*Branch, error) {
	if err := validation.BranchName(name); err != nil {
		return nil, err
	}
	b, err := t.Get(txn, name)
	if err != nil {
		return nil, err
	}
	if err := txn.Set([]byte(currentKey), []byte(name)); err != nil {
		return nil, fmt.Errorf("writing current branch: %w", err)
	}
	return b, nil
}

// AdvanceHead moves the named branch to hash. The checkpoint at hash must
// have the branch's prior head as its parent.
func (t *Table) AdvanceHead(txn storage.Txn, name, hash string) (*Branch, error) {
	b, err := t.Get(txn, name)
	if err != nil {
		return nil, err
	}
	if b.Head == hash {
		return b, nil
	}

	cp, err := t.log.Get(txn, hash)
	if err != nil {
		if errors.Is(err, errors.ErrorTypeNotFound) {
			return nil, errors.Integrity(fmt.Sprintf("cannot advance %s to unknown checkpoint %s", name, hash))
		}
		return nil, err
	}
	if cp.ParentHash != b.Head {
		return nil, errors.Integrity(fmt.Sprintf(
			"cannot advance %s to %s: parent %q does not match head %q", name, hash, cp.ParentHash, b.Head))
	}

	b.Head = hash
	b.UpdatedAt = time.Now().UTC()
	if err := t.put(txn, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (t *Table) put(txn storage.Txn, b *Branch) error {
	return storage.SetJSON(txn, storage.Key(branchPrefix, b.Name), b)
}
