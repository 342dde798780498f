// Package storage provides the transactional key-value layer that holds a
// repository's metadata: checkpoint records, branch heads, blob metadata and
// settings. Two backends implement it: badger (default) and sqlite.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("key not found")

// Txn is a read or read-write transaction.
type Txn interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	// Scan calls fn for every key with the given prefix in key order, or in
	// reverse key order when reverse is set. Returning ErrStopScan from fn
	// ends the scan without error.
	Scan(prefix []byte, reverse bool, fn func(key, value []byte) error) error
}

// ErrStopScan stops a Scan early.
var ErrStopScan = errors.New("stop scan")

// Store runs transactions. Update commits all writes made by fn atomically,
// or none of them if fn returns an error.
type Store interface {
	View(fn func(txn Txn) error) error
	Update(fn func(txn Txn) error) error
	Close() error
}

// Key joins a prefix and an id the way every record key is built.
func Key(prefix, id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", prefix, id))
}

// Prefix returns the scan prefix for Key(prefix, *).
func Prefix(prefix string) []byte {
	return []byte(prefix + ":")
}

// GetJSON loads and decodes the value at key.
func GetJSON(txn Txn, key []byte, v any) error {
	data, err := txn.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it at key.
func SetJSON(txn Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return txn.Set(key, data)
}

// Exists reports whether key is present.
func Exists(txn Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// prefixEnd returns the smallest key greater than every key with prefix,
// or nil if there is none.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
