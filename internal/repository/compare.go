package repository

import (
	"context"

	"timeline/internal/checkpoint"
	"timeline/internal/diff"
	"timeline/internal/errors"
	"timeline/internal/storage"
)

// DefaultContextLines is the diff context used when none is requested.
const DefaultContextLines = 3

// Comparison is a line diff between two checkpoints. From is nil when the
// comparison starts from an empty file.
type Comparison struct {
	From   *checkpoint.Checkpoint
	To     *checkpoint.Checkpoint
	Result *diff.Result
}

// Diff compares the snapshots of from and to. An empty to means the head of
// the active branch, and an empty from means the parent of to.
func (r *Repository) Diff(ctx context.Context, from, to string, contextLines int) (*Comparison, error) {
	var cmp Comparison
	err := r.kv.View(func(txn storage.Txn) error {
		if to == "" {
			head, err := r.resolveHead(txn, "")
			if err != nil {
				return err
			}
			if head == "" {
				return errors.NotFound("active branch has no checkpoints")
			}
			to = head
		}

		var err error
		if cmp.To, err = r.log.Get(txn, to); err != nil {
			return err
		}
		if from == "" {
			from = cmp.To.ParentHash
		}
		if from == "" {
			return nil
		}
		cmp.From, err = r.log.Get(txn, from)
		return err
	})
	if err != nil {
		return nil, r.txnError("diff", err)
	}

	var before []byte
	if cmp.From != nil {
		if before, err = r.readContent(ctx, cmp.From); err != nil {
			return nil, err
		}
	}
	after, err := r.readContent(ctx, cmp.To)
	if err != nil {
		return nil, err
	}

	if cmp.Result, err = diff.NewEngine(contextLines).Diff(before, after); err != nil {
		return nil, err
	}
	return &cmp, nil
}
