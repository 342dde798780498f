// internal/checkpoint/types.go
package checkpoint

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"lukechampine.com/blake3"
)

// Checkpoint is an immutable snapshot record of one committed state of a
// tracked file.
type Checkpoint struct {
	Hash        string    `json:"hash"`
	Message     string    `json:"message"`
	ParentHash  string    `json:"parent_hash"`
	Branch      string    `json:"branch"`
	ContentHash string    `json:"content_hash"`
	Size        int64     `json:"size"`
	Author      string    `json:"author"`
	CreatedAt   time.Time `json:"created_at"`
	Seq         uint64    `json:"seq"`
}

// Params describes a checkpoint to append.
type Params struct {
	ParentHash  string
	Branch      string
	Message     string
	ContentHash string
	Size        int64
	Author      string
}

// identity is the hashed part of a checkpoint. Fields are declared in key
// order so the encoding is canonical.
type identity struct {
	Branch      string `json:"branch"`
	ContentHash string `json:"content_hash"`
	Message     string `json:"message"`
	ParentHash  string `json:"parent_hash"`
}

// ComputeHash derives the checkpoint identifier. Author and time are left
// out, so committing the same content with the same message on the same
// parent and branch yields the same hash.
func ComputeHash(p Params) string {
	data, _ := json.Marshal(identity{
		Branch:      p.Branch,
		ContentHash: p.ContentHash,
		Message:     p.Message,
		ParentHash:  p.ParentHash,
	})
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
