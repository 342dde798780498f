package content

import (
	"time"
)

// Blob describes content written to disk by Stage. It is not reachable
// through Get until Register has recorded it in a committed transaction.
type Blob struct {
	Hash       string `json:"hash"`
	Size       int64  `json:"size"`
	StoredSize int64  `json:"stored_size"`
	Compressed bool   `json:"compressed"`
}

// Meta is the metadata record kept for every registered blob.
type Meta struct {
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	StoredSize int64     `json:"stored_size"`
	Compressed bool      `json:"compressed"`
	RefCount   uint32    `json:"ref_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Options configures Store behavior
type Options struct {
	Root        string // Root directory for blob files
	CacheSize   int    // Number of decoded blobs kept in memory
	Compression CompressionOptions
}
