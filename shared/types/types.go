// Package types holds the JSON payloads exchanged between the timeline
// server and its clients.
package types

import (
	"time"

	"timeline/internal/errors"
	"timeline/internal/validation"
)

// Repository requests name their repository by DBPath, or by FilePath from
// which the server derives it.
type RepoRef struct {
	DBPath   string `json:"db_path,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

func (r RepoRef) validate() error {
	if r.DBPath == "" && r.FilePath == "" {
		return errors.ValidationError("db_path or file_path is required", nil)
	}
	return nil
}

type CommitRequest struct {
	RepoRef
	Message      string  `json:"message"`
	ExpectedHead *string `json:"expected_head,omitempty"`
}

func (r *CommitRequest) Validate() error {
	if err := validation.RequiredPath("file_path", r.FilePath); err != nil {
		return err
	}
	return validation.Message(r.Message)
}

type RestoreRequest struct {
	RepoRef
	Hash string `json:"hash"`
}

func (r *RestoreRequest) Validate() error {
	if err := validation.RequiredPath("file_path", r.FilePath); err != nil {
		return err
	}
	if r.Hash == "" {
		return errors.ValidationError("hash is required", nil)
	}
	return nil
}

// BranchRequest creates or switches a branch. Checkout only applies to
// creation. On switch, a FilePath receives the branch head's content.
type BranchRequest struct {
	RepoRef
	BranchName string `json:"branch_name"`
	Checkout   bool   `json:"checkout,omitempty"`
}

func (r *BranchRequest) Validate() error {
	if err := r.validate(); err != nil {
		return err
	}
	return validation.BranchName(r.BranchName)
}

type ConfigRequest struct {
	RepoRef
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (r *ConfigRequest) Validate() error {
	if err := r.validate(); err != nil {
		return err
	}
	if r.Key == "" {
		return errors.ValidationError("key is required", nil)
	}
	return nil
}

type ConfigValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Checkpoint struct {
	Hash        string    `json:"hash"`
	Message     string    `json:"message"`
	ParentHash  string    `json:"parent_hash"`
	Branch      string    `json:"branch"`
	ContentHash string    `json:"content_hash"`
	Size        int64     `json:"size"`
	Author      string    `json:"author"`
	CreatedAt   time.Time `json:"created_at"`
}

type Branch struct {
	Name      string    `json:"name"`
	Head      string    `json:"head"`
	Base      string    `json:"base"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type RepositoryInfo struct {
	Path          string    `json:"path"`
	ProjectID     string    `json:"project_id"`
	Backend       string    `json:"backend"`
	CreatedAt     time.Time `json:"created_at"`
	CurrentBranch string    `json:"current_branch"`
	Branches      int       `json:"branches"`
	Checkpoints   uint64    `json:"checkpoints"`
}

// Hunk is one unified diff hunk. Each line carries its "+", "-" or " "
// prefix.
type Hunk struct {
	OldStart int      `json:"old_start"`
	OldLines int      `json:"old_lines"`
	NewStart int      `json:"new_start"`
	NewLines int      `json:"new_lines"`
	Lines    []string `json:"lines"`
}

// Diff compares two checkpoints. From is empty when the comparison starts
// from an empty file.
type Diff struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Hunks     []Hunk `json:"hunks"`
	// Patch is the hunks rendered as unified diff text.
	Patch string `json:"patch"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
