// Package validation checks request bodies and user-supplied names before
// they reach a repository.
package validation

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"timeline/internal/errors"
)

const (
	MaxBranchNameLength = 128
	MaxMessageLength    = 4096
	maxBodyBytes        = 1 << 20
)

type Validator interface {
	Validate() error
}

// DecodeRequest decodes a JSON request body into v and validates it.
func DecodeRequest(r *http.Request, v Validator) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.ValidationError("invalid request body", map[string]string{"error": err.Error()})
	}
	return v.Validate()
}

// BranchName validates a branch name: 1 to 128 characters from
// [A-Za-z0-9._/-], not starting with '-' or '/', without "..".
func BranchName(name string) error {
	details := map[string]string{"branch_name": name}
	switch {
	case name == "":
		return errors.ValidationError("branch name is required", details)
	case len(name) > MaxBranchNameLength:
		return errors.ValidationError(fmt.Sprintf("branch name longer than %d characters", MaxBranchNameLength), details)
	case name[0] == '-' || name[0] == '/':
		return errors.ValidationError("branch name must not start with '-' or '/'", details)
	case strings.Contains(name, ".."):
		return errors.ValidationError("branch name must not contain '..'", details)
	}
	for _, c := range name {
		if !isBranchChar(c) {
			return errors.ValidationError(fmt.Sprintf("branch name contains invalid character %q", c), details)
		}
	}
	return nil
}

// Message validates a checkpoint message. Empty messages are allowed.
func Message(msg string) error {
	if len(msg) > MaxMessageLength {
		return errors.ValidationError(fmt.Sprintf("message longer than %d bytes", MaxMessageLength), nil)
	}
	return nil
}

// RequiredPath reports a validation error when path is empty.
func RequiredPath(field, path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.ValidationError(field+" is required", nil)
	}
	return nil
}

func isBranchChar(c rune) bool {
	return c >= 'a' && c <= 'z' ||
		c >= 'A' && c <= 'Z' ||
		c >= '0' && c <= '9' ||
		c == '.' || c == '_' || c == '/' || c == '-'
}
