// Package store persists fitted trees under a name.
// A record is a tree snapshot plus the metadata needed to find and audit it.
package store

import (
	"fmt"
	"regexp"
	"time"

	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/tree"
)

// Record is a named, persisted tree.
type Record struct {
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	Formula         string         `json:"formula"`
	DataFingerprint string         `json:"data_fingerprint,omitempty"`
	Snapshot        *tree.Snapshot `json:"snapshot"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewRecord snapshots t under name.
func NewRecord(name string, t *tree.Tree) (*Record, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	snap, err := t.Snapshot()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &Record{
		Name:      name,
		Formula:   t.Formula.String(),
		Snapshot:  snap,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Tree rebuilds the stored tree.
func (r *Record) Tree() (*tree.Tree, error) {
	if r.Snapshot == nil {
		return nil, errors.MalformedTreeError(fmt.Sprintf("record %s has no snapshot", r.Name))
	}
	return tree.FromSnapshot(r.Snapshot)
}

// Touch updates the UpdatedAt timestamp.
func (r *Record) Touch() {
	r.UpdatedAt = time.Now()
}

var (
	// nameRegex validates tree names: lowercase alphanumeric + hyphens, starting with a letter
	nameRegex = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

	// MaxNameLength is the maximum length of a tree name
	MaxNameLength = 64
)

// ValidateName validates a tree name.
func ValidateName(name string) error {
	if name == "" {
		return errors.ValidationError("tree name cannot be empty")
	}

	if len(name) > MaxNameLength {
		return errors.ValidationError(fmt.Sprintf("tree name cannot exceed %d characters", MaxNameLength))
	}

	if !nameRegex.MatchString(name) {
		return errors.ValidationError("tree name must be lowercase alphanumeric with hyphens, starting with a letter")
	}

	return nil
}
