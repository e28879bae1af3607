package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/ricesearch/rank-tree/internal/pkg/errors"
	"github.com/ricesearch/rank-tree/internal/pkg/logger"
	"github.com/ricesearch/rank-tree/internal/tree"
)

// Service provides named tree management on top of a Storage.
type Service struct {
	storage Storage
	log     *logger.Logger
}

// NewService creates a new store service.
func NewService(storage Storage, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Discard()
	}
	return &Service{
		storage: storage,
		log:     log,
	}
}

// Put saves t under name. Replacing an existing record keeps its creation
// time.
func (s *Service) Put(ctx context.Context, name, description, fingerprint string, t *tree.Tree) (*Record, error) {
	rec, err := NewRecord(name, t)
	if err != nil {
		return nil, err
	}
	rec.Description = description
	rec.DataFingerprint = fingerprint

	existing, err := s.storage.Load(ctx, name)
	switch {
	case err == nil:
		rec.CreatedAt = existing.CreatedAt
		rec.Touch()
	case !errors.IsNotFound(err):
		return nil, err
	}

	if err := s.storage.Save(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to save tree: %w", err)
	}

	s.log.WithTree(name).Info("tree saved",
		"nodes", len(rec.Snapshot.Nodes),
		"formula", rec.Formula,
	)
	return rec, nil
}

// Get loads and rebuilds the tree stored under name.
func (s *Service) Get(ctx context.Context, name string) (*tree.Tree, *Record, error) {
	rec, err := s.storage.Load(ctx, name)
	if err != nil {
		return nil, nil, err
	}
	t, err := rec.Tree()
	if err != nil {
		return nil, nil, fmt.Errorf("tree %s: %w", name, err)
	}
	return t, rec, nil
}

// List returns all records ordered by name.
func (s *Service) List(ctx context.Context) ([]*Record, error) {
	recs, err := s.storage.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
	return recs, nil
}

// Delete removes the tree stored under name.
func (s *Service) Delete(ctx context.Context, name string) error {
	ok, err := s.storage.Exists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFoundError("tree " + name)
	}
	if err := s.storage.Delete(ctx, name); err != nil {
		return fmt.Errorf("failed to delete tree: %w", err)
	}
	s.log.WithTree(name).Info("tree deleted")
	return nil
}
