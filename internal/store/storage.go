package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	"github.com/ricesearch/rank-tree/internal/config"
	"github.com/ricesearch/rank-tree/internal/pkg/errors"
)

// Storage is the interface for record persistence.
type Storage interface {
	// Save saves a record, replacing any with the same name.
	Save(ctx context.Context, rec *Record) error

	// Load loads a record by name.
	Load(ctx context.Context, name string) (*Record, error)

	// LoadAll loads all records.
	LoadAll(ctx context.Context) ([]*Record, error)

	// Delete deletes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, name string) error

	// Exists checks if a record exists.
	Exists(ctx context.Context, name string) (bool, error)
}

// NewStorage creates the storage backend named by cfg.Type.
func NewStorage(cfg config.StoreConfig) (Storage, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStorage(), nil
	case "file", "":
		return NewFileStorage(cfg.Path), nil
	case "redis":
		return NewRedisStorage(cfg)
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown store type %q", cfg.Type))
	}
}

// MemoryStorage stores records in memory (for testing).
type MemoryStorage struct {
	records map[string]*Record
	mu      sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records: make(map[string]*Record),
	}
}

func (m *MemoryStorage) Save(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	recCopy := *rec
	m.records[rec.Name] = &recCopy
	return nil
}

func (m *MemoryStorage) Load(_ context.Context, name string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.records[name]
	if !exists {
		return nil, errors.NotFoundError("tree " + name)
	}

	recCopy := *rec
	return &recCopy, nil
}

func (m *MemoryStorage) LoadAll(_ context.Context) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	recs := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		recCopy := *rec
		recs = append(recs, &recCopy)
	}
	return recs, nil
}

func (m *MemoryStorage) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, name)
	return nil
}

func (m *MemoryStorage) Exists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, exists := m.records[name]
	return exists, nil
}

// FileStorage stores records in JSON files.
type FileStorage struct {
	basePath string
	mu       sync.RWMutex
}

// NewFileStorage creates a new file-based storage.
func NewFileStorage(basePath string) *FileStorage {
	return &FileStorage{
		basePath: basePath,
	}
}

func (f *FileStorage) recordPath(name string) string {
	return filepath.Join(f.basePath, name+".json")
}

func (f *FileStorage) Save(_ context.Context, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(f.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	// write then rename so readers never see a partial file
	path := f.recordPath(rec.Name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write record file: %w", err)
	}

	return nil
}

func (f *FileStorage) Load(_ context.Context, name string) (*Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.recordPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundError("tree " + name)
		}
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrap(errors.CodeMalformedTree, "failed to unmarshal record", err)
	}

	return &rec, nil
}

func (f *FileStorage) LoadAll(_ context.Context) ([]*Record, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if _, err := os.Stat(f.basePath); os.IsNotExist(err) {
		return []*Record{}, nil
	}

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	var recs []*Record
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(f.basePath, entry.Name()))
		if err != nil {
			continue // Skip files we can't read
		}

		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue // Skip invalid files
		}

		recs = append(recs, &rec)
	}

	return recs, nil
}

func (f *FileStorage) Delete(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.recordPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record file: %w", err)
	}

	return nil
}

func (f *FileStorage) Exists(_ context.Context, name string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, err := os.Stat(f.recordPath(name))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}
