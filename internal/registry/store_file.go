package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"sync"

	"modelprobe/internal/common/fsutil"
)

// fileDocument is the on-disk layout, keyed by model id.
type fileDocument struct {
	Models map[string]Record `json:"models"`
}

// FileStore keeps records in a single JSON document. Every Put rewrites the
// file atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]Record
}

// OpenFileStore loads path, treating a missing file as an empty registry.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, data: map[string]Record{}}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(b) == 0 {
		return s, nil
	}
	var doc fileDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode registry %s: %w", path, err)
	}
	for id, r := range doc.Models {
		r.ID = id
		s.data[id] = r
	}
	return s, nil
}

func (s *FileStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *FileStore) Put(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[r.ID] = r
	return s.saveLocked()
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return nil
	}
	delete(s.data, id)
	return s.saveLocked()
}

func (s *FileStore) List(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	out := make([]Record, 0, len(s.data))
	for _, r := range s.data {
		out = append(out, r)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) saveLocked() error {
	b, err := json.MarshalIndent(fileDocument{Models: s.data}, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(s.path, b, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	return nil
}
