package filestore

import (
	"bytes"
	"io"
	"sync"
)

var _ FileStore = &fileMemoryStore{}

type fileMemoryStore struct {
	store map[string]fileMemory
	mu    sync.RWMutex
}

type fileMemory struct {
	name    string
	content []byte
}

// NewFileMemoryStore create new memory file store
func NewFileMemoryStore() FileStore {
	return &fileMemoryStore{
		store: make(map[string]fileMemory),
	}
}

func (s *fileMemoryStore) Add(name string, content io.Reader) (string, error) {
	b, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// generate until unique id (try maximum 50 times)
	for range [50]struct{}{} {
		id, err := generateID()
		if err != nil {
			return "", err
		}
		if _, ok := s.store[id]; ok {
			continue
		}
		s.store[id] = fileMemory{name: name, content: b}
		return id, nil
	}
	return "", errUniqueIDNotGenerated
}

func (s *fileMemoryStore) Remove(fileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.store[fileID]
	delete(s.store, fileID)
	return ok
}

func (s *fileMemoryStore) Open(fileID string) (string, io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.store[fileID]
	if !ok {
		return "", nil, ErrNotFound
	}
	return f.name, io.NopCloser(bytes.NewReader(f.content)), nil
}

func (s *fileMemoryStore) List() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make(map[string]string, len(s.store))
	for id, f := range s.store {
		names[id] = f.name
	}
	return names
}
