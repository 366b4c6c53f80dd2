package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

var _ FileStore = &fileLocalStore{}

type fileLocalStore struct {
	dir  string            // directory to store file
	name map[string]string // id to name mapping if exists
	mu   sync.RWMutex
}

// NewFileLocalStore create new local file store
func NewFileLocalStore(dir string) (FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	return &fileLocalStore{
		dir:  filepath.Clean(dir),
		name: make(map[string]string),
	}, nil
}

func (s *fileLocalStore) Add(name string, content io.Reader) (string, error) {
	f, err := s.create()
	if err != nil {
		return "", err
	}
	id := filepath.Base(f.Name())
	_, err = io.Copy(f, content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.name[id] = name
	return id, nil
}

func (s *fileLocalStore) Open(id string) (string, io.ReadCloser, error) {
	if !validID(id) {
		return "", nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.dir, id))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.name[id]
	if !ok {
		name = id
	}
	return name, f, nil
}

func (s *fileLocalStore) Remove(id string) bool {
	if !validID(id) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.name, id)
	return os.Remove(filepath.Join(s.dir, id)) == nil
}

func (s *fileLocalStore) List() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fi, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}

	names := make(map[string]string, len(fi))
	for _, f := range fi {
		if f.IsDir() {
			continue
		}
		names[f.Name()] = s.name[f.Name()]
	}
	return names
}

func (s *fileLocalStore) create() (*os.File, error) {
	for range [50]struct{}{} {
		id, err := generateID()
		if err != nil {
			return nil, err
		}
		f, err := os.OpenFile(filepath.Join(s.dir, id), os.O_CREATE|os.O_RDWR|os.O_EXCL, 0644)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	return nil, errUniqueIDNotGenerated
}

// ids never contain path separators
func validID(id string) bool {
	return id != "" && id != "." && id != ".." && filepath.Base(id) == id
}
