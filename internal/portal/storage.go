package portal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Storage is the durable key-value store backing portal sessions.
// Keys are already namespaced per role by the Manager.
type Storage interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) (string, bool, error)

	// Set stores a value.
	Set(key, value string) error

	// Delete removes a key; deleting a missing key is not an error.
	Delete(key string) error
}

// MemoryStorage is an in-process Storage for tests and ephemeral use.
type MemoryStorage struct {
	mu sync.RWMutex
	m  map[string]string
}

// NewMemoryStorage constructs an empty in-memory Storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{m: make(map[string]string)}
}

// Get returns the stored value and whether the key exists.
func (s *MemoryStorage) Get(key string) (string, bool, error) {
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	return v, ok, nil
}

// Set stores a value.
func (s *MemoryStorage) Set(key, value string) error {
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
	return nil
}

// Delete removes a key.
func (s *MemoryStorage) Delete(key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

// FileStorage persists keys as a single JSON document, written with an
// atomic rename so a crash never leaves a torn file. A single active owner
// per file is assumed; there is no cross-process lock.
type FileStorage struct {
	mu   sync.Mutex
	path string
}

// NewFileStorage creates a FileStorage rooted at dir.
func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("portal: storage dir: %w", err)
	}
	return &FileStorage{path: filepath.Join(dir, "session_state.json")}, nil
}

// Get returns the stored value and whether the key exists.
func (s *FileStorage) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

// Set stores a value.
func (s *FileStorage) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	m[key] = value
	return s.save(m)
}

// Delete removes a key.
func (s *FileStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return s.save(m)
}

func (s *FileStorage) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, fmt.Errorf("portal: read storage: %w", err)
	}

	m := make(map[string]string)
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("portal: corrupt storage: %w", err)
	}
	return m, nil
}

func (s *FileStorage) save(m map[string]string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("portal: write storage: %w", err)
	}
	return os.Rename(tmp, s.path)
}
