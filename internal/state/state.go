package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Session is the durable tracking-session record. Invariant: Identity and
// Endpoint are non-empty whenever Active is true.
type Session struct {
	Active   bool   `yaml:"is_tracking"`
	Identity string `yaml:"identity"`
	Endpoint string `yaml:"endpoint"`
}

// Health is the durable health snapshot, namespaced apart from the session
// so readers of one never depend on the layout of the other.
type Health struct {
	Status             string `yaml:"status"`
	LastSuccessEpochMS int64  `yaml:"last_success_epoch_ms"`
}

// Store persists agent state across process restarts and reboots.
//
// Implementations must make saves atomic with respect to concurrent loads:
// a reader never observes a torn write. Load on a store that has never been
// written returns zero values and no error.
type Store interface {
	LoadSession() (Session, error)
	SaveSession(Session) error
	LoadHealth() (Health, error)
	SaveHealth(Health) error
}

// fileDoc is the on-disk layout: one YAML document with two namespaces.
type fileDoc struct {
	Session Session `yaml:"session"`
	Health  Health  `yaml:"health"`
}

// FileStore persists state to a single YAML file. Writes go to a temp file
// in the same directory followed by a rename, so a crash mid-write leaves
// either the old state or the new state, never a mix.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore at path, creating parent directories
// as needed.
func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("state: create dir: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) LoadSession() (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readLocked()
	return doc.Session, err
}

func (s *FileStore) SaveSession(sess Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	doc.Session = sess
	return s.writeLocked(doc)
}

func (s *FileStore) LoadHealth() (Health, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readLocked()
	return doc.Health, err
}

func (s *FileStore) SaveHealth(h Health) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	doc.Health = h
	return s.writeLocked(doc)
}

func (s *FileStore) readLocked() (fileDoc, error) {
	var doc fileDoc
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return doc, nil
		}
		return doc, fmt.Errorf("state: read %s: %w", s.path, err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fileDoc{}, fmt.Errorf("state: parse %s: %w", s.path, err)
	}
	return doc, nil
}

func (s *FileStore) writeLocked(doc fileDoc) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".waypost-state-*")
	if err != nil {
		return fmt.Errorf("state: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("state: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("state: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("state: rename: %w", err)
	}
	return nil
}

// MemStore is an in-memory Store for tests and for degraded operation when
// the durable file is unusable.
type MemStore struct {
	mu      sync.Mutex
	session Session
	health  Health

	// FailSaves makes every save return an error, simulating durable-store
	// I/O failure.
	FailSaves bool
}

func NewMemStore() *MemStore { return &MemStore{} }

func (m *MemStore) LoadSession() (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, nil
}

func (m *MemStore) SaveSession(sess Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return errors.New("state: simulated save failure")
	}
	m.session = sess
	return nil
}

func (m *MemStore) LoadHealth() (Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health, nil
}

func (m *MemStore) SaveHealth(h Health) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return errors.New("state: simulated save failure")
	}
	m.health = h
	return nil
}
