// Package filestore persists raw attachment bytes (images, uploaded
// documents) scoped by session. Implementations must be thread-safe.
package filestore

import (
	"fmt"
	"sort"
	"sync"
)

// Store defines the interface for attachment persistence. Short method names
// (Save/Get/List/Delete) mirror the other store interfaces for consistency.
type Store interface {
	Save(sessionID, fileID string, data []byte) error
	Get(sessionID, fileID string) ([]byte, error)
	List(sessionID string) ([]string, error)
	Delete(sessionID, fileID string) error
}

// InMemoryStore is a volatile Store implementation backed by process local
// maps. Data is copied on write and read.
type InMemoryStore struct {
	mu    sync.RWMutex
	files map[string]map[string][]byte
}

// NewInMemoryStore constructs an empty in-memory file store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{files: make(map[string]map[string][]byte)}
}

// Save implements Store.
func (s *InMemoryStore) Save(sessionID, fileID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[sessionID]; !ok {
		s.files[sessionID] = make(map[string][]byte)
	}
	s.files[sessionID][fileID] = append([]byte(nil), data...)
	return nil
}

// Get implements Store.
func (s *InMemoryStore) Get(sessionID, fileID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.files[sessionID][fileID]
	if !ok {
		return nil, fmt.Errorf("file %s not found in session %s", fileID, sessionID)
	}
	return append([]byte(nil), data...), nil
}

// List implements Store.
func (s *InMemoryStore) List(sessionID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.files[sessionID]))
	for id := range s.files[sessionID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(sessionID, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files[sessionID], fileID)
	return nil
}
