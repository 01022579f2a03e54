// Package storage provides in-process key-pair storage backends.
package storage

import (
	"sort"
	"sync"

	kiyeocrypto "github.com/kiyeovo/kiyeovo/crypto"
)

// memoryKeyStorage implements kiyeocrypto.KeyStorage with an in-memory map.
// It backs the ephemeral and short-lived keys the session manager and
// group control plane generate; the identity vault's long-term keys
// go through the password-encrypted persistence layer instead.
type memoryKeyStorage struct {
	keys map[string]kiyeocrypto.KeyPair
	mu   sync.RWMutex
}

// NewMemoryKeyStorage creates a new in-memory key storage.
func NewMemoryKeyStorage() kiyeocrypto.KeyStorage {
	return &memoryKeyStorage{
		keys: make(map[string]kiyeocrypto.KeyPair),
	}
}

// Store stores a key pair with the given ID.
func (s *memoryKeyStorage) Store(id string, keyPair kiyeocrypto.KeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[id] = keyPair
	return nil
}

// Load loads a key pair by ID.
func (s *memoryKeyStorage) Load(id string) (kiyeocrypto.KeyPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keyPair, exists := s.keys[id]
	if !exists {
		return nil, kiyeocrypto.ErrKeyNotFound
	}

	return keyPair, nil
}

// Delete removes a key pair by ID.
func (s *memoryKeyStorage) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[id]; !exists {
		return kiyeocrypto.ErrKeyNotFound
	}

	delete(s.keys, id)
	return nil
}

// List returns all stored key IDs in sorted order.
func (s *memoryKeyStorage) List() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.keys))
	for id := range s.keys {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids, nil
}

// Exists checks if a key exists.
func (s *memoryKeyStorage) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.keys[id]
	return exists
}
