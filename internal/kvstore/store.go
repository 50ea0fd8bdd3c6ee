// Copyright (c) 2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvstore

import "sync"

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is an opaque key-value blob store. Put is an idempotent
// whole-value overwrite; Get reports ok=false for a missing key.
type Store interface {
	Put(key string, value []byte) error
	Get(key string) (value []byte, ok bool, err error)
	Delete(key string) error
}

// =============================================================================
// MEMORY STORE
// =============================================================================

// MemoryStore is an in-process Store used by tests and as a fallback
// when no database can be opened.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

// Put stores a copy of value under key.
func (s *MemoryStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(value))
	copy(buf, value)
	s.values[key] = buf
	return nil
}

// Get returns a copy of the value stored under key.
func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	buf := make([]byte, len(v))
	copy(buf, v)
	return buf, true, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
