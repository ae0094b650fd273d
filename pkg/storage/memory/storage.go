// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keybox.
//
// go-keybox is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package memory provides an in-memory implementation of the storage.Backend
// interface. Every write bumps a per-key revision counter, which makes it a
// convenient document source for tests and embedded hosts.
package memory

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-keybox/pkg/storage"
)

type entry struct {
	value    []byte
	revision uint64
}

// Storage is an in-memory implementation of storage.Backend and
// storage.Revisioner. All byte slices are copied on the way in and out.
type Storage struct {
	mu     sync.RWMutex
	data   map[string]entry
	seq    uint64
	closed bool
}

// New creates a new in-memory storage backend.
func New() *Storage {
	return &Storage{
		data: make(map[string]entry),
	}
}

// Get retrieves the value for the given key.
// Returns storage.ErrNotFound if the key does not exist.
// Returns storage.ErrClosed if the storage has been closed.
func (s *Storage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	e, exists := s.data[key]
	if !exists {
		return nil, storage.ErrNotFound
	}

	result := make([]byte, len(e.value))
	copy(result, e.value)
	return result, nil
}

// Put stores the value for the given key and assigns it a new revision.
// The Options parameter is accepted for interface compatibility but metadata is not persisted.
func (s *Storage) Put(key string, value []byte, opts *storage.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if key == "" {
		return storage.ErrInvalidKey
	}

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	s.seq++
	s.data[key] = entry{value: valueCopy, revision: s.seq}

	return nil
}

// Delete removes the key and its value from storage.
// Returns storage.ErrNotFound if the key does not exist.
func (s *Storage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	if _, exists := s.data[key]; !exists {
		return storage.ErrNotFound
	}

	delete(s.data, key)
	return nil
}

// List returns all keys with the given prefix in sorted order.
func (s *Storage) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	var keys []string
	for key := range s.data {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// Exists checks if a key exists in storage.
func (s *Storage) Exists(key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, storage.ErrClosed
	}

	_, exists := s.data[key]
	return exists, nil
}

// Revision returns the write sequence number of the current value of key.
func (s *Storage) Revision(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", storage.ErrClosed
	}

	e, exists := s.data[key]
	if !exists {
		return "", storage.ErrNotFound
	}
	return strconv.FormatUint(e.revision, 10), nil
}

// Close marks the storage as closed and drops its contents.
// After calling Close, all other operations will return storage.ErrClosed.
// Multiple calls to Close are safe and will return nil.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.data = nil

	return nil
}
