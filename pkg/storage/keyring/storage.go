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

// Package keyring provides a storage.Backend on top of the operating system
// secret store (Secret Service, macOS Keychain, Windows Credential Manager or
// an encrypted file directory) using github.com/99designs/keyring.
package keyring

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/99designs/keyring"

	"github.com/jeremyhahn/go-keybox/pkg/storage"
)

// DefaultServiceName is the keyring service documents are filed under.
const DefaultServiceName = "go-keybox"

// Config selects and configures the keyring.
type Config struct {
	// ServiceName is the keyring service name (default: "go-keybox")
	ServiceName string

	// Backends restricts the keyring implementations that may be used,
	// e.g. []string{"file"}. Empty allows every backend available on the host.
	Backends []string

	// FileDir is the directory used by the encrypted file backend
	FileDir string

	// Password unlocks the encrypted file backend
	Password string
}

// Storage implements storage.Backend and storage.Revisioner.
type Storage struct {
	mu     sync.RWMutex
	ring   keyring.Keyring
	closed bool
}

// New opens the configured keyring.
func New(config *Config) (*Storage, error) {
	if config == nil {
		config = &Config{}
	}

	serviceName := config.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	// nil lets the library consider every backend available on the host
	var allowed []keyring.BackendType
	for _, b := range config.Backends {
		allowed = append(allowed, keyring.BackendType(b))
	}

	ringConfig := keyring.Config{
		ServiceName:             serviceName,
		AllowedBackends:         allowed,
		FileDir:                 config.FileDir,
		KeychainName:            serviceName,
		LibSecretCollectionName: serviceName,
	}
	if config.Password != "" {
		ringConfig.FilePasswordFunc = keyring.FixedStringPrompt(config.Password)
	}

	ring, err := keyring.Open(ringConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}

	return &Storage{ring: ring}, nil
}

// Get retrieves the document stored under key.
func (s *Storage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	item, err := s.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document from keyring: %w", err)
	}
	return item.Data, nil
}

// Put stores the document under key.
func (s *Storage) Put(key string, value []byte, opts *storage.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}
	if key == "" {
		return storage.ErrInvalidKey
	}

	item := keyring.Item{
		Key:   key,
		Data:  value,
		Label: DefaultServiceName + " " + key,
	}
	if opts != nil {
		item.Description = opts.Metadata["description"]
	}

	if err := s.ring.Set(item); err != nil {
		return fmt.Errorf("failed to store document in keyring: %w", err)
	}
	return nil
}

// Delete removes the document stored under key.
func (s *Storage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrClosed
	}

	if _, err := s.ring.Get(key); err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to get document from keyring: %w", err)
	}
	if err := s.ring.Remove(key); err != nil {
		return fmt.Errorf("failed to remove document from keyring: %w", err)
	}
	return nil
}

// List returns all keys with the given prefix in sorted order.
func (s *Storage) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}

	keys, err := s.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list keyring: %w", err)
	}

	result := make([]string, 0, len(keys))
	for _, key := range keys {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			result = append(result, key)
		}
	}
	sort.Strings(result)
	return result, nil
}

// Exists checks if a document is stored under key.
func (s *Storage) Exists(key string) (bool, error) {
	_, err := s.Get(key)
	if err != nil {
		if storage.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Revision returns a content digest. Keyrings keep no version history, so the
// digest changes exactly when the stored bytes change.
func (s *Storage) Revision(key string) (string, error) {
	data, err := s.Get(key)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16]), nil
}

// Close marks the storage as closed.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}
