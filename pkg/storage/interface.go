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

// Package storage provides an abstraction layer for the document stores that
// hold keybox and property override documents. File, memory, Vault KV v2 and
// OS keyring implementations share a common interface.
package storage

import (
	"errors"
	"io/fs"
)

// Well-known document keys.
const (
	// KeyboxDocument is the XML keybox document.
	KeyboxDocument = "keybox.xml"

	// PropsDocument is the flat JSON property override document.
	PropsDocument = "props.json"
)

// Backend defines the interface for storage backends.
// All implementations must be thread-safe.
type Backend interface {
	// Get retrieves the value for the given key.
	// Returns ErrNotFound if the key does not exist.
	Get(key string) ([]byte, error)

	// Put stores the value for the given key with optional metadata.
	// If the key already exists, it will be overwritten.
	Put(key string, value []byte, opts *Options) error

	// Delete removes the key and its value from storage.
	// Returns ErrNotFound if the key does not exist.
	Delete(key string) error

	// List returns all keys with the given prefix.
	// If prefix is empty, all keys are returned.
	List(prefix string) ([]string, error)

	// Exists checks if a key exists in storage.
	Exists(key string) (bool, error)

	// Close releases any resources held by the backend.
	Close() error
}

// Revisioner is implemented by backends that can report a cheap revision
// marker for a key. The marker changes whenever the stored value changes,
// which lets callers skip re-parsing documents that have not been modified.
type Revisioner interface {
	// Revision returns an opaque revision string for key.
	// Returns ErrNotFound if the key does not exist.
	Revision(key string) (string, error)
}

// Options contains optional parameters for storage operations.
type Options struct {
	// Permissions sets the file permissions for file-based storage
	Permissions fs.FileMode

	// Metadata contains additional key-value pairs for storage operations
	Metadata map[string]string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Permissions: 0600,
		Metadata:    make(map[string]string),
	}
}

// Revision returns the revision of key when the backend supports it.
// The boolean result is false when the backend has no revision support.
func Revision(backend Backend, key string) (string, bool, error) {
	r, ok := backend.(Revisioner)
	if !ok {
		return "", false, nil
	}
	rev, err := r.Revision(key)
	if err != nil {
		return "", true, err
	}
	return rev, true, nil
}

// IsNotFound reports whether err indicates a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
