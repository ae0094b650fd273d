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

package keybox

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/atomic"

	"github.com/jeremyhahn/go-keybox/pkg/metrics"
	"github.com/jeremyhahn/go-keybox/pkg/storage"
)

// RepositoryOptions configures a Repository.
type RepositoryOptions struct {
	// Backend holds the keybox document. Required.
	Backend storage.Backend

	// DocumentKey is the key of the document in Backend (default: storage.KeyboxDocument)
	DocumentKey string

	// Logger receives load diagnostics. Nil discards them.
	Logger *slog.Logger
}

// snapshot is the result of one load, published atomically.
type snapshot struct {
	revision string
	digest   [sha256.Size]byte
	store    *Store
	err      error
	// loaded is set when the snapshot came from document bytes
	loaded bool
}

// Repository loads the keybox document from storage and keeps the parsed
// Store. Readers never block each other: the revision check and the storage
// read run without locks, and only a changed document is parsed under
// loadMu.
type Repository struct {
	backend storage.Backend
	key     string
	log     *slog.Logger

	// loadMu serializes parses so one document change is parsed once
	loadMu  sync.Mutex
	current *atomic.Pointer[snapshot]
}

// NewRepository creates a Repository over opts.Backend.
func NewRepository(opts RepositoryOptions) (*Repository, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("keybox: storage backend is required")
	}
	if opts.DocumentKey == "" {
		opts.DocumentKey = storage.KeyboxDocument
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Repository{
		backend: opts.Backend,
		key:     opts.DocumentKey,
		log:     opts.Logger.With(slog.String("document", opts.DocumentKey)),
		current: atomic.NewPointer(&snapshot{store: Empty(), err: ErrDocumentAbsent}),
	}, nil
}

// Current returns the most recently published store without touching storage.
func (r *Repository) Current() *Store {
	return r.current.Load().store
}

// Load refreshes the store from storage and returns it.
//
// When the document is missing, unreadable or lacks the Keybox marker the
// store is cleared and ErrDocumentAbsent is returned. When it fails to parse
// the store is cleared and an error wrapping ErrMalformedDocument is
// returned. Both cases return the empty store, never a partial one.
func (r *Repository) Load() (*Store, error) {
	prev := r.current.Load()

	revision, supported, err := storage.Revision(r.backend, r.key)
	if err == nil && supported && prev.loaded && revision == prev.revision {
		metrics.RecordKeyboxLoad(metrics.LoadCached, prev.store.Len())
		return prev.store, prev.err
	}

	data, err := r.backend.Get(r.key)
	if err != nil {
		if !storage.IsNotFound(err) {
			r.log.Warn("keybox document unreadable", slog.String("error", err.Error()))
		}
		return r.publishAbsent(fmt.Errorf("%w: %v", ErrDocumentAbsent, err))
	}
	if len(data) == 0 || !HasMarker(data) {
		return r.publishAbsent(ErrDocumentAbsent)
	}

	digest := sha256.Sum256(data)
	if prev.loaded && digest == prev.digest {
		r.current.CompareAndSwap(prev, &snapshot{revision: revision, digest: digest, store: prev.store, err: prev.err, loaded: true})
		metrics.RecordKeyboxLoad(metrics.LoadCached, prev.store.Len())
		return prev.store, prev.err
	}
	return r.parse(revision, digest, data)
}

// parse publishes the store for data unless a concurrent load already did.
func (r *Repository) parse(revision string, digest [sha256.Size]byte, data []byte) (*Store, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	if cur := r.current.Load(); cur.loaded && cur.digest == digest {
		metrics.RecordKeyboxLoad(metrics.LoadCached, cur.store.Len())
		return cur.store, cur.err
	}

	store, err := Parse(data)
	if err != nil {
		r.log.Error("Error loading keybox document (keyboxes cleared)", slog.String("error", err.Error()))
		r.current.Store(&snapshot{revision: revision, digest: digest, store: Empty(), err: err, loaded: true})
		metrics.RecordKeyboxLoad(metrics.LoadMalformed, 0)
		return Empty(), err
	}

	r.current.Store(&snapshot{revision: revision, digest: digest, store: store, loaded: true})
	metrics.RecordKeyboxLoad(metrics.LoadLoaded, store.Len())
	r.log.Debug("keybox document loaded",
		slog.Int("entries", store.Len()),
		slog.String("revision", revision))
	return store, nil
}

// Clear drops the current store.
func (r *Repository) Clear() {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	r.current.Store(&snapshot{store: Empty(), err: ErrDocumentAbsent})
}

func (r *Repository) publishAbsent(err error) (*Store, error) {
	if prev := r.current.Load(); !errors.Is(prev.err, ErrDocumentAbsent) {
		r.log.Debug("keybox document absent, clearing all keyboxes")
	}
	r.current.Store(&snapshot{store: Empty(), err: err})
	metrics.RecordKeyboxLoad(metrics.LoadAbsent, 0)
	return Empty(), err
}
