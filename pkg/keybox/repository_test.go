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
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keybox/internal/testutil"
	"github.com/jeremyhahn/go-keybox/pkg/storage"
	"github.com/jeremyhahn/go-keybox/pkg/storage/memory"
)

// countingBackend counts Get calls and keeps Revision from the embedded store.
type countingBackend struct {
	*memory.Storage
	gets atomic.Int32
}

func (b *countingBackend) Get(key string) ([]byte, error) {
	b.gets.Add(1)
	return b.Storage.Get(key)
}

// stallingBackend blocks the next Revision call once armed until release is
// closed.
type stallingBackend struct {
	*memory.Storage
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (b *stallingBackend) Revision(key string) (string, error) {
	if b.armed.CompareAndSwap(true, false) {
		close(b.entered)
		<-b.release
	}
	return b.Storage.Revision(key)
}

// plainBackend hides the Revisioner implementation of its backend.
type plainBackend struct {
	storage.Backend
}

// failingBackend returns err from every Get.
type failingBackend struct {
	storage.Backend
	err error
}

func (b *failingBackend) Get(string) ([]byte, error) {
	return nil, b.err
}

func newTestRepository(t *testing.T, backend storage.Backend) *Repository {
	t.Helper()
	repo, err := NewRepository(RepositoryOptions{Backend: backend})
	require.NoError(t, err)
	return repo
}

func validDocument(t *testing.T) []byte {
	t.Helper()
	rsaKb, ecKb := fixtures(t)
	doc, err := testutil.KeyboxDocument(ecKb, rsaKb)
	require.NoError(t, err)
	return doc
}

func TestNewRepository_RequiresBackend(t *testing.T) {
	_, err := NewRepository(RepositoryOptions{})
	assert.Error(t, err)
}

func TestRepository_Absent(t *testing.T) {
	repo := newTestRepository(t, memory.New())

	assert.True(t, repo.Current().IsEmpty())

	store, err := repo.Load()
	assert.ErrorIs(t, err, ErrDocumentAbsent)
	assert.True(t, store.IsEmpty())
}

func TestRepository_NoMarker(t *testing.T) {
	backend := memory.New()
	require.NoError(t, backend.Put(storage.KeyboxDocument, []byte("<AndroidAttestation/>"), nil))
	repo := newTestRepository(t, backend)

	store, err := repo.Load()
	assert.ErrorIs(t, err, ErrDocumentAbsent)
	assert.True(t, store.IsEmpty())
}

func TestRepository_UnreadableBackend(t *testing.T) {
	backend := &failingBackend{Backend: memory.New(), err: storage.ErrUnavailable}
	repo := newTestRepository(t, backend)

	store, err := repo.Load()
	assert.ErrorIs(t, err, ErrDocumentAbsent)
	assert.True(t, store.IsEmpty())
}

func TestRepository_LoadAndCache(t *testing.T) {
	backend := &countingBackend{Storage: memory.New()}
	require.NoError(t, backend.Put(storage.KeyboxDocument, validDocument(t), nil))
	repo := newTestRepository(t, backend)

	store, err := repo.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
	assert.Same(t, store, repo.Current())
	assert.Equal(t, int32(1), backend.gets.Load())

	again, err := repo.Load()
	require.NoError(t, err)
	assert.Same(t, store, again)
	assert.Equal(t, int32(1), backend.gets.Load(), "unchanged revision must not re-read the document")
}

func TestRepository_SameContentNewRevision(t *testing.T) {
	backend := memory.New()
	doc := validDocument(t)
	require.NoError(t, backend.Put(storage.KeyboxDocument, doc, nil))
	repo := newTestRepository(t, backend)

	first, err := repo.Load()
	require.NoError(t, err)

	require.NoError(t, backend.Put(storage.KeyboxDocument, doc, nil))
	second, err := repo.Load()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestRepository_WithoutRevisions(t *testing.T) {
	backend := plainBackend{Backend: memory.New()}
	require.NoError(t, backend.Put(storage.KeyboxDocument, validDocument(t), nil))
	repo := newTestRepository(t, backend)

	first, err := repo.Load()
	require.NoError(t, err)
	second, err := repo.Load()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestRepository_MalformedClearsStore(t *testing.T) {
	backend := memory.New()
	require.NoError(t, backend.Put(storage.KeyboxDocument, validDocument(t), nil))
	repo := newTestRepository(t, backend)

	store, err := repo.Load()
	require.NoError(t, err)
	require.Equal(t, 2, store.Len())

	broken := []byte(`<AndroidAttestation><NumberOfKeyboxes>1</NumberOfKeyboxes><Keybox><Key algorithm="ecdsa"><PrivateKey>junk</PrivateKey></Key></Keybox></AndroidAttestation>`)
	require.NoError(t, backend.Put(storage.KeyboxDocument, broken, nil))

	store, err = repo.Load()
	assert.ErrorIs(t, err, ErrMalformedDocument)
	assert.True(t, store.IsEmpty())
	assert.True(t, repo.Current().IsEmpty())

	// the failure is remembered until the document changes
	_, err = repo.Load()
	assert.ErrorIs(t, err, ErrMalformedDocument)

	require.NoError(t, backend.Put(storage.KeyboxDocument, validDocument(t), nil))
	store, err = repo.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
}

func TestRepository_DeletedDocumentClearsStore(t *testing.T) {
	backend := memory.New()
	require.NoError(t, backend.Put(storage.KeyboxDocument, validDocument(t), nil))
	repo := newTestRepository(t, backend)

	_, err := repo.Load()
	require.NoError(t, err)

	require.NoError(t, backend.Delete(storage.KeyboxDocument))
	store, err := repo.Load()
	assert.True(t, errors.Is(err, ErrDocumentAbsent))
	assert.True(t, store.IsEmpty())
}

func TestRepository_Clear(t *testing.T) {
	backend := memory.New()
	require.NoError(t, backend.Put(storage.KeyboxDocument, validDocument(t), nil))
	repo := newTestRepository(t, backend)

	_, err := repo.Load()
	require.NoError(t, err)
	repo.Clear()
	assert.True(t, repo.Current().IsEmpty())

	store, err := repo.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
}

func TestRepository_ConcurrentLoad(t *testing.T) {
	backend := memory.New()
	require.NoError(t, backend.Put(storage.KeyboxDocument, validDocument(t), nil))
	repo := newTestRepository(t, backend)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			store, err := repo.Load()
			assert.NoError(t, err)
			assert.Equal(t, 2, store.Len())
			_ = repo.Current().Len()
		}()
	}
	wg.Wait()
}

func TestRepository_StalledLoadDoesNotBlockReaders(t *testing.T) {
	backend := &stallingBackend{
		Storage: memory.New(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	require.NoError(t, backend.Put(storage.KeyboxDocument, validDocument(t), nil))
	repo := newTestRepository(t, backend)
	cached, err := repo.Load()
	require.NoError(t, err)

	backend.armed.Store(true)
	stalled := make(chan struct{})
	go func() {
		defer close(stalled)
		_, _ = repo.Load()
	}()
	<-backend.entered

	done := make(chan *Store, 1)
	go func() {
		store, _ := repo.Load()
		done <- store
	}()
	select {
	case store := <-done:
		assert.Same(t, cached, store)
	case <-time.After(5 * time.Second):
		t.Fatal("Load blocked behind a stalled storage call")
	}

	close(backend.release)
	<-stalled
}
