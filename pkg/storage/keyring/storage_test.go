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

package keyring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keybox/pkg/storage"
)

func newFileKeyring(t *testing.T) *Storage {
	t.Helper()
	s, err := New(&Config{
		ServiceName: "go-keybox-test",
		Backends:    []string{"file"},
		FileDir:     t.TempDir(),
		Password:    "test-password",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorage_PutGet(t *testing.T) {
	s := newFileKeyring(t)

	doc := []byte("<AndroidAttestation/>")
	require.NoError(t, s.Put(storage.KeyboxDocument, doc, nil))

	got, err := s.Get(storage.KeyboxDocument)
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	exists, err := s.Exists(storage.KeyboxDocument)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestStorage_NotFound(t *testing.T) {
	s := newFileKeyring(t)

	_, err := s.Get(storage.KeyboxDocument)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.Delete(storage.KeyboxDocument), storage.ErrNotFound)

	exists, err := s.Exists(storage.KeyboxDocument)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStorage_Revision(t *testing.T) {
	s := newFileKeyring(t)

	require.NoError(t, s.Put(storage.KeyboxDocument, []byte("one"), nil))
	first, err := s.Revision(storage.KeyboxDocument)
	require.NoError(t, err)

	require.NoError(t, s.Put(storage.KeyboxDocument, []byte("one"), nil))
	same, err := s.Revision(storage.KeyboxDocument)
	require.NoError(t, err)
	assert.Equal(t, first, same, "identical content keeps its revision")

	require.NoError(t, s.Put(storage.KeyboxDocument, []byte("two"), nil))
	second, err := s.Revision(storage.KeyboxDocument)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestStorage_ListDelete(t *testing.T) {
	s := newFileKeyring(t)

	require.NoError(t, s.Put(storage.KeyboxDocument, []byte("a"), nil))
	require.NoError(t, s.Put(storage.PropsDocument, []byte("{}"), nil))

	keys, err := s.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{storage.KeyboxDocument, storage.PropsDocument}, keys)

	keys, err = s.List("props")
	require.NoError(t, err)
	assert.Equal(t, []string{storage.PropsDocument}, keys)

	require.NoError(t, s.Delete(storage.PropsDocument))
	keys, err = s.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{storage.KeyboxDocument}, keys)
}

func TestStorage_Closed(t *testing.T) {
	s := newFileKeyring(t)
	require.NoError(t, s.Close())

	_, err := s.Get(storage.KeyboxDocument)
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, s.Put(storage.KeyboxDocument, nil, nil), storage.ErrClosed)
	_, err = s.List("")
	assert.ErrorIs(t, err, storage.ErrClosed)
}

var _ storage.Backend = (*Storage)(nil)
