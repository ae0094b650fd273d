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

package vault

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-keybox/pkg/storage"
)

// kvServer is a minimal Vault KV v2 engine mounted at /v1/secret.
type kvServer struct {
	mu       sync.Mutex
	docs     map[string]map[string]interface{}
	versions map[string]int
	token    string
}

func newKVServer(t *testing.T) (*kvServer, *httptest.Server) {
	t.Helper()
	kv := &kvServer{
		docs:     make(map[string]map[string]interface{}),
		versions: make(map[string]int),
		token:    "test-token",
	}
	srv := httptest.NewServer(kv)
	t.Cleanup(srv.Close)
	return kv, srv
}

func (kv *kvServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if r.Header.Get("X-Vault-Token") != kv.token {
		writeJSON(w, http.StatusForbidden, map[string]interface{}{"errors": []string{"permission denied"}})
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, "/v1/secret/data/"):
		key := strings.TrimPrefix(r.URL.Path, "/v1/secret/data/")
		switch r.Method {
		case http.MethodGet:
			doc, ok := kv.docs[key]
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{}})
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"data": map[string]interface{}{
					"data":     doc,
					"metadata": map[string]interface{}{"version": kv.versions[key]},
				},
			})
		case http.MethodPut, http.MethodPost:
			var body struct {
				Data map[string]interface{} `json:"data"`
			}
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]interface{}{"errors": []string{err.Error()}})
				return
			}
			kv.docs[key] = body.Data
			kv.versions[key]++
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"data": map[string]interface{}{"version": kv.versions[key]},
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case strings.HasPrefix(r.URL.Path, "/v1/secret/metadata"):
		key := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/secret/metadata"), "/")
		if r.Method == http.MethodDelete {
			delete(kv.docs, key)
			delete(kv.versions, key)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method == "LIST" || r.URL.Query().Get("list") == "true" {
			kv.list(w, key)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (kv *kvServer) list(w http.ResponseWriter, dir string) {
	prefix := dir
	if prefix != "" {
		prefix += "/"
	}
	seen := make(map[string]bool)
	for key := range kv.docs {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			rest = rest[:i+1]
		}
		seen[rest] = true
	}
	if len(seen) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"errors": []string{}})
		return
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"keys": keys}})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newTestStorage(t *testing.T, srv *httptest.Server) *Storage {
	t.Helper()
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("VAULT_TOKEN", "")
	s, err := New(&Config{
		Address: srv.URL,
		Token:   "test-token",
		Path:    "keybox",
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"missing address", Config{Token: "t"}, true},
		{"missing token", Config{Address: "http://127.0.0.1:8200"}, true},
		{"defaults", Config{Address: "http://127.0.0.1:8200", Token: "t"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultMount, tt.config.Mount)
			assert.Equal(t, defaultTimeout, tt.config.Timeout)
		})
	}
}

func TestStorage_PutGetRevision(t *testing.T) {
	kv, srv := newKVServer(t)
	s := newTestStorage(t, srv)

	doc := []byte("<AndroidAttestation><NumberOfKeyboxes>1</NumberOfKeyboxes></AndroidAttestation>")
	require.NoError(t, s.Put(storage.KeyboxDocument, doc, nil))

	assert.Contains(t, kv.docs, "keybox/keybox.xml")

	got, err := s.Get(storage.KeyboxDocument)
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	rev1, err := s.Revision(storage.KeyboxDocument)
	require.NoError(t, err)
	assert.Equal(t, "1", rev1)

	require.NoError(t, s.Put(storage.KeyboxDocument, doc, nil))
	rev2, err := s.Revision(storage.KeyboxDocument)
	require.NoError(t, err)
	assert.Equal(t, "2", rev2)
}

func TestStorage_NotFound(t *testing.T) {
	_, srv := newKVServer(t)
	s := newTestStorage(t, srv)

	_, err := s.Get(storage.KeyboxDocument)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.Revision(storage.KeyboxDocument)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	exists, err := s.Exists(storage.KeyboxDocument)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, s.Delete(storage.KeyboxDocument), storage.ErrNotFound)
}

func TestStorage_ListAndDelete(t *testing.T) {
	_, srv := newKVServer(t)
	s := newTestStorage(t, srv)

	require.NoError(t, s.Put(storage.KeyboxDocument, []byte("a"), nil))
	require.NoError(t, s.Put(storage.PropsDocument, []byte("{}"), nil))
	require.NoError(t, s.Put("archive/old.xml", []byte("b"), nil))

	keys, err := s.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"archive/old.xml", storage.KeyboxDocument, storage.PropsDocument}, keys)

	keys, err = s.List("archive/")
	require.NoError(t, err)
	assert.Equal(t, []string{"archive/old.xml"}, keys)

	require.NoError(t, s.Delete(storage.PropsDocument))
	exists, err := s.Exists(storage.PropsDocument)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStorage_Unauthorized(t *testing.T) {
	_, srv := newKVServer(t)
	t.Setenv("VAULT_ADDR", "")
	t.Setenv("VAULT_TOKEN", "")
	s, err := New(&Config{Address: srv.URL, Token: "wrong"}, nil)
	require.NoError(t, err)

	_, err = s.Get(storage.KeyboxDocument)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestStorage_InvalidKeyAndClosed(t *testing.T) {
	_, srv := newKVServer(t)
	s := newTestStorage(t, srv)

	_, err := s.Get("../escape")
	assert.ErrorIs(t, err, storage.ErrInvalidKey)

	require.NoError(t, s.Close())
	_, err = s.Get(storage.KeyboxDocument)
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, s.Put(storage.KeyboxDocument, nil, nil), storage.ErrClosed)
}

var _ storage.Backend = (*Storage)(nil)
var _ storage.Revisioner = (*Storage)(nil)
