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

package file

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jeremyhahn/go-keybox/pkg/storage"
)

// Helper to create a temporary directory for tests
func setupTestDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

func TestNew(t *testing.T) {
	t.Run("valid directory", func(t *testing.T) {
		dir := setupTestDir(t)

		store, err := New(dir)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}

		keys, err := store.List("")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(keys) != 0 {
			t.Errorf("New store should be empty, got %d keys", len(keys))
		}
	})

	t.Run("creates directory if not exists", func(t *testing.T) {
		dir := setupTestDir(t)
		newDir := filepath.Join(dir, "data", "system")

		if _, err := New(newDir); err != nil {
			t.Fatalf("New() error = %v", err)
		}

		info, err := os.Stat(newDir)
		if err != nil {
			t.Fatalf("Directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("Created path is not a directory")
		}
	})

	t.Run("empty root", func(t *testing.T) {
		if _, err := New(""); err == nil {
			t.Fatal("New(\"\") should fail")
		}
	})
}

func TestFileStorage_PutGet(t *testing.T) {
	store, err := New(setupTestDir(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	want := []byte("<AndroidAttestation/>")
	if err := store.Put(storage.KeyboxDocument, want, nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(storage.KeyboxDocument)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Get() = %q, want %q", got, want)
	}

	info, err := os.Stat(filepath.Join(store.Root(), storage.KeyboxDocument))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != keyboxFilePerms {
		t.Errorf("keybox permissions = %o, want %o", perm, keyboxFilePerms)
	}
}

func TestFileStorage_GetMissing(t *testing.T) {
	store, err := New(setupTestDir(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = store.Get("missing.xml")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestFileStorage_PropsPermissions(t *testing.T) {
	store, err := New(setupTestDir(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := store.Put(storage.PropsDocument, []byte("{}"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	info, err := os.Stat(filepath.Join(store.Root(), storage.PropsDocument))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != propsFilePerms {
		t.Errorf("props permissions = %o, want %o", perm, propsFilePerms)
	}

	opts := storage.DefaultOptions()
	opts.Permissions = 0640
	if err := store.Put("custom.bin", []byte{1}, opts); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	info, err = os.Stat(filepath.Join(store.Root(), "custom.bin"))
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0640 {
		t.Errorf("custom permissions = %o, want 640", perm)
	}
}

func TestFileStorage_Delete(t *testing.T) {
	store, err := New(setupTestDir(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := store.Delete(storage.KeyboxDocument); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Delete() missing error = %v, want ErrNotFound", err)
	}

	if err := store.Put(storage.KeyboxDocument, []byte("x"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Delete(storage.KeyboxDocument); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	exists, err := store.Exists(storage.KeyboxDocument)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if exists {
		t.Error("document should not exist after Delete()")
	}
}

func TestFileStorage_List(t *testing.T) {
	store, err := New(setupTestDir(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, key := range []string{"b.json", "a.xml", "nested/c.xml"} {
		if err := store.Put(key, []byte(key), nil); err != nil {
			t.Fatalf("Put(%q) error = %v", key, err)
		}
	}
	// Leftover from an interrupted write
	if err := os.WriteFile(filepath.Join(store.Root(), ".tmp-a.xml-123"), []byte("x"), 0600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	keys, err := store.List("")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{"a.xml", "b.json", "nested/c.xml"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Errorf("List() = %v, want %v", keys, want)
	}

	keys, err = store.List("nested/")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "nested/c.xml" {
		t.Errorf("List(nested/) = %v", keys)
	}
}

func TestFileStorage_Revision(t *testing.T) {
	store, err := New(setupTestDir(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := store.Revision(storage.KeyboxDocument); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Revision() missing error = %v, want ErrNotFound", err)
	}

	if err := store.Put(storage.KeyboxDocument, []byte("one"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	first, err := store.Revision(storage.KeyboxDocument)
	if err != nil {
		t.Fatalf("Revision() error = %v", err)
	}

	again, err := store.Revision(storage.KeyboxDocument)
	if err != nil {
		t.Fatalf("Revision() error = %v", err)
	}
	if first != again {
		t.Errorf("Revision() changed without a write: %q != %q", first, again)
	}

	// Size change alone must produce a new revision, even within mtime granularity.
	if err := store.Put(storage.KeyboxDocument, []byte("second"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	path := filepath.Join(store.Root(), storage.KeyboxDocument)
	future := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}
	second, err := store.Revision(storage.KeyboxDocument)
	if err != nil {
		t.Fatalf("Revision() error = %v", err)
	}
	if first == second {
		t.Error("Revision() should change after the document is rewritten")
	}
}

func TestFileStorage_InvalidKeys(t *testing.T) {
	store, err := New(setupTestDir(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, key := range []string{"", "../escape.xml", "a/../../b", "/etc/passwd", "bad\x00key"} {
		t.Run(fmt.Sprintf("%q", key), func(t *testing.T) {
			if _, err := store.Get(key); !errors.Is(err, storage.ErrInvalidKey) {
				t.Errorf("Get(%q) error = %v, want ErrInvalidKey", key, err)
			}
			if err := store.Put(key, []byte("x"), nil); !errors.Is(err, storage.ErrInvalidKey) {
				t.Errorf("Put(%q) error = %v, want ErrInvalidKey", key, err)
			}
		})
	}
}

func TestFileStorage_ConcurrentAccess(t *testing.T) {
	store, err := New(setupTestDir(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.Put(storage.KeyboxDocument, []byte("seed"), nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = store.Put(storage.KeyboxDocument, []byte(fmt.Sprintf("value-%d", i)), nil)
		}(i)
		go func() {
			defer wg.Done()
			data, err := store.Get(storage.KeyboxDocument)
			if err != nil {
				t.Errorf("Get() error = %v", err)
				return
			}
			if len(data) == 0 {
				t.Error("Get() observed an empty document")
			}
		}()
	}
	wg.Wait()
}

var _ storage.Backend = (*FileStorage)(nil)
var _ storage.Revisioner = (*FileStorage)(nil)
