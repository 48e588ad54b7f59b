package sensorcache

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func createNamespaces(names ...string) MigrateFunc {
	return func(tx UpgradeTx) error {
		for _, n := range names {
			if err := tx.CreateNamespace(n); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestBackend_OpenNewDatabase(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		calls := 0
		h, err := b.Open(ctx, "db", 0, func(tx UpgradeTx) error {
			calls++
			if tx.OldVersion() != 0 || tx.NewVersion() != 1 {
				t.Errorf("unexpected versions %d -> %d", tx.OldVersion(), tx.NewVersion())
			}
			return tx.CreateNamespace("a")
		})
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if calls != 1 {
			t.Errorf("expected migrate to run once, ran %d times", calls)
		}
		if h.Version() != 1 || !h.HasNamespace("a") {
			t.Errorf("expected version 1 with namespace a, got %d %v", h.Version(), h.Namespaces())
		}
		h.Close()

		h, err = b.Open(ctx, "db", 0, func(UpgradeTx) error {
			calls++
			return nil
		})
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		defer h.Close()
		if calls != 1 {
			t.Error("migrate must not run without a version increase")
		}
		if !reflect.DeepEqual(h.Namespaces(), []string{"a"}) {
			t.Errorf("unexpected namespaces %v", h.Namespaces())
		}
	})
}

func TestBackend_VersionChecks(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		h1, err := b.Open(ctx, "db", 0, nil)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}

		if _, err := b.Open(ctx, "db", 2, nil); !errors.Is(err, ErrVersionChangeBlocked) {
			t.Fatalf("expected ErrVersionChangeBlocked, got %v", err)
		}

		// Other databases are not blocked
		other, err := b.Open(ctx, "other", 3, nil)
		if err != nil {
			t.Fatalf("Open of other database failed: %v", err)
		}
		other.Close()

		h1.Close()
		h2, err := b.Open(ctx, "db", 2, nil)
		if err != nil {
			t.Fatalf("upgrade after close failed: %v", err)
		}
		h2.Close()

		if _, err := b.Open(ctx, "db", 1, nil); !errors.Is(err, ErrVersionTooLow) {
			t.Fatalf("expected ErrVersionTooLow, got %v", err)
		}
	})
}

func TestBackend_FailedMigrationLeavesSchema(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		h, err := b.Open(ctx, "db", 0, createNamespaces("a"))
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if err := h.Put(ctx, "a", "k", []byte("v")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		h.Close()

		_, err = b.Open(ctx, "db", 2, func(tx UpgradeTx) error {
			if err := tx.CreateNamespace("b"); err != nil {
				return err
			}
			if err := tx.DeleteNamespace("a"); err != nil {
				return err
			}
			return errInjected
		})
		if !errors.Is(err, errInjected) {
			t.Fatalf("expected injected error, got %v", err)
		}

		h, err = b.Open(ctx, "db", 0, nil)
		if err != nil {
			t.Fatalf("reopen failed: %v", err)
		}
		defer h.Close()
		if h.Version() != 1 {
			t.Errorf("expected version 1, got %d", h.Version())
		}
		if !reflect.DeepEqual(h.Namespaces(), []string{"a"}) {
			t.Errorf("expected only namespace a, got %v", h.Namespaces())
		}
		if v, ok, err := h.Get(ctx, "a", "k"); err != nil || !ok || string(v) != "v" {
			t.Errorf("record lost by failed migration: %q %v %v", v, ok, err)
		}
	})
}

func TestBackend_Records(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		h, err := b.Open(ctx, "db", 0, createNamespaces("a", "b"))
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}

		keys := []string{"dev-2", "dev/1", "Dev 3 ü%", "dev-1"}
		for _, k := range keys {
			if err := h.Put(ctx, "a", k, []byte("v:"+k)); err != nil {
				t.Fatalf("Put(%q) failed: %v", k, err)
			}
		}
		if err := h.Put(ctx, "a", "dev-1", []byte("overwritten")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		var scanned []string
		err = h.Scan(ctx, "a", func(key string, value []byte) error {
			scanned = append(scanned, key)
			return nil
		})
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		want := []string{"Dev 3 ü%", "dev-1", "dev-2", "dev/1"}
		if !reflect.DeepEqual(scanned, want) {
			t.Errorf("expected ascending keys %v, got %v", want, scanned)
		}

		v, ok, err := h.Get(ctx, "a", "dev-1")
		if err != nil || !ok || string(v) != "overwritten" {
			t.Errorf("unexpected Get result %q %v %v", v, ok, err)
		}
		if _, ok, err := h.Get(ctx, "a", "missing"); ok || err != nil {
			t.Errorf("expected missing key, got %v %v", ok, err)
		}
		if _, ok, err := h.Get(ctx, "b", "dev-1"); ok || err != nil {
			t.Errorf("namespaces must be independent, got %v %v", ok, err)
		}

		if err := h.Delete(ctx, "a", "dev/1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if err := h.Delete(ctx, "a", "dev/1"); err != nil {
			t.Fatalf("Delete of missing key failed: %v", err)
		}
		if _, ok, _ := h.Get(ctx, "a", "dev/1"); ok {
			t.Error("expected key to be deleted")
		}

		if _, _, err := h.Get(ctx, "nope", "k"); !errors.Is(err, ErrNamespaceNotFound) {
			t.Errorf("expected ErrNamespaceNotFound, got %v", err)
		}

		// Scan stops at the first error
		stop := errors.New("stop")
		n := 0
		err = h.Scan(ctx, "a", func(string, []byte) error {
			n++
			return stop
		})
		if !errors.Is(err, stop) || n != 1 {
			t.Errorf("expected scan to stop after one record, got %d %v", n, err)
		}

		h.Close()
		if err := h.Put(ctx, "a", "k", nil); !errors.Is(err, ErrHandleClosed) {
			t.Errorf("expected ErrHandleClosed, got %v", err)
		}
	})
}

func TestBackend_DropAndRecreate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		ctx := context.Background()

		h, err := b.Open(ctx, "db", 0, createNamespaces("a"))
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		_ = h.Put(ctx, "a", "k", []byte("old"))
		h.Close()

		// Delete and recreate in one upgrade
		h, err = b.Open(ctx, "db", 2, func(tx UpgradeTx) error {
			if err := tx.DeleteNamespace("a"); err != nil {
				return err
			}
			return tx.CreateNamespace("a")
		})
		if err != nil {
			t.Fatalf("upgrade failed: %v", err)
		}
		if _, ok, _ := h.Get(ctx, "a", "k"); ok {
			t.Error("recreated namespace must start empty")
		}
		_ = h.Put(ctx, "a", "k", []byte("mid"))
		h.Close()

		// Delete, then recreate in a later upgrade
		h, err = b.Open(ctx, "db", 3, func(tx UpgradeTx) error { return tx.DeleteNamespace("a") })
		if err != nil {
			t.Fatalf("delete upgrade failed: %v", err)
		}
		if h.HasNamespace("a") {
			t.Error("expected namespace to be deleted")
		}
		h.Close()

		h, err = b.Open(ctx, "db", 4, createNamespaces("a"))
		if err != nil {
			t.Fatalf("create upgrade failed: %v", err)
		}
		defer h.Close()
		if _, ok, _ := h.Get(ctx, "a", "k"); ok {
			t.Error("records of a dropped namespace must not reappear")
		}

		history := h.History()
		if len(history) != 4 {
			t.Fatalf("expected 4 history entries, got %d", len(history))
		}
		if !reflect.DeepEqual(history[2].Deleted, []string{"a"}) || len(history[2].Created) != 0 {
			t.Errorf("unexpected history entry %+v", history[2])
		}
		if !reflect.DeepEqual(history[3].Created, []string{"a"}) || history[3].Version != 4 {
			t.Errorf("unexpected history entry %+v", history[3])
		}
	})
}

func TestBackend_UpgradeTxValidation(t *testing.T) {
	tx := newSchemaTx(1, 2, []string{"a"})
	if err := tx.CreateNamespace("a"); !errors.Is(err, ErrNamespaceExists) {
		t.Errorf("expected ErrNamespaceExists, got %v", err)
	}
	if err := tx.CreateNamespace(""); err == nil {
		t.Error("expected error for empty name")
	}
	if err := tx.DeleteNamespace("missing"); !errors.Is(err, ErrNamespaceNotFound) {
		t.Errorf("expected ErrNamespaceNotFound, got %v", err)
	}

	_ = tx.CreateNamespace("b")
	_ = tx.DeleteNamespace("b")
	if len(tx.toCreate()) != 0 || len(tx.toDrop()) != 0 {
		t.Errorf("create then delete of a new namespace is a no-op, got %v %v", tx.toCreate(), tx.toDrop())
	}
}

func TestBackend_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	reopeners := map[string]func() Backend{
		"sqlite": func() Backend {
			b, err := NewSQLiteBackend(SQLiteBackendConfig{Path: filepath.Join(dir, "cache.db")})
			if err != nil {
				t.Fatalf("NewSQLiteBackend failed: %v", err)
			}
			return b
		},
		"blob-file": func() Backend {
			store, err := NewFileBackend(filepath.Join(dir, "blobs"))
			if err != nil {
				t.Fatalf("NewFileBackend failed: %v", err)
			}
			return NewBlobBackend(store, nil)
		},
	}

	for name, open := range reopeners {
		t.Run(name, func(t *testing.T) {
			b := open()
			h, err := b.Open(ctx, "db", 3, createNamespaces("taskData_t1"))
			if err != nil {
				t.Fatalf("Open failed: %v", err)
			}
			_ = h.Put(ctx, "taskData_t1", "D1", []byte("abc"))
			h.Close()
			b.Close()

			b = open()
			defer b.Close()
			h, err = b.Open(ctx, "db", 0, nil)
			if err != nil {
				t.Fatalf("reopen failed: %v", err)
			}
			defer h.Close()
			if h.Version() != 3 {
				t.Errorf("expected version 3, got %d", h.Version())
			}
			if v, ok, _ := h.Get(ctx, "taskData_t1", "D1"); !ok || string(v) != "abc" {
				t.Errorf("record not persisted: %q %v", v, ok)
			}
		})
	}
}

func TestBlobBackend_RemovesDroppedRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBackend()
	b := NewBlobBackend(store, nil)

	h, err := b.Open(ctx, "db", 0, createNamespaces("a"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = h.Put(ctx, "a", "k1", []byte("1"))
	_ = h.Put(ctx, "a", "k2", []byte("2"))
	h.Close()

	h, err = b.Open(ctx, "db", 2, func(tx UpgradeTx) error { return tx.DeleteNamespace("a") })
	if err != nil {
		t.Fatalf("upgrade failed: %v", err)
	}
	h.Close()

	keys, _ := store.List(ctx, "_db/ns/")
	if len(keys) != 0 {
		t.Errorf("expected dropped records to be removed, found %v", keys)
	}
	if ok, _ := store.Exists(ctx, "_db/catalog.json"); !ok {
		t.Error("expected catalog to exist")
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := b.Open(ctx, "db", 0, nil); !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("expected ErrBackendUnavailable after Close, got %v", err)
	}
}
