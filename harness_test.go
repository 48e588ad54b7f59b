package sensorcache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
)

type backendFactory struct {
	name string
	new  func(t *testing.T) Backend
}

var backendFactories = []backendFactory{
	{"sqlite-memory", func(t *testing.T) Backend {
		b, err := NewSQLiteBackend(SQLiteBackendConfig{Path: ":memory:"})
		if err != nil {
			t.Fatalf("NewSQLiteBackend failed: %v", err)
		}
		t.Cleanup(func() { b.Close() })
		return b
	}},
	{"sqlite-file", func(t *testing.T) Backend {
		b, err := NewSQLiteBackend(SQLiteBackendConfig{Path: filepath.Join(t.TempDir(), "cache.db")})
		if err != nil {
			t.Fatalf("NewSQLiteBackend failed: %v", err)
		}
		t.Cleanup(func() { b.Close() })
		return b
	}},
	{"blob-memory", func(t *testing.T) Backend {
		b := NewBlobBackend(NewMemoryBackend(), nil)
		t.Cleanup(func() { b.Close() })
		return b
	}},
	{"blob-file", func(t *testing.T) Backend {
		store, err := NewFileBackend(t.TempDir())
		if err != nil {
			t.Fatalf("NewFileBackend failed: %v", err)
		}
		b := NewBlobBackend(store, nil)
		t.Cleanup(func() { b.Close() })
		return b
	}},
}

// forEachBackend runs fn as a subtest against every backend implementation.
func forEachBackend(t *testing.T, fn func(t *testing.T, backend Backend)) {
	t.Helper()
	for _, f := range backendFactories {
		t.Run(f.name, func(t *testing.T) {
			fn(t, f.new(t))
		})
	}
}

func newTestCache(t *testing.T, backend Backend) *Cache {
	t.Helper()
	c, err := newCache(DefaultConfig(""), backend)
	if err != nil {
		t.Fatalf("newCache failed: %v", err)
	}
	t.Cleanup(func() { c.conn.Close() })
	return c
}

// faultBackend wraps a Backend and injects failures.
type faultBackend struct {
	Backend

	mu      sync.Mutex
	opens   int
	openErr error
	putErr  error
	// onOpen is called with the requested version before each open.
	onOpen func(version uint64)
	// honorCtx makes Open fail once its context is done.
	honorCtx bool
}

func (f *faultBackend) Open(ctx context.Context, name string, version uint64, migrate MigrateFunc) (Handle, error) {
	f.mu.Lock()
	f.opens++
	openErr, putErr, onOpen, honorCtx := f.openErr, f.putErr, f.onOpen, f.honorCtx
	f.mu.Unlock()

	if onOpen != nil {
		onOpen(version)
	}
	if openErr != nil {
		return nil, openErr
	}
	if honorCtx {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	h, err := f.Backend.Open(ctx, name, version, migrate)
	if err != nil {
		return nil, err
	}
	return &faultHandle{Handle: h, putErr: putErr}, nil
}

func (f *faultBackend) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

type faultHandle struct {
	Handle
	putErr error
}

func (h *faultHandle) Put(ctx context.Context, ns, key string, value []byte) error {
	if h.putErr != nil {
		return h.putErr
	}
	return h.Handle.Put(ctx, ns, key, value)
}

var errInjected = errors.New("injected failure")
