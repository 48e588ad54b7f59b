package sensorcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestFileBackend(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}

	ctx := context.Background()

	// Write
	if err := backend.Write(ctx, "test/key1", []byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Read
	data, err := backend.Read(ctx, "test/key1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected 'hello', got '%s'", data)
	}

	// Read non-existent
	if _, err := backend.Read(ctx, "test/missing"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not exist error, got %v", err)
	}

	// Exists
	exists, err := backend.Exists(ctx, "test/key1")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected key to exist")
	}

	// List
	_ = backend.Write(ctx, "test/key0", []byte("zero"))
	keys, err := backend.List(ctx, "test/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"test/key0", "test/key1"}) {
		t.Errorf("expected sorted keys, got %v", keys)
	}

	// List of a missing directory
	keys, err = backend.List(ctx, "nothing/here/")
	if err != nil || len(keys) != 0 {
		t.Errorf("expected empty list, got %v, %v", keys, err)
	}

	// Delete, twice
	if err := backend.Delete(ctx, "test/key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := backend.Delete(ctx, "test/key1"); err != nil {
		t.Fatalf("Delete of missing key failed: %v", err)
	}

	exists, _ = backend.Exists(ctx, "test/key1")
	if exists {
		t.Error("expected key to be deleted")
	}
}

func TestMemoryBackend(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	// Write
	if err := backend.Write(ctx, "key1", []byte("value1")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Read
	data, err := backend.Read(ctx, "key1")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(data) != "value1" {
		t.Errorf("expected 'value1', got '%s'", data)
	}

	// Returned slices are copies
	data[0] = 'X'
	data, _ = backend.Read(ctx, "key1")
	if string(data) != "value1" {
		t.Errorf("stored value was modified through a read: %s", data)
	}

	// Size
	if backend.Size() != 1 {
		t.Errorf("expected size 1, got %d", backend.Size())
	}

	// Read non-existent
	_, err = backend.Read(ctx, "nonexistent")
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("expected not exist error")
	}

	// List
	_ = backend.Write(ctx, "prefix/b", []byte("b"))
	_ = backend.Write(ctx, "prefix/a", []byte("a"))
	_ = backend.Write(ctx, "other/c", []byte("c"))

	keys, _ := backend.List(ctx, "prefix/")
	if !reflect.DeepEqual(keys, []string{"prefix/a", "prefix/b"}) {
		t.Errorf("expected sorted prefix keys, got %v", keys)
	}

	// Delete
	_ = backend.Delete(ctx, "key1")
	exists, _ := backend.Exists(ctx, "key1")
	if exists {
		t.Error("expected key to be deleted")
	}
}

func TestTieredBackend(t *testing.T) {
	hot := NewMemoryBackend()
	cold := NewMemoryBackend()
	tiered := NewTieredBackend(hot, cold)
	ctx := context.Background()

	// Write goes to both tiers
	if err := tiered.Write(ctx, "key1", []byte("value1")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := hot.Read(ctx, "key1"); err != nil {
		t.Error("expected key in hot storage")
	}
	if _, err := cold.Read(ctx, "key1"); err != nil {
		t.Error("expected key in cold storage")
	}

	// Put data only in cold storage
	_ = cold.Write(ctx, "cold-key", []byte("cold-value"))

	// Read should find it in cold and promote to hot
	data, err := tiered.Read(ctx, "cold-key")
	if err != nil {
		t.Fatalf("Read from cold failed: %v", err)
	}
	if string(data) != "cold-value" {
		t.Errorf("expected 'cold-value', got '%s'", data)
	}
	if _, err := hot.Read(ctx, "cold-key"); err != nil {
		t.Error("expected key to be promoted to hot storage")
	}

	// List merges both tiers without duplicates
	_ = hot.Write(ctx, "hot-only", []byte("1"))
	_ = cold.Write(ctx, "cold-only", []byte("2"))

	keys, err := tiered.List(ctx, "")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{"cold-key", "cold-only", "hot-only", "key1"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("expected %v, got %v", want, keys)
	}

	// Delete removes from both tiers
	if err := tiered.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, _ := tiered.Exists(ctx, "key1")
	if exists {
		t.Error("expected key to be deleted")
	}
	if _, err := tiered.Read(ctx, "key1"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not exist error, got %v", err)
	}
}

func TestFileBackend_PathTraversal(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}

	ctx := context.Background()

	traversalKeys := []string{
		"../etc/passwd",
		"foo/../../../etc/passwd",
		"foo/bar/../../../../../../etc/passwd",
	}

	for _, key := range traversalKeys {
		t.Run("Read_"+key, func(t *testing.T) {
			if _, err := backend.Read(ctx, key); err == nil {
				t.Errorf("expected error for path traversal key %q, got nil", key)
			}
		})

		t.Run("Write_"+key, func(t *testing.T) {
			if err := backend.Write(ctx, key, []byte("malicious")); err == nil {
				t.Errorf("expected error for path traversal key %q, got nil", key)
			}
		})

		t.Run("Delete_"+key, func(t *testing.T) {
			if err := backend.Delete(ctx, key); err == nil {
				t.Errorf("expected error for path traversal key %q, got nil", key)
			}
		})
	}

	// Escaped record keys stay inside the base directory
	validKeys := []string{
		"sensorcache/ns/taskData_t1@2/D1",
		"sensorcache/ns/taskData_t1@2/a%2F..%2F..%2Fb",
		"sensorcache/catalog.json",
	}

	for _, key := range validKeys {
		t.Run("ValidKey_"+key, func(t *testing.T) {
			if err := backend.Write(ctx, key, []byte("valid")); err != nil {
				t.Errorf("Write failed for valid key %q: %v", key, err)
			}
			data, err := backend.Read(ctx, key)
			if err != nil {
				t.Errorf("Read failed for valid key %q: %v", key, err)
			}
			if string(data) != "valid" {
				t.Errorf("expected 'valid', got '%s'", data)
			}
		})
	}
}

func TestFileBackend_StagedWrites(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	ctx := context.Background()

	if err := backend.Write(ctx, "ns/a.tmp", []byte("first")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := backend.Write(ctx, "ns/a", []byte("second")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	keys, err := backend.List(ctx, "ns/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"ns/a", "ns/a.tmp"}) {
		t.Errorf("expected [ns/a ns/a.tmp], got %v", keys)
	}
	if data, err := backend.Read(ctx, "ns/a.tmp"); err != nil || string(data) != "first" {
		t.Errorf("expected 'first', got %q, %v", data, err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "ns"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected no leftover staging files, found %d entries", len(entries))
	}

	for _, key := range []string{".stage-1", "ns/.stage-abc/x"} {
		if err := backend.Write(ctx, key, []byte("x")); err == nil {
			t.Errorf("expected error for reserved key %q", key)
		}
	}
}

func TestNewS3Backend_RequiresBucket(t *testing.T) {
	if _, err := NewS3Backend(context.Background(), S3BackendConfig{}); err == nil {
		t.Error("expected error for missing bucket")
	}
}
