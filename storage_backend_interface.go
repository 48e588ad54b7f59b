package sensorcache

import (
	"context"
)

// StorageBackend is a flat object store. BlobBackend layers versioned namespaces
// on top of it, which lets the cache live in local files, memory, S3-compatible
// storage, or the browser's localStorage.
//
// Read must return an error matching os.ErrNotExist for missing keys. Delete of a
// missing key is not an error.
type StorageBackend interface {
	// Read reads an object from storage.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write writes an object to storage, replacing any previous content.
	Write(ctx context.Context, key string, data []byte) error

	// Delete removes an object from storage.
	Delete(ctx context.Context, key string) error

	// List returns all object keys matching a prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists checks if an object exists.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases any resources.
	Close() error
}

// Ensure interfaces are implemented
var (
	_ StorageBackend = (*FileBackend)(nil)
	_ StorageBackend = (*S3Backend)(nil)
	_ StorageBackend = (*MemoryBackend)(nil)
	_ StorageBackend = (*TieredBackend)(nil)

	_ Backend = (*BlobBackend)(nil)
	_ Backend = (*SQLiteBackend)(nil)
)
