package sensorcache

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Backend-level errors. The engine maps these onto its error kinds.
var (
	// ErrBackendUnavailable is returned when the storage API is absent or disabled.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrVersionTooLow is returned when opening with a version below the stored one.
	ErrVersionTooLow = errors.New("requested version is lower than stored version")

	// ErrVersionChangeBlocked is returned when a version change is requested while
	// other handles to the same database are still open.
	ErrVersionChangeBlocked = errors.New("version change blocked by open connections")

	// ErrHandleClosed is returned when a closed handle is used.
	ErrHandleClosed = errors.New("handle is closed")

	// ErrNamespaceNotFound is returned for operations on a missing namespace.
	ErrNamespaceNotFound = errors.New("namespace not found")

	// ErrNamespaceExists is returned when creating a namespace twice in one upgrade.
	ErrNamespaceExists = errors.New("namespace already exists")
)

// MigrateFunc runs inside an upgrade transaction. It is the only place where
// namespaces may be created or deleted. Returning an error aborts the upgrade and
// leaves the stored schema untouched.
type MigrateFunc func(tx UpgradeTx) error

// UpgradeTx is the view of the schema handed to a MigrateFunc.
type UpgradeTx interface {
	// OldVersion is the stored version before the upgrade (0 for a new database).
	OldVersion() uint64
	// NewVersion is the version being upgraded to.
	NewVersion() uint64
	HasNamespace(name string) bool
	Namespaces() []string
	CreateNamespace(name string) error
	DeleteNamespace(name string) error
}

// Handle is an open connection to a versioned database.
//
// Namespaces is answered from memory; everything else may perform I/O. A handle
// stays usable until Close, after which every method returns ErrHandleClosed.
type Handle interface {
	Version() uint64
	Namespaces() []string
	HasNamespace(name string) bool
	History() []SchemaChange

	Put(ctx context.Context, namespace, key string, value []byte) error
	// Get returns (nil, false, nil) when the key is absent.
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Delete(ctx context.Context, namespace, key string) error
	// Scan visits records in ascending key order until fn returns an error.
	Scan(ctx context.Context, namespace string, fn func(key string, value []byte) error) error

	Close() error
}

// Backend is a host-provided embedded database.
//
// Open with version 0 opens at the stored version, creating the database at
// version 1 if it does not exist. Open with a version above the stored one runs
// migrate inside a single upgrade transaction before returning. migrate is called
// exactly once per version increase and never otherwise.
type Backend interface {
	Open(ctx context.Context, name string, version uint64, migrate MigrateFunc) (Handle, error)
	Close() error
}

// SchemaChange records the namespaces created and deleted by one version bump.
type SchemaChange struct {
	Version uint64    `json:"version"`
	Created []string  `json:"created,omitempty"`
	Deleted []string  `json:"deleted,omitempty"`
	At      time.Time `json:"at"`
}

// schemaTx is the UpgradeTx shared by backend implementations. It stages
// namespace changes against a copy of the catalog; backends apply the staged
// changes only after migrate returns nil.
type schemaTx struct {
	oldVersion uint64
	newVersion uint64
	initial    map[string]bool
	present    map[string]bool
	// dropped holds namespaces that existed at the start and were deleted, even
	// if they were recreated afterwards: their contents must not survive.
	dropped map[string]bool
}

func newSchemaTx(oldVersion, newVersion uint64, existing []string) *schemaTx {
	t := &schemaTx{
		oldVersion: oldVersion,
		newVersion: newVersion,
		initial:    make(map[string]bool, len(existing)),
		present:    make(map[string]bool, len(existing)),
		dropped:    make(map[string]bool),
	}
	for _, n := range existing {
		t.initial[n] = true
		t.present[n] = true
	}
	return t
}

func (t *schemaTx) OldVersion() uint64 { return t.oldVersion }
func (t *schemaTx) NewVersion() uint64 { return t.newVersion }

func (t *schemaTx) HasNamespace(name string) bool { return t.present[name] }

func (t *schemaTx) Namespaces() []string { return sortedKeys(t.present) }

func (t *schemaTx) CreateNamespace(name string) error {
	if name == "" {
		return errors.New("namespace name is required")
	}
	if t.present[name] {
		return ErrNamespaceExists
	}
	t.present[name] = true
	return nil
}

func (t *schemaTx) DeleteNamespace(name string) error {
	if !t.present[name] {
		return ErrNamespaceNotFound
	}
	delete(t.present, name)
	if t.initial[name] {
		t.dropped[name] = true
	}
	return nil
}

// toDrop lists namespaces whose storage must be removed, in name order.
func (t *schemaTx) toDrop() []string { return sortedKeys(t.dropped) }

// toCreate lists namespaces whose storage must be created, in name order.
func (t *schemaTx) toCreate() []string {
	var out []string
	for n := range t.present {
		if !t.initial[n] || t.dropped[n] {
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// change summarizes the staged changes for the version history.
func (t *schemaTx) change(at time.Time) SchemaChange {
	return SchemaChange{
		Version: t.newVersion,
		Created: t.toCreate(),
		Deleted: t.toDrop(),
		At:      at,
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
