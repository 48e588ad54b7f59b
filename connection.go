package sensorcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// State is the connection manager's position in the upgrade state machine.
type State int32

const (
	// StateIdle means no upgrade is in flight.
	StateIdle State = iota
	// StateDiscoveringVersion means the stored version is being read ahead of an upgrade.
	StateDiscoveringVersion
	// StateUpgrading means an upgrade transaction is running.
	StateUpgrading
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscoveringVersion:
		return "discovering-version"
	case StateUpgrading:
		return "upgrading"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

var errManagerClosed = errors.New("connection manager is closed")

// ConnectionManager owns the single database handle of a cache and mediates
// every version change.
//
// Normal operations run under a read lock through View, so the handle they use
// is never replaced underneath them. Upgrades take the write lock for the whole
// discover-then-upgrade sequence, which serializes them within the process.
// Nothing coordinates upgrades across processes; a database must have a single
// writing process.
type ConnectionManager struct {
	backend Backend
	name    string
	logger  *slog.Logger

	state    atomic.Int32
	disabled atomic.Bool

	mu      sync.RWMutex
	closed  bool
	handle  Handle
	version uint64
	known   map[string]bool
}

// NewConnectionManager creates a manager for database name on backend. A nil
// backend produces a manager whose every open fails with KindBackendUnavailable.
func NewConnectionManager(backend Backend, name string, logger *slog.Logger) *ConnectionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectionManager{
		backend: backend,
		name:    name,
		logger:  logger.With("component", "connection", "database", name),
		known:   make(map[string]bool),
	}
}

// State returns the current upgrade state.
func (m *ConnectionManager) State() State {
	return State(m.state.Load())
}

// Disabled reports whether the backend was found unavailable.
func (m *ConnectionManager) Disabled() bool {
	return m.disabled.Load()
}

// Version returns the version of the cached handle, or 0 if none is open.
func (m *ConnectionManager) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// KnownNamespaces returns the namespace names seen on the last successful open.
func (m *ConnectionManager) KnownNamespaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.known)
}

// History returns the schema history of the open database.
func (m *ConnectionManager) History(ctx context.Context) ([]SchemaChange, error) {
	var out []SchemaChange
	err := m.View(ctx, func(h Handle) error {
		out = h.History()
		return nil
	})
	return out, err
}

// Open returns the database handle. With version 0 the cached handle is
// returned when one is open; otherwise the database is (re)opened at version, or
// at the stored version when version is 0, running the default migration that
// creates the metadata namespace when the database is new.
//
// The handle stays valid until the next upgrade. Use View to keep it valid for
// the duration of an operation.
func (m *ConnectionManager) Open(ctx context.Context, version uint64) (Handle, error) {
	if version == 0 {
		m.mu.RLock()
		h := m.handle
		m.mu.RUnlock()
		if h != nil {
			return h, nil
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if version == 0 && m.handle != nil {
		return m.handle, nil
	}
	return m.openLocked(ctx, version, defaultMigration)
}

// OpenWithMigration closes the cached handle and reopens the database at
// target, running migrate if target is above the stored version.
func (m *ConnectionManager) OpenWithMigration(ctx context.Context, target uint64, migrate MigrateFunc) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Store(int32(StateUpgrading))
	defer m.state.Store(int32(StateIdle))

	h, err := m.openLocked(ctx, target, migrate)
	schemaUpgradesTotal.WithLabelValues("open", resultLabel(err)).Inc()
	return h, err
}

// View runs fn with the open handle while holding the read lock, opening the
// database first if needed.
func (m *ConnectionManager) View(ctx context.Context, fn func(h Handle) error) error {
	for {
		m.mu.RLock()
		if h := m.handle; h != nil {
			err := fn(h)
			m.mu.RUnlock()
			return err
		}
		m.mu.RUnlock()

		m.mu.Lock()
		if m.handle == nil {
			if _, err := m.openLocked(ctx, 0, defaultMigration); err != nil {
				m.mu.Unlock()
				return err
			}
		}
		m.mu.Unlock()
	}
}

// schemaChange describes one discover-then-upgrade sequence.
type schemaChange struct {
	op        string
	namespace string
	// needed reports whether the upgrade is still required given the freshly
	// discovered handle.
	needed  func(h Handle) bool
	migrate MigrateFunc
}

// upgrade closes the cached handle, discovers the stored version and, when
// c.needed holds, reopens at the next version with c.migrate.
func (m *ConnectionManager) upgrade(ctx context.Context, c schemaChange) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.state.Store(int32(StateIdle))

	m.state.Store(int32(StateDiscoveringVersion))
	m.closeHandleLocked()
	h, err := m.openLocked(ctx, 0, defaultMigration)
	if err != nil {
		schemaUpgradesTotal.WithLabelValues(c.op, metricFail).Inc()
		return nil, err
	}
	if !c.needed(h) {
		return h, nil
	}

	current := h.Version()
	m.state.Store(int32(StateUpgrading))
	m.closeHandleLocked()

	h, err = m.openLocked(ctx, current+1, c.migrate)
	schemaUpgradesTotal.WithLabelValues(c.op, resultLabel(err)).Inc()
	if err != nil {
		m.logger.Warn("schema upgrade failed", "op", c.op, "namespace", c.namespace, "version", current+1, "error", err)
		return nil, err
	}
	m.logger.Info("schema upgraded", "op", c.op, "namespace", c.namespace, "from", current, "to", h.Version())
	return h, nil
}

// openLocked opens the database and refreshes the snapshot. Callers hold m.mu.
func (m *ConnectionManager) openLocked(ctx context.Context, version uint64, migrate MigrateFunc) (Handle, error) {
	if m.closed {
		return nil, newError(KindConnection, "open", "", errManagerClosed)
	}
	if m.disabled.Load() || m.backend == nil {
		m.disable()
		return nil, newError(KindBackendUnavailable, "open", "", ErrBackendUnavailable)
	}

	m.closeHandleLocked()

	var migrateErr error
	wrapped := func(tx UpgradeTx) error {
		if migrate == nil {
			return nil
		}
		if err := migrate(tx); err != nil {
			migrateErr = err
			return err
		}
		return nil
	}

	h, err := m.backend.Open(ctx, m.name, version, wrapped)
	openTotal.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		switch {
		case errors.Is(err, ErrBackendUnavailable):
			m.disable()
			return nil, newError(KindBackendUnavailable, "open", "", err)
		case migrateErr != nil:
			return nil, newError(KindSchemaUpgrade, "upgrade", "", err)
		default:
			return nil, newError(KindConnection, "open", "", err)
		}
	}

	m.handle = h
	m.version = h.Version()
	m.known = make(map[string]bool)
	for _, ns := range h.Namespaces() {
		m.known[ns] = true
	}
	m.logger.Debug("database opened", "version", m.version, "namespaces", len(m.known))
	return h, nil
}

func (m *ConnectionManager) closeHandleLocked() {
	if m.handle == nil {
		return
	}
	if err := m.handle.Close(); err != nil {
		m.logger.Warn("failed to close handle", "error", err)
	}
	m.handle = nil
}

func (m *ConnectionManager) disable() {
	if m.disabled.CompareAndSwap(false, true) {
		m.logger.Warn("storage backend unavailable; cache disabled")
	}
}

// knows reports whether ns is in the snapshot and confirmed by the open handle.
func (m *ConnectionManager) knows(ns string) (Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.handle == nil || !m.known[ns] || !m.handle.HasNamespace(ns) {
		return nil, false
	}
	return m.handle, true
}

// isKnown reports whether ns is in the snapshot.
func (m *ConnectionManager) isKnown(ns string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.known[ns]
}

// taskNamespaces returns the known namespaces that hold task data.
func (m *ConnectionManager) taskNamespaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for ns := range m.known {
		if _, ok := TaskIDFromNamespace(ns); ok {
			out = append(out, ns)
		}
	}
	sort.Strings(out)
	return out
}

// Close closes the cached handle. The manager cannot be reopened.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeHandleLocked()
	m.closed = true
	m.version = 0
	m.known = make(map[string]bool)
	return nil
}

// defaultMigration creates the metadata namespace.
func defaultMigration(tx UpgradeTx) error {
	if tx.HasNamespace(MetaNamespace) {
		return nil
	}
	return tx.CreateNamespace(MetaNamespace)
}
