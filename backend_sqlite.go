package sensorcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	// SQLite driver using pure Go implementation
	_ "modernc.org/sqlite"
)

// SQLiteBackendConfig configures the SQLite storage backend.
type SQLiteBackendConfig struct {
	// Path to the SQLite database file, or ":memory:".
	Path string `yaml:"path"`

	// CacheSize is the SQLite page cache size in KB (default: 2000 = 2MB)
	CacheSize int `yaml:"cache_size"`

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string `yaml:"journal_mode"`

	// Synchronous sets the synchronous flag (OFF, NORMAL, FULL, EXTRA)
	Synchronous string `yaml:"synchronous"`

	// BusyTimeout is the timeout for acquiring locks in milliseconds
	BusyTimeout int `yaml:"busy_timeout"`
}

// DefaultSQLiteBackendConfig returns default configuration.
func DefaultSQLiteBackendConfig() SQLiteBackendConfig {
	return SQLiteBackendConfig{
		Path:        "sensorcache.db",
		CacheSize:   2000,
		JournalMode: "WAL",
		Synchronous: "NORMAL",
		BusyTimeout: 5000,
	}
}

// SQLiteBackend implements Backend on a single SQLite file.
//
// Each namespace is a table named "<database>/<namespace>". Versions, the
// namespace catalog and the schema history live in bookkeeping tables, so several
// logical databases can share one file. An upgrade runs as one SQL transaction.
type SQLiteBackend struct {
	db     *sql.DB
	config SQLiteBackendConfig

	mu     sync.Mutex
	closed bool
	// open counts live handles per database name.
	open map[string]int
}

// NewSQLiteBackend creates a new SQLite-based backend.
func NewSQLiteBackend(config SQLiteBackendConfig) (*SQLiteBackend, error) {
	if config.Path == "" {
		config.Path = "sensorcache.db"
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 2000
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.Synchronous == "" {
		config.Synchronous = "NORMAL"
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = 5000
	}

	if config.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite allows a single writer, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	backend := &SQLiteBackend{
		db:     db,
		config: config,
		open:   make(map[string]int),
	}

	if err := backend.applyPragmas(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return backend, nil
}

func (s *SQLiteBackend) applyPragmas() error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA cache_size = -%d", s.config.CacheSize),
		fmt.Sprintf("PRAGMA journal_mode = %s", s.config.JournalMode),
		fmt.Sprintf("PRAGMA synchronous = %s", s.config.Synchronous),
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.config.BusyTimeout),
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// initSchema creates the bookkeeping tables.
func (s *SQLiteBackend) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS _databases (
			name TEXT PRIMARY KEY,
			version INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS _namespaces (
			db TEXT NOT NULL,
			namespace TEXT NOT NULL,
			created_version INTEGER NOT NULL,
			PRIMARY KEY (db, namespace)
		);

		CREATE TABLE IF NOT EXISTS _history (
			db TEXT NOT NULL,
			version INTEGER NOT NULL,
			created TEXT,
			deleted TEXT,
			at INTEGER NOT NULL,
			PRIMARY KEY (db, version)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Open implements Backend.
func (s *SQLiteBackend) Open(ctx context.Context, name string, version uint64, migrate MigrateFunc) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%w: sqlite backend is closed", ErrBackendUnavailable)
	}

	current, err := s.storedVersion(ctx, name)
	if err != nil {
		return nil, err
	}

	target := version
	if target == 0 {
		target = current
		if target == 0 {
			target = 1
		}
	}
	if target < current {
		return nil, fmt.Errorf("%w: requested %d, stored %d", ErrVersionTooLow, target, current)
	}
	if target > current {
		if s.open[name] > 0 {
			return nil, fmt.Errorf("%w: %d open handle(s) on %q", ErrVersionChangeBlocked, s.open[name], name)
		}
		if err := s.upgrade(ctx, name, current, target, migrate); err != nil {
			return nil, err
		}
	}

	namespaces, err := s.loadNamespaces(ctx, s.db, name)
	if err != nil {
		return nil, err
	}
	history, err := s.loadHistory(ctx, name)
	if err != nil {
		return nil, err
	}

	s.open[name]++
	h := &sqliteHandle{
		backend:    s,
		name:       name,
		version:    target,
		namespaces: make(map[string]bool, len(namespaces)),
		history:    history,
	}
	for _, ns := range namespaces {
		h.namespaces[ns] = true
	}
	return h, nil
}

func (s *SQLiteBackend) storedVersion(ctx context.Context, name string) (uint64, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM _databases WHERE name = ?`, name).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read version: %w", err)
	}
	return uint64(version), nil
}

type sqlQueryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLiteBackend) loadNamespaces(ctx context.Context, q sqlQueryer, name string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT namespace FROM _namespaces WHERE db = ? ORDER BY namespace`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ns string
		if err := rows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("failed to scan namespace: %w", err)
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

func (s *SQLiteBackend) loadHistory(ctx context.Context, name string) ([]SchemaChange, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT version, created, deleted, at FROM _history WHERE db = ? ORDER BY version`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	defer rows.Close()

	var out []SchemaChange
	for rows.Next() {
		var (
			version          int64
			created, deleted sql.NullString
			at               int64
		)
		if err := rows.Scan(&version, &created, &deleted, &at); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		change := SchemaChange{Version: uint64(version), At: time.Unix(0, at).UTC()}
		if created.Valid && created.String != "" {
			if err := json.Unmarshal([]byte(created.String), &change.Created); err != nil {
				return nil, fmt.Errorf("failed to decode history: %w", err)
			}
		}
		if deleted.Valid && deleted.String != "" {
			if err := json.Unmarshal([]byte(deleted.String), &change.Deleted); err != nil {
				return nil, fmt.Errorf("failed to decode history: %w", err)
			}
		}
		out = append(out, change)
	}
	return out, rows.Err()
}

// upgrade runs migrate and applies its staged changes in one transaction.
func (s *SQLiteBackend) upgrade(ctx context.Context, name string, current, target uint64, migrate MigrateFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin upgrade: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.loadNamespaces(ctx, tx, name)
	if err != nil {
		return err
	}

	stx := newSchemaTx(current, target, existing)
	if migrate != nil {
		if err := migrate(stx); err != nil {
			return err
		}
	}

	for _, ns := range stx.toDrop() {
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+tableName(name, ns)); err != nil {
			return fmt.Errorf("failed to drop namespace %q: %w", ns, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM _namespaces WHERE db = ? AND namespace = ?`, name, ns); err != nil {
			return fmt.Errorf("failed to unregister namespace %q: %w", ns, err)
		}
	}
	for _, ns := range stx.toCreate() {
		ddl := `CREATE TABLE ` + tableName(name, ns) + ` (key TEXT PRIMARY KEY, value BLOB NOT NULL)`
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create namespace %q: %w", ns, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO _namespaces (db, namespace, created_version) VALUES (?, ?, ?)`,
			name, ns, int64(target)); err != nil {
			return fmt.Errorf("failed to register namespace %q: %w", ns, err)
		}
	}

	change := stx.change(time.Now())
	created, _ := json.Marshal(change.Created)
	deleted, _ := json.Marshal(change.Deleted)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO _history (db, version, created, deleted, at) VALUES (?, ?, ?, ?, ?)`,
		name, int64(target), string(created), string(deleted), change.At.UnixNano()); err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO _databases (name, version) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET version = excluded.version
	`, name, int64(target)); err != nil {
		return fmt.Errorf("failed to store version: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteBackend) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open[name] > 0 {
		s.open[name]--
	}
}

// Close releases any resources.
func (s *SQLiteBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Vacuum performs database maintenance.
func (s *SQLiteBackend) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("backend is closed")
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// tableName quotes the table holding namespace ns of database db.
func tableName(db, ns string) string {
	return `"` + strings.ReplaceAll(db+"/"+ns, `"`, `""`) + `"`
}

type sqliteHandle struct {
	backend    *SQLiteBackend
	name       string
	version    uint64
	namespaces map[string]bool
	history    []SchemaChange

	mu     sync.RWMutex
	closed bool
}

func (h *sqliteHandle) Version() uint64 { return h.version }

func (h *sqliteHandle) Namespaces() []string { return sortedKeys(h.namespaces) }

func (h *sqliteHandle) HasNamespace(name string) bool { return h.namespaces[name] }

func (h *sqliteHandle) History() []SchemaChange {
	return append([]SchemaChange(nil), h.history...)
}

// check returns the quoted table for ns, or an error if the handle is closed or
// the namespace is not in this handle's catalog.
func (h *sqliteHandle) check(ns string) (string, error) {
	if h.closed {
		return "", ErrHandleClosed
	}
	if !h.namespaces[ns] {
		return "", fmt.Errorf("%w: %s", ErrNamespaceNotFound, ns)
	}
	return tableName(h.name, ns), nil
}

func (h *sqliteHandle) Put(ctx context.Context, ns, key string, value []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	table, err := h.check(ns)
	if err != nil {
		return err
	}
	_, err = h.backend.db.ExecContext(ctx,
		`INSERT INTO `+table+` (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func (h *sqliteHandle) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	table, err := h.check(ns)
	if err != nil {
		return nil, false, err
	}
	var data []byte
	err = h.backend.db.QueryRowContext(ctx, `SELECT value FROM `+table+` WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read record: %w", err)
	}
	return data, true, nil
}

func (h *sqliteHandle) Delete(ctx context.Context, ns, key string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	table, err := h.check(ns)
	if err != nil {
		return err
	}
	if _, err := h.backend.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}
	return nil
}

// Scan holds the backend's only connection while iterating, so fn must not use
// the handle.
func (h *sqliteHandle) Scan(ctx context.Context, ns string, fn func(key string, value []byte) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	table, err := h.check(ns)
	if err != nil {
		return err
	}
	rows, err := h.backend.db.QueryContext(ctx, `SELECT key, value FROM `+table+` ORDER BY key`)
	if err != nil {
		return fmt.Errorf("failed to open cursor: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("failed to advance cursor: %w", err)
		}
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (h *sqliteHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.backend.release(h.name)
	return nil
}
