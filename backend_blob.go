package sensorcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BlobBackend implements Backend on top of a flat StorageBackend.
//
// Each database keeps a JSON catalog at "<db>/catalog.json" holding its version,
// its namespaces with the version that created them, and its schema history.
// Records live at "<db>/ns/<namespace>@<created>/<key>". Database, namespace and
// key are stored as object segments (see objectSegment). Writing the catalog commits an upgrade; records belonging to a
// dropped generation are removed afterwards and can never reappear, because a
// recreated namespace always gets a new generation.
type BlobBackend struct {
	store  StorageBackend
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	open   map[string]int
}

// NewBlobBackend creates a Backend over store. A nil logger uses slog.Default.
func NewBlobBackend(store StorageBackend, logger *slog.Logger) *BlobBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &BlobBackend{
		store:  store,
		logger: logger.With("component", "blob-backend"),
		open:   make(map[string]int),
	}
}

type blobCatalog struct {
	Version    uint64            `json:"version"`
	Namespaces map[string]uint64 `json:"namespaces"`
	History    []SchemaChange    `json:"history,omitempty"`
}

// segmentPrefix starts every escaped name, so that no segment is empty, "." or
// "..", or begins with a dot.
const segmentPrefix = "_"

// objectSegment turns a caller-supplied name into one path segment.
func objectSegment(name string) string {
	return segmentPrefix + url.PathEscape(name)
}

// parseObjectSegment reverses objectSegment.
func parseObjectSegment(segment string) (string, bool) {
	escaped, ok := strings.CutPrefix(segment, segmentPrefix)
	if !ok {
		return "", false
	}
	name, err := url.PathUnescape(escaped)
	if err != nil {
		return "", false
	}
	return name, true
}

func catalogKey(db string) string {
	return objectSegment(db) + "/catalog.json"
}

func namespacePrefix(db, ns string, generation uint64) string {
	return objectSegment(db) + "/ns/" + objectSegment(ns) + "@" + strconv.FormatUint(generation, 10) + "/"
}

func (b *BlobBackend) readCatalog(ctx context.Context, db string) (*blobCatalog, error) {
	data, err := b.store.Read(ctx, catalogKey(db))
	if errors.Is(err, os.ErrNotExist) {
		return &blobCatalog{Namespaces: make(map[string]uint64)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var cat blobCatalog
	if err := json.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if cat.Namespaces == nil {
		cat.Namespaces = make(map[string]uint64)
	}
	return &cat, nil
}

// Open implements Backend.
func (b *BlobBackend) Open(ctx context.Context, name string, version uint64, migrate MigrateFunc) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("%w: blob backend is closed", ErrBackendUnavailable)
	}

	cat, err := b.readCatalog(ctx, name)
	if err != nil {
		return nil, err
	}

	target := version
	if target == 0 {
		target = cat.Version
		if target == 0 {
			target = 1
		}
	}
	if target < cat.Version {
		return nil, fmt.Errorf("%w: requested %d, stored %d", ErrVersionTooLow, target, cat.Version)
	}
	if target > cat.Version {
		if b.open[name] > 0 {
			return nil, fmt.Errorf("%w: %d open handle(s) on %q", ErrVersionChangeBlocked, b.open[name], name)
		}
		cat, err = b.upgrade(ctx, name, cat, target, migrate)
		if err != nil {
			return nil, err
		}
	}

	b.open[name]++
	h := &blobHandle{
		backend:    b,
		name:       name,
		version:    cat.Version,
		namespaces: make(map[string]uint64, len(cat.Namespaces)),
		history:    append([]SchemaChange(nil), cat.History...),
	}
	for ns, gen := range cat.Namespaces {
		h.namespaces[ns] = gen
	}
	return h, nil
}

func (b *BlobBackend) upgrade(ctx context.Context, name string, cat *blobCatalog, target uint64, migrate MigrateFunc) (*blobCatalog, error) {
	existing := make([]string, 0, len(cat.Namespaces))
	for ns := range cat.Namespaces {
		existing = append(existing, ns)
	}

	stx := newSchemaTx(cat.Version, target, existing)
	if migrate != nil {
		if err := migrate(stx); err != nil {
			return nil, err
		}
	}

	next := &blobCatalog{
		Version:    target,
		Namespaces: make(map[string]uint64, len(cat.Namespaces)),
		History:    append([]SchemaChange(nil), cat.History...),
	}
	for ns, gen := range cat.Namespaces {
		next.Namespaces[ns] = gen
	}

	var orphans []string
	for _, ns := range stx.toDrop() {
		orphans = append(orphans, namespacePrefix(name, ns, cat.Namespaces[ns]))
		delete(next.Namespaces, ns)
	}
	for _, ns := range stx.toCreate() {
		next.Namespaces[ns] = target
	}
	next.History = append(next.History, stx.change(time.Now().UTC()))

	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("failed to encode catalog: %w", err)
	}
	if err := b.store.Write(ctx, catalogKey(name), data); err != nil {
		return nil, fmt.Errorf("failed to write catalog: %w", err)
	}

	for _, prefix := range orphans {
		if err := b.removePrefix(ctx, prefix); err != nil {
			b.logger.Warn("failed to remove dropped namespace data", "prefix", prefix, "error", err)
		}
	}
	return next, nil
}

func (b *BlobBackend) removePrefix(ctx context.Context, prefix string) error {
	keys, err := b.store.List(ctx, prefix)
	if err != nil {
		return err
	}
	var errs []error
	for _, key := range keys {
		if err := b.store.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *BlobBackend) release(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open[name] > 0 {
		b.open[name]--
	}
}

// Close closes the underlying object store.
func (b *BlobBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.store.Close()
}

type blobHandle struct {
	backend *BlobBackend
	name    string
	version uint64
	// namespaces maps each namespace to the version that created it.
	namespaces map[string]uint64
	history    []SchemaChange

	mu     sync.RWMutex
	closed bool
}

func (h *blobHandle) Version() uint64 { return h.version }

func (h *blobHandle) Namespaces() []string {
	out := make([]string, 0, len(h.namespaces))
	for ns := range h.namespaces {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

func (h *blobHandle) HasNamespace(name string) bool {
	_, ok := h.namespaces[name]
	return ok
}

func (h *blobHandle) History() []SchemaChange {
	return append([]SchemaChange(nil), h.history...)
}

func (h *blobHandle) prefix(ns string) (string, error) {
	if h.closed {
		return "", ErrHandleClosed
	}
	gen, ok := h.namespaces[ns]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNamespaceNotFound, ns)
	}
	return namespacePrefix(h.name, ns, gen), nil
}

func (h *blobHandle) Put(ctx context.Context, ns, key string, value []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	prefix, err := h.prefix(ns)
	if err != nil {
		return err
	}
	return h.backend.store.Write(ctx, prefix+objectSegment(key), value)
}

func (h *blobHandle) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	prefix, err := h.prefix(ns)
	if err != nil {
		return nil, false, err
	}
	data, err := h.backend.store.Read(ctx, prefix+objectSegment(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (h *blobHandle) Delete(ctx context.Context, ns, key string) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	prefix, err := h.prefix(ns)
	if err != nil {
		return err
	}
	return h.backend.store.Delete(ctx, prefix+objectSegment(key))
}

// Scan lists the namespace once and reads each record. Records deleted while
// scanning are skipped.
func (h *blobHandle) Scan(ctx context.Context, ns string, fn func(key string, value []byte) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	prefix, err := h.prefix(ns)
	if err != nil {
		return err
	}
	objects, err := h.backend.store.List(ctx, prefix)
	if err != nil {
		return err
	}

	type entry struct{ key, object string }
	entries := make([]entry, 0, len(objects))
	for _, object := range objects {
		rest := strings.TrimPrefix(object, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		key, ok := parseObjectSegment(rest)
		if !ok {
			continue
		}
		entries = append(entries, entry{key: key, object: object})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	for _, e := range entries {
		data, err := h.backend.store.Read(ctx, e.object)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return err
		}
		if err := fn(e.key, data); err != nil {
			return err
		}
	}
	return nil
}

func (h *blobHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.backend.release(h.name)
	return nil
}
