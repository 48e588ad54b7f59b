package sensorcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Cache is the offline sensor data cache. It wires a backend, the connection
// manager, the provisioner and the stores built on them.
type Cache struct {
	config  Config
	logger  *slog.Logger
	backend Backend

	conn        *ConnectionManager
	prov        *Provisioner
	records     *RecordStore
	meta        *MetadataStore
	compression *CompressionCache
}

// Open creates a cache from cfg. The database itself is opened lazily by the
// first operation.
func Open(ctx context.Context, cfg Config) (*Cache, error) {
	if cfg.Name == "" {
		cfg.Name = "sensorcache"
	}
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = BackendMemory
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "sensorcache")
	}
	cfg.Logger = logger

	var backend Backend
	if !cfg.Disabled {
		var err error
		if backend, err = newBackend(ctx, cfg, logger); err != nil {
			return nil, err
		}
	}
	c, err := newCache(cfg, backend)
	if err != nil && backend != nil {
		_ = backend.Close()
	}
	return c, err
}

// newCache wires the components of a cache over backend. A nil backend yields a
// cache whose operations fail with KindBackendUnavailable.
func newCache(cfg Config, backend Backend) (*Cache, error) {
	if cfg.Name == "" {
		cfg.Name = "sensorcache"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "sensorcache")
	}

	codecType, err := ParseCodecType(cfg.Compression.Codec)
	if err != nil {
		return nil, err
	}
	encryptor, err := NewEncryptor(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("encryption: %w", err)
	}

	c := &Cache{
		config:  cfg,
		logger:  logger,
		backend: backend,
	}
	c.conn = NewConnectionManager(backend, cfg.Name, logger)
	c.prov = NewProvisioner(c.conn)
	c.records = NewRecordStore(c.conn, c.prov, cfg.Clock)
	c.meta = NewMetadataStore(c.conn, c.prov, cfg.Clock)
	c.compression = NewCompressionCache(NewCodec(codecType, encryptor), c.records, logger)

	logger.Debug("cache created", "backend", cfg.Backend.Kind, "codec", codecType, "encrypted", encryptor != nil)
	return c, nil
}

func newBackend(ctx context.Context, cfg Config, logger *slog.Logger) (Backend, error) {
	if cfg.StorageBackend != nil {
		return NewBlobBackend(cfg.StorageBackend, logger), nil
	}

	switch cfg.Backend.Kind {
	case BackendMemory:
		return NewBlobBackend(NewMemoryBackend(), logger), nil
	case BackendFile:
		store, err := NewFileBackend(cfg.Backend.Dir)
		if err != nil {
			return nil, err
		}
		return NewBlobBackend(store, logger), nil
	case BackendSQLite:
		return NewSQLiteBackend(cfg.Backend.SQLite)
	case BackendS3:
		store, err := NewS3Backend(ctx, cfg.Backend.S3)
		if err != nil {
			return nil, err
		}
		return NewBlobBackend(store, logger), nil
	case BackendTiered:
		hot, err := NewFileBackend(cfg.Backend.Dir)
		if err != nil {
			return nil, err
		}
		cold, err := NewS3Backend(ctx, cfg.Backend.S3)
		if err != nil {
			return nil, err
		}
		return NewBlobBackend(NewTieredBackend(hot, cold), logger), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}

// Connection returns the connection manager.
func (c *Cache) Connection() *ConnectionManager { return c.conn }

// Provisioner returns the namespace provisioner.
func (c *Cache) Provisioner() *Provisioner { return c.prov }

// Records returns the record store holding raw stored values.
func (c *Cache) Records() *RecordStore { return c.records }

// Metadata returns the metadata store.
func (c *Cache) Metadata() *MetadataStore { return c.meta }

// Compression returns the compression cache.
func (c *Cache) Compression() *CompressionCache { return c.compression }

// EnsureNamespace creates the namespace of taskID if it does not exist.
func (c *Cache) EnsureNamespace(ctx context.Context, taskID string) error {
	_, err := c.prov.EnsureNamespace(ctx, taskID)
	return err
}

// Put stores value for deviceID under taskID, compressed unless compression is
// disabled.
func (c *Cache) Put(ctx context.Context, taskID, deviceID, value string) error {
	if c.config.Compression.Enabled {
		return c.compression.Put(ctx, taskID, deviceID, value)
	}
	return c.records.Put(ctx, taskID, deviceID, value)
}

// Get returns the value stored for deviceID under taskID.
func (c *Cache) Get(ctx context.Context, taskID, deviceID string) (string, bool, error) {
	if c.config.Compression.Enabled {
		return c.compression.Get(ctx, taskID, deviceID)
	}
	return c.records.Get(ctx, taskID, deviceID)
}

// Delete removes the value of deviceID under taskID.
func (c *Cache) Delete(ctx context.Context, taskID, deviceID string) error {
	return c.records.Delete(ctx, taskID, deviceID)
}

// ListDeviceIDs returns the devices stored under taskID in ascending order.
func (c *Cache) ListDeviceIDs(ctx context.Context, taskID string) ([]string, error) {
	return c.records.ListDeviceIDs(ctx, taskID)
}

// ListTaskIDs returns the tasks that have stored data.
func (c *Cache) ListTaskIDs(ctx context.Context) ([]string, error) {
	return c.records.ListTaskIDs(ctx)
}

// DeleteAllForTask removes every value stored under taskID.
func (c *Cache) DeleteAllForTask(ctx context.Context, taskID string) error {
	return c.records.DeleteAllForTask(ctx, taskID)
}

// GetMeta returns the metadata of taskID, or nil.
func (c *Cache) GetMeta(ctx context.Context, taskID string) (*MetaRecord, error) {
	return c.meta.GetMeta(ctx, taskID)
}

// PutMeta replaces the metadata of taskID.
func (c *Cache) PutMeta(ctx context.Context, taskID string, meta map[string]any) error {
	return c.meta.PutMeta(ctx, taskID, meta)
}

// DeleteMeta removes the metadata of taskID.
func (c *Cache) DeleteMeta(ctx context.Context, taskID string) error {
	return c.meta.DeleteMeta(ctx, taskID)
}

// EstimateTotalSize sums the stored size of every value.
func (c *Cache) EstimateTotalSize(ctx context.Context) (int64, error) {
	return c.records.EstimateTotalSize(ctx)
}

// Measure reports compression cost and benefit for sample.
func (c *Cache) Measure(ctx context.Context, sample string, iterations int) (*MeasureResult, error) {
	return c.compression.Measure(ctx, sample, iterations)
}

// History returns the schema history of the database.
func (c *Cache) History(ctx context.Context) ([]SchemaChange, error) {
	return c.conn.History(ctx)
}

// Export builds a snappy-compressed Prometheus remote-write body from the
// readings stored under taskID. Each device value must be a JSON array of
// SensorReading; other values are skipped.
func (c *Cache) Export(ctx context.Context, taskID string) ([]byte, error) {
	ids, err := c.ListDeviceIDs(ctx, taskID)
	if err != nil {
		return nil, err
	}

	devices := make(map[string][]SensorReading, len(ids))
	for _, id := range ids {
		value, ok, err := c.Get(ctx, taskID, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var readings []SensorReading
		if err := json.Unmarshal([]byte(value), &readings); err != nil {
			c.logger.Debug("skipping value that is not a reading list", "task", taskID, "device", id, "error", err)
			continue
		}
		devices[id] = readings
	}
	return EncodeWriteRequest(BuildWriteRequest(taskID, devices))
}

// Close closes the database and the backend.
func (c *Cache) Close() error {
	var errs []error
	if err := c.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	if c.backend != nil {
		if err := c.backend.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
