// Package sensorcache provides an offline cache for time-series sensor readings
// built on a versioned embedded database.
//
// Readings are stored per task and device. Each task gets its own namespace,
// created on first write by a schema upgrade and dropped as a whole when the
// task's data is deleted. A shared metadata namespace holds one small record per
// task. Values are compressed with a reversible text codec before they are
// stored.
//
// # Basic Usage
//
// Open a cache with default configuration:
//
//	cache, err := sensorcache.Open(ctx, sensorcache.DefaultConfig("cache.db"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cache.Close()
//
// Store and read a device's readings:
//
//	err = cache.Put(ctx, "task-42", "sensor-1", `[{"timestamp":1704067200000,"temperature":21.5,"humidity":48}]`)
//	value, ok, err := cache.Get(ctx, "task-42", "sensor-1")
//
// Reading a task that was never written returns ok == false, never an error.
//
// # Storage
//
// The database is reached through the Backend interface:
//   - SQLiteBackend keeps everything in one SQLite file (pure Go driver)
//   - BlobBackend layers namespaces over any StorageBackend object store:
//     memory, local files, S3-compatible storage, or a tiered file+S3 store
//
// Only one upgrade runs at a time within a process. Upgrades are not
// coordinated across processes: a database must have a single writing process.
//
// # Errors
//
// Engine errors are *Error values carrying a Kind. Match them with errors.Is
// against ErrBackendUnavailable, ErrConnection, ErrSchemaUpgrade,
// ErrTransaction and ErrCompression. The engine never retries on its own.
package sensorcache
