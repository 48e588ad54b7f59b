package sensorcache

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// BackendKind selects where the cache keeps its data.
type BackendKind string

const (
	// BackendMemory keeps everything in process memory.
	BackendMemory BackendKind = "memory"
	// BackendFile keeps one file per record below a directory.
	BackendFile BackendKind = "file"
	// BackendSQLite keeps everything in one SQLite file.
	BackendSQLite BackendKind = "sqlite"
	// BackendS3 keeps one object per record in an S3-compatible bucket.
	BackendS3 BackendKind = "s3"
	// BackendTiered writes to both a local directory and S3 and reads locally first.
	BackendTiered BackendKind = "tiered"
)

// Config defines cache configuration.
type Config struct {
	// Name identifies the logical database. Default: "sensorcache".
	Name string `yaml:"name"`

	// Disabled makes every operation fail with KindBackendUnavailable, as on a
	// host without storage.
	Disabled bool `yaml:"disabled"`

	// Backend selects and configures the storage backend.
	Backend BackendConfig `yaml:"backend"`

	// Compression configures the value codec.
	Compression CompressionConfig `yaml:"compression"`

	// Encryption configures encryption of values at rest.
	Encryption EncryptionConfig `yaml:"encryption"`

	// Logging configures the logger built by NewLogger.
	Logging LoggingConfig `yaml:"logging"`

	// StorageBackend, if set, is used as the object store instead of the one
	// described by Backend.
	StorageBackend StorageBackend `yaml:"-"`

	// Logger receives the cache's logs. Default: slog.Default().
	Logger *slog.Logger `yaml:"-"`

	// Clock stamps records. Default: a process-wide monotonic clock.
	Clock Clock `yaml:"-"`
}

// BackendConfig groups storage backend settings.
type BackendConfig struct {
	// Kind is one of memory, file, sqlite, s3 or tiered. Default: sqlite.
	Kind BackendKind `yaml:"kind"`

	// Dir is the data directory of the file backend and the local tier of the
	// tiered backend.
	Dir string `yaml:"dir"`

	SQLite SQLiteBackendConfig `yaml:"sqlite"`
	S3     S3BackendConfig     `yaml:"s3"`
}

// CompressionConfig groups value codec settings.
type CompressionConfig struct {
	// Enabled stores values encoded. Default: true.
	Enabled bool `yaml:"enabled"`
	// Codec is snappy, zstd or gzip. Default: snappy.
	Codec string `yaml:"codec"`
}

// LoggingConfig groups logger settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error. Default: info.
	Level string `yaml:"level"`
	// Format is text or json. Default: text.
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration for a SQLite cache at path. An empty
// path selects the memory backend.
func DefaultConfig(path string) Config {
	cfg := Config{
		Name: "sensorcache",
		Backend: BackendConfig{
			Kind:   BackendSQLite,
			SQLite: DefaultSQLiteBackendConfig(),
		},
		Compression: CompressionConfig{
			Enabled: true,
			Codec:   string(CodecSnappy),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
	if path == "" {
		cfg.Backend.Kind = BackendMemory
	} else {
		cfg.Backend.SQLite.Path = path
	}
	return cfg
}

// LoadConfig reads a YAML configuration file over DefaultConfig. ${VAR}
// references are replaced by environment variables before parsing.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig("")
	cfg.Backend.Kind = ""
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = BackendSQLite
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if _, err := ParseCodecType(c.Compression.Codec); err != nil {
		return fmt.Errorf("compression.codec: %w", err)
	}
	if c.Encryption.Enabled && c.Encryption.Key == "" && c.Encryption.Password == "" {
		return fmt.Errorf("encryption.key or encryption.password is required when encryption is enabled")
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.StorageBackend != nil || c.Disabled {
		return nil
	}

	switch c.Backend.Kind {
	case BackendMemory:
	case BackendFile:
		if c.Backend.Dir == "" {
			return fmt.Errorf("backend.dir is required for the file backend")
		}
	case BackendSQLite:
		if c.Backend.SQLite.Path == "" {
			return fmt.Errorf("backend.sqlite.path is required for the sqlite backend")
		}
	case BackendS3:
		if c.Backend.S3.Bucket == "" {
			return fmt.Errorf("backend.s3.bucket is required for the s3 backend")
		}
	case BackendTiered:
		if c.Backend.Dir == "" || c.Backend.S3.Bucket == "" {
			return fmt.Errorf("backend.dir and backend.s3.bucket are required for the tiered backend")
		}
	default:
		return fmt.Errorf("unknown backend.kind %q", c.Backend.Kind)
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown logging.level %q", s)
	}
}

// NewLogger builds a logger writing to w as configured.
func (c LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
