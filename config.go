package simidx

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries the environment-driven settings of a deployment. Values are
// read from SIMIDX_* variables by LoadConfig.
type Config struct {
	// DBPath is the filesystem path of the catalog database.
	DBPath string `split_words:"true" default:"simidx.db"`

	// BlobDir is the root directory for locally stored media blobs. Ignored
	// when a remote blob store is wired in instead.
	BlobDir string `split_words:"true" default:"media"`

	// IndexKind selects the vector index implementation, "hnsw" or "flat".
	IndexKind string `split_words:"true" default:"hnsw"`

	// MaxCapacity bounds the number of items across all projects. Zero
	// means unbounded.
	MaxCapacity int `split_words:"true" default:"0"`

	// EmbedConcurrency caps concurrent embedder calls.
	EmbedConcurrency int64 `split_words:"true" default:"2"`

	// MaxPayloadBytes caps accepted media payload sizes.
	MaxPayloadBytes int64 `split_words:"true" default:"20971520"`

	// URLTTL is the default expiry for signed item URLs.
	URLTTL time.Duration `envconfig:"URL_TTL" default:"24h"`

	// SnapshotInterval is the cadence of periodic catalog backups. Values
	// below one minute are raised to one minute.
	SnapshotInterval time.Duration `split_words:"true" default:"1h"`

	// SnapshotKey is the object key uploaded snapshots are stored under.
	SnapshotKey string `split_words:"true" default:"snapshots/catalog.db"`

	// SnapshotCompression selects the snapshot codec, "none", "lz4", or
	// "zstd".
	SnapshotCompression string `split_words:"true" default:"zstd"`

	// RemoteBackup enables periodic snapshot uploads and startup restore.
	RemoteBackup bool `split_words:"true" default:"false"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config

	if err := envconfig.Process("SIMIDX", &cfg); err != nil {
		return Config{}, err
	}

	if cfg.SnapshotInterval < time.Minute {
		cfg.SnapshotInterval = time.Minute
	}

	return cfg, nil
}

// StoreOptions translates the configuration into store options for Open.
func (c Config) StoreOptions() []Option {
	opts := []Option{WithIndexKind(IndexKind(c.IndexKind))}

	if c.MaxCapacity > 0 {
		opts = append(opts, WithMaxCapacity(c.MaxCapacity))
	}

	return opts
}
