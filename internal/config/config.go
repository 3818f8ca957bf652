// Package config loads the storage core's tunables from an optional
// stdb.toml in the replica directory, falling back to defaults matching
// the values named in the specification (50ms durability tick, 10s close
// timeout) when the file is absent.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/pbnjay/memory"
	"github.com/pelletier/go-toml/v2"
)

// Config holds the tunables for the page pool, blob store, commit log and
// durability worker.
type Config struct {
	Page       PageConfig       `toml:"page"`
	Blob       BlobConfig       `toml:"blob"`
	CommitLog  CommitLogConfig  `toml:"commit_log"`
	Durability DurabilityConfig `toml:"durability"`
}

// PageConfig tunes the in-memory page pool.
type PageConfig struct {
	// WorkingSetBytes is the page pool's soft working-set target. Default
	// derives it from system memory (1/64th of total, floor 16MiB); a value
	// set in stdb.toml, zero included, is used as given.
	WorkingSetBytes datasize.ByteSize `toml:"working_set_bytes"`
}

// BlobConfig tunes the content-addressed blob heap.
type BlobConfig struct {
	// CompressionThreshold is the minimum object size that gets zstd
	// compressed before being stored in the blob heap.
	CompressionThreshold datasize.ByteSize `toml:"compression_threshold"`
	// CacheEntries bounds the decompressed-blob read cache.
	CacheEntries int `toml:"cache_entries"`
}

// CommitLogConfig tunes segment rotation.
type CommitLogConfig struct {
	SegmentRotateSize datasize.ByteSize `toml:"segment_rotate_size"`
}

// DurabilityConfig tunes the durability worker's background loop.
type DurabilityConfig struct {
	TickInterval  time.Duration `toml:"tick_interval"`
	CloseTimeout  time.Duration `toml:"close_timeout"`
	QueueCapacity int           `toml:"queue_capacity"`
}

// Default returns the configuration used when no stdb.toml is present.
func Default() Config {
	ws := memory.TotalMemory() / 64
	if ws < 16<<20 {
		ws = 16 << 20
	}
	return Config{
		Page: PageConfig{WorkingSetBytes: datasize.ByteSize(ws)},
		Blob: BlobConfig{
			CompressionThreshold: 4 << 10,
			CacheEntries:         4096,
		},
		CommitLog: CommitLogConfig{
			SegmentRotateSize: 1 << 30, // 1GiB
		},
		Durability: DurabilityConfig{
			TickInterval:  50 * time.Millisecond,
			CloseTimeout:  10 * time.Second,
			QueueCapacity: 1024,
		},
	}
}

// Load reads <replicaDir>/stdb.toml if present, merging it over Default.
func Load(replicaDir string) (Config, error) {
	cfg := Default()
	path := filepath.Join(replicaDir, "stdb.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
