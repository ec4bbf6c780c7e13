// Package options implements the engine's functional-options configuration
// surface, generalized from alexhholmes-boulder's pkg/options.go and
// pkg/db/option.go Option/OptionFunc pattern, plus a yaml.v3-based on-disk
// options file so the pattern extends past process-lifetime wiring.
package options

import (
	"os"

	"gopkg.in/yaml.v3"

	"boulder/internal/base"
	"boulder/internal/bloom"
)

// SyncPolicy controls how aggressively the WAL is synced to stable storage.
type SyncPolicy int

const (
	// SyncNever never calls Sync explicitly; the WAL is flushed but durability
	// is left to the OS's own write-back schedule.
	SyncNever SyncPolicy = iota
	// SyncEachWrite syncs the WAL after every applied batch.
	SyncEachWrite
)

// Options collects every tunable of the storage engine. Built up via
// functional Option values, or loaded wholesale from a YAML file.
type Options struct {
	// BlockSize is the target uncompressed size of a data block before it is
	// flushed to the backing file.
	BlockSize int `yaml:"block_size"`
	// RestartInterval is the number of entries between block-builder restart
	// points.
	RestartInterval int `yaml:"restart_interval"`
	// BloomBitsPerKey sizes the sstable filter block's Bloom filter. Zero
	// disables filters entirely.
	BloomBitsPerKey int `yaml:"bloom_bits_per_key"`
	// BlockCacheSize is the block cache's total capacity, in bytes of
	// decoded block content (the cache's charge unit matches
	// sstable.Reader's use of a block's decoded length as its charge).
	BlockCacheSize int `yaml:"block_cache_size"`
	// TableCacheSize is the number of open sstable.Reader handles the table
	// cache holds.
	TableCacheSize int `yaml:"table_cache_size"`
	// WALSync controls when the write-ahead log is synced.
	WALSync SyncPolicy `yaml:"wal_sync"`
	// MemtableFlushSize is the memtable's arena size, in bytes, above which
	// a write triggers a flush to a new sorted table file.
	MemtableFlushSize int `yaml:"memtable_flush_size"`

	// Compare orders user keys. Not serialized: a comparator is process
	// code, not data.
	Compare base.Compare `yaml:"-"`
}

// Option mutates an in-progress Options value. Modeled on
// alexhholmes-boulder's Option/OptionFunc pair, generalized from *db.DB to
// *Options so it composes over configuration instead of a live database
// handle.
type Option interface {
	apply(*Options)
}

// OptionFunc adapts a plain function to Option.
type OptionFunc func(*Options)

func (f OptionFunc) apply(o *Options) { f(o) }

// Default returns the engine's default configuration.
func Default() *Options {
	return &Options{
		BlockSize:         4096,
		RestartInterval:   16,
		BloomBitsPerKey:   bloom.DefaultBitsPerKey,
		BlockCacheSize:    8 << 20,
		TableCacheSize:    512,
		WALSync:           SyncEachWrite,
		MemtableFlushSize: 4 << 20,
		Compare:           base.DefaultCompare,
	}
}

// New builds an Options starting from the defaults and applying opts in
// order.
func New(opts ...Option) *Options {
	o := Default()
	for _, opt := range opts {
		opt.apply(o)
	}
	return o
}

// WithBlockSize overrides the target data block size.
func WithBlockSize(n int) Option {
	return OptionFunc(func(o *Options) { o.BlockSize = n })
}

// WithRestartInterval overrides the block builder's restart interval.
func WithRestartInterval(n int) Option {
	return OptionFunc(func(o *Options) { o.RestartInterval = n })
}

// WithBloomBitsPerKey overrides the sstable filter's bits-per-key. Zero
// disables filters.
func WithBloomBitsPerKey(n int) Option {
	return OptionFunc(func(o *Options) { o.BloomBitsPerKey = n })
}

// WithBlockCacheSize overrides the block cache's byte capacity.
func WithBlockCacheSize(n int) Option {
	return OptionFunc(func(o *Options) { o.BlockCacheSize = n })
}

// WithTableCacheSize overrides the table cache's open-file capacity.
func WithTableCacheSize(n int) Option {
	return OptionFunc(func(o *Options) { o.TableCacheSize = n })
}

// WithWALSync overrides the WAL sync policy.
func WithWALSync(p SyncPolicy) Option {
	return OptionFunc(func(o *Options) { o.WALSync = p })
}

// WithMemtableFlushSize overrides the memtable size threshold that
// triggers a flush to a new sorted table file.
func WithMemtableFlushSize(n int) Option {
	return OptionFunc(func(o *Options) { o.MemtableFlushSize = n })
}

// WithComparator overrides the user-key comparator.
func WithComparator(cmp base.Compare) Option {
	return OptionFunc(func(o *Options) { o.Compare = cmp })
}

// FilterPolicy returns the Bloom filter policy implied by BloomBitsPerKey,
// or nil if filters are disabled.
func (o *Options) FilterPolicy() *bloom.Policy {
	if o.BloomBitsPerKey <= 0 {
		return nil
	}
	return bloom.NewPolicy(o.BloomBitsPerKey)
}

// fileOptions is the YAML wire shape: every field of Options except the
// unserializable comparator.
type fileOptions struct {
	BlockSize         int        `yaml:"block_size"`
	RestartInterval   int        `yaml:"restart_interval"`
	BloomBitsPerKey   int        `yaml:"bloom_bits_per_key"`
	BlockCacheSize    int        `yaml:"block_cache_size"`
	TableCacheSize    int        `yaml:"table_cache_size"`
	WALSync           SyncPolicy `yaml:"wal_sync"`
	MemtableFlushSize int        `yaml:"memtable_flush_size"`
}

// LoadOptionsFile reads a YAML options file from path, starting from the
// defaults and overriding any field the file sets. The comparator is always
// left at base.DefaultCompare; callers needing a custom comparator apply
// WithComparator afterward.
func LoadOptionsFile(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	o := Default()
	fo := fileOptions{
		BlockSize:         o.BlockSize,
		RestartInterval:   o.RestartInterval,
		BloomBitsPerKey:   o.BloomBitsPerKey,
		BlockCacheSize:    o.BlockCacheSize,
		TableCacheSize:    o.TableCacheSize,
		WALSync:           o.WALSync,
		MemtableFlushSize: o.MemtableFlushSize,
	}
	if err := yaml.Unmarshal(data, &fo); err != nil {
		return nil, err
	}
	o.BlockSize = fo.BlockSize
	o.RestartInterval = fo.RestartInterval
	o.BloomBitsPerKey = fo.BloomBitsPerKey
	o.BlockCacheSize = fo.BlockCacheSize
	o.TableCacheSize = fo.TableCacheSize
	o.WALSync = fo.WALSync
	o.MemtableFlushSize = fo.MemtableFlushSize
	return o, nil
}

// MarshalYAML encodes o's serializable fields, for writing an options file
// back out (e.g. to snapshot the configuration a database was opened with).
func (o *Options) MarshalYAML() (any, error) {
	return fileOptions{
		BlockSize:         o.BlockSize,
		RestartInterval:   o.RestartInterval,
		BloomBitsPerKey:   o.BloomBitsPerKey,
		BlockCacheSize:    o.BlockCacheSize,
		TableCacheSize:    o.TableCacheSize,
		WALSync:           o.WALSync,
		MemtableFlushSize: o.MemtableFlushSize,
	}, nil
}

// WriteOptionsFile writes o's serializable fields to path as YAML.
func WriteOptionsFile(path string, o *Options) error {
	data, err := yaml.Marshal(o)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
