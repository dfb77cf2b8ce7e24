package config

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:      "file",
			Path:         "./data",
			SyncOnCommit: true,
			Compression:  "none",
		},
		Trie: TrieConfig{
			Depth:      5,
			FanoutBits: 8,
			RecordBits: 8,
		},
		Versioning: VersioningConfig{
			Kind:      "incremental",
			Milestone: 4,
		},
		Cache: CacheConfig{
			Capacity:       1024,
			Secondary:      "memory",
			PageCacheBytes: "64MiB",
		},
		Session: SessionConfig{
			MaxReaders: 64,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}
