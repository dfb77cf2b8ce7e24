package config

// Config holds the complete store configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Trie       TrieConfig       `yaml:"trie"`
	Versioning VersioningConfig `yaml:"versioning"`
	Cache      CacheConfig      `yaml:"cache"`
	Session    SessionConfig    `yaml:"session"`
	Logging    LogConfig        `yaml:"logging"`
}

// StoreConfig selects and configures the durable store.
type StoreConfig struct {
	Backend           string `yaml:"backend"`
	Path              string `yaml:"path"`
	SyncOnCommit      bool   `yaml:"syncOnCommit"`
	Compression       string `yaml:"compression"`
	EncryptionKeyFile string `yaml:"encryptionKeyFile"`
}

// TrieConfig fixes the page layout. It is persisted with the store and
// cannot change after the first commit.
type TrieConfig struct {
	Depth      uint8 `yaml:"depth"`
	FanoutBits uint8 `yaml:"fanoutBits"`
	RecordBits uint8 `yaml:"recordBits"`
}

// VersioningConfig selects how data pages are split into fragments.
type VersioningConfig struct {
	Kind      string `yaml:"kind"`
	Milestone uint32 `yaml:"milestone"`
}

// CacheConfig sizes the caches.
type CacheConfig struct {
	Capacity       int    `yaml:"capacity"`
	Secondary      string `yaml:"secondary"`
	SecondaryPath  string `yaml:"secondaryPath"`
	PageCacheBytes string `yaml:"pageCacheBytes"`
}

// SessionConfig holds session limits.
type SessionConfig struct {
	MaxReaders int64 `yaml:"maxReaders"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}
