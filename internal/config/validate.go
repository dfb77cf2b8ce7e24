package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the configuration and returns a list of validation errors.
// An empty slice indicates the configuration is valid.
func ValidateConfig(config *Config) []error {
	var errs []error

	errs = append(errs, validateStoreConfig(&config.Store)...)
	errs = append(errs, validateTrieConfig(&config.Trie)...)
	errs = append(errs, validateVersioningConfig(&config.Versioning)...)
	errs = append(errs, validateCacheConfig(&config.Cache)...)

	if config.Session.MaxReaders <= 0 {
		errs = append(errs, ValidationError{
			Field:   "session.maxReaders",
			Message: "must be positive",
		})
	}

	errs = append(errs, validateLogConfig(&config.Logging)...)

	return errs
}

func validateStoreConfig(config *StoreConfig) []error {
	var errs []error

	switch config.Backend {
	case "file":
		if config.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "store.path",
				Message: "path is required for the file backend",
			})
		}
	case "memory":
	default:
		errs = append(errs, ValidationError{
			Field:   "store.backend",
			Message: "must be file or memory",
		})
	}

	if config.Compression != "" && config.Compression != "none" && config.Compression != "xz" {
		errs = append(errs, ValidationError{
			Field:   "store.compression",
			Message: "must be none or xz",
		})
	}

	if config.EncryptionKeyFile != "" {
		if _, err := os.Stat(config.EncryptionKeyFile); err != nil {
			errs = append(errs, ValidationError{
				Field:   "store.encryptionKeyFile",
				Message: fmt.Sprintf("cannot access key file: %v", err),
			})
		}
	}

	return errs
}

func validateTrieConfig(config *TrieConfig) []error {
	var errs []error

	if config.Depth < 1 {
		errs = append(errs, ValidationError{
			Field:   "trie.depth",
			Message: "must be at least 1",
		})
	}
	if config.FanoutBits < 1 || config.FanoutBits > 16 {
		errs = append(errs, ValidationError{
			Field:   "trie.fanoutBits",
			Message: "must be between 1 and 16",
		})
	}
	if config.RecordBits < 1 || config.RecordBits > 16 {
		errs = append(errs, ValidationError{
			Field:   "trie.recordBits",
			Message: "must be between 1 and 16",
		})
	}
	if int(config.Depth)*int(config.FanoutBits)+int(config.RecordBits) > 63 {
		errs = append(errs, ValidationError{
			Field:   "trie",
			Message: "depth*fanoutBits+recordBits must be at most 63",
		})
	}

	return errs
}

func validateVersioningConfig(config *VersioningConfig) []error {
	var errs []error

	switch strings.ToLower(config.Kind) {
	case "full", "incremental", "differential":
	default:
		errs = append(errs, ValidationError{
			Field:   "versioning.kind",
			Message: "must be full, incremental, or differential",
		})
	}

	if config.Milestone < 1 {
		errs = append(errs, ValidationError{
			Field:   "versioning.milestone",
			Message: "must be at least 1",
		})
	}

	return errs
}

func validateCacheConfig(config *CacheConfig) []error {
	var errs []error

	if config.Capacity <= 0 {
		errs = append(errs, ValidationError{
			Field:   "cache.capacity",
			Message: "must be positive",
		})
	}

	switch config.Secondary {
	case "", "none", "memory", "sqlite":
	default:
		errs = append(errs, ValidationError{
			Field:   "cache.secondary",
			Message: "must be none, memory, or sqlite",
		})
	}

	if config.PageCacheBytes != "" {
		if _, err := humanize.ParseBytes(config.PageCacheBytes); err != nil {
			errs = append(errs, ValidationError{
				Field:   "cache.pageCacheBytes",
				Message: err.Error(),
			})
		}
	}

	return errs
}

func validateLogConfig(config *LogConfig) []error {
	var errs []error

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if config.Level != "" && !validLevels[strings.ToLower(config.Level)] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be debug, info, warn, or error",
		})
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if config.Format != "" && !validFormats[strings.ToLower(config.Format)] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be text or json",
		})
	}

	if config.Output != "" && config.Output != "stdout" && config.Output != "stderr" {
		dir := filepath.Dir(config.Output)
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			errs = append(errs, ValidationError{
				Field:   "logging.output",
				Message: fmt.Sprintf("directory %s does not exist", dir),
			})
		}
	}

	return errs
}

// PageCacheSize returns the decoded-page cache budget in bytes.
func (c *CacheConfig) PageCacheSize() (int64, error) {
	if c.PageCacheBytes == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.PageCacheBytes)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}
