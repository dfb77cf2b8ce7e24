package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/revtree/internal/config"
	"github.com/KilimcininKorOglu/revtree/internal/storage/backend"
	"github.com/KilimcininKorOglu/revtree/internal/storage/txn"
	"github.com/KilimcininKorOglu/revtree/internal/storage/versioning"
)

func TestRegistrySharesSessions(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry()
	defer reg.Close()

	a, err := reg.Open(dir, testOptions())
	require.NoError(t, err)
	b, err := reg.Open(filepath.Join(dir, "."), testOptions())
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, reg.Len())

	other, err := reg.Open(filepath.Join(dir, "other"), testOptions())
	require.NoError(t, err)
	assert.NotSame(t, a, other)
	assert.Equal(t, 2, reg.Len())

	require.NoError(t, reg.Release(dir))
	_, err = a.BeginReadLatest(context.Background())
	require.NoError(t, err, "session closed while still referenced")

	require.NoError(t, reg.Release(dir))
	_, err = a.BeginReadLatest(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, 1, reg.Len())

	assert.ErrorIs(t, reg.Release(dir), ErrNotOpen)
}

func TestRegistryReopensAfterRelease(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry()
	defer reg.Close()

	s, err := reg.Open(dir, testOptions())
	require.NoError(t, err)
	commit(t, s, func(w *txn.WriteState) {
		require.NoError(t, w.Put(2, []byte("kept")))
	})
	require.NoError(t, reg.Release(dir))

	s, err = reg.Open(dir, testOptions())
	require.NoError(t, err)
	r, err := s.BeginReadLatest(context.Background())
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "kept", readValue(t, r, 2))
}

func TestRegistryClose(t *testing.T) {
	reg := NewRegistry()
	s, err := reg.Open(t.TempDir(), testOptions())
	require.NoError(t, err)

	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())

	_, err = s.BeginWrite()
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = reg.Open(t.TempDir(), testOptions())
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestRegistryWithHandlersAndSQLite(t *testing.T) {
	dir := t.TempDir()
	key, err := backend.GenerateKey()
	require.NoError(t, err)
	enc, err := backend.NewEncryption(key)
	require.NoError(t, err)

	opts := testOptions().
		WithHandlers(backend.NewXZ(), enc).
		WithSecondary(SecondarySQLite, "").
		WithCacheCapacity(1)

	reg := NewRegistry()
	s, err := reg.Open(dir, opts)
	require.NoError(t, err)
	commit(t, s, func(w *txn.WriteState) {
		require.NoError(t, w.Put(0, []byte("secret")))
		require.NoError(t, w.Put(9, []byte("other page")))
	})
	require.NoError(t, reg.Close())

	_, err = os.Stat(filepath.Join(dir, "cache.db"))
	assert.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, backend.PageFileName))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")

	reg = NewRegistry()
	defer reg.Close()
	s, err = reg.Open(dir, opts)
	require.NoError(t, err)
	r, err := s.BeginReadLatest(context.Background())
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "secret", readValue(t, r, 0))
}

func TestOptionsFromConfig(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "store.key")
	key, err := backend.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, backend.SaveKeyFile(key, keyFile))

	cfg := config.DefaultConfig()
	cfg.Store.Path = filepath.Join(dir, "store")
	cfg.Store.Compression = "xz"
	cfg.Store.EncryptionKeyFile = keyFile
	cfg.Trie = config.TrieConfig{Depth: 2, FanoutBits: 3, RecordBits: 3}
	cfg.Versioning = config.VersioningConfig{Kind: "Differential", Milestone: 6}
	cfg.Cache.Secondary = "sqlite"
	cfg.Cache.PageCacheBytes = "2 MiB"
	cfg.Session.MaxReaders = 3
	require.Empty(t, config.ValidateConfig(cfg))

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), opts.Layout.Depth)
	assert.Equal(t, versioning.Policy{Kind: versioning.Differential, Milestone: 6}, opts.Policy)
	assert.Equal(t, SecondarySQLite, opts.Secondary)
	assert.Equal(t, filepath.Join(cfg.Store.Path, "cache.db"), opts.SecondaryPath)
	assert.Equal(t, int64(2<<20), opts.PageCacheBytes)
	assert.Equal(t, int64(3), opts.MaxReaders)
	require.Len(t, opts.Handlers, 2)
	assert.Equal(t, "xz", opts.Handlers[0].Name())

	storage, err := OpenStorage(cfg, opts)
	require.NoError(t, err)
	s, err := Open(storage, opts)
	require.NoError(t, err)
	defer s.Close()

	commit(t, s, func(w *txn.WriteState) {
		require.NoError(t, w.Put(1, []byte("configured")))
	})
	r, err := s.BeginReadLatest(context.Background())
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "configured", readValue(t, r, 1))
}

func TestOpenStorageMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Backend = "memory"

	opts, err := OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Empty(t, opts.Handlers)

	storage, err := OpenStorage(cfg, opts)
	require.NoError(t, err)
	_, ok := storage.(*backend.Memory)
	assert.True(t, ok)
	storage.Close()
}
