package backup_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KilimcininKorOglu/revtree/internal/backup"
	"github.com/KilimcininKorOglu/revtree/internal/storage/backend"
	"github.com/KilimcininKorOglu/revtree/internal/storage/engine"
	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
	"github.com/KilimcininKorOglu/revtree/internal/storage/txn"
)

var testLayout = page.Layout{Depth: 3, FanoutBits: 2, RecordBits: 2}

func open(t *testing.T, s backend.Storage) *engine.Session {
	t.Helper()
	session, err := engine.Open(s, engine.DefaultOptions().WithLayout(testLayout).WithCacheCapacity(8))
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })
	return session
}

func write(t *testing.T, s *engine.Session, fn func(w *txn.WriteState) error) {
	t.Helper()
	w, err := s.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, fn(w))
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())
}

// populate commits three revisions plus a revert and returns the session.
func populate(t *testing.T, s backend.Storage) *engine.Session {
	t.Helper()
	session := open(t, s)
	write(t, session, func(w *txn.WriteState) error {
		for k := int64(0); k < 10; k++ {
			if err := w.Put(k, []byte("v1-"+strconv.FormatInt(k, 10))); err != nil {
				return err
			}
		}
		_, err := w.CreateName("alpha")
		return err
	})
	write(t, session, func(w *txn.WriteState) error {
		return w.Put(3, []byte("v2"))
	})
	write(t, session, func(w *txn.WriteState) error {
		return w.Remove(4)
	})
	write(t, session, func(w *txn.WriteState) error {
		return w.RevertTo(1)
	})
	return session
}

func value(t *testing.T, s *engine.Session, revision uint64, key int64) string {
	t.Helper()
	r, err := s.BeginRead(context.Background(), revision)
	require.NoError(t, err)
	defer r.Close()
	v, ok, err := r.Value(key)
	require.NoError(t, err)
	if !ok {
		return ""
	}
	return string(v)
}

func TestCopyPreservesEveryRevision(t *testing.T) {
	srcStore := backend.NewMemory()
	session := populate(t, srcStore)
	dst := backend.NewMemory()

	stats, err := backup.Copy(context.Background(), srcStore, dst, backup.Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), stats.Revisions)
	assert.Equal(t, uint64(dst.PageCount()), stats.Pages-1, "uber page lives in the root slot")
	assert.Positive(t, stats.DataPages)
	assert.Equal(t, dst.Size(), stats.Bytes)

	copied := open(t, dst)
	assert.Equal(t, session.LastRevision(), copied.LastRevision())
	assert.Equal(t, testLayout, copied.Layout())

	for rev := uint64(0); rev <= session.LastRevision(); rev++ {
		for k := int64(0); k < 10; k++ {
			assert.Equal(t, value(t, session, rev, k), value(t, copied, rev, k),
				"revision %d key %d", rev, k)
		}
	}
	assert.Equal(t, "v2", value(t, copied, 2, 3))
	assert.Equal(t, "", value(t, copied, 3, 4))
	assert.Equal(t, "v1-4", value(t, copied, 4, 4), "reverted revision")

	r, err := copied.BeginReadLatest(context.Background())
	require.NoError(t, err)
	defer r.Close()
	key, ok, err := r.NameKey("alpha")
	require.NoError(t, err)
	require.True(t, ok)
	name, ok, err := r.Name(key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "alpha", name)

	origRevs, err := session.Revisions()
	require.NoError(t, err)
	copyRevs, err := copied.Revisions()
	require.NoError(t, err)
	assert.Equal(t, origRevs, copyRevs)
}

func TestCopyIsWritable(t *testing.T) {
	srcStore := backend.NewMemory()
	populate(t, srcStore)
	dst := backend.NewMemory()
	_, err := backup.Copy(context.Background(), srcStore, dst, backup.Options{})
	require.NoError(t, err)

	copied := open(t, dst)
	write(t, copied, func(w *txn.WriteState) error {
		return w.Put(9, []byte("after"))
	})
	assert.Equal(t, "after", value(t, copied, copied.LastRevision(), 9))
	assert.Equal(t, "v1-3", value(t, copied, copied.LastRevision(), 3))
}

func TestCopyDropsUnpublishedPages(t *testing.T) {
	mem := backend.NewMemory()
	faults := backend.NewFaultInjector(mem)
	session := open(t, faults)
	write(t, session, func(w *txn.WriteState) error {
		return w.Put(1, []byte("kept"))
	})

	faults.FailRootWrites()
	w, err := session.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, w.Put(2, []byte("lost")))
	require.Error(t, w.Commit())
	w.Discard()
	faults.Reset()

	dst := backend.NewMemory()
	stats, err := backup.Copy(context.Background(), mem, dst, backup.Options{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Revisions)
	assert.Less(t, dst.PageCount(), mem.PageCount())

	copied := open(t, dst)
	assert.Equal(t, "kept", value(t, copied, 1, 1))
	assert.Equal(t, "", value(t, copied, 1, 2))
}

func TestCopyRejects(t *testing.T) {
	ctx := context.Background()

	_, err := backup.Copy(ctx, nil, backend.NewMemory(), backup.Options{})
	assert.ErrorIs(t, err, backup.ErrNilStorage)

	_, err = backup.Copy(ctx, backend.NewMemory(), backend.NewMemory(), backup.Options{})
	assert.ErrorIs(t, err, backup.ErrEmptySource)

	src := backend.NewMemory()
	populate(t, src)
	dst := backend.NewMemory()
	open(t, dst)
	_, err = backup.Copy(ctx, src, dst, backup.Options{})
	assert.ErrorIs(t, err, backup.ErrDestinationNotEmpty)
}

func TestCopyCancelled(t *testing.T) {
	src := backend.NewMemory()
	populate(t, src)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dst := backend.NewMemory()
	_, err := backup.Copy(ctx, src, dst, backup.Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, backup.IsCorrupt(err))

	// Nothing was published.
	stats, err := backup.Verify(context.Background(), dst, backup.Options{})
	require.NoError(t, err)
	assert.Zero(t, stats.Revisions)
}

func TestVerify(t *testing.T) {
	src := backend.NewMemory()
	populate(t, src)

	stats, err := backup.Verify(context.Background(), src, backup.Options{CacheBytes: 1 << 20})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), stats.Revisions)
	assert.Positive(t, stats.Pages)
}

func TestVerifyReadFailure(t *testing.T) {
	mem := backend.NewMemory()
	populate(t, mem)
	faults := backend.NewFaultInjector(mem)
	faults.FailReads()

	_, err := backup.Verify(context.Background(), faults, backup.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrInjected)
	assert.False(t, backup.IsCorrupt(err))
}

func TestVerifyDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	f, err := backend.OpenFile(dir, backend.DefaultFileOptions())
	require.NoError(t, err)
	session, err := engine.Open(f, engine.DefaultOptions().WithLayout(testLayout))
	require.NoError(t, err)
	write(t, session, func(w *txn.WriteState) error {
		return w.Put(0, []byte("value"))
	})
	require.NoError(t, session.Close())

	// Flip the last byte of the page file, which belongs to the checksum of
	// the last page written by the commit.
	path := filepath.Join(dir, backend.PageFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	f, err = backend.OpenFile(dir, backend.DefaultFileOptions())
	require.NoError(t, err)
	defer f.Close()
	_, err = backup.Verify(context.Background(), f, backup.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, page.ErrChecksumMismatch)
	assert.True(t, backup.IsCorrupt(err))
}
