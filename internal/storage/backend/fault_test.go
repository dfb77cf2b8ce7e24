package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultInjectorPageWrites(t *testing.T) {
	f := NewFaultInjector(NewMemory())
	w, err := f.OpenWriter()
	require.NoError(t, err)

	f.FailPageWritesAfter(2)
	_, err = w.WritePage([]byte("a"))
	require.NoError(t, err)
	_, err = w.WritePage([]byte("b"))
	require.NoError(t, err)
	_, err = w.WritePage([]byte("c"))
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, 2, f.PageWrites())

	f.Reset()
	_, err = w.WritePage([]byte("d"))
	assert.NoError(t, err)
	assert.Equal(t, 3, f.PageWrites())
}

func TestFaultInjectorRootAndReads(t *testing.T) {
	f := NewFaultInjector(NewMemory())
	w, err := f.OpenWriter()
	require.NoError(t, err)
	key, err := w.WritePage([]byte("a"))
	require.NoError(t, err)
	require.NoError(t, w.WriteRoot([]byte("old")))

	f.FailRootWrites()
	assert.ErrorIs(t, w.WriteRoot([]byte("new")), ErrInjected)
	root, err := w.ReadRoot()
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), root)
	assert.Equal(t, 1, f.RootWrites())

	f.FailReads()
	r, err := f.OpenReader()
	require.NoError(t, err)
	_, err = r.ReadPage(key)
	assert.ErrorIs(t, err, ErrInjected)
}
