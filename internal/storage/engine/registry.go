package engine

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/KilimcininKorOglu/revtree/internal/storage/backend"
)

// ErrNotOpen is returned when releasing a path the registry has not opened.
var ErrNotOpen = errors.New("store is not open in this registry")

// Registry shares one Session per file-backed store. Sessions are reference
// counted: every Open must be paired with a Release.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*registryEntry
	closed   bool
}

type registryEntry struct {
	session *Session
	refs    int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*registryEntry)}
}

// Open returns the session of the store in dir, opening it on first use.
// Options only apply when the store is opened; later callers share the
// existing session.
func (r *Registry) Open(dir string, opts Options) (*Session, error) {
	path, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrSessionClosed
	}

	if e, ok := r.sessions[path]; ok {
		e.refs++
		return e.session, nil
	}

	f, err := backend.OpenFile(path, backend.FileOptions{
		SyncOnCommit: opts.SyncOnCommit,
		CreateIfNew:  true,
	})
	if err != nil {
		return nil, err
	}
	var storage backend.Storage = f
	if len(opts.Handlers) > 0 {
		storage = backend.WithHandlers(f, opts.Handlers...)
	}
	if opts.Secondary == SecondarySQLite && opts.SecondaryPath == "" {
		opts.SecondaryPath = filepath.Join(path, "cache.db")
	}

	s, err := Open(storage, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.sessions[path] = &registryEntry{session: s, refs: 1}
	return s, nil
}

// Release drops one reference to the session of dir and closes it when no
// references remain.
func (r *Registry) Release(dir string) error {
	path, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	e, ok := r.sessions[path]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotOpen, path)
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.sessions, path)
	r.mu.Unlock()

	return e.session.Close()
}

// Len returns the number of open sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close closes every session regardless of outstanding references.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	sessions := r.sessions
	r.sessions = nil
	r.mu.Unlock()

	var errs []error
	for path, e := range sessions {
		if err := e.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}
