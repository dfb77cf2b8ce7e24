package backend

import "sync"

// Memory is a Storage that keeps every payload in memory.
type Memory struct {
	mu     sync.RWMutex
	pages  [][]byte
	root   []byte
	bytes  int64
	closed bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// OpenReader implements Storage.
func (m *Memory) OpenReader() (Reader, error) {
	return m.handle()
}

// OpenWriter implements Storage.
func (m *Memory) OpenWriter() (Writer, error) {
	return m.handle()
}

func (m *Memory) handle() (*memoryHandle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return &memoryHandle{m: m}, nil
}

// Truncate implements Storage.
func (m *Memory) Truncate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.pages = nil
	m.root = nil
	m.bytes = 0
	return nil
}

// Close implements Storage.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// PageCount returns the number of stored pages.
func (m *Memory) PageCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pages)
}

// Size returns the number of payload bytes stored.
func (m *Memory) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bytes
}

type memoryHandle struct {
	m *Memory
}

func (h *memoryHandle) ReadPage(key int64) ([]byte, error) {
	h.m.mu.RLock()
	defer h.m.mu.RUnlock()
	if h.m.closed {
		return nil, ErrClosed
	}
	if key < 0 || key >= int64(len(h.m.pages)) {
		return nil, ErrPageNotFound
	}
	return clone(h.m.pages[key]), nil
}

func (h *memoryHandle) ReadRoot() ([]byte, error) {
	h.m.mu.RLock()
	defer h.m.mu.RUnlock()
	if h.m.closed {
		return nil, ErrClosed
	}
	return clone(h.m.root), nil
}

func (h *memoryHandle) WritePage(data []byte) (int64, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.m.closed {
		return 0, ErrClosed
	}
	h.m.pages = append(h.m.pages, clone(data))
	h.m.bytes += int64(len(data))
	return int64(len(h.m.pages) - 1), nil
}

func (h *memoryHandle) WriteRoot(data []byte) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.m.closed {
		return ErrClosed
	}
	h.m.root = clone(data)
	return nil
}

func (h *memoryHandle) Close() error {
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
