package backend

import "sync"

// FaultInjector wraps a Storage and fails selected operations with ErrInjected.
type FaultInjector struct {
	Storage

	mu             sync.Mutex
	pageWritesLeft int
	failPageWrites bool
	failRootWrites bool
	failReads      bool
	pageWrites     int
	rootWrites     int
}

// NewFaultInjector wraps s. No fault is armed initially.
func NewFaultInjector(s Storage) *FaultInjector {
	return &FaultInjector{Storage: s}
}

// Unwrap returns the wrapped store.
func (f *FaultInjector) Unwrap() Storage {
	return f.Storage
}

// FailPageWritesAfter lets n more page writes succeed and fails every one after.
func (f *FaultInjector) FailPageWritesAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPageWrites = true
	f.pageWritesLeft = n
}

// FailRootWrites makes every root write fail.
func (f *FaultInjector) FailRootWrites() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRootWrites = true
}

// FailReads makes every page read fail.
func (f *FaultInjector) FailReads() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReads = true
}

// Reset disarms every fault.
func (f *FaultInjector) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPageWrites = false
	f.failRootWrites = false
	f.failReads = false
}

// PageWrites returns the number of successful page writes.
func (f *FaultInjector) PageWrites() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageWrites
}

// RootWrites returns the number of successful root writes.
func (f *FaultInjector) RootWrites() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rootWrites
}

// OpenReader implements Storage.
func (f *FaultInjector) OpenReader() (Reader, error) {
	r, err := f.Storage.OpenReader()
	if err != nil {
		return nil, err
	}
	return &faultReader{Reader: r, f: f}, nil
}

// OpenWriter implements Storage.
func (f *FaultInjector) OpenWriter() (Writer, error) {
	w, err := f.Storage.OpenWriter()
	if err != nil {
		return nil, err
	}
	return &faultWriter{faultReader: faultReader{Reader: w, f: f}, w: w}, nil
}

func (f *FaultInjector) readFails() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failReads
}

type faultReader struct {
	Reader
	f *FaultInjector
}

func (r *faultReader) ReadPage(key int64) ([]byte, error) {
	if r.f.readFails() {
		return nil, ErrInjected
	}
	return r.Reader.ReadPage(key)
}

type faultWriter struct {
	faultReader
	w Writer
}

func (w *faultWriter) WritePage(data []byte) (int64, error) {
	f := w.f
	f.mu.Lock()
	if f.failPageWrites {
		if f.pageWritesLeft <= 0 {
			f.mu.Unlock()
			return 0, ErrInjected
		}
		f.pageWritesLeft--
	}
	f.mu.Unlock()

	key, err := w.w.WritePage(data)
	if err != nil {
		return 0, err
	}
	f.mu.Lock()
	f.pageWrites++
	f.mu.Unlock()
	return key, nil
}

func (w *faultWriter) WriteRoot(data []byte) error {
	f := w.f
	f.mu.Lock()
	fail := f.failRootWrites
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}

	if err := w.w.WriteRoot(data); err != nil {
		return err
	}
	f.mu.Lock()
	f.rootWrites++
	f.mu.Unlock()
	return nil
}
