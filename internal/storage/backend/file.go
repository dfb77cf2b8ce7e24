package backend

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// File names used by the file backend.
const (
	PageFileName = "pages.rvt"
	RootFileName = "root.rvt"
)

const (
	pageFileMagic      = "RVTP"
	pageFileHeaderSize = 16
	recordHeaderSize   = 4
)

// FileOptions configures the file backend.
type FileOptions struct {
	// SyncOnCommit fsyncs the page file before every root replacement.
	SyncOnCommit bool
	// CreateIfNew creates the directory and files when missing.
	CreateIfNew bool
}

// DefaultFileOptions returns the default file backend options.
func DefaultFileOptions() FileOptions {
	return FileOptions{
		SyncOnCommit: true,
		CreateIfNew:  true,
	}
}

// File stores pages in an append-only file and the root slot in a separate
// file replaced atomically. A page's durable key is its file offset.
type File struct {
	dir    string
	opts   FileOptions
	mu     sync.RWMutex
	pages  *os.File
	size   int64
	closed bool
}

// OpenFile opens or creates a file backend in dir.
func OpenFile(dir string, opts FileOptions) (*File, error) {
	if opts.CreateIfNew {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	f := &File{dir: dir, opts: opts}
	if err := f.openPageFile(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) openPageFile() error {
	path := filepath.Join(f.dir, PageFileName)
	flags := os.O_RDWR
	if f.opts.CreateIfNew {
		flags |= os.O_CREATE
	}

	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to open page file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to stat page file: %w", err)
	}

	if info.Size() == 0 {
		header := make([]byte, pageFileHeaderSize)
		copy(header, pageFileMagic)
		binary.LittleEndian.PutUint32(header[4:8], rootVersion)
		if _, err := file.WriteAt(header, 0); err != nil {
			file.Close()
			return fmt.Errorf("failed to write page file header: %w", err)
		}
		f.size = pageFileHeaderSize
	} else {
		header := make([]byte, pageFileHeaderSize)
		if _, err := file.ReadAt(header, 0); err != nil {
			file.Close()
			return fmt.Errorf("failed to read page file header: %w", err)
		}
		if string(header[:4]) != pageFileMagic {
			file.Close()
			return ErrInvalidMagic
		}
		f.size = info.Size()
	}

	f.pages = file
	return nil
}

// Dir returns the directory of the store.
func (f *File) Dir() string {
	return f.dir
}

// Size returns the size of the page file in bytes.
func (f *File) Size() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.size
}

// OpenReader implements Storage.
func (f *File) OpenReader() (Reader, error) {
	return f.handle()
}

// OpenWriter implements Storage.
func (f *File) OpenWriter() (Writer, error) {
	return f.handle()
}

func (f *File) handle() (*fileHandle, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return nil, ErrClosed
	}
	return &fileHandle{f: f}, nil
}

// Truncate implements Storage. The store stays open and empty.
func (f *File) Truncate() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	if err := f.pages.Close(); err != nil {
		return err
	}
	for _, name := range []string{PageFileName, RootFileName} {
		if err := os.Remove(filepath.Join(f.dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	opts := f.opts
	f.opts.CreateIfNew = true
	err := f.openPageFile()
	f.opts = opts
	return err
}

// Close implements Storage.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.pages.Close()
}

type fileHandle struct {
	f *File
}

func (h *fileHandle) ReadPage(key int64) ([]byte, error) {
	h.f.mu.RLock()
	defer h.f.mu.RUnlock()
	if h.f.closed {
		return nil, ErrClosed
	}
	if key < pageFileHeaderSize || key+recordHeaderSize > h.f.size {
		return nil, ErrPageNotFound
	}

	header := make([]byte, recordHeaderSize)
	if _, err := h.f.pages.ReadAt(header, key); err != nil {
		return nil, err
	}
	length := int64(binary.LittleEndian.Uint32(header))
	if key+recordHeaderSize+length > h.f.size {
		return nil, ErrCorruptData
	}

	data := make([]byte, length)
	if _, err := h.f.pages.ReadAt(data, key+recordHeaderSize); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrCorruptData
		}
		return nil, err
	}
	return data, nil
}

func (h *fileHandle) ReadRoot() ([]byte, error) {
	h.f.mu.RLock()
	defer h.f.mu.RUnlock()
	if h.f.closed {
		return nil, ErrClosed
	}
	return readRootFile(filepath.Join(h.f.dir, RootFileName))
}

func (h *fileHandle) WritePage(data []byte) (int64, error) {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if h.f.closed {
		return 0, ErrClosed
	}

	buf := make([]byte, recordHeaderSize+len(data))
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[recordHeaderSize:], data)

	key := h.f.size
	if _, err := h.f.pages.WriteAt(buf, key); err != nil {
		return 0, err
	}
	h.f.size += int64(len(buf))
	return key, nil
}

func (h *fileHandle) WriteRoot(data []byte) error {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	if h.f.closed {
		return ErrClosed
	}
	if h.f.opts.SyncOnCommit {
		if err := h.f.pages.Sync(); err != nil {
			return err
		}
	}
	return writeRootFile(filepath.Join(h.f.dir, RootFileName), data)
}

func (h *fileHandle) Close() error {
	return nil
}
