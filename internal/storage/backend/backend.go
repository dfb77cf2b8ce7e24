package backend

import "errors"

// Errors returned by storage implementations.
var (
	ErrClosed       = errors.New("storage is closed")
	ErrPageNotFound = errors.New("page not found")
	ErrInvalidMagic = errors.New("invalid file magic")
	ErrCorruptData  = errors.New("corrupt storage data")
	ErrInjected     = errors.New("injected storage fault")
)

// Storage is a durable store of opaque page payloads plus one root slot.
type Storage interface {
	// OpenReader returns a handle for reading pages and the root slot.
	OpenReader() (Reader, error)
	// OpenWriter returns a handle that can also append pages and replace
	// the root slot.
	OpenWriter() (Writer, error)
	// Truncate deletes every page and the root slot.
	Truncate() error
	// Close releases the store.
	Close() error
}

// Reader reads page payloads and the root slot.
type Reader interface {
	// ReadPage returns the payload stored under key.
	ReadPage(key int64) ([]byte, error)
	// ReadRoot returns the last published root payload, or nil when no root
	// has been published yet.
	ReadRoot() ([]byte, error)
	// Close releases the handle.
	Close() error
}

// Writer extends Reader with page appends and atomic root replacement.
type Writer interface {
	Reader
	// WritePage stores a payload and returns its durable key.
	WritePage(data []byte) (int64, error)
	// WriteRoot atomically replaces the root slot. The new root becomes
	// visible only after every page written before it is durable.
	WriteRoot(data []byte) error
}

// Size returns the number of payload bytes held by s, looking through
// wrappers. It reports false when the store does not track its size.
func Size(s Storage) (int64, bool) {
	for {
		switch v := s.(type) {
		case interface{ Size() int64 }:
			return v.Size(), true
		case interface{ Unwrap() Storage }:
			s = v.Unwrap()
		default:
			return 0, false
		}
	}
}
