package txn

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/revtree/internal/storage/backend"
	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
	"github.com/KilimcininKorOglu/revtree/internal/storage/trie"
	"github.com/KilimcininKorOglu/revtree/internal/storage/versioning"
)

// Error classes. Every error returned by a transaction state matches exactly
// one of them through errors.Is, except corruption which also matches ErrIO.
var (
	// ErrUsage marks a request that violated a precondition.
	ErrUsage = errors.New("usage error")
	// ErrIO marks a failure of the durable store.
	ErrIO = errors.New("storage failure")
	// ErrCorrupt marks data read from the durable store that failed validation.
	ErrCorrupt = errors.New("store is corrupted")
)

// Usage errors.
var (
	ErrRevisionOutOfRange = usageError("revision out of range")
	ErrTransactionClosed  = usageError("transaction is closed")
	ErrWriterActive       = usageError("a write transaction is already open")
	ErrInvalidKey         = usageError("invalid record key")
	ErrSessionClosed      = usageError("session is closed")
	ErrNameSpaceFull      = usageError("no free name key")
)

type usage struct {
	msg string
}

func usageError(msg string) error {
	return &usage{msg: msg}
}

func (e *usage) Error() string {
	return e.msg
}

func (e *usage) Is(target error) bool {
	return target == ErrUsage
}

// IOError reports a durable-store failure during an operation.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Is reports ErrIO for every IOError and ErrCorrupt when the cause is a
// validation failure.
func (e *IOError) Is(target error) bool {
	switch target {
	case ErrIO:
		return true
	case ErrCorrupt:
		return isCorruption(e.Err)
	}
	return false
}

func isCorruption(err error) bool {
	for _, c := range []error{
		page.ErrChecksumMismatch,
		page.ErrCorruptPage,
		page.ErrInvalidKind,
		backend.ErrCorruptData,
		backend.ErrInvalidMagic,
		trie.ErrUnexpectedPage,
		trie.ErrFanoutMismatch,
		versioning.ErrBrokenChain,
	} {
		if errors.Is(err, c) {
			return true
		}
	}
	return false
}

// wrapIO classifies err as an I/O failure unless it already carries a class.
func wrapIO(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUsage) || errors.Is(err, ErrIO) {
		return err
	}
	return &IOError{Op: op, Err: err}
}
