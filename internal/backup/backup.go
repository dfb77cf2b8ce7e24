package backup

import (
	"errors"
	"time"

	"github.com/KilimcininKorOglu/revtree/internal/logging"
)

// Backup errors.
var (
	ErrNilStorage            = errors.New("storage is nil")
	ErrEmptySource           = errors.New("source store has no committed revision")
	ErrDestinationNotEmpty   = errors.New("destination store already holds a revision")
	ErrUnexpectedPage        = errors.New("unexpected page in revision graph")
	ErrRevisionCountMismatch = errors.New("reachable revisions do not match the uber page")
)

// Options configures Copy and Verify.
type Options struct {
	// Logger receives progress messages. Nil disables logging.
	Logger logging.Logger

	// CacheBytes bounds the decoded-page cache used while reading the
	// source. Zero reads every page straight from storage.
	CacheBytes int64
}

// Stats describes one Copy or Verify run.
type Stats struct {
	// Revisions is the number of revision roots visited.
	Revisions uint64
	// Pages is the number of distinct pages visited, including the uber page.
	Pages uint64
	// DataPages is the number of record pages among them.
	DataPages uint64
	// Bytes is the size of the destination after a copy, when the backend
	// tracks it.
	Bytes int64
	// Duration is the wall time of the run.
	Duration time.Duration
}

func (o Options) logger() logging.Logger {
	if o.Logger == nil {
		return logging.NewNop()
	}
	return o.Logger
}
