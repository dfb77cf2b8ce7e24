package txn

import (
	"sort"
	"time"

	"github.com/KilimcininKorOglu/revtree/internal/storage/cache"
	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
	"github.com/KilimcininKorOglu/revtree/internal/storage/pager"
	"github.com/KilimcininKorOglu/revtree/internal/storage/versioning"
)

// WriteState is the single read-write transaction of a session. Reads see
// the state's own pending writes. Commit publishes a new revision and keeps
// the state open for the next one.
type WriteState struct {
	ReadState

	writer *pager.Writer
	// last is the last committed revision; ReadState.root is the base that
	// unmodified pages are read from, which differs from last after RevertTo.
	last     *page.RevisionRoot
	current  *page.RevisionRoot
	reverted bool
	onCommit func(info CommitInfo)
}

// WriteConfig carries what a session hands to a new write state.
type WriteConfig struct {
	ID uint64
	// Uber is the last committed UberPage.
	Uber *page.UberPage
	// OnCommit runs after a new UberPage has been published.
	OnCommit func(info CommitInfo)
	// OnClose runs once when the state is closed.
	OnClose func()
}

// CommitInfo describes a published revision.
type CommitInfo struct {
	Uber *page.UberPage
	Root *page.RevisionRoot
	// Pages lists the data pages the revision wrote, ordered by kind and
	// page key.
	Pages []PageChange
	// Reverted is set when the revision restored an earlier one; Pages then
	// lists only the pages written after the revert.
	Reverted bool
}

// PageChange names one data page written by a commit.
type PageChange struct {
	Kind    page.Kind
	PageKey uint64
}

// OpenWrite opens a write state on top of the last committed revision.
func OpenWrite(env *Env, cfg WriteConfig) (*WriteState, error) {
	w := &WriteState{onCommit: cfg.OnCommit}
	err := w.ReadState.init(env, ReadConfig{
		ID:       cfg.ID,
		Uber:     cfg.Uber,
		Revision: cfg.Uber.LastRevision(),
		OnClose:  cfg.OnClose,
	})
	if err != nil {
		return nil, err
	}

	writer, err := env.Pager.Writer()
	if err != nil {
		w.reader.Close()
		return nil, wrapIO("open writer", err)
	}
	w.writer = writer
	w.last = w.root
	w.current = w.root.Successor()
	w.pending = make(map[pageID]*page.Container)
	w.logger = env.Logger.WithFields("tx", cfg.ID, "writer", true)
	w.logger.Debug("write transaction opened", "base", w.last.Revision)
	return w, nil
}

// Revision returns the number the next commit will publish.
func (w *WriteState) Revision() uint64 {
	return w.current.Revision
}

// RevisionRoot returns the in-progress revision root.
func (w *WriteState) RevisionRoot() *page.RevisionRoot {
	return w.current
}

// MaxNodeKey returns the largest node key issued, including pending inserts.
func (w *WriteState) MaxNodeKey() int64 {
	return w.current.MaxNodeKey
}

// LastCommitted returns the last committed revision number.
func (w *WriteState) LastCommitted() uint64 {
	return w.last.Revision
}

// HasUncommitted reports whether Commit would publish changes.
func (w *WriteState) HasUncommitted() bool {
	return len(w.pending) > 0 || w.reverted
}

// Put stores value under key.
func (w *WriteState) Put(key int64, value []byte) error {
	if w.closed {
		return ErrTransactionClosed
	}
	if w.isTransient(key) {
		return ErrInvalidKey
	}
	if err := w.set(page.KindNode, key, page.NewRecord(value)); err != nil {
		return err
	}
	if key > w.current.MaxNodeKey {
		w.current.MaxNodeKey = key
	}
	return nil
}

// Insert stores value under the next unused node key and returns the key.
func (w *WriteState) Insert(value []byte) (int64, error) {
	if w.closed {
		return 0, ErrTransactionClosed
	}
	key := w.current.MaxNodeKey + 1
	if err := w.Put(key, value); err != nil {
		return 0, err
	}
	return key, nil
}

// Remove tombstones the record under key. Removing an absent key is not an error.
func (w *WriteState) Remove(key int64) error {
	if w.closed {
		return ErrTransactionClosed
	}
	if w.isTransient(key) {
		return ErrInvalidKey
	}
	return w.set(page.KindNode, key, page.Tombstone())
}

func (w *WriteState) set(kind page.Kind, key int64, r *page.Record) error {
	pageKey, offset := w.env.Layout.Split(key)
	c, err := w.writable(kind, pageKey)
	if err != nil {
		return err
	}
	return c.Set(offset, r)
}

// writable returns the pending container of a page, creating it on first
// write. Creating it copies the trie path of the page in the in-progress
// revision and prepares the fragment this revision will write.
func (w *WriteState) writable(kind page.Kind, pageKey uint64) (*page.Container, error) {
	id := pageID{kind, pageKey}
	if c, ok := w.pending[id]; ok {
		return c, nil
	}

	if _, err := w.env.trie.Allocate(w.writer, w.current.Root(kind), pageKey); err != nil {
		return nil, wrapIO("allocate page", err)
	}

	chain, err := w.chain(w.root, kind, pageKey)
	if err != nil {
		return nil, err
	}
	var complete *page.DataPage
	if chain == nil {
		complete = page.NewDataPage(kind, pageKey, w.env.Layout.RecordBits, w.current.Revision)
	} else if complete, err = versioning.Combine(chain); err != nil {
		return nil, wrapIO("reconstruct page", err)
	}

	c := page.NewContainer(complete, w.env.Policy.Prepare(chain, complete, w.current.Revision))
	w.pending[id] = c
	return c, nil
}

// Commit publishes the pending writes as a new revision. Pages are written
// first, children before parents, and the new UberPage is published last; on
// any failure nothing is published and the state stays as it was, so the
// commit may be retried or aborted.
func (w *WriteState) Commit() error {
	if w.closed {
		return ErrTransactionClosed
	}

	start := time.Now()
	revision := w.current.Revision
	uber, ids, err := w.persist()
	if err != nil {
		w.logger.Error("commit failed", "revision", revision, "error", err)
		return wrapIO("commit", err)
	}

	committed := w.current
	for id, c := range w.pending {
		w.env.cachePut(cache.Key{Kind: id.kind, PageKey: id.pageKey, Revision: revision}, page.NewContainer(c.Complete, nil))
	}
	pages := len(w.pending)
	info := CommitInfo{Uber: uber, Root: committed, Reverted: w.reverted}
	for _, id := range ids {
		info.Pages = append(info.Pages, PageChange{Kind: id.kind, PageKey: id.pageKey})
	}

	w.uber = uber
	w.last = committed
	w.root = committed
	w.revisions[revision] = committed
	w.current = committed.Successor()
	w.pending = make(map[pageID]*page.Container)
	w.reverted = false

	if w.onCommit != nil {
		w.onCommit(info)
	}
	w.logger.Info("commit", "revision", revision, "pages", pages, "duration", time.Since(start).String())
	return nil
}

func (w *WriteState) persist() (*page.UberPage, []pageID, error) {
	t := w.env.trie

	ids := make([]pageID, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].kind != ids[j].kind {
			return ids[i].kind < ids[j].kind
		}
		return ids[i].pageKey < ids[j].pageKey
	})

	for _, id := range ids {
		fragment := w.pending[id].Modified
		leaf, err := t.Allocate(w.writer, w.current.Root(id.kind), id.pageKey)
		if err != nil {
			return nil, nil, err
		}
		key, err := w.writer.Persist(fragment)
		if err != nil {
			return nil, nil, err
		}
		leaf.SetKey(key)
		leaf.SetPage(fragment)
	}

	if _, err := t.Persist(w.writer, w.current.NodeRoot); err != nil {
		return nil, nil, err
	}
	if _, err := t.Persist(w.writer, w.current.NameRoot); err != nil {
		return nil, nil, err
	}

	w.current.CommittedAt = time.Now().UnixNano()
	rootKey, err := w.writer.Persist(w.current)
	if err != nil {
		return nil, nil, err
	}

	uber := w.uber.Successor()
	leaf, err := t.Allocate(w.writer, uber.Revisions, w.current.Revision)
	if err != nil {
		return nil, nil, err
	}
	leaf.SetKey(rootKey)
	leaf.SetPage(w.current)
	if _, err := t.Persist(w.writer, uber.Revisions); err != nil {
		return nil, nil, err
	}

	if err := w.writer.Publish(uber); err != nil {
		return nil, nil, err
	}
	return uber, ids, nil
}

// Abort discards pending writes and any revert, returning to the last
// committed revision.
func (w *WriteState) Abort() error {
	if w.closed {
		return ErrTransactionClosed
	}
	w.reset()
	w.logger.Info("abort", "revision", w.last.Revision)
	return nil
}

func (w *WriteState) reset() {
	w.root = w.last
	w.current = w.last.Successor()
	w.pending = make(map[pageID]*page.Container)
	w.reverted = false
}

// RevertTo makes the in-progress revision identical to an earlier revision.
// The trie roots are shared with that revision, not copied. Pending writes
// are discarded; the next Commit publishes the reverted content as a new
// revision.
func (w *WriteState) RevertTo(revision uint64) error {
	if w.closed {
		return ErrTransactionClosed
	}
	if revision > w.last.Revision {
		return ErrRevisionOutOfRange
	}
	old, err := w.revisionRoot(revision)
	if err != nil {
		return err
	}

	w.root = old
	w.current = &page.RevisionRoot{
		Revision:   w.current.Revision,
		MaxNodeKey: old.MaxNodeKey,
		NodeRoot:   old.NodeRoot.Clone(),
		NameRoot:   old.NameRoot.Clone(),
	}
	w.pending = make(map[pageID]*page.Container)
	w.reverted = true
	w.logger.Info("revert", "to", revision, "revision", w.current.Revision)
	return nil
}

// Close commits uncommitted writes and releases the writer. If that commit
// fails the state stays open and the error is returned.
func (w *WriteState) Close() error {
	if w.closed {
		return nil
	}
	if w.HasUncommitted() {
		if err := w.Commit(); err != nil {
			return err
		}
	}
	w.close()
	return nil
}

// Discard releases the writer without committing.
func (w *WriteState) Discard() {
	if w.closed {
		return
	}
	w.reset()
	w.close()
}

func (w *WriteState) close() {
	w.writer.Close()
	w.release()
	w.logger.Debug("write transaction closed")
}
