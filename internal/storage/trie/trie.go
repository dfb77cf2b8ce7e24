package trie

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
)

// Errors returned by trie operations.
var (
	ErrKeyOutOfRange  = errors.New("key outside the trie key space")
	ErrUnexpectedPage = errors.New("unexpected page kind inside trie")
	ErrFanoutMismatch = errors.New("indirect page fan-out does not match layout")
)

// Loader resolves a reference to its page, reading it from storage if needed.
// A nil page with a nil error means the reference points nowhere.
type Loader interface {
	Load(ref *page.Reference) (page.Page, error)
}

// Persister writes a page and returns its durable key.
type Persister interface {
	Persist(p page.Page) (int64, error)
}

// Trie is a fixed-depth, fixed-fan-out indirection trie. The trie itself is
// stateless; roots are page references owned by the caller.
type Trie struct {
	depth  int
	fanout int
	mask   uint64
	shifts []uint
	maxKey uint64
}

// New creates a trie with depth levels of 2^fanoutBits slots each.
func New(depth, fanoutBits uint8) *Trie {
	t := &Trie{
		depth:  int(depth),
		fanout: 1 << fanoutBits,
		mask:   1<<fanoutBits - 1,
		shifts: make([]uint, depth),
	}
	for i := range t.shifts {
		t.shifts[i] = uint(fanoutBits) * uint(int(depth)-1-i)
	}
	bits := uint(depth) * uint(fanoutBits)
	if bits >= 64 {
		t.maxKey = ^uint64(0)
	} else {
		t.maxKey = 1<<bits - 1
	}
	return t
}

// FromLayout creates the trie used for page keys and revision numbers of a store.
func FromLayout(l page.Layout) *Trie {
	return New(l.Depth, l.FanoutBits)
}

// Depth returns the number of levels.
func (t *Trie) Depth() int {
	return t.depth
}

// Fanout returns the number of slots per indirect page.
func (t *Trie) Fanout() int {
	return t.fanout
}

// MaxKey returns the largest addressable key.
func (t *Trie) MaxKey() uint64 {
	return t.maxKey
}

// Offset returns the slot used for key at level, 0 being the root level.
func (t *Trie) Offset(key uint64, level int) int {
	return int((key >> t.shifts[level]) & t.mask)
}

func (t *Trie) check(key uint64) error {
	if key > t.maxKey {
		return fmt.Errorf("%w: %d > %d", ErrKeyOutOfRange, key, t.maxKey)
	}
	return nil
}

func (t *Trie) indirect(pg page.Page) (*page.IndirectPage, error) {
	ip, ok := pg.(*page.IndirectPage)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedPage, pg.Kind())
	}
	if ip.Fanout() != t.fanout {
		return nil, fmt.Errorf("%w: %d != %d", ErrFanoutMismatch, ip.Fanout(), t.fanout)
	}
	return ip, nil
}

// Resolve walks from root to the leaf reference of key. It returns nil when
// any reference on the path is unset. Load failures are returned as errors and
// never reported as an absent key.
func (t *Trie) Resolve(l Loader, root *page.Reference, key uint64) (*page.Reference, error) {
	if err := t.check(key); err != nil {
		return nil, err
	}

	ref := root
	for level := 0; level < t.depth; level++ {
		if ref == nil || ref.IsEmpty() {
			return nil, nil
		}
		pg, err := l.Load(ref)
		if err != nil {
			return nil, err
		}
		if pg == nil {
			return nil, nil
		}
		ip, err := t.indirect(pg)
		if err != nil {
			return nil, err
		}
		ref = ip.Reference(t.Offset(key, level))
	}
	if ref == nil || ref.IsEmpty() {
		return nil, nil
	}
	return ref, nil
}

// Allocate walks from root to the leaf reference of key, copying every
// persisted indirect page on the path and relinking its parent to the copy.
// Indirect pages whose reference is unpersisted already belong to the
// revision being written and are updated in place. Subtrees off the path stay
// shared with earlier revisions.
//
// root must be owned by the caller; it is re-pointed at the copied page.
func (t *Trie) Allocate(l Loader, root *page.Reference, key uint64) (*page.Reference, error) {
	if err := t.check(key); err != nil {
		return nil, err
	}

	ref := root
	for level := 0; level < t.depth; level++ {
		ip, err := t.writable(l, ref)
		if err != nil {
			return nil, err
		}
		offset := t.Offset(key, level)
		child := ip.Reference(offset)
		if child == nil {
			child = page.NewReference(page.NullKey)
			ip.SetReference(offset, child)
		}
		ref = child
	}
	return ref, nil
}

func (t *Trie) writable(l Loader, ref *page.Reference) (*page.IndirectPage, error) {
	if ref.IsEmpty() {
		ip := page.NewIndirectPage(t.fanout)
		ref.SetPage(ip)
		return ip, nil
	}
	if !ref.IsPersisted() {
		return t.indirect(ref.Page())
	}

	pg, err := l.Load(ref)
	if err != nil {
		return nil, err
	}
	shared, err := t.indirect(pg)
	if err != nil {
		return nil, err
	}
	ip := shared.Copy()
	ref.SetKey(page.NullKey)
	ref.SetPage(ip)
	return ip, nil
}

// Persist writes every unpersisted page reachable from ref, children before
// parents, and records the assigned keys on their references. Persisted
// subtrees are skipped without being loaded.
func (t *Trie) Persist(p Persister, ref *page.Reference) (int, error) {
	if ref == nil || ref.IsEmpty() || ref.IsPersisted() {
		return 0, nil
	}

	written := 0
	pg := ref.Page()
	if ip, ok := pg.(*page.IndirectPage); ok {
		for i := 0; i < ip.Fanout(); i++ {
			n, err := t.Persist(p, ip.Reference(i))
			written += n
			if err != nil {
				return written, err
			}
		}
	}

	key, err := p.Persist(pg)
	if err != nil {
		return written, err
	}
	ref.SetKey(key)
	return written + 1, nil
}

// Walk calls fn for every populated leaf reference under root in ascending
// key order. Indirect pages are loaded through l.
func (t *Trie) Walk(l Loader, root *page.Reference, fn func(key uint64, leaf *page.Reference) error) error {
	return t.walk(l, root, 0, 0, fn)
}

func (t *Trie) walk(l Loader, ref *page.Reference, level int, prefix uint64, fn func(uint64, *page.Reference) error) error {
	if ref == nil || ref.IsEmpty() {
		return nil
	}
	if level == t.depth {
		return fn(prefix, ref)
	}

	pg, err := l.Load(ref)
	if err != nil {
		return err
	}
	if pg == nil {
		return nil
	}
	ip, err := t.indirect(pg)
	if err != nil {
		return err
	}
	for i := 0; i < ip.Fanout(); i++ {
		key := prefix | uint64(i)<<t.shifts[level]
		if err := t.walk(l, ip.Reference(i), level+1, key, fn); err != nil {
			return err
		}
	}
	return nil
}
