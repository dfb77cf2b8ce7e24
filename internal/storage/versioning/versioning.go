package versioning

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/revtree/internal/storage/page"
)

// Kind selects how fragments of a data page are chained across revisions.
type Kind uint8

const (
	// Full writes a complete page on every change.
	Full Kind = iota + 1
	// Incremental writes only the slots changed by each revision and a
	// milestone once the chain reaches the milestone distance.
	Incremental
	// Differential writes every change since the last milestone, so
	// reconstruction never needs more than two fragments.
	Differential
)

// String returns the configuration name of the kind.
func (k Kind) String() string {
	switch k {
	case Full:
		return "full"
	case Incremental:
		return "incremental"
	case Differential:
		return "differential"
	default:
		return "unknown"
	}
}

// ParseKind parses a configuration name.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "full":
		return Full, nil
	case "incremental", "":
		return Incremental, nil
	case "differential":
		return Differential, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidPolicy, s)
	}
}

// Errors returned by the reconstruction engine.
var (
	ErrInvalidPolicy = errors.New("invalid versioning policy")
	ErrBrokenChain   = errors.New("fragment chain is broken")
	ErrNoFragments   = errors.New("no fragments to combine")
)

// Policy is a versioning kind together with the milestone distance M.
type Policy struct {
	Kind      Kind
	Milestone int
}

// DefaultPolicy returns incremental versioning with a milestone every 4 fragments.
func DefaultPolicy() Policy {
	return Policy{Kind: Incremental, Milestone: 4}
}

// Validate checks the policy.
func (p Policy) Validate() error {
	switch p.Kind {
	case Full, Incremental, Differential:
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidPolicy, p.Kind)
	}
	if p.Milestone < 1 {
		return fmt.Errorf("%w: milestone distance must be at least 1", ErrInvalidPolicy)
	}
	return nil
}

// Encode returns the persisted form of the policy.
func (p Policy) Encode() page.Versioning {
	return page.Versioning{Kind: uint8(p.Kind), Milestone: uint32(p.Milestone)}
}

// Decode restores a policy persisted with Encode.
func Decode(v page.Versioning) (Policy, error) {
	p := Policy{Kind: Kind(v.Kind), Milestone: int(v.Milestone)}
	return p, p.Validate()
}

// Lookup returns the fragment of one page written in the given revision.
type Lookup func(revision uint64) (*page.DataPage, error)

// limit bounds the number of fragments reconstruction reads.
func (p Policy) limit() int {
	switch p.Kind {
	case Full:
		return 1
	case Differential:
		return 2
	default:
		return p.Milestone
	}
}

// Collect gathers the fragment chain ending at latest, most recent first. It
// follows each fragment's predecessor through lookup and stops at a
// milestone or once the policy's fragment bound is reached.
func (p Policy) Collect(latest *page.DataPage, lookup Lookup) ([]*page.DataPage, error) {
	if latest == nil {
		return nil, nil
	}

	fragments := []*page.DataPage{latest}
	cur := latest
	for !cur.IsMilestone() && len(fragments) < p.limit() {
		prev, err := lookup(uint64(cur.Previous()))
		if err != nil {
			return nil, err
		}
		if prev == nil || prev.Revision() != uint64(cur.Previous()) || prev.PageKey() != cur.PageKey() {
			return nil, fmt.Errorf("%w: page %d revision %d references revision %d",
				ErrBrokenChain, cur.PageKey(), cur.Revision(), cur.Previous())
		}
		fragments = append(fragments, prev)
		cur = prev
	}
	return fragments, nil
}

// Combine merges a fragment chain, most recent first, into the complete page.
// For every slot the most recent fragment that populated it wins.
func Combine(fragments []*page.DataPage) (*page.DataPage, error) {
	if len(fragments) == 0 {
		return nil, ErrNoFragments
	}

	complete := fragments[0].Rebase(fragments[0].Revision(), -1)
	for _, f := range fragments[1:] {
		f.Each(func(offset int, r *page.Record) {
			if complete.Get(offset) == nil {
				complete.Set(offset, r)
			}
		})
	}
	return complete, nil
}

// Prepare returns the fragment a writer fills in revision, given the current
// chain (most recent first, possibly empty) and the complete page it
// reconstructs to.
func (p Policy) Prepare(fragments []*page.DataPage, complete *page.DataPage, revision uint64) *page.DataPage {
	milestone := complete.Rebase(revision, -1)
	if len(fragments) == 0 || p.Kind == Full {
		return milestone
	}

	latest := fragments[0]
	switch p.Kind {
	case Differential:
		base := fragments[len(fragments)-1]
		if !base.IsMilestone() || revision-base.Revision() >= uint64(p.Milestone) {
			return milestone
		}
		if latest.IsMilestone() {
			return emptyLike(complete, revision, int64(base.Revision()))
		}
		return latest.Rebase(revision, int64(base.Revision()))
	default:
		if len(fragments) >= p.Milestone {
			return milestone
		}
		return emptyLike(complete, revision, int64(latest.Revision()))
	}
}

// emptyLike returns an empty fragment with the shape of p.
func emptyLike(p *page.DataPage, revision uint64, previous int64) *page.DataPage {
	e := p.Rebase(revision, previous)
	for i := 0; i < e.Slots(); i++ {
		e.Set(i, nil)
	}
	return e
}
