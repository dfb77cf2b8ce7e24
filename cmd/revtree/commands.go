package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/KilimcininKorOglu/revtree/internal/storage/backend"
	"github.com/KilimcininKorOglu/revtree/internal/storage/engine"
	"github.com/KilimcininKorOglu/revtree/internal/storage/txn"
)

// write runs fn in the write state of the configured store and commits.
func (g *Globals) write(fn func(w *txn.WriteState) error) (uint64, error) {
	s, err := g.open()
	if err != nil {
		return 0, err
	}
	defer s.Close()

	w, err := s.session.BeginWrite()
	if err != nil {
		return 0, err
	}
	defer w.Discard()

	if err := fn(w); err != nil {
		return 0, err
	}
	revision := w.Revision()
	if err := w.Commit(); err != nil {
		return 0, err
	}
	return revision, nil
}

// read runs fn in a read state pinned to revision, or to the last committed
// revision when revision is negative.
func (g *Globals) read(revision int64, fn func(r *txn.ReadState) error) error {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.Close()

	var r *txn.ReadState
	if revision < 0 {
		r, err = s.session.BeginReadLatest(context.Background())
	} else {
		r, err = s.session.BeginRead(context.Background(), uint64(revision))
	}
	if err != nil {
		return err
	}
	defer r.Close()
	return fn(r)
}

// PutCmd stores a value.
type PutCmd struct {
	Key   int64  `arg:"" help:"Record key"`
	Value string `arg:"" help:"Value"`
}

// Run implements the put command.
func (c *PutCmd) Run(g *Globals) error {
	rev, err := g.write(func(w *txn.WriteState) error {
		return w.Put(c.Key, []byte(c.Value))
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(g.out, "revision %d\n", rev)
	return nil
}

// GetCmd prints a value.
type GetCmd struct {
	Key      int64 `arg:"" help:"Record key"`
	Revision int64 `short:"r" default:"-1" help:"Revision to read, last committed when negative"`
}

// Run implements the get command.
func (c *GetCmd) Run(g *Globals) error {
	return g.read(c.Revision, func(r *txn.ReadState) error {
		v, ok, err := r.Value(c.Key)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key %d not found in revision %d", c.Key, r.Revision())
		}
		fmt.Fprintln(g.out, string(v))
		return nil
	})
}

// InsertCmd stores a value under a new key.
type InsertCmd struct {
	Value string `arg:"" help:"Value"`
}

// Run implements the insert command.
func (c *InsertCmd) Run(g *Globals) error {
	var key int64
	rev, err := g.write(func(w *txn.WriteState) error {
		var err error
		key, err = w.Insert([]byte(c.Value))
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(g.out, "key %d revision %d\n", key, rev)
	return nil
}

// RemoveCmd removes records.
type RemoveCmd struct {
	Keys []int64 `arg:"" help:"Record keys"`
}

// Run implements the remove command.
func (c *RemoveCmd) Run(g *Globals) error {
	rev, err := g.write(func(w *txn.WriteState) error {
		for _, key := range c.Keys {
			if err := w.Remove(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(g.out, "revision %d\n", rev)
	return nil
}

// NamesCmd looks up or interns names.
type NamesCmd struct {
	Names  []string `arg:"" help:"Names"`
	Create bool     `help:"Intern names that do not exist yet"`
}

// Run implements the names command.
func (c *NamesCmd) Run(g *Globals) error {
	if c.Create {
		keys := make([]int64, len(c.Names))
		rev, err := g.write(func(w *txn.WriteState) error {
			for i, name := range c.Names {
				key, err := w.CreateName(name)
				if err != nil {
					return err
				}
				keys[i] = key
			}
			return nil
		})
		if err != nil {
			return err
		}
		for i, name := range c.Names {
			fmt.Fprintf(g.out, "%s\t%d\n", name, keys[i])
		}
		fmt.Fprintf(g.out, "revision %d\n", rev)
		return nil
	}

	return g.read(-1, func(r *txn.ReadState) error {
		for _, name := range c.Names {
			key, ok, err := r.NameKey(name)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintf(g.out, "%s\t-\n", name)
				continue
			}
			fmt.Fprintf(g.out, "%s\t%d\n", name, key)
		}
		return nil
	})
}

// RevisionsCmd lists committed revisions.
type RevisionsCmd struct{}

// Run implements the revisions command.
func (c *RevisionsCmd) Run(g *Globals) error {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.Close()

	revs, err := s.session.Revisions()
	if err != nil {
		return err
	}
	for _, info := range revs {
		fmt.Fprintf(g.out, "%d\t%s\t%s\tmax key %d\n",
			info.Revision,
			info.CommittedAt.UTC().Format(time.RFC3339),
			humanize.Time(info.CommittedAt),
			info.MaxNodeKey)
	}
	return nil
}

// RevertCmd commits a copy of an earlier revision.
type RevertCmd struct {
	Revision uint64 `arg:"" help:"Revision to restore"`
}

// Run implements the revert command.
func (c *RevertCmd) Run(g *Globals) error {
	rev, err := g.write(func(w *txn.WriteState) error {
		return w.RevertTo(c.Revision)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(g.out, "revision %d restores revision %d\n", rev, c.Revision)
	return nil
}

// StatsCmd prints store statistics.
type StatsCmd struct{}

// Run implements the stats command.
func (c *StatsCmd) Run(g *Globals) error {
	s, err := g.open()
	if err != nil {
		return err
	}
	defer s.Close()

	st := s.session.Stats()
	layout := st.Layout
	fmt.Fprintf(g.out, "Last revision:   %s\n", humanize.Comma(int64(st.LastRevision)))
	fmt.Fprintf(g.out, "Layout:          depth %d, fan-out %d, %d records per page\n",
		layout.Depth, layout.Fanout(), layout.RecordsPerPage())
	fmt.Fprintf(g.out, "Key space:       %s records\n", humanize.Comma(layout.MaxRecordKey()+1))
	fmt.Fprintf(g.out, "Versioning:      %s, milestone %d\n", st.Policy.Kind, st.Policy.Milestone)
	if size, ok := backend.Size(s.storage); ok {
		fmt.Fprintf(g.out, "Store size:      %s\n", humanize.IBytes(uint64(size)))
	}
	fmt.Fprintf(g.out, "Container cache: %d/%d entries, %d hits, %d second-tier hits, %d misses\n",
		st.Cache.Entries, st.Cache.Capacity, st.Cache.Hits, st.Cache.SecondaryHits, st.Cache.Misses)
	fmt.Fprintf(g.out, "Page cache:      %d hits, %d misses\n", st.Pages.Hits, st.Pages.Misses)
	return nil
}

// TruncateCmd deletes every revision of the store.
type TruncateCmd struct {
	Yes bool `help:"Confirm deletion"`
}

// Run implements the truncate command.
func (c *TruncateCmd) Run(g *Globals) error {
	if !c.Yes {
		return errors.New("truncate deletes every revision; pass --yes to confirm")
	}
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	s, err := engine.OpenStorage(cfg, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Truncate(); err != nil {
		return err
	}
	fmt.Fprintln(g.out, "store truncated")
	return nil
}
