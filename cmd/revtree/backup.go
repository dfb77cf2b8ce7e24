package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/KilimcininKorOglu/revtree/internal/backup"
	"github.com/KilimcininKorOglu/revtree/internal/logging"
	"github.com/KilimcininKorOglu/revtree/internal/storage/engine"
)

// BackupCmd copies every revision into a new store directory.
type BackupCmd struct {
	To string `arg:"" help:"Destination directory; must not hold a store" type:"path"`
}

// Run implements the backup command.
func (c *BackupCmd) Run(g *Globals) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	if cfg.Store.Backend == "memory" {
		return errors.New("backup needs a file store")
	}
	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	src, err := engine.OpenStorage(cfg, opts)
	if err != nil {
		return err
	}
	defer src.Close()

	dstCfg := *cfg
	dstCfg.Store.Path = c.To
	dst, err := engine.OpenStorage(&dstCfg, opts)
	if err != nil {
		return err
	}
	defer dst.Close()

	stats, err := backup.Copy(context.Background(), src, dst, backup.Options{
		Logger:     logger,
		CacheBytes: opts.PageCacheBytes,
	})
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	fmt.Fprintf(g.out, "copied %s revisions, %s pages", humanize.Comma(int64(stats.Revisions)), humanize.Comma(int64(stats.Pages)))
	if stats.Bytes > 0 {
		fmt.Fprintf(g.out, ", %s", humanize.IBytes(uint64(stats.Bytes)))
	}
	fmt.Fprintf(g.out, " in %s\n", stats.Duration.Round(time.Millisecond))
	return nil
}

// VerifyCmd checks that every committed page can be read and decoded.
type VerifyCmd struct{}

// Run implements the verify command.
func (c *VerifyCmd) Run(g *Globals) error {
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

	stats, err := backup.Verify(context.Background(), s, backup.Options{CacheBytes: opts.PageCacheBytes})
	if err != nil {
		if backup.IsCorrupt(err) {
			return fmt.Errorf("store is corrupt: %w", err)
		}
		return err
	}
	fmt.Fprintf(g.out, "ok: %s revisions, %s pages, %s data pages\n",
		humanize.Comma(int64(stats.Revisions)),
		humanize.Comma(int64(stats.Pages)),
		humanize.Comma(int64(stats.DataPages)))
	return nil
}
