package main

import (
	"errors"
	"fmt"

	"github.com/KilimcininKorOglu/revtree/internal/config"
	"github.com/KilimcininKorOglu/revtree/internal/logging"
	"github.com/KilimcininKorOglu/revtree/internal/storage/backend"
	"github.com/KilimcininKorOglu/revtree/internal/storage/engine"
)

// loadConfig reads the configuration file, if any, and applies flag overrides.
func (g *Globals) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if g.cli.Config != "" {
		var err error
		if cfg, err = config.LoadConfig(g.cli.Config); err != nil {
			return nil, err
		}
	}
	if g.cli.Data != "" {
		cfg.Store.Path = g.cli.Data
	}
	if g.cli.Verbose {
		cfg.Logging.Level = "debug"
	}

	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return cfg, nil
}

// store is an open session together with the storage it owns.
type store struct {
	session *engine.Session
	storage backend.Storage
}

// open opens the configured store.
func (g *Globals) open() (*store, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	opts, err := engine.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	opts = opts.WithLogger(logger)

	s, err := engine.OpenStorage(cfg, opts)
	if err != nil {
		return nil, err
	}
	session, err := engine.Open(s, opts)
	if err != nil {
		s.Close()
		return nil, err
	}
	return &store{session: session, storage: s}, nil
}

func (s *store) Close() error {
	return s.session.Close()
}
