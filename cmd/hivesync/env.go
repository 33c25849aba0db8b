package main

import (
	"fmt"
	"log"
	"os"

	"github.com/dafiiit/hivecad-sync/internal/config"
	"github.com/dafiiit/hivecad-sync/internal/identity"
	"github.com/dafiiit/hivecad-sync/internal/localstore"
	"github.com/dafiiit/hivecad-sync/internal/metaindex"
	"github.com/dafiiit/hivecad-sync/internal/remote"
	"github.com/dafiiit/hivecad-sync/internal/remote/githttp"
	"github.com/dafiiit/hivecad-sync/internal/remote/memory"
	"github.com/dafiiit/hivecad-sync/internal/syncengine"
	"github.com/dafiiit/hivecad-sync/internal/thumbs"
)

// environment bundles the wired-up components a command works with.
type environment struct {
	cfg    *config.Config
	local  *localstore.Store
	remote remote.Store
	index  *metaindex.Index
	thumbs *thumbs.Cache
	ident  identity.Provider
	engine *syncengine.Engine
}

// newRegistry returns the provider registry with all built-in backends.
func newRegistry() *remote.Registry {
	registry := remote.NewRegistry()
	registry.Register(remote.ProviderGitHTTP, githttp.New)
	registry.Register(remote.ProviderMemory, memory.New)
	return registry
}

// openEnvironment loads configuration and wires every component. The
// caller must call close when done.
func openEnvironment(logger *log.Logger) (*environment, func(), error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, nil, err
	}

	dataDir := os.ExpandEnv(cfg.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}
	cfg.DataDir = dataDir

	local, err := localstore.Open(cfg.DatabasePath(), logger)
	if err != nil {
		return nil, nil, err
	}

	index, err := metaindex.Open(cfg.IndexPath())
	if err != nil {
		local.Close()
		return nil, nil, err
	}

	cache, err := thumbs.NewCache(cfg.ThumbnailDir())
	if err != nil {
		local.Close()
		index.Close()
		return nil, nil, err
	}

	factory := remote.NewFactory(newRegistry())
	rem, err := factory.Create(remote.Provider(cfg.Remote.Provider), remote.Config{
		Endpoint: cfg.Remote.Endpoint,
		Token:    cfg.Remote.Token,
		Branch:   cfg.Remote.Branch,
	})
	if err != nil {
		local.Close()
		index.Close()
		return nil, nil, err
	}

	var ident identity.Provider = identity.Anonymous{}
	if cfg.Remote.Token != "" {
		if p, err := identity.FromToken(cfg.Remote.Token); err == nil {
			ident = p
		} else {
			logger.Printf("Token carries no identity claims, running anonymously: %v", err)
		}
	}

	engine, err := syncengine.New(syncengine.Config{
		Local:      local,
		Remote:     rem,
		Index:      index,
		Identity:   ident,
		Thumbnails: cache,
		Interval:   cfg.Sync.Interval,
		Logger:     logger,
	})
	if err != nil {
		local.Close()
		index.Close()
		return nil, nil, err
	}

	env := &environment{
		cfg:    cfg,
		local:  local,
		remote: rem,
		index:  index,
		thumbs: cache,
		ident:  ident,
		engine: engine,
	}

	cleanup := func() {
		if err := env.index.Close(); err != nil {
			logger.Printf("Failed to close metadata index: %v", err)
		}
		if err := env.local.Close(); err != nil {
			logger.Printf("Failed to close local store: %v", err)
		}
	}
	return env, cleanup, nil
}

func newCommandLogger(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix, log.LstdFlags)
}
