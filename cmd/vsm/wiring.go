// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gocd/gocd-sub047/services/vsm"
	"github.com/gocd/gocd-sub047/services/vsm/assembler"
	"github.com/gocd/gocd-sub047/services/vsm/cache"
	"github.com/gocd/gocd-sub047/services/vsm/config"
	"github.com/gocd/gocd-sub047/services/vsm/snapshot"
	"github.com/gocd/gocd-sub047/services/vsm/source"
	"github.com/gocd/gocd-sub047/services/vsm/telemetry"
)

// stack holds the wired service and everything that must be closed with it.
type stack struct {
	svc     *vsm.Service
	store   snapshot.Store
	watcher *source.Watcher
}

// Close stops the watcher and closes the snapshot store.
func (s *stack) Close() error {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// buildStack wires source, snapshot store, cache and service from cfg.
//
// Description:
//
//	The graph source is a FileSource when upstream.dir is set and an
//	HTTPSource otherwise. A configured snapshot backend wraps it in a
//	FallbackSource. With upstream.watch the FileSource watcher invalidates
//	cached maps; it runs until ctx is canceled or Close is called.
func buildStack(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *telemetry.Metrics) (*stack, error) {
	var (
		src   source.Source
		files *source.FileSource
		err   error
	)
	if cfg.Upstream.Dir != "" {
		files, err = source.NewFileSource(cfg.Upstream.Dir)
		if err != nil {
			return nil, err
		}
		src = files
	} else {
		src, err = source.NewHTTPSource(source.HTTPConfig{
			BaseURL:   cfg.Upstream.BaseURL,
			Timeout:   cfg.Upstream.Timeout,
			RateLimit: cfg.Upstream.RateLimit,
			Burst:     cfg.Upstream.Burst,
			Token:     cfg.Upstream.Token,
		})
		if err != nil {
			return nil, err
		}
	}

	st := &stack{}
	st.store, err = openSnapshotStore(ctx, cfg.Snapshot, logger)
	if err != nil {
		return nil, err
	}
	if st.store != nil {
		src = snapshot.NewFallbackSource(src, st.store,
			snapshot.WithMaxAge(cfg.Snapshot.MaxAge),
			snapshot.WithMetrics(metrics),
			snapshot.WithLogger(logger))
		logger.Info("Snapshot fallback enabled", slog.String("backend", st.store.Name()))
	}

	links := assembler.StandardLinks(cfg.Links.BaseURL)
	if cfg.Links.Disabled {
		links = assembler.NoLinks()
	}

	svcCfg := vsm.ServiceConfig{
		Links:     &links,
		Snapshots: st.store,
		Metrics:   metrics,
		Logger:    logger,
	}
	if cfg.Cache.Enabled {
		svcCfg.Cache = cache.New(cache.Options{
			MaxEntries: cfg.Cache.MaxEntries,
			TTL:        cfg.Cache.TTL,
			Metrics:    metrics,
		})
	}

	st.svc, err = vsm.NewService(src, svcCfg)
	if err != nil {
		return nil, errors.Join(err, st.Close())
	}

	if cfg.Upstream.Watch && files != nil {
		st.watcher, err = files.Watch(st.svc.HandleChanges, nil)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("watch %s: %w", files.Dir(), err), st.Close())
		}
		if err := st.watcher.Start(ctx); err != nil {
			return nil, errors.Join(fmt.Errorf("start watcher: %w", err), st.Close())
		}
		logger.Info("Watching graph files", slog.String("dir", files.Dir()))
	}
	return st, nil
}

func openSnapshotStore(ctx context.Context, cfg config.SnapshotConfig, logger *slog.Logger) (snapshot.Store, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		store, err := snapshot.OpenBadger(snapshot.BadgerConfig{
			Path:           cfg.Badger.Path,
			InMemory:       cfg.Badger.InMemory,
			SyncWrites:     cfg.Badger.SyncWrites,
			TTL:            cfg.Badger.TTL,
			GCInterval:     cfg.Badger.GCInterval,
			GCDiscardRatio: 0.5,
			Logger:         logger.With(slog.String("component", "badger")),
		})
		if err != nil {
			return nil, fmt.Errorf("open badger snapshot store: %w", err)
		}
		return store, nil

	case config.BackendRedis:
		store, err := snapshot.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, snapshot.RedisOptions{
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis snapshot store: %w", err)
		}
		return store, nil

	default:
		return nil, nil
	}
}
