// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vsm serves value stream maps over HTTP.
//
// A Service fetches the dependency graph for a pipeline run or material
// revision from a source.Source, converts it to the view model with an
// assembler.Assembler and keeps recent results in a cache.Cache.
package vsm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gocd/gocd-sub047/services/vsm/assembler"
	"github.com/gocd/gocd-sub047/services/vsm/cache"
	"github.com/gocd/gocd-sub047/services/vsm/snapshot"
	"github.com/gocd/gocd-sub047/services/vsm/source"
	"github.com/gocd/gocd-sub047/services/vsm/telemetry"
)

// ServiceVersion is the VSM service version.
const ServiceVersion = "0.1.0"

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// Links builds locators. Default: root-relative StandardLinks("").
	Links *assembler.LinkBuilders

	// TimeFormatter formats modification times. Default: relative times.
	TimeFormatter assembler.TimeFormatter

	// Cache holds assembled maps. Nil disables caching.
	Cache *cache.Cache

	// Snapshots is checked by Ready. Optional.
	Snapshots snapshot.Store

	// Metrics records assemblies and upstream errors. Nil disables recording.
	Metrics *telemetry.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Service builds value stream maps.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	src       source.Source
	asm       *assembler.Assembler
	cache     *cache.Cache
	snapshots snapshot.Store
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// NewService creates a Service reading graphs from src.
func NewService(src source.Source, cfg ServiceConfig) (*Service, error) {
	if src == nil {
		return nil, ErrNilSource
	}

	links := assembler.StandardLinks("")
	if cfg.Links != nil {
		links = *cfg.Links
	}
	var opts []assembler.Option
	if cfg.TimeFormatter != nil {
		opts = append(opts, assembler.WithTimeFormatter(cfg.TimeFormatter))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		src:       src,
		asm:       assembler.New(links, opts...),
		cache:     cfg.Cache,
		snapshots: cfg.Snapshots,
		metrics:   cfg.Metrics,
		logger:    logger,
	}, nil
}

// PipelineVSM returns the map rooted at one pipeline run.
//
// Description:
//
//	Validates the identifier, then serves the map from the cache or builds
//	it from the graph source. When the source fails the returned map is the
//	error-only form carrying the user-facing message, and the source error
//	is returned alongside so callers can choose a status code.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	name - Pipeline name. Must not be blank or contain ':', which
//	       separates the parts of a cache and snapshot key.
//	counter - Pipeline run counter. Must be positive.
//
// Outputs:
//
//	*assembler.ValueStreamMap - The map. Nil only for ErrInvalidRequest.
//	error - ErrInvalidRequest or an error wrapping a source sentinel.
func (s *Service) PipelineVSM(ctx context.Context, name string, counter int) (*assembler.ValueStreamMap, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: pipeline name is required", ErrInvalidRequest)
	}
	if strings.Contains(name, ":") {
		return nil, fmt.Errorf("%w: pipeline name %q contains ':'", ErrInvalidRequest, name)
	}
	if counter <= 0 {
		return nil, fmt.Errorf("%w: pipeline counter must be positive, got %d", ErrInvalidRequest, counter)
	}
	return s.get(ctx, source.PipelineKey(name, counter))
}

// MaterialVSM returns the map rooted at one material revision.
//
// Behaves like PipelineVSM. Fingerprint and revision must not be blank,
// and the fingerprint may not contain ':'. The revision may.
func (s *Service) MaterialVSM(ctx context.Context, fingerprint, revision string) (*assembler.ValueStreamMap, error) {
	if strings.TrimSpace(fingerprint) == "" {
		return nil, fmt.Errorf("%w: material fingerprint is required", ErrInvalidRequest)
	}
	if strings.Contains(fingerprint, ":") {
		return nil, fmt.Errorf("%w: material fingerprint %q contains ':'", ErrInvalidRequest, fingerprint)
	}
	if strings.TrimSpace(revision) == "" {
		return nil, fmt.Errorf("%w: material revision is required", ErrInvalidRequest)
	}
	return s.get(ctx, source.MaterialKey(fingerprint, revision))
}

func (s *Service) get(ctx context.Context, key source.Key) (*assembler.ValueStreamMap, error) {
	if s.cache == nil {
		return s.build(ctx, key)
	}
	vsm, cached, err := s.cache.GetOrBuild(ctx, key, func(ctx context.Context) (*assembler.ValueStreamMap, error) {
		return s.build(ctx, key)
	})
	if cached {
		s.logger.Debug("value stream map served from cache", slog.String("key", key.String()))
	}
	return vsm, err
}

func (s *Service) build(ctx context.Context, key source.Key) (*assembler.ValueStreamMap, error) {
	ctx, span := telemetry.StartSpan(ctx, "vsm.Service.build",
		trace.WithAttributes(
			attribute.String("vsm.kind", string(key.Kind)),
			attribute.String("vsm.name", key.Name),
			attribute.String("vsm.version", key.Version),
		))
	defer span.End()

	start := time.Now()
	g, err := source.Fetch(ctx, s.src, key)
	if err != nil {
		reason := source.Reason(err)
		telemetry.RecordError(span, err, attribute.String("vsm.reason", reason))
		s.metrics.RecordUpstreamError(ctx, reason)
		s.metrics.RecordAssembly(ctx, string(key.Kind), reason, 0, time.Since(start))
		s.logger.Warn("graph fetch failed",
			slog.String("key", key.String()),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		return s.asm.AssembleError(source.DisplayMessage(err)), err
	}

	_, asmSpan := telemetry.StartSpan(ctx, "vsm.Assembler.AssembleGraph")
	vsm := s.asm.AssembleGraph(g)
	asmSpan.SetAttributes(attribute.Int("vsm.nodes", vsm.NodeCount()))
	asmSpan.End()

	s.metrics.RecordAssembly(ctx, string(key.Kind), "ok", vsm.NodeCount(), time.Since(start))
	span.SetAttributes(attribute.Int("vsm.levels", len(vsm.Levels)))
	return vsm, nil
}

// Invalidate drops the cached map for key. Reports whether one existed.
func (s *Service) Invalidate(key source.Key) bool {
	if s.cache == nil {
		return false
	}
	return s.cache.Invalidate(key)
}

// HandleChanges invalidates the maps of changed graph files.
//
// Suitable as a source.ChangeHandler.
func (s *Service) HandleChanges(changes []source.Change) {
	for _, c := range changes {
		if s.Invalidate(c.Key) {
			s.logger.Info("invalidated cached value stream map",
				slog.String("key", c.Key.String()),
				slog.String("op", c.Op.String()))
		}
	}
}

// PurgeCache drops every cached map and returns how many were dropped.
func (s *Service) PurgeCache() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Purge()
}

// CacheStats returns cache counters, zero when caching is disabled.
func (s *Service) CacheStats() cache.Stats {
	if s.cache == nil {
		return cache.Stats{}
	}
	return s.cache.Stats()
}

// Ready reports whether the snapshot store, if any, is reachable.
func (s *Service) Ready(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	if err := s.snapshots.Ping(ctx); err != nil {
		return fmt.Errorf("snapshot store %s: %w", s.snapshots.Name(), err)
	}
	return nil
}

// SnapshotBackend names the configured snapshot store, or "".
func (s *Service) SnapshotBackend() string {
	if s.snapshots == nil {
		return ""
	}
	return s.snapshots.Name()
}
