// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gocd/gocd-sub047/services/vsm/model"
	"github.com/gocd/gocd-sub047/services/vsm/source"
	"github.com/gocd/gocd-sub047/services/vsm/telemetry"
)

// FallbackSource wraps a Source with a snapshot Store.
//
// Successful fetches are saved. When the wrapped source reports
// source.ErrUpstreamUnavailable, the last saved graph for the same key is
// returned instead. Not-found and permission errors are never masked.
//
// Thread Safety: Safe for concurrent use if the wrapped Source and Store are.
type FallbackSource struct {
	next    source.Source
	store   Store
	maxAge  time.Duration
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// FallbackOption configures a FallbackSource.
type FallbackOption func(*FallbackSource)

// WithMaxAge ignores snapshots older than d. Zero accepts any age.
func WithMaxAge(d time.Duration) FallbackOption {
	return func(f *FallbackSource) { f.maxAge = d }
}

// WithMetrics records fallbacks on m.
func WithMetrics(m *telemetry.Metrics) FallbackOption {
	return func(f *FallbackSource) { f.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) FallbackOption {
	return func(f *FallbackSource) { f.logger = l }
}

// NewFallbackSource decorates next with store.
func NewFallbackSource(next source.Source, store Store, opts ...FallbackOption) *FallbackSource {
	f := &FallbackSource{
		next:   next,
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// PipelineGraph implements source.Source.
func (f *FallbackSource) PipelineGraph(ctx context.Context, name string, counter int) (*model.Graph, error) {
	g, err := f.next.PipelineGraph(ctx, name, counter)
	return f.resolve(ctx, source.PipelineKey(name, counter), g, err)
}

// MaterialGraph implements source.Source.
func (f *FallbackSource) MaterialGraph(ctx context.Context, fingerprint, revision string) (*model.Graph, error) {
	g, err := f.next.MaterialGraph(ctx, fingerprint, revision)
	return f.resolve(ctx, source.MaterialKey(fingerprint, revision), g, err)
}

func (f *FallbackSource) resolve(ctx context.Context, key source.Key, g *model.Graph, fetchErr error) (*model.Graph, error) {
	if fetchErr == nil {
		if err := f.store.Put(ctx, key, g); err != nil {
			f.logger.Warn("failed to save snapshot",
				slog.String("key", key.String()),
				slog.String("backend", f.store.Name()),
				slog.String("error", err.Error()))
		}
		return g, nil
	}

	if !errors.Is(fetchErr, source.ErrUpstreamUnavailable) {
		return nil, fetchErr
	}

	snap, err := f.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			f.logger.Warn("failed to read snapshot",
				slog.String("key", key.String()),
				slog.String("backend", f.store.Name()),
				slog.String("error", err.Error()))
		}
		return nil, fetchErr
	}
	age := snap.Age(f.now())
	if f.maxAge > 0 && age > f.maxAge {
		f.logger.Info("snapshot too old for fallback",
			slog.String("key", key.String()),
			slog.Duration("age", age))
		return nil, fetchErr
	}

	f.metrics.RecordSnapshotFallback(ctx, f.store.Name())
	f.logger.Warn("serving value stream map from snapshot",
		slog.String("key", key.String()),
		slog.String("backend", f.store.Name()),
		slog.Duration("age", age),
		slog.String("upstream_error", fetchErr.Error()))
	return snap.Graph, nil
}
