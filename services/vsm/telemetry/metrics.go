// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics contains the instruments recorded by the VSM service.
//
// Description:
//
//	All instruments use the "vsm_" prefix. A nil *Metrics is valid and
//	records nothing, so components can take metrics optionally.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// HTTPRequestsTotal counts HTTP requests by method, route and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// AssembliesTotal counts assembled maps by kind and outcome.
	AssembliesTotal metric.Int64Counter

	// AssemblyDuration records fetch plus assembly time in seconds.
	AssemblyDuration metric.Float64Histogram

	// AssembledNodes records the node count of successful maps.
	AssembledNodes metric.Int64Histogram

	// CacheLookupsTotal counts model cache lookups by result (hit, miss).
	CacheLookupsTotal metric.Int64Counter

	// UpstreamErrorsTotal counts graph source failures by reason.
	UpstreamErrorsTotal metric.Int64Counter

	// SnapshotFallbacksTotal counts maps served from a stored snapshot.
	SnapshotFallbacksTotal metric.Int64Counter
}

// NewMetrics registers every instrument on meter.
//
// Inputs:
//
//	meter - The OTel meter, typically otel.Meter("vsm").
//
// Outputs:
//
//	*Metrics - All instruments initialized.
//	error - Non-nil if an instrument could not be created.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.HTTPRequestsTotal, err = meter.Int64Counter("vsm_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	if m.HTTPRequestDuration, err = meter.Float64Histogram("vsm_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create http_request_duration_seconds: %w", err)
	}

	if m.AssembliesTotal, err = meter.Int64Counter("vsm_assemblies_total",
		metric.WithDescription("Value stream maps assembled"),
		metric.WithUnit("{map}"),
	); err != nil {
		return nil, fmt.Errorf("create assemblies_total: %w", err)
	}

	if m.AssemblyDuration, err = meter.Float64Histogram("vsm_assembly_duration_seconds",
		metric.WithDescription("Graph fetch and assembly duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create assembly_duration_seconds: %w", err)
	}

	if m.AssembledNodes, err = meter.Int64Histogram("vsm_assembled_nodes",
		metric.WithDescription("Nodes per assembled map"),
		metric.WithUnit("{node}"),
	); err != nil {
		return nil, fmt.Errorf("create assembled_nodes: %w", err)
	}

	if m.CacheLookupsTotal, err = meter.Int64Counter("vsm_cache_lookups_total",
		metric.WithDescription("Model cache lookups"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		return nil, fmt.Errorf("create cache_lookups_total: %w", err)
	}

	if m.UpstreamErrorsTotal, err = meter.Int64Counter("vsm_upstream_errors_total",
		metric.WithDescription("Graph source failures"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, fmt.Errorf("create upstream_errors_total: %w", err)
	}

	if m.SnapshotFallbacksTotal, err = meter.Int64Counter("vsm_snapshot_fallbacks_total",
		metric.WithDescription("Maps served from a stored snapshot"),
		metric.WithUnit("{map}"),
	); err != nil {
		return nil, fmt.Errorf("create snapshot_fallbacks_total: %w", err)
	}

	return m, nil
}

// NopMetrics returns metrics backed by a no-op meter.
func NopMetrics() *Metrics {
	m, _ := NewMetrics(noop.NewMeterProvider().Meter("vsm"))
	return m
}

// RecordAssembly records one assembled map.
//
// kind is "pipeline" or "material"; outcome is "ok" or an error reason.
func (m *Metrics) RecordAssembly(ctx context.Context, kind, outcome string, nodes int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	)
	m.AssembliesTotal.Add(ctx, 1, attrs)
	m.AssemblyDuration.Record(ctx, elapsed.Seconds(), attrs)
	if outcome == "ok" {
		m.AssembledNodes.Record(ctx, int64(nodes), metric.WithAttributes(attribute.String("kind", kind)))
	}
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordUpstreamError records a graph source failure.
func (m *Metrics) RecordUpstreamError(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.UpstreamErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSnapshotFallback records a map served from a snapshot.
func (m *Metrics) RecordSnapshotFallback(ctx context.Context, backend string) {
	if m == nil {
		return
	}
	m.SnapshotFallbacksTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
}
