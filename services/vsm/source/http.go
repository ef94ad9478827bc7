// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/gocd/gocd-sub047/services/vsm/model"
	"github.com/gocd/gocd-sub047/services/vsm/telemetry"
)

const maxErrorBody = 4 << 10

// HTTPConfig configures an HTTPSource.
type HTTPConfig struct {
	// BaseURL of the configuration engine, e.g. "http://localhost:8153/go".
	BaseURL string

	// Timeout bounds each request. Default: 10s.
	Timeout time.Duration

	// RateLimit is the sustained requests per second. Zero disables limiting.
	RateLimit float64

	// Burst is the limiter bucket size. Default: 1 when RateLimit is set.
	Burst int

	// Token is sent as a bearer token when non-empty.
	Token string

	// Client replaces the default HTTP client.
	Client *http.Client
}

// HTTPSource fetches graphs from the configuration engine's internal API.
//
// # Description
//
// Requests GET {base}/api/internal/vsm/pipelines/{name}/{counter} and
// GET {base}/api/internal/vsm/materials/{fingerprint}/{revision}. The
// response body is the JSON form of model.Graph. Errors carry a JSON body
// {"message": "..."} which becomes the user-facing message.
//
// # Thread Safety
//
// Safe for concurrent use.
type HTTPSource struct {
	base    *url.URL
	client  *http.Client
	limiter *rate.Limiter
	token   string
	logger  *slog.Logger
}

// NewHTTPSource creates an HTTPSource.
//
// Inputs:
//
//	cfg - Source configuration. BaseURL is required.
//
// Outputs:
//
//	*HTTPSource - Ready to use.
//	error - Non-nil if BaseURL is empty or not absolute.
func NewHTTPSource(cfg HTTPConfig) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("upstream base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse upstream base URL: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("upstream base URL %q must be absolute", cfg.BaseURL)
	}

	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &HTTPSource{
		base:    base,
		client:  client,
		limiter: limiter,
		token:   cfg.Token,
		logger:  slog.With("component", "source.http", "upstream", base.Redacted()),
	}, nil
}

// PipelineGraph implements Source.
func (s *HTTPSource) PipelineGraph(ctx context.Context, name string, counter int) (*model.Graph, error) {
	return s.fetch(ctx, PipelineKey(name, counter), "pipelines", name, strconv.Itoa(counter))
}

// MaterialGraph implements Source.
func (s *HTTPSource) MaterialGraph(ctx context.Context, fingerprint, revision string) (*model.Graph, error) {
	return s.fetch(ctx, MaterialKey(fingerprint, revision), "materials", fingerprint, revision)
}

func (s *HTTPSource) fetch(ctx context.Context, key Key, kind string, id, version string) (*model.Graph, error) {
	ctx, span := telemetry.StartSpan(ctx, "source.HTTPSource.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("vsm.key", key.String())),
	)
	defer span.End()

	graph, err := s.do(ctx, key, kind, id, version)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("vsm.nodes", graph.NodeCount()))
	return graph, nil
}

func (s *HTTPSource) do(ctx context.Context, key Key, kind string, id, version string) (*model.Graph, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	endpoint := s.base.JoinPath("api", "internal", "vsm", kind, id, version)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	telemetry.InjectContext(ctx, req.Header)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Warn("upstream request failed", "key", key.String(), "error", err)
		return nil, &UpstreamError{Key: key, Err: fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)}
	}
	defer resp.Body.Close()

	s.logger.Debug("upstream response",
		"key", key.String(),
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return nil, s.statusError(key, resp)
	}

	var graph model.Graph
	if err := json.NewDecoder(resp.Body).Decode(&graph); err != nil {
		return nil, &UpstreamError{Key: key, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %v", ErrInvalidGraph, err)}
	}
	return &graph, nil
}

// statusError maps a non-200 response to an *UpstreamError.
func (s *HTTPSource) statusError(key Key, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)

	ue := &UpstreamError{Key: key, StatusCode: resp.StatusCode, Message: payload.Message}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		ue.Err = ErrNotFound
		if ue.Message == "" {
			return notFound(key)
		}
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		ue.Err = ErrPermissionDenied
	default:
		ue.Err = fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
		s.logger.Warn("upstream error status", "key", key.String(), "status", resp.StatusCode)
	}
	return ue
}
