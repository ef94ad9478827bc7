// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source fetches leveled dependency graphs from the configuration
// engine, from snapshot files on disk, or from memory.
package source

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gocd/gocd-sub047/services/vsm/model"
)

// Source provides pre-computed value stream map graphs.
//
// Implementations return errors wrapping ErrNotFound, ErrPermissionDenied,
// ErrUpstreamUnavailable or ErrInvalidGraph, usually as an *UpstreamError
// carrying the display message.
type Source interface {
	// PipelineGraph returns the graph rooted at one pipeline run.
	PipelineGraph(ctx context.Context, name string, counter int) (*model.Graph, error)

	// MaterialGraph returns the graph rooted at one material revision.
	MaterialGraph(ctx context.Context, fingerprint, revision string) (*model.Graph, error)
}

// Kind identifies the root of a graph request.
type Kind string

const (
	KindPipeline Kind = "pipeline"
	KindMaterial Kind = "material"
)

// Key identifies one graph request. It is used as cache and snapshot key.
type Key struct {
	Kind Kind

	// Name is the pipeline name or the material fingerprint.
	Name string

	// Version is the pipeline counter or the material revision.
	Version string
}

// PipelineKey returns the key of a pipeline graph request.
func PipelineKey(name string, counter int) Key {
	return Key{Kind: KindPipeline, Name: name, Version: strconv.Itoa(counter)}
}

// MaterialKey returns the key of a material graph request.
func MaterialKey(fingerprint, revision string) Key {
	return Key{Kind: KindMaterial, Name: fingerprint, Version: revision}
}

// String returns "pipeline:{name}:{counter}" or "material:{fp}:{rev}".
func (k Key) String() string {
	return string(k.Kind) + ":" + k.Name + ":" + k.Version
}

// ParseKey parses the String form of a Key.
//
// The name may not contain ':'; the version may, so material revisions
// such as "v1:rc" survive a round trip.
func ParseKey(s string) (Key, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return Key{}, fmt.Errorf("invalid graph key %q", s)
	}
	switch Kind(parts[0]) {
	case KindPipeline:
		if _, err := strconv.Atoi(parts[2]); err != nil {
			return Key{}, fmt.Errorf("invalid graph key %q: counter: %w", s, err)
		}
	case KindMaterial:
	default:
		return Key{}, fmt.Errorf("invalid graph key %q: unknown kind", s)
	}
	return Key{Kind: Kind(parts[0]), Name: parts[1], Version: parts[2]}, nil
}

// Fetch resolves key against src.
func Fetch(ctx context.Context, src Source, key Key) (*model.Graph, error) {
	switch key.Kind {
	case KindPipeline:
		counter, err := strconv.Atoi(key.Version)
		if err != nil {
			return nil, fmt.Errorf("pipeline counter %q: %w", key.Version, err)
		}
		return src.PipelineGraph(ctx, key.Name, counter)
	case KindMaterial:
		return src.MaterialGraph(ctx, key.Name, key.Version)
	default:
		return nil, fmt.Errorf("unknown graph kind %q", key.Kind)
	}
}
