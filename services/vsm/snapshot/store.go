// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package snapshot keeps the last good graph per request so value stream
// maps can still be served while the configuration engine is down.
//
// Two backends are provided: an embedded BadgerDB store for single-node
// deployments and a Redis store for shared deployments.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gocd/gocd-sub047/services/vsm/model"
	"github.com/gocd/gocd-sub047/services/vsm/source"
)

// ErrNotFound is returned by Get when no snapshot exists for the key.
var ErrNotFound = errors.New("snapshot not found")

// Store persists graphs by request key.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Put replaces the snapshot for key.
	Put(ctx context.Context, key source.Key, g *model.Graph) error

	// Get returns the snapshot for key or an error wrapping ErrNotFound.
	Get(ctx context.Context, key source.Key) (*Snapshot, error)

	// Delete removes the snapshot for key. Missing keys are not an error.
	Delete(ctx context.Context, key source.Key) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Name identifies the backend in logs and metrics.
	Name() string

	// Close releases the backend.
	Close() error
}

// Snapshot is a stored graph with the time it was saved.
type Snapshot struct {
	SavedAt time.Time    `json:"saved_at"`
	Graph   *model.Graph `json:"graph"`
}

// Age returns how old the snapshot is at now.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.SavedAt)
}

func encode(g *model.Graph, now time.Time) ([]byte, error) {
	if g == nil {
		return nil, errors.New("snapshot graph is nil")
	}
	data, err := json.Marshal(Snapshot{SavedAt: now.UTC(), Graph: g})
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Graph == nil {
		return nil, errors.New("decode snapshot: missing graph")
	}
	return &s, nil
}
