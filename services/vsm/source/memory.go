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
	"sync"
	"sync/atomic"

	"github.com/gocd/gocd-sub047/services/vsm/model"
)

// MemorySource serves graphs and errors registered in memory.
//
// Thread Safety: Safe for concurrent use.
type MemorySource struct {
	mu     sync.RWMutex
	graphs map[Key]*model.Graph
	errs   map[Key]error
	calls  atomic.Int64
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		graphs: make(map[Key]*model.Graph),
		errs:   make(map[Key]error),
	}
}

// Set registers g for key and clears any registered error.
func (s *MemorySource) Set(key Key, g *model.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[key] = g
	delete(s.errs, key)
}

// SetError makes every request for key fail with err.
func (s *MemorySource) SetError(key Key, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[key] = err
}

// Calls returns the number of graph requests served.
func (s *MemorySource) Calls() int64 {
	return s.calls.Load()
}

// PipelineGraph implements Source.
func (s *MemorySource) PipelineGraph(ctx context.Context, name string, counter int) (*model.Graph, error) {
	return s.get(ctx, PipelineKey(name, counter))
}

// MaterialGraph implements Source.
func (s *MemorySource) MaterialGraph(ctx context.Context, fingerprint, revision string) (*model.Graph, error) {
	return s.get(ctx, MaterialKey(fingerprint, revision))
}

func (s *MemorySource) get(ctx context.Context, key Key) (*model.Graph, error) {
	s.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.errs[key]; ok {
		return nil, err
	}
	if g, ok := s.graphs[key]; ok {
		return g, nil
	}
	return nil, notFound(key)
}
