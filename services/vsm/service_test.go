// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vsm

import (
	"context"
	"errors"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocd/gocd-sub047/services/vsm/assembler"
	"github.com/gocd/gocd-sub047/services/vsm/cache"
	"github.com/gocd/gocd-sub047/services/vsm/model"
	"github.com/gocd/gocd-sub047/services/vsm/snapshot"
	"github.com/gocd/gocd-sub047/services/vsm/source"
)

// buildGraph is a two-level map: a git material feeding build-linux run 42.
func buildGraph() *model.Graph {
	return &model.Graph{
		CurrentPipeline: "build-linux",
		Levels: []model.Level{
			{Nodes: []model.DependencyNode{{
				ID:            "fp-git",
				Name:          "https://github.com/gocd/gocd",
				Type:          model.NodeTypeMaterial,
				Children:      []string{"build-linux"},
				MaterialNames: []string{"gocd"},
				MaterialRevisions: []model.MaterialRevision{{
					Fingerprint:   "fp-git",
					Modifications: []model.Modification{{Revision: "abc123", User: "dev", Comment: "fix"}},
				}},
			}}},
			{Nodes: []model.DependencyNode{{
				ID:      "build-linux",
				Name:    "build-linux",
				Type:    model.NodeTypePipeline,
				Depth:   1,
				Parents: []string{"fp-git"},
				CanEdit: true,
				Revisions: []model.PipelineRevision{{
					Label:   "42",
					Counter: 42,
					Stages: []model.StageRevision{{
						Name: "unit-tests", Status: "Passed", Counter: 1, Completed: true, DurationSeconds: 90,
					}},
				}},
			}}},
		},
	}
}

func newTestService(t *testing.T, src source.Source, withCache bool) *Service {
	t.Helper()
	cfg := ServiceConfig{}
	if withCache {
		cfg.Cache = cache.New(cache.DefaultOptions())
	}
	svc, err := NewService(src, cfg)
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresSource(t *testing.T) {
	_, err := NewService(nil, ServiceConfig{})
	assert.ErrorIs(t, err, ErrNilSource)
}

func TestService_PipelineVSM(t *testing.T) {
	src := source.NewMemorySource()
	src.Set(source.PipelineKey("build-linux", 42), buildGraph())
	svc := newTestService(t, src, false)

	vsm, err := svc.PipelineVSM(context.Background(), "build-linux", 42)
	require.NoError(t, err)
	require.False(t, vsm.HasError())
	assert.Equal(t, "build-linux", vsm.CurrentPipeline)
	require.Len(t, vsm.Levels, 2)

	node := vsm.Levels[1].Nodes[0]
	p, ok := node.Kind.(*assembler.PipelineNode)
	require.True(t, ok)
	assert.Equal(t, "/tab/pipeline/history/build-linux", p.Locator)
	assert.Equal(t, "/admin/pipelines/build-linux/edit", p.EditPath)
	require.Len(t, p.Instances, 1)
	assert.Equal(t, "/pipelines/value_stream_map/build-linux/42", p.Instances[0].Locator)
	assert.Equal(t, "/pipelines/build-linux/42/unit-tests/1", p.Instances[0].Stages[0].Locator)
}

func TestService_Validation(t *testing.T) {
	svc := newTestService(t, source.NewMemorySource(), false)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"blank pipeline", func() error { _, err := svc.PipelineVSM(ctx, " ", 1); return err }},
		{"zero counter", func() error { _, err := svc.PipelineVSM(ctx, "p", 0); return err }},
		{"negative counter", func() error { _, err := svc.PipelineVSM(ctx, "p", -3); return err }},
		{"blank fingerprint", func() error { _, err := svc.MaterialVSM(ctx, "", "r"); return err }},
		{"blank revision", func() error { _, err := svc.MaterialVSM(ctx, "fp", ""); return err }},
		{"colon in pipeline name", func() error { _, err := svc.PipelineVSM(ctx, "a:b", 1); return err }},
		{"colon in fingerprint", func() error { _, err := svc.MaterialVSM(ctx, "a:b", "c"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), ErrInvalidRequest)
		})
	}
}

func TestService_MaterialKeysDoNotCollide(t *testing.T) {
	src := source.NewMemorySource()
	src.Set(source.MaterialKey("a", "b:c"), &model.Graph{CurrentMaterial: "a"})
	svc := newTestService(t, src, true)
	ctx := context.Background()

	vsm, err := svc.MaterialVSM(ctx, "a", "b:c")
	require.NoError(t, err)
	assert.Equal(t, "a", vsm.CurrentMaterial)

	_, err = svc.MaterialVSM(ctx, "a:b", "c")
	assert.ErrorIs(t, err, ErrInvalidRequest, "would share the key of a/b:c")
	assert.Equal(t, 1, svc.CacheStats().Entries)
}

func TestService_UpstreamErrorsBecomeErrorMaps(t *testing.T) {
	src := source.NewMemorySource()
	denied := source.MaterialKey("fp", "r")
	src.SetError(denied, &source.UpstreamError{Key: denied, Err: source.ErrPermissionDenied})
	svc := newTestService(t, src, true)

	vsm, err := svc.PipelineVSM(context.Background(), "ghost", 7)
	assert.ErrorIs(t, err, source.ErrNotFound)
	require.NotNil(t, vsm)
	assert.Equal(t, "Pipeline 'ghost' with counter '7' not found!", vsm.Error)
	assert.Empty(t, vsm.Levels)

	vsm, err = svc.MaterialVSM(context.Background(), "fp", "r")
	assert.ErrorIs(t, err, source.ErrPermissionDenied)
	assert.Equal(t, "You do not have permission to view this value stream map", vsm.Error)

	assert.Equal(t, 0, svc.CacheStats().Entries, "errors are not cached")
}

func TestService_CachesMaps(t *testing.T) {
	src := source.NewMemorySource()
	key := source.MaterialKey("fp-git", "abc123")
	g := buildGraph()
	g.CurrentPipeline = ""
	g.CurrentMaterial = "fp-git"
	src.Set(key, g)
	svc := newTestService(t, src, true)
	ctx := context.Background()

	first, err := svc.MaterialVSM(ctx, "fp-git", "abc123")
	require.NoError(t, err)
	second, err := svc.MaterialVSM(ctx, "fp-git", "abc123")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int64(1), src.Calls())

	svc.HandleChanges([]source.Change{{Key: key, Op: fsnotify.Write}})
	_, err = svc.MaterialVSM(ctx, "fp-git", "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(2), src.Calls())

	assert.Equal(t, 1, svc.PurgeCache())
	assert.False(t, svc.Invalidate(key))
}

func TestService_WithoutCache(t *testing.T) {
	src := source.NewMemorySource()
	src.Set(source.PipelineKey("build-linux", 42), buildGraph())
	svc := newTestService(t, src, false)

	for i := 0; i < 2; i++ {
		_, err := svc.PipelineVSM(context.Background(), "build-linux", 42)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(2), src.Calls())
	assert.Equal(t, 0, svc.PurgeCache())
	assert.Equal(t, cache.Stats{}, svc.CacheStats())
}

func TestService_CustomLinks(t *testing.T) {
	src := source.NewMemorySource()
	src.Set(source.PipelineKey("build-linux", 42), buildGraph())
	links := assembler.NoLinks()
	svc, err := NewService(src, ServiceConfig{Links: &links})
	require.NoError(t, err)

	vsm, err := svc.PipelineVSM(context.Background(), "build-linux", 42)
	require.NoError(t, err)
	p := vsm.Levels[1].Nodes[0].Kind.(*assembler.PipelineNode)
	assert.Empty(t, p.EditPath)
	assert.Equal(t, "/tab/pipeline/history/build-linux", p.Locator)
	assert.Empty(t, p.Instances[0].Locator)
}

type downStore struct{ snapshot.Store }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }
func (downStore) Name() string               { return "redis" }

func TestService_Ready(t *testing.T) {
	svc := newTestService(t, source.NewMemorySource(), false)
	assert.NoError(t, svc.Ready(context.Background()))
	assert.Empty(t, svc.SnapshotBackend())

	svc, err := NewService(source.NewMemorySource(), ServiceConfig{Snapshots: downStore{}})
	require.NoError(t, err)
	err = svc.Ready(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
	assert.Equal(t, "redis", svc.SnapshotBackend())
}
