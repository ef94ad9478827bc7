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
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocd/gocd-sub047/services/vsm/model"
	"github.com/gocd/gocd-sub047/services/vsm/source"
)

func testGraph(name string) *model.Graph {
	return &model.Graph{
		CurrentPipeline: name,
		Levels: []model.Level{{Nodes: []model.DependencyNode{
			{ID: name, Name: name, Type: model.NodeTypePipeline},
		}}},
	}
}

func newBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedisStore(client, RedisOptions{KeyPrefix: "test:", TTL: time.Hour}), mr
}

// storeContract runs the behavior every Store must share.
func storeContract(t *testing.T, s Store) {
	ctx := context.Background()
	key := source.PipelineKey("build", 3)

	_, err := s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, key, testGraph("build")))
	snap, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "build", snap.Graph.CurrentPipeline)
	assert.Equal(t, 1, snap.Graph.NodeCount())
	assert.False(t, snap.SavedAt.IsZero())

	require.NoError(t, s.Put(ctx, key, testGraph("replaced")))
	snap, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "replaced", snap.Graph.CurrentPipeline)

	_, err = s.Get(ctx, source.MaterialKey("build", "3"))
	assert.ErrorIs(t, err, ErrNotFound, "kinds do not collide")

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Get(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(ctx, key), "deleting a missing key is fine")

	assert.Error(t, s.Put(ctx, key, nil))
	assert.NoError(t, s.Ping(ctx))
}

func TestBadgerStore(t *testing.T) {
	s := newBadger(t)
	storeContract(t, s)
	assert.Equal(t, "badger", s.Name())
}

func TestBadgerStore_OnDisk(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultBadgerConfig(dir)
	cfg.GCInterval = 10 * time.Millisecond

	s, err := OpenBadger(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Put(context.Background(), source.MaterialKey("fp", "r1"), testGraph("m")))
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close(), "close is idempotent")

	reopened, err := OpenBadger(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	snap, err := reopened.Get(context.Background(), source.MaterialKey("fp", "r1"))
	require.NoError(t, err)
	assert.Equal(t, "m", snap.Graph.CurrentPipeline)
}

func TestOpenBadger_RequiresPath(t *testing.T) {
	_, err := OpenBadger(BadgerConfig{})
	assert.Error(t, err)
}

func TestBadgerStore_CanceledContext(t *testing.T) {
	s := newBadger(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.Put(ctx, source.PipelineKey("a", 1), testGraph("a")), context.Canceled)
	_, err := s.Get(ctx, source.PipelineKey("a", 1))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRedisStore(t *testing.T) {
	s, mr := newRedis(t)
	storeContract(t, s)
	assert.Equal(t, "redis", s.Name())

	require.NoError(t, s.Put(context.Background(), source.PipelineKey("build", 1), testGraph("build")))
	assert.True(t, mr.Exists("test:vsm:pipeline:build:1"))
	assert.Equal(t, time.Hour, mr.TTL("test:vsm:pipeline:build:1"))

	mr.FastForward(2 * time.Hour)
	_, err := s.Get(context.Background(), source.PipelineKey("build", 1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_DefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, RedisOptions{})
	require.NoError(t, s.Put(context.Background(), source.MaterialKey("fp", "r"), testGraph("m")))
	assert.True(t, mr.Exists("gocd:vsm:material:fp:r"))
	assert.NoError(t, s.Close(), "borrowed client stays open")
	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	s, err := DialRedis(context.Background(), mr.Addr(), "", 0, RedisOptions{})
	require.NoError(t, err)
	assert.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, s.Close())

	addr := mr.Addr()
	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = DialRedis(ctx, addr, "", 0, RedisOptions{})
	assert.Error(t, err)
}

func TestRedisStore_CorruptValue(t *testing.T) {
	s, mr := newRedis(t)
	require.NoError(t, mr.Set("test:vsm:pipeline:x:1", "{broken"))

	_, err := s.Get(context.Background(), source.PipelineKey("x", 1))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func unavailable(key source.Key) error {
	return &source.UpstreamError{Key: key, Err: source.ErrUpstreamUnavailable}
}

func TestFallbackSource_SavesAndServes(t *testing.T) {
	ctx := context.Background()
	key := source.PipelineKey("build", 5)
	upstream := source.NewMemorySource()
	upstream.Set(key, testGraph("build"))
	store := newBadger(t)

	f := NewFallbackSource(upstream, store)

	g, err := f.PipelineGraph(ctx, "build", 5)
	require.NoError(t, err)
	assert.Equal(t, "build", g.CurrentPipeline)

	upstream.SetError(key, unavailable(key))
	g, err = f.PipelineGraph(ctx, "build", 5)
	require.NoError(t, err, "served from snapshot")
	assert.Equal(t, "build", g.CurrentPipeline)
}

func TestFallbackSource_DoesNotMaskOtherErrors(t *testing.T) {
	ctx := context.Background()
	key := source.MaterialKey("fp", "r")
	upstream := source.NewMemorySource()
	upstream.Set(key, testGraph("m"))
	store, _ := newRedis(t)
	f := NewFallbackSource(upstream, store)

	_, err := f.MaterialGraph(ctx, "fp", "r")
	require.NoError(t, err)

	denied := &source.UpstreamError{Key: key, Err: source.ErrPermissionDenied}
	upstream.SetError(key, denied)
	_, err = f.MaterialGraph(ctx, "fp", "r")
	assert.ErrorIs(t, err, source.ErrPermissionDenied)

	_, err = f.MaterialGraph(ctx, "other", "r")
	assert.ErrorIs(t, err, source.ErrNotFound)
}

func TestFallbackSource_NoSnapshot(t *testing.T) {
	key := source.PipelineKey("never", 1)
	upstream := source.NewMemorySource()
	upstream.SetError(key, unavailable(key))
	f := NewFallbackSource(upstream, newBadger(t))

	_, err := f.PipelineGraph(context.Background(), "never", 1)
	assert.ErrorIs(t, err, source.ErrUpstreamUnavailable)
}

func TestFallbackSource_MaxAge(t *testing.T) {
	ctx := context.Background()
	key := source.PipelineKey("old", 1)
	upstream := source.NewMemorySource()
	upstream.Set(key, testGraph("old"))
	store := newBadger(t)

	f := NewFallbackSource(upstream, store, WithMaxAge(time.Minute))
	_, err := f.PipelineGraph(ctx, "old", 1)
	require.NoError(t, err)

	f.now = func() time.Time { return time.Now().Add(time.Hour) }
	upstream.SetError(key, unavailable(key))
	_, err = f.PipelineGraph(ctx, "old", 1)
	assert.ErrorIs(t, err, source.ErrUpstreamUnavailable)
}

type failingStore struct{ Store }

func (failingStore) Put(context.Context, source.Key, *model.Graph) error {
	return fmt.Errorf("disk full")
}

func (failingStore) Name() string { return "failing" }

func TestFallbackSource_PutFailureIsNotFatal(t *testing.T) {
	key := source.PipelineKey("a", 1)
	upstream := source.NewMemorySource()
	upstream.Set(key, testGraph("a"))

	f := NewFallbackSource(upstream, failingStore{})
	g, err := f.PipelineGraph(context.Background(), "a", 1)
	require.NoError(t, err)
	assert.Equal(t, "a", g.CurrentPipeline)
}
