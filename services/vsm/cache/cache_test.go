// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gocd/gocd-sub047/services/vsm/assembler"
	"github.com/gocd/gocd-sub047/services/vsm/source"
)

func buildOf(name string, calls *atomic.Int32) BuildFunc {
	return func(context.Context) (*assembler.ValueStreamMap, error) {
		calls.Add(1)
		return &assembler.ValueStreamMap{CurrentPipeline: name}, nil
	}
}

func TestGetOrBuild_CachesSuccess(t *testing.T) {
	c := New(DefaultOptions())
	key := source.PipelineKey("build", 1)
	var calls atomic.Int32

	vsm, cached, err := c.GetOrBuild(context.Background(), key, buildOf("build", &calls))
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "build", vsm.CurrentPipeline)

	again, cached, err := c.GetOrBuild(context.Background(), key, buildOf("other", &calls))
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Same(t, vsm, again)
	assert.Equal(t, int32(1), calls.Load())

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Builds)
}

func TestGetOrBuild_DoesNotCacheErrors(t *testing.T) {
	c := New(DefaultOptions())
	key := source.MaterialKey("fp", "r")
	boom := errors.New("upstream down")
	var calls atomic.Int32

	failing := func(context.Context) (*assembler.ValueStreamMap, error) {
		calls.Add(1)
		return &assembler.ValueStreamMap{Error: "unavailable"}, boom
	}

	vsm, _, err := c.GetOrBuild(context.Background(), key, failing)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, vsm)
	assert.Equal(t, "unavailable", vsm.Error)

	_, _, err = c.GetOrBuild(context.Background(), key, failing)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(2), c.Stats().Errors)
}

func TestGetOrBuild_DoesNotCacheErrorMaps(t *testing.T) {
	c := New(DefaultOptions())
	key := source.PipelineKey("x", 1)

	_, _, err := c.GetOrBuild(context.Background(), key, func(context.Context) (*assembler.ValueStreamMap, error) {
		return &assembler.ValueStreamMap{Error: "gone"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}

func TestGetOrBuild_SharesConcurrentBuilds(t *testing.T) {
	c := New(DefaultOptions())
	key := source.PipelineKey("slow", 1)
	var calls atomic.Int32
	release := make(chan struct{})

	build := func(context.Context) (*assembler.ValueStreamMap, error) {
		calls.Add(1)
		<-release
		return &assembler.ValueStreamMap{CurrentPipeline: "slow"}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]*assembler.ValueStreamMap, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vsm, _, err := c.GetOrBuild(context.Background(), key, build)
			assert.NoError(t, err)
			results[i] = vsm
		}(i)
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, vsm := range results {
		require.NotNil(t, vsm)
		assert.Equal(t, "slow", vsm.CurrentPipeline)
	}
}

func TestGetOrBuild_CanceledCallerDoesNotFailOthers(t *testing.T) {
	c := New(DefaultOptions())
	key := source.PipelineKey("slow", 2)
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	build := func(ctx context.Context) (*assembler.ValueStreamMap, error) {
		calls.Add(1)
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &assembler.ValueStreamMap{CurrentPipeline: "slow"}, nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := c.GetOrBuild(firstCtx, key, build)
		firstErr <- err
	}()
	<-started

	type result struct {
		vsm *assembler.ValueStreamMap
		err error
	}
	second := make(chan result, 1)
	go func() {
		vsm, _, err := c.GetOrBuild(context.Background(), key, build)
		second <- result{vsm, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, "slow", res.vsm.CurrentPipeline)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, c.Len(), "detached build still caches its result")
}

func TestGetOrBuild_BuildTimeout(t *testing.T) {
	c := New(Options{BuildTimeout: 20 * time.Millisecond})
	key := source.MaterialKey("fp", "stuck")

	_, _, err := c.GetOrBuild(context.Background(), key, func(ctx context.Context) (*assembler.ValueStreamMap, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, c.Len())
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(Options{MaxEntries: 2})
	var calls atomic.Int32
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		_, _, err := c.GetOrBuild(ctx, source.PipelineKey(name, 1), buildOf(name, &calls))
		require.NoError(t, err)
	}
	_, ok := c.Get(ctx, source.PipelineKey("a", 1))
	require.True(t, ok)

	_, _, err := c.GetOrBuild(ctx, source.PipelineKey("c", 1), buildOf("c", &calls))
	require.NoError(t, err)

	_, ok = c.Get(ctx, source.PipelineKey("b", 1))
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get(ctx, source.PipelineKey("a", 1))
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestCache_Expires(t *testing.T) {
	c := New(Options{MaxEntries: 10, TTL: 20 * time.Millisecond})
	var calls atomic.Int32
	key := source.PipelineKey("ttl", 1)

	_, _, err := c.GetOrBuild(context.Background(), key, buildOf("ttl", &calls))
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, ok := c.Get(context.Background(), key)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestCache_InvalidateAndPurge(t *testing.T) {
	c := New(DefaultOptions())
	var calls atomic.Int32
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		_, _, err := c.GetOrBuild(ctx, source.PipelineKey(name, 1), buildOf(name, &calls))
		require.NoError(t, err)
	}

	assert.True(t, c.Invalidate(source.PipelineKey("a", 1)))
	assert.False(t, c.Invalidate(source.PipelineKey("a", 1)))
	assert.Equal(t, 2, c.Len())

	assert.Equal(t, 2, c.Purge())
	assert.Equal(t, 0, c.Len())
}

func TestNew_DefaultsSize(t *testing.T) {
	c := New(Options{})
	assert.Equal(t, DefaultMaxEntries, c.Stats().MaxEntries)
}
