// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache holds assembled value stream maps in a size and age bounded
// LRU so repeated views of the same run skip the upstream fetch.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/gocd/gocd-sub047/services/vsm/assembler"
	"github.com/gocd/gocd-sub047/services/vsm/source"
	"github.com/gocd/gocd-sub047/services/vsm/telemetry"
)

// Default configuration values.
const (
	// DefaultMaxEntries is the default maximum number of cached maps.
	DefaultMaxEntries = 512

	// DefaultTTL is the default lifetime of a cached map.
	DefaultTTL = 30 * time.Second

	// DefaultBuildTimeout bounds a shared build once it no longer follows
	// any caller's cancellation.
	DefaultBuildTimeout = time.Minute
)

// BuildFunc produces the map for a key on a cache miss.
//
// A non-nil error is returned to every waiting caller and nothing is cached.
// ctx keeps the first caller's values but not its cancellation.
type BuildFunc func(ctx context.Context) (*assembler.ValueStreamMap, error)

// Options configures a Cache.
type Options struct {
	// MaxEntries bounds the number of cached maps. Default: DefaultMaxEntries.
	MaxEntries int

	// TTL is how long a map stays valid. Zero or negative disables expiry.
	TTL time.Duration

	// BuildTimeout bounds each build. Default: DefaultBuildTimeout.
	BuildTimeout time.Duration

	// Metrics receives hit and miss counts. Nil disables recording.
	Metrics *telemetry.Metrics
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{MaxEntries: DefaultMaxEntries, TTL: DefaultTTL}
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	Entries    int           `json:"entries"`
	Hits       int64         `json:"hits"`
	Misses     int64         `json:"misses"`
	Builds     int64         `json:"builds"`
	Errors     int64         `json:"errors"`
	Evictions  int64         `json:"evictions"`
	MaxEntries int           `json:"max_entries"`
	TTL        time.Duration `json:"ttl"`
}

// Cache is an expiring LRU of assembled maps keyed by source.Key.
//
// Concurrent misses for the same key share one build.
//
// Thread Safety:
//
//	Cache is safe for concurrent use. Cached maps are shared between
//	callers and must be treated as read-only.
type Cache struct {
	lru     *expirable.LRU[string, *assembler.ValueStreamMap]
	flight  singleflight.Group
	options Options

	hits      atomic.Int64
	misses    atomic.Int64
	builds    atomic.Int64
	errors    atomic.Int64
	evictions atomic.Int64
}

// New creates a Cache.
func New(opts Options) *Cache {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.BuildTimeout <= 0 {
		opts.BuildTimeout = DefaultBuildTimeout
	}
	c := &Cache{options: opts}
	c.lru = expirable.NewLRU[string, *assembler.ValueStreamMap](opts.MaxEntries, c.onEvict, opts.TTL)
	return c
}

// onEvict counts every removal, including explicit invalidation.
func (c *Cache) onEvict(string, *assembler.ValueStreamMap) {
	c.evictions.Add(1)
}

// Get returns the cached map for key.
func (c *Cache) Get(ctx context.Context, key source.Key) (*assembler.ValueStreamMap, bool) {
	vsm, ok := c.lru.Get(key.String())
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	c.options.Metrics.RecordCacheLookup(ctx, ok)
	return vsm, ok
}

// GetOrBuild returns the cached map for key or builds and caches it.
//
// Description:
//
//	On a miss, build runs once per key no matter how many callers are
//	waiting. It runs detached from the callers' cancellation, bounded by
//	BuildTimeout, so one caller going away does not fail the others. Each
//	caller stops waiting when its own ctx is done. Successful maps that
//	carry no error message are cached. Error-only maps and errors are
//	returned but not cached.
//
// Inputs:
//
//	ctx - Caller context. Its values reach build; its deadline only ends the wait.
//	key - Cache key.
//	build - Produces the map on a miss.
//
// Outputs:
//
//	*assembler.ValueStreamMap - The map, possibly shared with other callers.
//	bool - True if the map came from the cache.
//	error - The build error, or ctx.Err() if the caller gave up first.
func (c *Cache) GetOrBuild(ctx context.Context, key source.Key, build BuildFunc) (*assembler.ValueStreamMap, bool, error) {
	if vsm, ok := c.Get(ctx, key); ok {
		return vsm, true, nil
	}

	k := key.String()
	ch := c.flight.DoChan(k, func() (interface{}, error) {
		if vsm, ok := c.lru.Peek(k); ok {
			return vsm, nil
		}
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.options.BuildTimeout)
		defer cancel()

		vsm, err := build(bctx)
		if err != nil {
			c.errors.Add(1)
			return vsm, err
		}
		c.builds.Add(1)
		if !vsm.HasError() {
			c.lru.Add(k, vsm)
		}
		return vsm, nil
	})

	select {
	case res := <-ch:
		vsm, _ := res.Val.(*assembler.ValueStreamMap)
		return vsm, false, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Invalidate drops the cached map for key. Reports whether one existed.
func (c *Cache) Invalidate(key source.Key) bool {
	return c.lru.Remove(key.String())
}

// Purge drops every cached map and returns how many were dropped.
func (c *Cache) Purge() int {
	n := c.lru.Len()
	c.lru.Purge()
	return n
}

// Len returns the number of cached maps, including expired ones not yet
// collected.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:    c.lru.Len(),
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Builds:     c.builds.Load(),
		Errors:     c.errors.Load(),
		Evictions:  c.evictions.Load(),
		MaxEntries: c.options.MaxEntries,
		TTL:        c.options.TTL,
	}
}
