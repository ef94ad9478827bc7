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
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gocd/gocd-sub047/services/vsm/model"
	"github.com/gocd/gocd-sub047/services/vsm/source"
)

// RedisStore is a Store on Redis. Keys are "{prefix}:vsm:{key}".
//
// Thread Safety: Safe for concurrent use.
type RedisStore struct {
	rdb       redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	owned     bool
	now       func() time.Time
}

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	// KeyPrefix namespaces every key. Default: "gocd".
	KeyPrefix string

	// TTL expires snapshots after this long. Zero keeps them forever.
	TTL time.Duration
}

// NewRedisStore wraps an existing client. Close does not close the client.
func NewRedisStore(rdb redis.UniversalClient, opts RedisOptions) *RedisStore {
	prefix := strings.TrimSuffix(opts.KeyPrefix, ":")
	if prefix == "" {
		prefix = "gocd"
	}
	return &RedisStore{rdb: rdb, keyPrefix: prefix, ttl: opts.TTL, now: time.Now}
}

// DialRedis connects to addr and returns a store that owns the client.
func DialRedis(ctx context.Context, addr, password string, db int, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	s := NewRedisStore(client, opts)
	s.owned = true
	return s, nil
}

func (s *RedisStore) key(key source.Key) string {
	return s.keyPrefix + ":vsm:" + key.String()
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key source.Key, g *model.Graph) error {
	data, err := encode(g, s.now())
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key source.Key) (*Snapshot, error) {
	data, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	return decode(data)
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key source.Key) error {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	return nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Name implements Store.
func (s *RedisStore) Name() string {
	return "redis"
}

// Close closes the client when the store created it.
func (s *RedisStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.rdb.Close()
}
