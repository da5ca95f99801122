// Package cache fronts the catalog for hot lookups. It is never
// authoritative: every entry is a serialized query result reconstructible
// from the catalog, invalidated by owner after each mutation.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/abrino/abrinostore/metrics"
)

const opTimeout = 2 * time.Second

// Cache wraps the shared redis instance for metadata listings.
type Cache struct {
	rdb           *redis.Client
	filesTTL      time.Duration
	categoriesTTL time.Duration
	log           *zap.SugaredLogger
}

// New builds a cache with the listing and category TTLs.
func New(rdb *redis.Client, filesTTL, categoriesTTL time.Duration, log *zap.SugaredLogger) *Cache {
	return &Cache{rdb: rdb, filesTTL: filesTTL, categoriesTTL: categoriesTTL, log: log}
}

// FilesKey is the query signature for a listing/search request.
func FilesKey(owner uint, category, search string, skip, limit int) string {
	if category == "" {
		category = "all"
	}
	if search == "" {
		search = "none"
	}
	return fmt.Sprintf("files:%d:%s:%s:%d:%d", owner, category, search, skip, limit)
}

// RecentKey is the query signature for a recent-files request.
func RecentKey(owner uint, n int) string {
	return fmt.Sprintf("files:%d:recent:%d", owner, n)
}

// CategoriesKey is the query signature for an owner's category list.
func CategoriesKey(owner uint) string {
	return fmt.Sprintf("categories:%d", owner)
}

// GetJSON loads a cached query result into v. Returns false on miss or any
// redis trouble; callers fall through to the catalog.
func (c *Cache) GetJSON(ctx context.Context, key string, v any) bool {
	if c == nil || c.rdb == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return false
	}
	if err := json.Unmarshal(b, v); err != nil {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return true
}

// SetFiles caches a listing/search/recent result.
func (c *Cache) SetFiles(ctx context.Context, key string, v any) {
	if c == nil || c.rdb == nil {
		return
	}
	c.setJSON(ctx, key, v, c.filesTTL)
}

// SetCategories caches a category list.
func (c *Cache) SetCategories(ctx context.Context, key string, v any) {
	if c == nil || c.rdb == nil {
		return
	}
	c.setJSON(ctx, key, v, c.categoriesTTL)
}

func (c *Cache) setJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	if c == nil || c.rdb == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := c.rdb.Set(ctx, key, b, ttl).Err(); err != nil && c.log != nil {
		c.log.Warnf("cache set failed key=%s err=%v", key, err)
	}
}

// InvalidateOwner drops every cached result scoped to an owner. Called after
// the catalog write it reflects, never before.
func (c *Cache) InvalidateOwner(ctx context.Context, owner uint) {
	if c == nil || c.rdb == nil {
		return
	}
	c.invalidateByPrefix(ctx, fmt.Sprintf("files:%d:", owner))
	ctx2, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	_ = c.rdb.Del(ctx2, CategoriesKey(owner)).Err()
}

// invalidateByPrefix deletes keys matching a prefix using SCAN with
// pipelined deletes, bounded so a huge keyspace cannot stall a mutation.
func (c *Cache) invalidateByPrefix(ctx context.Context, prefix string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var cursor uint64
	for i := 0; i < 10; i++ {
		keys, cur, err := c.rdb.Scan(ctx, cursor, prefix+"*", 1000).Result()
		if err != nil {
			if c.log != nil {
				c.log.Warnf("cache scan failed prefix=%s err=%v", prefix, err)
			}
			return
		}
		cursor = cur
		if len(keys) > 0 {
			pipe := c.rdb.Pipeline()
			for _, k := range keys {
				pipe.Del(ctx, k)
			}
			_, _ = pipe.Exec(ctx)
		}
		if cursor == 0 {
			return
		}
	}
}
