// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache implements the pull-through vCon cache fronting the
// configured storage backends: TTL-bounded primary documents, a
// timestamp-indexed sorted set, and party-attribute secondary indexes. It
// is the vCon Cache (C2).
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vcon-dev/vcon-server/internal/queue"
	"github.com/vcon-dev/vcon-server/internal/vcon"
)

// StorageProbe is the narrow read side of the Storage contract (§4.3) the
// cache needs for pull-through: Get only. Storages that don't support Get
// should return registry.ErrUnsupported, which the cache treats as a miss
// from that backend and moves on to the next.
type StorageProbe interface {
	Name() string
	Get(ctx context.Context, uuid string) ([]byte, error)
}

// ErrNotFound is returned when the document is absent from the cache and
// from every configured storage backend.
var ErrNotFound = fmt.Errorf("cache: vcon not found")

// TTLPolicy holds the three independent expirations from §4.2.
type TTLPolicy struct {
	Document     int64 // seconds; default 3600
	SecondaryIdx int64 // seconds; default 86400
	DLQ          int64 // seconds; default 604800, 0 skips the DLQ TTL extension (the document keeps its cache TTL)
}

// DefaultTTLPolicy matches §4.2's stated defaults.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{Document: 3600, SecondaryIdx: 86400, DLQ: 604800}
}

const sortedSetKey = "vcons"

func vconKey(uuid string) string { return "vcon:" + uuid }
func telKey(digits string) string { return "tel:" + digits }
func mailtoKey(addr string) string { return "mailto:" + addr }
func nameKey(name string) string { return "name:" + name }

// Cache fronts zero or more storage backends with a Redis-resident primary
// cache and secondary indexes.
type Cache struct {
	q        *queue.Client
	storages []StorageProbe
	ttl      TTLPolicy

	mu sync.Mutex // serializes index-rebuild read-modify-write per process; Redis itself needs no lock
}

// New constructs a Cache. storages are probed in declared order on a miss,
// per §4.2's read contract.
func New(q *queue.Client, ttl TTLPolicy, storages ...StorageProbe) *Cache {
	return &Cache{q: q, storages: storages, ttl: ttl}
}

// Get implements the read contract of §4.2: return the cached document
// without touching TTL on a hit; on a miss, probe storages in order and
// populate the cache (document, sorted-set entry, secondary indexes) on the
// first hit.
func (c *Cache) Get(ctx context.Context, uuid string) (*vcon.Document, error) {
	data, err := c.q.GetJSON(ctx, vconKey(uuid))
	if err == nil {
		return vcon.Unmarshal(data)
	}
	if err != queue.ErrNotFound {
		return nil, fmt.Errorf("cache: get %s: %w", uuid, err)
	}

	for _, s := range c.storages {
		raw, serr := s.Get(ctx, uuid)
		if serr != nil {
			continue // this backend doesn't have it (or doesn't support Get); try the next
		}
		doc, perr := vcon.Unmarshal(raw)
		if perr != nil {
			continue
		}
		if err := c.populate(ctx, uuid, doc); err != nil {
			return nil, fmt.Errorf("cache: populate after pull-through from %s: %w", s.Name(), err)
		}
		return doc, nil
	}
	return nil, ErrNotFound
}

// Put implements the write contract of §4.2: store as JSON with cache TTL,
// upsert the sorted-set entry, and rebuild party secondary indexes for this
// UUID. Concurrent writers compose by last-writer-wins on the document.
func (c *Cache) Put(ctx context.Context, uuid string, doc *vcon.Document) error {
	return c.populate(ctx, uuid, doc)
}

// populate is the shared body of Put and the pull-through path in Get.
func (c *Cache) populate(ctx context.Context, uuid string, doc *vcon.Document) error {
	data, err := vcon.Marshal(doc)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", uuid, err)
	}
	if err := c.q.SetJSON(ctx, vconKey(uuid), data, secondsToDuration(c.ttl.Document)); err != nil {
		return fmt.Errorf("cache: set %s: %w", uuid, err)
	}
	if err := c.q.ZAdd(ctx, sortedSetKey, float64(doc.CreatedAt.Unix()), uuid); err != nil {
		return fmt.Errorf("cache: zadd %s: %w", uuid, err)
	}
	if err := c.rebuildPartyIndexes(ctx, uuid, doc); err != nil {
		return fmt.Errorf("cache: rebuild indexes for %s: %w", uuid, err)
	}
	return nil
}

// rebuildPartyIndexes removes stale memberships for this UUID and adds
// current ones, per §4.2's secondary-index policy. We serialize this
// read-modify-write per process with a mutex; cross-process races resolve
// by set-union (a stale entry from a concurrent writer's older document
// simply lingers until its own TTL or next rebuild removes it).
func (c *Cache) rebuildPartyIndexes(ctx context.Context, uuid string, doc *vcon.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	want := map[string]bool{}
	for _, p := range doc.Parties {
		if p.Tel != "" {
			want[telKey(vcon.NormalizeTel(p.Tel))] = true
		}
		if p.Mailto != "" {
			want[mailtoKey(vcon.NormalizeMailto(p.Mailto))] = true
		}
		if p.Name != "" {
			want[nameKey(vcon.NormalizeName(p.Name))] = true
		}
	}

	stale, err := c.currentIndexKeys(ctx, uuid)
	if err != nil {
		return err
	}
	for k := range stale {
		if !want[k] {
			if err := c.q.SetRemove(ctx, k, uuid); err != nil {
				return err
			}
		}
	}
	for k := range want {
		if err := c.q.SetAdd(ctx, k, uuid, secondsToDuration(c.ttl.SecondaryIdx)); err != nil {
			return err
		}
	}
	return nil
}

// currentIndexKeys scans for the small, bounded set of index key patterns
// this UUID might already belong to. Used only to clean stale memberships
// on rebuild, not on the hot read path.
func (c *Cache) currentIndexKeys(ctx context.Context, uuid string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, pattern := range []string{"tel:*", "mailto:*", "name:*"} {
		keys, err := c.q.Scan(ctx, pattern)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			members, err := c.q.SetIntersect(ctx, k)
			if err != nil {
				continue
			}
			for _, m := range members {
				if m == uuid {
					out[k] = true
				}
			}
		}
	}
	return out, nil
}

// Delete removes the primary key, sorted-set entry, and secondary-index
// memberships, then best-effort propagates delete to storage backends
// without blocking on their outcome.
func (c *Cache) Delete(ctx context.Context, uuid string, storages []StorageDeleter) error {
	if err := c.q.Delete(ctx, vconKey(uuid)); err != nil {
		return fmt.Errorf("cache: delete %s: %w", uuid, err)
	}
	if err := c.q.ZRem(ctx, sortedSetKey, uuid); err != nil {
		return fmt.Errorf("cache: zrem %s: %w", uuid, err)
	}
	stale, err := c.currentIndexKeys(ctx, uuid)
	if err == nil {
		for k := range stale {
			_ = c.q.SetRemove(ctx, k, uuid)
		}
	}
	for _, s := range storages {
		go func(s StorageDeleter) {
			if err := s.Delete(context.Background(), uuid); err != nil {
				fmt.Printf("[cache] best-effort storage delete failed uuid=%s storage=%s err=%v\n", uuid, s.Name(), err)
			}
		}(s)
	}
	return nil
}

// StorageDeleter is the narrow delete side of the Storage contract used by
// Delete's fire-and-forget propagation.
type StorageDeleter interface {
	Name() string
	Delete(ctx context.Context, uuid string) error
}

// Search implements §6.2's search operation: set-intersection across the
// provided attribute filters. Filters left empty are skipped; if every
// filter is empty, Search returns an empty result rather than the whole
// index (the contract is intersection of *provided* filters).
func (c *Cache) Search(ctx context.Context, tel, mailto, name string) ([]string, error) {
	var keys []string
	if tel != "" {
		keys = append(keys, telKey(vcon.NormalizeTel(tel)))
	}
	if mailto != "" {
		keys = append(keys, mailtoKey(vcon.NormalizeMailto(mailto)))
	}
	if name != "" {
		keys = append(keys, nameKey(vcon.NormalizeName(name)))
	}
	if len(keys) == 0 {
		return nil, nil
	}
	return c.q.SetIntersect(ctx, keys...)
}

// ListByTime implements §6.2's list_by_time: ZRANGEBYSCORE on the vcons
// sorted set.
func (c *Cache) ListByTime(ctx context.Context, start, end int64) ([]string, error) {
	return c.q.ZRangeByScore(ctx, sortedSetKey, float64(start), float64(end))
}

func secondsToDuration(s int64) time.Duration { return time.Duration(s) * time.Second }
