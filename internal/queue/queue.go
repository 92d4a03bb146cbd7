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

// Package queue is a thin, idempotent wrapper over Redis: atomic
// multi-queue pop, TTL-bounded JSON get/set, list/sorted-set/set
// operations, and pipelined fan-out. It is the Queue Client (C1).
package queue

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	redis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("queue: key not found")

// Client wraps a *redis.Client with the operations the pipeline needs. All
// operations retry transient connection failures with capped exponential
// backoff before surfacing a fatal error to the caller; JSON payload size is
// unbounded here, the caller enforces limits.
type Client struct {
	rdb        *redis.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	limiter    *rate.Limiter
}

// Options configures retry behavior and an optional client-side rate limit
// on outgoing Redis commands (useful under noisy-neighbor conditions).
type Options struct {
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	RatePerSec  float64 // 0 disables the limiter
	RateBurst   int
}

// DefaultOptions mirrors the ratelimiter demo's conservative defaults.
func DefaultOptions() Options {
	return Options{MaxRetries: 5, BaseDelay: 20 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// New constructs a Client from a Redis endpoint URL (e.g.
// "redis://127.0.0.1:6379/0").
func New(addr string, opts Options) (*Client, error) {
	parsed, err := redis.ParseURL(addr)
	if err != nil {
		// Accept bare host:port too, matching the ratelimiter demo's
		// NewGoRedisEvaler(addr) convenience.
		parsed = &redis.Options{Addr: addr}
	}
	return NewFromRedisOptions(parsed, opts), nil
}

// NewFromRedisOptions builds a Client around already-parsed redis.Options,
// useful for tests that need custom dial behavior.
func NewFromRedisOptions(opt *redis.Options, opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts = DefaultOptions()
	}
	c := &Client{
		rdb:        redis.NewClient(opt),
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
	}
	if opts.RatePerSec > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}
	return c
}

// Raw exposes the underlying client for callers that need Redis operations
// this wrapper doesn't enumerate. Kept deliberately narrow elsewhere.
func (c *Client) Raw() *redis.Client { return c.rdb }

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// withRetry runs op, retrying transient errors with capped exponential
// backoff plus jitter. A persistent failure (retries exhausted, or a
// context cancellation) is surfaced as-is to the caller.
func (c *Client) withRetry(ctx context.Context, op func() error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	var err error
	delay := c.baseDelay
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		if attempt == c.maxRetries {
			break
		}
		jitter := time.Duration(rand.Int63n(int64(delay) / 2 + 1))
		select {
		case <-time.After(delay + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
		if delay > c.maxDelay {
			delay = c.maxDelay
		}
	}
	return fmt.Errorf("queue: persistent failure after %d attempts: %w", c.maxRetries+1, err)
}

// isTransient treats every error as retryable except redis.Nil (key absent)
// and context errors — those are semantic outcomes, not infrastructure
// hiccups. Error replies from the server are retried as well.
func isTransient(err error) bool {
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// PushRight right-pushes a value onto a list queue. Producers push right,
// workers pop left, so FIFO order holds for single-producer pushes.
func (c *Client) PushRight(ctx context.Context, queue, value string) error {
	return c.withRetry(ctx, func() error { return c.rdb.RPush(ctx, queue, value).Err() })
}

// PushLeft left-pushes a value, used to re-enqueue an in-flight item at the
// head of its origin queue on graceful-shutdown reclaim.
func (c *Client) PushLeft(ctx context.Context, queue, value string) error {
	return c.withRetry(ctx, func() error { return c.rdb.LPush(ctx, queue, value).Err() })
}

// Pop is the result of a multi-queue blocking pop: which queue produced the
// value, and the value itself.
type Pop struct {
	Queue string
	Value string
}

// BlockingPop blocks up to timeout popping from the first non-empty queue
// among queues (left-to-right priority), returning nil on timeout. BLPOP's
// own semantics already give us "first non-empty queue in declared order."
func (c *Client) BlockingPop(ctx context.Context, queues []string, timeout time.Duration) (*Pop, error) {
	if len(queues) == 0 {
		return nil, nil
	}
	var res []string
	err := c.withRetry(ctx, func() error {
		r, err := c.rdb.BLPop(ctx, timeout, queues...).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil
			}
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(res) != 2 {
		return nil, nil // timeout
	}
	return &Pop{Queue: res[0], Value: res[1]}, nil
}

// Length returns the current list length of a queue (used for DLQ listing
// bounds and diagnostics).
func (c *Client) Length(ctx context.Context, queue string) (int64, error) {
	var n int64
	err := c.withRetry(ctx, func() error {
		var e error
		n, e = c.rdb.LLen(ctx, queue).Result()
		return e
	})
	return n, err
}

// SetJSON stores raw JSON at key with a TTL (0 means no expiry).
func (c *Client) SetJSON(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return c.withRetry(ctx, func() error { return c.rdb.Set(ctx, key, data, ttl).Err() })
}

// GetJSON returns the raw JSON at key, or ErrNotFound if absent.
func (c *Client) GetJSON(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := c.withRetry(ctx, func() error {
		b, e := c.rdb.Get(ctx, key).Bytes()
		if e != nil {
			if errors.Is(e, redis.Nil) {
				return nil
			}
			return e
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrNotFound
	}
	return data, nil
}

// Expire refreshes (or sets) a key's TTL, used when DLQ placement extends
// TTL to the DLQ retention value.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return c.withRetry(ctx, func() error { return c.rdb.Expire(ctx, key, ttl).Err() })
}

// Delete removes one or more keys. Absence of the key is not an error.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.withRetry(ctx, func() error { return c.rdb.Del(ctx, keys...).Err() })
}

// ZAdd conditionally inserts (or updates) a sorted-set member with the
// given score (epoch seconds for the vcons index).
func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.withRetry(ctx, func() error {
		return c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
	})
}

// ZRem removes a member from a sorted set.
func (c *Client) ZRem(ctx context.Context, key, member string) error {
	return c.withRetry(ctx, func() error { return c.rdb.ZRem(ctx, key, member).Err() })
}

// ZRangeByScore implements list_by_time (§6.2): ZRANGEBYSCORE on the vcons
// sorted set between two epoch-second bounds, inclusive.
func (c *Client) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	var out []string
	err := c.withRetry(ctx, func() error {
		r, e := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min: fmt.Sprintf("%v", min),
			Max: fmt.Sprintf("%v", max),
		}).Result()
		if e != nil {
			return e
		}
		out = r
		return nil
	})
	return out, err
}

// SetAdd adds a member to a set with an optional TTL applied to the whole
// key (used for party secondary indexes, whose TTL is independent of the
// document TTL).
func (c *Client) SetAdd(ctx context.Context, key, member string, ttl time.Duration) error {
	return c.withRetry(ctx, func() error {
		pipe := c.rdb.TxPipeline()
		pipe.SAdd(ctx, key, member)
		if ttl > 0 {
			pipe.Expire(ctx, key, ttl)
		}
		_, e := pipe.Exec(ctx)
		return e
	})
}

// SetRemove removes a member from a set. Used to evict stale party-index
// memberships on rebuild.
func (c *Client) SetRemove(ctx context.Context, key, member string) error {
	return c.withRetry(ctx, func() error { return c.rdb.SRem(ctx, key, member).Err() })
}

// SetIntersect returns the intersection of the given set keys (§6.2's
// search operation). An empty keys slice returns an empty result, not an
// error.
func (c *Client) SetIntersect(ctx context.Context, keys ...string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var out []string
	err := c.withRetry(ctx, func() error {
		r, e := c.rdb.SInter(ctx, keys...).Result()
		if e != nil {
			return e
		}
		out = r
		return nil
	})
	return out, err
}

// Scan performs a pattern-matching SCAN for maintenance tasks (e.g. finding
// stale index keys). Returns all matches; callers needing streaming should
// talk to Raw() directly.
func (c *Client) Scan(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	var cursor uint64
	err := c.withRetry(ctx, func() error {
		out = out[:0]
		cursor = 0
		for {
			keys, next, e := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
			if e != nil {
				return e
			}
			out = append(out, keys...)
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
	return out, err
}

// PipelineMove atomically removes value from source and right-pushes it
// onto dest, used by DLQ reprocess (move DLQ:<queue> -> <queue>) and DLQ
// purge. Worker graceful-shutdown reclaim uses PushLeft instead (it never
// had a source list entry to remove, since the item was already popped).
func (c *Client) PipelineMove(ctx context.Context, source, dest, value string) error {
	return c.withRetry(ctx, func() error {
		pipe := c.rdb.TxPipeline()
		pipe.LRem(ctx, source, 1, value)
		pipe.RPush(ctx, dest, value)
		_, e := pipe.Exec(ctx)
		return e
	})
}

// ListRange returns up to limit members of a list from the head, used by
// the DLQ Manager's bounded `list` operation.
func (c *Client) ListRange(ctx context.Context, queue string, limit int64) ([]string, error) {
	var out []string
	err := c.withRetry(ctx, func() error {
		r, e := c.rdb.LRange(ctx, queue, 0, limit-1).Result()
		if e != nil {
			return e
		}
		out = r
		return nil
	})
	return out, err
}

// Ping checks connectivity, used at startup and by health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.withRetry(ctx, func() error { return c.rdb.Ping(ctx).Err() })
}
