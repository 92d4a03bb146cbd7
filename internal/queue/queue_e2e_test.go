//go:build e2e

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

package queue

import (
	"context"
	"fmt"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

func dialOrSkip(t *testing.T) *Client {
	t.Helper()
	rc := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping: Redis not reachable on 127.0.0.1:6379: %v", err)
	}
	_ = rc.Close()
	return NewFromRedisOptions(&redis.Options{Addr: "127.0.0.1:6379"}, DefaultOptions())
}

func TestQueueBlockingPopE2E(t *testing.T) {
	c := dialOrSkip(t)
	defer c.Close()
	ctx := context.Background()
	q := fmt.Sprintf("e2e-queue-%d", time.Now().UnixNano())
	defer c.Delete(ctx, q)

	if err := c.PushRight(ctx, q, "val-1"); err != nil {
		t.Fatalf("PushRight: %v", err)
	}
	pop, err := c.BlockingPop(ctx, []string{q}, time.Second)
	if err != nil {
		t.Fatalf("BlockingPop: %v", err)
	}
	if pop == nil || pop.Queue != q || pop.Value != "val-1" {
		t.Fatalf("BlockingPop = %+v, want {%s val-1}", pop, q)
	}
}

func TestQueueBlockingPopTimesOutOnEmptyQueues(t *testing.T) {
	c := dialOrSkip(t)
	defer c.Close()
	ctx := context.Background()
	q := fmt.Sprintf("e2e-empty-%d", time.Now().UnixNano())

	pop, err := c.BlockingPop(ctx, []string{q}, 200*time.Millisecond)
	if err != nil {
		t.Fatalf("BlockingPop: %v", err)
	}
	if pop != nil {
		t.Fatalf("BlockingPop on empty queue = %+v, want nil", pop)
	}
}

func TestQueueBlockingPopPriorityOrder(t *testing.T) {
	c := dialOrSkip(t)
	defer c.Close()
	ctx := context.Background()
	qHi := fmt.Sprintf("e2e-hi-%d", time.Now().UnixNano())
	qLo := fmt.Sprintf("e2e-lo-%d", time.Now().UnixNano())
	defer c.Delete(ctx, qHi, qLo)

	if err := c.PushRight(ctx, qLo, "low-val"); err != nil {
		t.Fatalf("PushRight lo: %v", err)
	}
	if err := c.PushRight(ctx, qHi, "hi-val"); err != nil {
		t.Fatalf("PushRight hi: %v", err)
	}

	pop, err := c.BlockingPop(ctx, []string{qHi, qLo}, time.Second)
	if err != nil {
		t.Fatalf("BlockingPop: %v", err)
	}
	if pop == nil || pop.Queue != qHi || pop.Value != "hi-val" {
		t.Fatalf("BlockingPop = %+v, want the higher-priority queue's item first", pop)
	}
}

func TestQueueJSONRoundTripAndExpiry(t *testing.T) {
	c := dialOrSkip(t)
	defer c.Close()
	ctx := context.Background()
	key := fmt.Sprintf("e2e-json-%d", time.Now().UnixNano())
	defer c.Delete(ctx, key)

	payload := []byte(`{"hello":"world"}`)
	if err := c.SetJSON(ctx, key, payload, time.Minute); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	got, err := c.GetJSON(ctx, key)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("GetJSON = %s, want %s", got, payload)
	}

	if err := c.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.GetJSON(ctx, key); err != ErrNotFound {
		t.Fatalf("GetJSON after delete: err = %v, want ErrNotFound", err)
	}
}

func TestQueueSortedSetRangeByScore(t *testing.T) {
	c := dialOrSkip(t)
	defer c.Close()
	ctx := context.Background()
	key := fmt.Sprintf("e2e-zset-%d", time.Now().UnixNano())
	defer c.Delete(ctx, key)

	if err := c.ZAdd(ctx, key, 100, "early"); err != nil {
		t.Fatalf("ZAdd early: %v", err)
	}
	if err := c.ZAdd(ctx, key, 200, "late"); err != nil {
		t.Fatalf("ZAdd late: %v", err)
	}

	got, err := c.ZRangeByScore(ctx, key, 150, 300)
	if err != nil {
		t.Fatalf("ZRangeByScore: %v", err)
	}
	if len(got) != 1 || got[0] != "late" {
		t.Fatalf("ZRangeByScore(150,300) = %v, want [late]", got)
	}
}

func TestQueueSetIntersect(t *testing.T) {
	c := dialOrSkip(t)
	defer c.Close()
	ctx := context.Background()
	k1 := fmt.Sprintf("e2e-set1-%d", time.Now().UnixNano())
	k2 := fmt.Sprintf("e2e-set2-%d", time.Now().UnixNano())
	defer c.Delete(ctx, k1, k2)

	if err := c.SetAdd(ctx, k1, "uuid-shared", time.Minute); err != nil {
		t.Fatalf("SetAdd k1 shared: %v", err)
	}
	if err := c.SetAdd(ctx, k1, "uuid-only-1", time.Minute); err != nil {
		t.Fatalf("SetAdd k1 only-1: %v", err)
	}
	if err := c.SetAdd(ctx, k2, "uuid-shared", time.Minute); err != nil {
		t.Fatalf("SetAdd k2 shared: %v", err)
	}

	got, err := c.SetIntersect(ctx, k1, k2)
	if err != nil {
		t.Fatalf("SetIntersect: %v", err)
	}
	if len(got) != 1 || got[0] != "uuid-shared" {
		t.Fatalf("SetIntersect = %v, want [uuid-shared]", got)
	}
}

func TestQueuePipelineMove(t *testing.T) {
	c := dialOrSkip(t)
	defer c.Close()
	ctx := context.Background()
	src := fmt.Sprintf("e2e-src-%d", time.Now().UnixNano())
	dst := fmt.Sprintf("e2e-dst-%d", time.Now().UnixNano())
	defer c.Delete(ctx, src, dst)

	if err := c.PushRight(ctx, src, "moved-uuid"); err != nil {
		t.Fatalf("PushRight: %v", err)
	}
	if err := c.PipelineMove(ctx, src, dst, "moved-uuid"); err != nil {
		t.Fatalf("PipelineMove: %v", err)
	}

	srcLen, err := c.Length(ctx, src)
	if err != nil {
		t.Fatalf("Length src: %v", err)
	}
	if srcLen != 0 {
		t.Fatalf("source length after move = %d, want 0", srcLen)
	}
	items, err := c.ListRange(ctx, dst, 10)
	if err != nil {
		t.Fatalf("ListRange dst: %v", err)
	}
	if len(items) != 1 || items[0] != "moved-uuid" {
		t.Fatalf("dst contents = %v, want [moved-uuid]", items)
	}
}
