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

package worker

import (
	"context"
	"fmt"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/vcon-dev/vcon-server/internal/cache"
	"github.com/vcon-dev/vcon-server/internal/chain"
	"github.com/vcon-dev/vcon-server/internal/queue"
	"github.com/vcon-dev/vcon-server/internal/registry"
	"github.com/vcon-dev/vcon-server/internal/stages"
	"github.com/vcon-dev/vcon-server/internal/storages"
	"github.com/vcon-dev/vcon-server/internal/vcon"
)

func dialOrSkip(t *testing.T) *queue.Client {
	t.Helper()
	rc := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		t.Skipf("Skipping: Redis not reachable on 127.0.0.1:6379: %v", err)
	}
	_ = rc.Close()
	return queue.NewFromRedisOptions(&redis.Options{Addr: "127.0.0.1:6379"}, queue.DefaultOptions())
}

func TestWorkerDispatchesPoppedUUIDThroughChainToEgress(t *testing.T) {
	q := dialOrSkip(t)
	defer q.Close()
	ctx := context.Background()

	ingress := fmt.Sprintf("e2e-worker-ingress-%d", time.Now().UnixNano())
	egress := fmt.Sprintf("e2e-worker-egress-%d", time.Now().UnixNano())
	defer q.Delete(ctx, ingress, egress, "DLQ:"+ingress)

	c := cache.New(q, cache.DefaultTTLPolicy())
	mem := storages.NewMemStore("mem")

	uuid := fmt.Sprintf("e2e-worker-uuid-%d", time.Now().UnixNano())
	defer c.Delete(ctx, uuid, nil)
	doc := &vcon.Document{UUID: uuid, CreatedAt: time.Now()}
	if err := c.Put(ctx, uuid, doc); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	reg := registry.New(registry.BuiltinSource{
		Links:    map[string]registry.Link{"tag": stages.NewTagStage(c)},
		Storages: map[string]registry.Storage{"mem": storages.NewRegistryAdapter(mem, c)},
	})
	exec := chain.New(reg, q, time.Hour)

	chains := []chain.Chain{{
		Name:          "demo",
		Stages:        []chain.StageRef{{Name: "tag"}},
		Storages:      []chain.StorageRef{{Name: "mem"}},
		IngressQueues: []string{ingress},
		EgressQueues:  []string{egress},
		Enabled:       true,
	}}

	w := New(q, exec, chains, 500*time.Millisecond, 2*time.Second)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.Run(runCtx)

	if err := q.PushRight(ctx, ingress, uuid); err != nil {
		t.Fatalf("PushRight: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		items, err := q.ListRange(ctx, egress, 10)
		if err != nil {
			t.Fatalf("ListRange egress: %v", err)
		}
		if len(items) == 1 && items[0] == uuid {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("uuid never reached egress queue %s, got %v", egress, items)
		}
		time.Sleep(50 * time.Millisecond)
	}

	if !mem.Contains(uuid) {
		t.Errorf("expected memstore to contain %s after chain execution", uuid)
	}

	stopCtx, stopCancel := context.WithTimeout(ctx, time.Second)
	defer stopCancel()
	w.Stop(stopCtx)
}

func TestWorkerGracefulShutdownReclaimsInFlightItem(t *testing.T) {
	q := dialOrSkip(t)
	defer q.Close()
	ctx := context.Background()

	ingress := fmt.Sprintf("e2e-worker-reclaim-%d", time.Now().UnixNano())
	defer q.Delete(ctx, ingress, "DLQ:"+ingress)

	c := cache.New(q, cache.DefaultTTLPolicy())
	slow := registry.LinkFunc(func(ctx context.Context, uuid, name string, opts registry.Options) (string, error) {
		time.Sleep(3 * time.Second)
		return uuid, nil
	})
	reg := registry.New(registry.BuiltinSource{Links: map[string]registry.Link{"slow": slow}})
	exec := chain.New(reg, q, time.Hour)

	uuid := fmt.Sprintf("e2e-worker-reclaim-uuid-%d", time.Now().UnixNano())
	defer c.Delete(ctx, uuid, nil)

	chains := []chain.Chain{{
		Name:          "slowchain",
		Stages:        []chain.StageRef{{Name: "slow"}},
		IngressQueues: []string{ingress},
		StageTimeout:  10 * time.Second,
		Enabled:       true,
	}}

	w := New(q, exec, chains, 500*time.Millisecond, 500*time.Millisecond)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.Run(runCtx)

	if err := q.PushRight(ctx, ingress, uuid); err != nil {
		t.Fatalf("PushRight: %v", err)
	}
	time.Sleep(200 * time.Millisecond) // let the worker pop it and start the slow stage

	stopCtx, stopCancel := context.WithTimeout(ctx, 3*time.Second)
	defer stopCancel()
	w.Stop(stopCtx)

	items, err := q.ListRange(ctx, ingress, 10)
	if err != nil {
		t.Fatalf("ListRange: %v", err)
	}
	if len(items) != 1 || items[0] != uuid {
		t.Fatalf("reclaimed queue contents = %v, want [%s]", items, uuid)
	}
}
