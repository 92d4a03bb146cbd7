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

// Package ingress makes the HTTP boundary's documented contract (§6.2)
// directly callable from Go, without pulling in an HTTP framework: submit,
// fetch, search, list_by_time, delete, and the API-key-gated
// external_submit. The HTTP surface itself stays out of scope (§1); this is
// the contract made callable for tests, tools, and any thin handler a
// caller wants to put in front of it.
package ingress

import (
	"context"
	"fmt"

	"github.com/vcon-dev/vcon-server/internal/auth"
	"github.com/vcon-dev/vcon-server/internal/cache"
	"github.com/vcon-dev/vcon-server/internal/dlq"
	"github.com/vcon-dev/vcon-server/internal/queue"
	"github.com/vcon-dev/vcon-server/internal/vcon"
)

// Service bundles the collaborators §6.2's operations are defined over.
type Service struct {
	Cache *cache.Cache
	Queue *queue.Client
	DLQ   *dlq.Manager
	Auth  *auth.Authenticator
}

// New constructs a Service.
func New(c *cache.Cache, q *queue.Client, d *dlq.Manager, a *auth.Authenticator) *Service {
	return &Service{Cache: c, Queue: q, DLQ: d, Auth: a}
}

// Submit writes doc through the cache and right-pushes uuid onto each named
// ingress queue, per §6.2's submit operation.
func (s *Service) Submit(ctx context.Context, uuid string, doc *vcon.Document, ingressQueues []string) error {
	if err := s.Cache.Put(ctx, uuid, doc); err != nil {
		return fmt.Errorf("ingress: submit %s: cache put: %w", uuid, err)
	}
	for _, q := range ingressQueues {
		if err := s.Queue.PushRight(ctx, q, uuid); err != nil {
			return fmt.Errorf("ingress: submit %s: push %s: %w", uuid, q, err)
		}
	}
	return nil
}

// Fetch is a pull-through read (§4.2, §6.2): cache.Get already implements
// the whole contract (cache hit, or probe-and-populate from storage).
func (s *Service) Fetch(ctx context.Context, uuid string) (*vcon.Document, error) {
	doc, err := s.Cache.Get(ctx, uuid)
	if err != nil {
		if err == cache.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("ingress: fetch %s: %w", uuid, err)
	}
	return doc, nil
}

// Search implements §6.2's search operation: set-intersection across the
// provided attribute filters. Any of tel/mailto/name may be empty.
func (s *Service) Search(ctx context.Context, tel, mailto, name string) ([]string, error) {
	return s.Cache.Search(ctx, tel, mailto, name)
}

// ListByTime implements §6.2's list_by_time: ZRANGEBYSCORE on the vcons
// sorted set between start and end (epoch seconds, inclusive).
func (s *Service) ListByTime(ctx context.Context, start, end int64) ([]string, error) {
	return s.Cache.ListByTime(ctx, start, end)
}

// Delete implements §6.2's delete: cache + secondary index removal,
// best-effort propagated to storage backends.
func (s *Service) Delete(ctx context.Context, uuid string, storages []cache.StorageDeleter) error {
	if err := s.Cache.Delete(ctx, uuid, storages); err != nil {
		return fmt.Errorf("ingress: delete %s: %w", uuid, err)
	}
	return nil
}

// DLQList, DLQReprocess, and DLQPurge expose the DLQ Manager's operations
// (§6.2) at the same call surface as the rest of ingress, so a caller
// building a thin HTTP layer has one package to depend on.
func (s *Service) DLQList(ctx context.Context, queueName string, limit int64) ([]string, error) {
	return s.DLQ.List(ctx, queueName, limit)
}

func (s *Service) DLQReprocess(ctx context.Context, queueName string) (int, error) {
	return s.DLQ.ReprocessAll(ctx, queueName)
}

func (s *Service) DLQPurge(ctx context.Context, queueName, uuid string) error {
	return s.DLQ.Purge(ctx, queueName, uuid)
}

// ErrUnauthorized is returned by ExternalSubmit when the presented key does
// not match the queue's configured keys (§7's authentication-failure
// classification: rejected at the boundary, no queueing occurs).
var ErrUnauthorized = fmt.Errorf("ingress: unauthorized")

// ExternalSubmit is Submit gated by the ingress authenticator (§6.2's
// external_submit): a request with an invalid or missing key for queue is
// rejected before anything is written or queued.
func (s *Service) ExternalSubmit(ctx context.Context, queueName, presentedKey, uuid string, doc *vcon.Document) error {
	if !s.Auth.Valid(queueName, presentedKey) {
		return ErrUnauthorized
	}
	return s.Submit(ctx, uuid, doc, []string{queueName})
}
