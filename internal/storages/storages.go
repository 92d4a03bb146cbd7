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

// Package storages holds reference Storage-contract implementations
// (§4.3): a process-local map used in tests and as a quick pull-through
// source, and an append-only JSONL-per-UUID file backend grounded on the
// ratelimiter demo's buffered-JSONL sink.
package storages

import (
	"context"
	"fmt"

	"github.com/vcon-dev/vcon-server/internal/cache"
	"github.com/vcon-dev/vcon-server/internal/registry"
	"github.com/vcon-dev/vcon-server/internal/vcon"
)

// Backend is the shape every concrete storage in this package implements:
// the Storage contract's operations without the chain's option bag plus a
// Name for diagnostics and metrics labels. It satisfies both
// cache.StorageProbe and cache.StorageDeleter directly.
type Backend interface {
	Name() string
	SaveDoc(ctx context.Context, uuid string, data []byte) error
	Get(ctx context.Context, uuid string) ([]byte, error)
	Delete(ctx context.Context, uuid string) error
}

// adapter is constructed via NewRegistryAdapter to keep the registry.Storage
// view of a Backend out of call sites that only need the Backend itself.
type adapter struct {
	backend Backend
	cache   *cache.Cache
}

// NewRegistryAdapter builds the registry.Storage view of a Backend, reading
// the current document from c before persisting, per §4.3's save contract.
func NewRegistryAdapter(backend Backend, c *cache.Cache) registry.Storage {
	return &adapter{backend: backend, cache: c}
}

func (a *adapter) Save(ctx context.Context, uuid string, _ registry.Options) error {
	doc, err := a.cache.Get(ctx, uuid)
	if err != nil {
		return fmt.Errorf("storages: %s: load %s from cache: %w", a.backend.Name(), uuid, err)
	}
	data, err := vcon.Marshal(doc)
	if err != nil {
		return fmt.Errorf("storages: %s: marshal %s: %w", a.backend.Name(), uuid, err)
	}
	if err := a.backend.SaveDoc(ctx, uuid, data); err != nil {
		return fmt.Errorf("storages: %s: save %s: %w", a.backend.Name(), uuid, err)
	}
	return nil
}

func (a *adapter) Get(ctx context.Context, uuid string, _ registry.Options) ([]byte, error) {
	return a.backend.Get(ctx, uuid)
}

func (a *adapter) Delete(ctx context.Context, uuid string, _ registry.Options) error {
	return a.backend.Delete(ctx, uuid)
}
