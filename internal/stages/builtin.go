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

package stages

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/vcon-dev/vcon-server/internal/cache"
	"github.com/vcon-dev/vcon-server/internal/registry"
	"github.com/vcon-dev/vcon-server/internal/vcon"
)

// CacheReader/CacheWriter are the narrow slice of *cache.Cache the builtin
// stages need, kept as interfaces so stage tests don't need a real Redis.
type CacheReader interface {
	Get(ctx context.Context, uuid string) (*vcon.Document, error)
}

type CacheWriter interface {
	CacheReader
	Put(ctx context.Context, uuid string, doc *vcon.Document) error
}

// TagStage appends "name:value" (read from options, defaulting to
// "processed:true") to the vCon's tags attachment and writes it back. It is
// the happy-path stage used in §8 scenario 1.
type TagStage struct {
	Cache CacheWriter
}

func NewTagStage(c CacheWriter) *TagStage { return &TagStage{Cache: c} }

func (t *TagStage) Run(ctx context.Context, uuid, stageName string, opts registry.Options) (string, error) {
	doc, err := t.Cache.Get(ctx, uuid)
	if err != nil {
		return "", fmt.Errorf("tag: load %s: %w", uuid, err)
	}
	key, _ := opts["key"].(string)
	if key == "" {
		key = "processed"
	}
	value, _ := opts["value"].(string)
	if value == "" {
		value = "true"
	}
	vcon.SetTag(doc, key, value)
	if err := t.Cache.Put(ctx, uuid, doc); err != nil {
		return "", fmt.Errorf("tag: save %s: %w", uuid, err)
	}
	return uuid, nil
}

// SamplerStage deterministically filters a fraction of vCons by key hash,
// the same FNV-1a deterministic-sampling technique the churn telemetry
// module uses to decide per-key inclusion. rate=0 (the zero value) filters
// everything, matching the "always nil" sampler used in §8 scenario 2.
type SamplerStage struct{}

func NewSamplerStage() *SamplerStage { return &SamplerStage{} }

func (s *SamplerStage) Run(ctx context.Context, uuid, stageName string, opts registry.Options) (string, error) {
	rate, _ := opts["rate"].(float64)
	if rate <= 0 {
		return "", registry.ErrFiltered
	}
	if rate >= 1 {
		return uuid, nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(uuid))
	threshold := uint64(rate * float64(^uint64(0)))
	if h.Sum64() <= threshold {
		return uuid, nil
	}
	return "", registry.ErrFiltered
}

// FlakyStage always fails, classified as a recoverable transient error. It
// exists to exercise §8 scenario 3 (stage failure -> DLQ) in tests without
// depending on real network flakiness.
type FlakyStage struct{}

func NewFlakyStage() *FlakyStage { return &FlakyStage{} }

// Retryable marks errors the executor should classify as recoverable
// (§4.4, §7's transient-vs-permanent taxonomy) rather than permanent.
type Retryable struct{ Err error }

func (r Retryable) Error() string { return r.Err.Error() }
func (r Retryable) Unwrap() error { return r.Err }

func (f *FlakyStage) Run(ctx context.Context, uuid, stageName string, opts registry.Options) (string, error) {
	return "", Retryable{Err: fmt.Errorf("flaky: stage %s always fails", stageName)}
}
