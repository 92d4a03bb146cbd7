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
	"errors"
	"testing"

	"github.com/vcon-dev/vcon-server/internal/registry"
	"github.com/vcon-dev/vcon-server/internal/vcon"
)

type memCache struct {
	docs map[string]*vcon.Document
}

func newMemCache() *memCache { return &memCache{docs: map[string]*vcon.Document{}} }

func (m *memCache) Get(ctx context.Context, uuid string) (*vcon.Document, error) {
	d, ok := m.docs[uuid]
	if !ok {
		return nil, errors.New("not found")
	}
	return d.Clone(), nil
}

func (m *memCache) Put(ctx context.Context, uuid string, doc *vcon.Document) error {
	m.docs[uuid] = doc.Clone()
	return nil
}

func TestTagStageSetsDefaultTag(t *testing.T) {
	c := newMemCache()
	uuid := "u1"
	c.docs[uuid] = &vcon.Document{UUID: uuid}

	stage := NewTagStage(c)
	got, err := stage.Run(context.Background(), uuid, "tag", registry.Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != uuid {
		t.Fatalf("Run() = %q, want unchanged uuid %q", got, uuid)
	}
	if v := vcon.Tags(c.docs[uuid])["processed"]; v != "true" {
		t.Errorf("tag processed = %q, want true", v)
	}
}

func TestTagStageHonorsOptions(t *testing.T) {
	c := newMemCache()
	uuid := "u2"
	c.docs[uuid] = &vcon.Document{UUID: uuid}

	stage := NewTagStage(c)
	_, err := stage.Run(context.Background(), uuid, "tag", registry.Options{"key": "stage", "value": "demo"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if v := vcon.Tags(c.docs[uuid])["stage"]; v != "demo" {
		t.Errorf("tag stage = %q, want demo", v)
	}
}

func TestTagStageLoadFailure(t *testing.T) {
	c := newMemCache()
	stage := NewTagStage(c)
	if _, err := stage.Run(context.Background(), "missing", "tag", registry.Options{}); err == nil {
		t.Fatalf("expected error loading a uuid absent from cache")
	}
}

func TestSamplerStageZeroRateFiltersEverything(t *testing.T) {
	s := NewSamplerStage()
	_, err := s.Run(context.Background(), "any-uuid", "sampler", registry.Options{})
	if !errors.Is(err, registry.ErrFiltered) {
		t.Fatalf("Run() err = %v, want ErrFiltered", err)
	}
}

func TestSamplerStageFullRatePassesEverything(t *testing.T) {
	s := NewSamplerStage()
	for _, uuid := range []string{"a", "b", "c", "d"} {
		got, err := s.Run(context.Background(), uuid, "sampler", registry.Options{"rate": 1.0})
		if err != nil {
			t.Fatalf("Run(%q): %v", uuid, err)
		}
		if got != uuid {
			t.Errorf("Run(%q) = %q, want unchanged", uuid, got)
		}
	}
}

func TestSamplerStageIsDeterministic(t *testing.T) {
	s := NewSamplerStage()
	opts := registry.Options{"rate": 0.5}
	first, err1 := s.Run(context.Background(), "stable-key", "sampler", opts)
	second, err2 := s.Run(context.Background(), "stable-key", "sampler", opts)
	if !errors.Is(err1, err2) && (err1 == nil) != (err2 == nil) {
		t.Fatalf("sampler gave inconsistent errors for the same key: %v vs %v", err1, err2)
	}
	if first != second {
		t.Errorf("sampler gave inconsistent uuids for the same key: %q vs %q", first, second)
	}
}

func TestFlakyStageAlwaysFailsRetryably(t *testing.T) {
	f := NewFlakyStage()
	_, err := f.Run(context.Background(), "any", "flaky", registry.Options{})
	if err == nil {
		t.Fatalf("expected FlakyStage to always fail")
	}
	var retryable Retryable
	if !errors.As(err, &retryable) {
		t.Fatalf("FlakyStage error should be classified as Retryable, got %T: %v", err, err)
	}
}
