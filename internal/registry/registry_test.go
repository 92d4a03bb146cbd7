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

package registry

import (
	"context"
	"testing"
)

func TestMerge(t *testing.T) {
	base := Options{"a": 1, "b": 2}
	over := Options{"b": 3, "c": 4}
	got := Merge(base, over)
	want := Options{"a": 1, "b": 3, "c": 4}
	if len(got) != len(want) {
		t.Fatalf("Merge() = %+v, want %+v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Merge()[%q] = %v, want %v", k, got[k], v)
		}
	}
	// base/over must not be mutated.
	if len(base) != 2 || len(over) != 2 {
		t.Errorf("Merge mutated an input map")
	}
}

func TestRegistryResolveLinkCachesAndFails(t *testing.T) {
	calls := 0
	link := LinkFunc(func(ctx context.Context, uuid, stageName string, opts Options) (string, error) {
		return uuid, nil
	})
	src := countingSource{onLink: func(name string) (Link, bool, error) {
		calls++
		if name == "known" {
			return link, true, nil
		}
		return nil, false, nil
	}}

	r := New(src)

	got, err := r.ResolveLink("known")
	if err != nil || got == nil {
		t.Fatalf("ResolveLink(known) = %v, %v", got, err)
	}
	if _, err := r.ResolveLink("known"); err != nil {
		t.Fatalf("second ResolveLink(known): %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected source queried once (cached after), got %d calls", calls)
	}

	if _, err := r.ResolveLink("missing"); err == nil {
		t.Fatalf("ResolveLink(missing) should fail")
	}
	if !r.IsUnresolvable("missing") {
		t.Fatalf("IsUnresolvable(missing) = false, want true after a failed resolution")
	}
	// Second attempt must not re-query the source (permanently unresolved).
	if _, err := r.ResolveLink("missing"); err == nil {
		t.Fatalf("ResolveLink(missing) should still fail on retry")
	}
	if calls != 2 {
		t.Fatalf("expected no source query on retry of a failed name, got %d calls", calls)
	}
}

func TestDefaultsForUnknownNameIsEmpty(t *testing.T) {
	r := New()
	got := r.DefaultsFor("nope")
	if len(got) != 0 {
		t.Fatalf("DefaultsFor(unknown) = %+v, want empty", got)
	}
}

func TestBuiltinSourceResolveStorageMiss(t *testing.T) {
	b := BuiltinSource{Storages: map[string]Storage{}}
	_, ok, err := b.ResolveStorage("nope")
	if ok || err != nil {
		t.Fatalf("ResolveStorage(nope) = %v, %v, want false, nil", ok, err)
	}
}

type countingSource struct {
	onLink func(name string) (Link, bool, error)
}

func (c countingSource) ResolveLink(name string) (Link, bool, error) { return c.onLink(name) }
func (c countingSource) ResolveStorage(name string) (Storage, bool, error) {
	return nil, false, nil
}
