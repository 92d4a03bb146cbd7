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

// Package registry resolves symbolic stage names (configured in chains) to
// executable Link/Storage handles with merged option bags. It is the Stage
// Registry (C3).
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Options is the generic key-value option bag stages and storages receive,
// after merging chain-level overrides over the stage's published defaults.
type Options map[string]any

// Merge returns a new Options with over's keys overriding base's, a shallow
// key-wise merge per the Design Notes' option-merging rule.
func Merge(base, over Options) Options {
	out := make(Options, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// ErrFiltered is returned by a Link's Run to signal "halt the chain
// cleanly" (§4.3's nil-return contract expressed as a typed sentinel so the
// zero value of the returned UUID is never ambiguous with "no UUID").
var ErrFiltered = errors.New("registry: stage filtered")

// Link is the run contract for a processing stage (§4.3). Implementations
// return the UUID to continue the chain with (which may differ from the
// input, transferring processing to another vCon), ErrFiltered to halt
// cleanly with no failure, or any other error to fail the chain.
type Link interface {
	Run(ctx context.Context, uuid, stageName string, opts Options) (string, error)
}

// LinkFunc adapts a function to the Link interface.
type LinkFunc func(ctx context.Context, uuid, stageName string, opts Options) (string, error)

func (f LinkFunc) Run(ctx context.Context, uuid, stageName string, opts Options) (string, error) {
	return f(ctx, uuid, stageName, opts)
}

// Storage is the save/get/delete contract (§4.3). Get and Delete are
// optional; a storage that doesn't support them should return
// ErrUnsupported.
type Storage interface {
	Save(ctx context.Context, uuid string, opts Options) error
	Get(ctx context.Context, uuid string, opts Options) ([]byte, error)
	Delete(ctx context.Context, uuid string, opts Options) error
}

// ErrUnsupported marks an optional Storage operation the backend doesn't
// implement.
var ErrUnsupported = errors.New("registry: operation not supported by this storage")

// Source resolves a stage name to an executable when it is not already
// registered locally, standing in for the original's runtime package
// installation (§4.3, §9's "dynamically-loaded stages" design note). A
// statically-linked implementation only has two practical sources: the
// compiled-in builtin set, and an out-of-process RPC endpoint.
type Source interface {
	// ResolveLink/ResolveStorage attempt to produce a handle for name. ok is false if this
	// source has nothing for that name (not an error — the registry tries
	// the next source).
	ResolveLink(name string) (Link, bool, error)
	ResolveStorage(name string) (Storage, bool, error)
}

// Registry resolves stage/storage names lazily, caching resolved handles,
// and tracks permanently-unresolved names so callers can disable any chain
// that references one (§4.3, §4.7).
type Registry struct {
	mu       sync.Mutex
	sources  []Source
	links    map[string]Link
	storages map[string]Storage
	defaults map[string]Options
	failed   map[string]error
}

// New constructs a Registry over an ordered list of sources, tried in
// order on first reference to a name.
func New(sources ...Source) *Registry {
	return &Registry{
		sources:  sources,
		links:    map[string]Link{},
		storages: map[string]Storage{},
		defaults: map[string]Options{},
		failed:   map[string]error{},
	}
}

// SetDefaults registers the published default options for a stage or
// storage name, merged under chain-level overrides at invocation time.
func (r *Registry) SetDefaults(name string, opts Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[name] = opts
}

// DefaultsFor returns the published defaults for name, or an empty bag.
func (r *Registry) DefaultsFor(name string) Options {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.defaults[name]; ok {
		return o
	}
	return Options{}
}

// ResolveLink resolves (and caches) a Link by name, trying each source in
// order. A name that fails every source is marked permanently-unresolved:
// subsequent calls return the same error without retrying installation.
func (r *Registry) ResolveLink(name string) (Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.links[name]; ok {
		return l, nil
	}
	if err, ok := r.failed[name]; ok {
		return nil, err
	}
	for _, src := range r.sources {
		l, ok, err := src.ResolveLink(name)
		if err != nil {
			r.failed[name] = fmt.Errorf("registry: resolving link %q: %w", name, err)
			return nil, r.failed[name]
		}
		if ok {
			r.links[name] = l
			return l, nil
		}
	}
	r.failed[name] = fmt.Errorf("registry: no source could resolve link %q", name)
	return nil, r.failed[name]
}

// ResolveStorage resolves (and caches) a Storage by name, same semantics as
// ResolveLink.
func (r *Registry) ResolveStorage(name string) (Storage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.storages[name]; ok {
		return s, nil
	}
	key := "storage:" + name
	if err, ok := r.failed[key]; ok {
		return nil, err
	}
	for _, src := range r.sources {
		s, ok, err := src.ResolveStorage(name)
		if err != nil {
			r.failed[key] = fmt.Errorf("registry: resolving storage %q: %w", name, err)
			return nil, r.failed[key]
		}
		if ok {
			r.storages[name] = s
			return s, nil
		}
	}
	r.failed[key] = fmt.Errorf("registry: no source could resolve storage %q", name)
	return nil, r.failed[key]
}

// IsUnresolvable reports whether name has already been tried and
// permanently failed, without attempting resolution again. Used by the
// Config Loader to decide whether to demote a chain at load time.
func (r *Registry) IsUnresolvable(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.failed[name]
	return ok
}

// BuiltinSource is a Source backed by a fixed, compiled-in map, the
// "ship a fixed stage registry compiled in" half of the Design Notes'
// recommended strategy.
type BuiltinSource struct {
	Links    map[string]Link
	Storages map[string]Storage
}

func (b BuiltinSource) ResolveLink(name string) (Link, bool, error) {
	l, ok := b.Links[name]
	return l, ok, nil
}

func (b BuiltinSource) ResolveStorage(name string) (Storage, bool, error) {
	s, ok := b.Storages[name]
	return s, ok, nil
}
