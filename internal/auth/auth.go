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

// Package auth validates per-queue API keys presented at the (out-of-scope)
// HTTP boundary. It is the External Ingress Authenticator (C9): given
// (queue, presented key), report whether the key matches any configured key
// for that queue. An unknown queue name is rejected regardless of key
// (§8's boundary behavior).
package auth

import (
	"crypto/subtle"
	"sync"
)

// Authenticator holds the queue -> {keys} map loaded from the config
// document's ingress_auth section (§6.3).
type Authenticator struct {
	mu   sync.RWMutex
	keys map[string][]string
}

// New builds an Authenticator from the config's ingress_auth map.
func New(ingressAuth map[string][]string) *Authenticator {
	a := &Authenticator{keys: map[string][]string{}}
	for queue, ks := range ingressAuth {
		a.keys[queue] = append([]string(nil), ks...)
	}
	return a
}

// Reload replaces the authenticator's key set wholesale, used when the
// config is hot-reloaded without restarting the worker process.
func (a *Authenticator) Reload(ingressAuth map[string][]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = map[string][]string{}
	for queue, ks := range ingressAuth {
		a.keys[queue] = append([]string(nil), ks...)
	}
}

// Valid reports whether presentedKey matches any configured key for queue.
// An unknown queue name always returns false, regardless of key (§8: a
// well-formed but nonexistent queue name must not leak whether any key
// would have worked).
func (a *Authenticator) Valid(queue, presentedKey string) bool {
	a.mu.RLock()
	configured, ok := a.keys[queue]
	a.mu.RUnlock()
	if !ok {
		return false
	}
	for _, k := range configured {
		if constantTimeEqual(k, presentedKey) {
			return true
		}
	}
	return false
}

// HasQueue reports whether queue has any configured keys at all, used by
// callers that want to distinguish "unknown queue" from "wrong key" in logs
// (never in the Valid decision itself, which must not leak that
// distinction to the caller).
func (a *Authenticator) HasQueue(queue string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.keys[queue]
	return ok
}

// constantTimeEqual compares two keys without leaking timing information
// about the length of the shared prefix.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
