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

package storages

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is a process-local, in-memory Backend. It exists for unit tests
// and demos that don't want a real database; production deployments supply
// their own SQL/object-store/vector-DB backend behind the same Backend
// interface.
type MemStore struct {
	name string
	mu   sync.RWMutex
	docs map[string][]byte

	// FailAlways, when set, makes SaveDoc always return an error — used to
	// exercise §8 scenario 4 (partial storage failure) in tests.
	FailAlways bool
}

func NewMemStore(name string) *MemStore {
	return &MemStore{name: name, docs: map[string][]byte{}}
}

func (m *MemStore) Name() string { return m.name }

func (m *MemStore) SaveDoc(ctx context.Context, uuid string, data []byte) error {
	if m.FailAlways {
		return fmt.Errorf("memstore %s: forced failure", m.name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), data...)
	m.docs[uuid] = cp
	return nil
}

func (m *MemStore) Get(ctx context.Context, uuid string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[uuid]
	if !ok {
		return nil, fmt.Errorf("memstore %s: %s not found", m.name, uuid)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemStore) Delete(ctx context.Context, uuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, uuid)
	return nil
}

// Contains reports whether uuid has been saved, for test assertions.
func (m *MemStore) Contains(uuid string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[uuid]
	return ok
}
