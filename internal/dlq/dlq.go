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

// Package dlq lists, reprocesses, and purges dead-letter entries. It is the
// DLQ Manager (C8).
package dlq

import (
	"context"
	"fmt"

	"github.com/vcon-dev/vcon-server/internal/metrics"
	"github.com/vcon-dev/vcon-server/internal/queue"
)

// Manager operates on the DLQ:<queue> list paired with each ingress queue.
type Manager struct {
	q *queue.Client
}

// New constructs a Manager.
func New(q *queue.Client) *Manager {
	return &Manager{q: q}
}

func dlqName(queueName string) string { return "DLQ:" + queueName }

// List returns up to limit UUIDs currently parked on queueName's DLQ, head
// first (oldest first, since entries are appended with RPush).
func (m *Manager) List(ctx context.Context, queueName string, limit int64) ([]string, error) {
	return m.q.ListRange(ctx, dlqName(queueName), limit)
}

// Depth returns the current DLQ length and records it as a gauge sample,
// used by periodic diagnostics.
func (m *Manager) Depth(ctx context.Context, queueName string) (int64, error) {
	n, err := m.q.Length(ctx, dlqName(queueName))
	if err != nil {
		return 0, err
	}
	metrics.DLQDepth.WithLabelValues(queueName).Set(float64(n))
	return n, nil
}

// Reprocess atomically moves one occurrence of uuid from DLQ:<queueName>
// back onto the tail of queueName, restoring it to normal processing. The
// document's TTL is not changed here: it stays at its DLQ-extended value
// until the next cache Put (for example a stage writing the document back)
// resets it to the document TTL. A cache Get does not touch the TTL.
func (m *Manager) Reprocess(ctx context.Context, queueName, uuid string) error {
	if err := m.q.PipelineMove(ctx, dlqName(queueName), queueName, uuid); err != nil {
		return fmt.Errorf("dlq: reprocess %s from %s: %w", uuid, queueName, err)
	}
	return nil
}

// ReprocessAll implements §4.8's `reprocess(queue) -> count`: move every
// UUID currently on DLQ:<queueName> back to the tail of queueName, and return
// how many were moved. Document TTLs are left as they are, as in Reprocess. It
// reads the DLQ's current length first and moves that many entries one at a
// time, so an item pushed onto the DLQ concurrently with this call (by a
// chain failing mid-reprocess) is left for a subsequent call rather than
// looped on indefinitely.
func (m *Manager) ReprocessAll(ctx context.Context, queueName string) (int, error) {
	src := dlqName(queueName)
	n, err := m.q.Length(ctx, src)
	if err != nil {
		return 0, fmt.Errorf("dlq: reprocess %s: length: %w", queueName, err)
	}
	moved := 0
	for i := int64(0); i < n; i++ {
		items, err := m.q.ListRange(ctx, src, 1)
		if err != nil {
			return moved, fmt.Errorf("dlq: reprocess %s: list: %w", queueName, err)
		}
		if len(items) == 0 {
			break // drained early by a concurrent purge/reprocess
		}
		if err := m.q.PipelineMove(ctx, src, queueName, items[0]); err != nil {
			return moved, fmt.Errorf("dlq: reprocess %s: move %s: %w", queueName, items[0], err)
		}
		moved++
	}
	return moved, nil
}

// Purge removes one occurrence of uuid from the DLQ without requeuing it,
// for operator-confirmed unrecoverable entries. It does not delete the
// cached document itself; callers that also want the document gone should
// call the cache's Delete separately.
func (m *Manager) Purge(ctx context.Context, queueName, uuid string) error {
	if err := m.q.PipelineMove(ctx, dlqName(queueName), devNullQueue, uuid); err != nil {
		return fmt.Errorf("dlq: purge %s from %s: %w", uuid, queueName, err)
	}
	return nil
}

// devNullQueue is a sink list purged entries land on instead of vanishing
// mid-pipeline; PipelineMove always needs a destination, and a real Redis
// LREM+discard would need a third primitive the Queue Client doesn't
// expose. Operators can TTL or periodically trim this list out of band.
const devNullQueue = "DLQ:_purged"
