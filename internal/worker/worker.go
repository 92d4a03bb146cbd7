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

// Package worker runs the blocking-pop loop that feeds popped vCon UUIDs
// into their matching chains. It is the Worker Loop (C5).
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vcon-dev/vcon-server/internal/chain"
	"github.com/vcon-dev/vcon-server/internal/metrics"
	"github.com/vcon-dev/vcon-server/internal/queue"
)

// DefaultPopTimeout is the blocking-pop wait bound (§4.5), short enough that
// the worker notices a shutdown request promptly.
const DefaultPopTimeout = 5 * time.Second

// DefaultGracePeriod is how long Stop waits for an in-flight item to finish
// before reclaiming it back onto its origin queue (§4.5).
const DefaultGracePeriod = 60 * time.Second

// Worker pops vCon UUIDs off the union of its chains' ingress queues and
// runs each one through every enabled chain whose ingress set contains the
// queue it came from. Chains for the same popped UUID run serially within
// one worker (§4.5); parallelism, if any, comes from running multiple
// Workers (via the Supervisor).
type Worker struct {
	q       *queue.Client
	exec    *chain.Executor
	chains  []chain.Chain
	queues  []string // union of all enabled chains' ingress queues
	timeout time.Duration
	grace   time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32

	// inFlight tracks the queue+uuid currently being processed, so Stop can
	// reclaim it if the grace period elapses first.
	inFlightMu sync.Mutex
	inFlight   *queue.Pop
}

// New builds a Worker over the given chains. Chains with Enabled=false (the
// config loader marks demoted chains this way rather than omitting them) are
// ignored both for the polled queue set and for dispatch, so callers may pass
// the loader's full chain list.
func New(q *queue.Client, exec *chain.Executor, chains []chain.Chain, timeout, grace time.Duration) *Worker {
	if timeout <= 0 {
		timeout = DefaultPopTimeout
	}
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	seen := map[string]bool{}
	var queues []string
	for _, c := range chains {
		if !c.Enabled {
			continue
		}
		for _, q := range c.IngressQueues {
			if !seen[q] {
				seen[q] = true
				queues = append(queues, q)
			}
		}
	}
	return &Worker{
		q:        q,
		exec:     exec,
		chains:   chains,
		queues:   queues,
		timeout:  timeout,
		grace:    grace,
		stopChan: make(chan struct{}),
	}
}

// Queues returns the union of ingress queues this worker polls, for
// diagnostics and tests.
func (w *Worker) Queues() []string { return w.queues }

// Run blocks, popping and dispatching until ctx is done or Stop is called.
// It returns when the loop has fully exited (after any reclaim on shutdown).
func (w *Worker) Run(ctx context.Context) {
	w.wg.Add(1)
	defer w.wg.Done()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		if len(w.queues) == 0 {
			// Nothing to poll; idle rather than busy-loop.
			select {
			case <-time.After(w.timeout):
			case <-w.stopChan:
				return
			case <-ctx.Done():
				return
			}
			continue
		}

		popCtx, cancel := context.WithTimeout(ctx, w.timeout+time.Second)
		pop, err := w.q.BlockingPop(popCtx, w.queues, w.timeout)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Printf("[worker] pop error: %v\n", err)
			continue
		}
		if pop == nil {
			metrics.WorkerPopTimeouts.Inc()
			continue // timeout, no item
		}

		w.inFlightMu.Lock()
		w.inFlight = pop
		w.inFlightMu.Unlock()

		w.dispatch(ctx, pop)

		w.inFlightMu.Lock()
		w.inFlight = nil
		w.inFlightMu.Unlock()
	}
}

// dispatch runs pop.Value through every enabled chain whose ingress set
// contains pop.Queue, in chain-list order, serially.
func (w *Worker) dispatch(ctx context.Context, pop *queue.Pop) {
	for _, c := range w.chains {
		if !c.Enabled {
			continue
		}
		if !containsQueue(c.IngressQueues, pop.Queue) {
			continue
		}
		res := w.exec.Execute(ctx, c, pop.Value)
		if res.Outcome == chain.OutcomeFailed {
			fmt.Printf("[worker] chain=%s uuid=%s failed stage=%s class=%s err=%v\n",
				c.Name, pop.Value, res.FailedStage, res.FailureClass, res.Err)
		}
	}
}

// Stop requests the run loop to exit. If an item is mid-processing, Stop
// waits up to the grace period for Run to finish naturally before
// reclaiming the in-flight item back onto the head of its origin queue
// (§4.5's graceful-shutdown contract), so at-most-one-worker-per-item holds
// even across a restart.
func (w *Worker) Stop(ctx context.Context) {
	if !atomic.CompareAndSwapUint32(&w.stopped, 0, 1) {
		return
	}
	close(w.stopChan)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(w.grace):
	}

	w.inFlightMu.Lock()
	pop := w.inFlight
	w.inFlightMu.Unlock()
	if pop == nil {
		return
	}
	reclaimCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.q.PushLeft(reclaimCtx, pop.Queue, pop.Value); err != nil {
		fmt.Printf("[worker] reclaim failed queue=%s uuid=%s err=%v\n", pop.Queue, pop.Value, err)
	}
}

func containsQueue(queues []string, name string) bool {
	for _, q := range queues {
		if q == name {
			return true
		}
	}
	return false
}
