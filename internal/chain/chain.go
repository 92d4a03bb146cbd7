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

// Package chain runs one vCon through a chain: sequential stages with
// filter/halt semantics, parallel or sequential storage fan-out, per-stage
// timing, failure classification, and DLQ/egress placement. It is the
// Chain Executor (C4) — the heart of the design.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vcon-dev/vcon-server/internal/metrics"
	"github.com/vcon-dev/vcon-server/internal/queue"
	"github.com/vcon-dev/vcon-server/internal/registry"
	"github.com/vcon-dev/vcon-server/internal/stages"
)

// FanOutMode selects how storage fan-out is invoked (§4.4).
type FanOutMode int

const (
	FanOutParallel FanOutMode = iota
	FanOutSequential
)

// StageRef is one entry in a chain's stage list: a symbolic name plus
// chain-level option overrides (§3's stage reference).
type StageRef struct {
	Name    string
	Options registry.Options
}

// StorageRef is one entry in a chain's storage list.
type StorageRef struct {
	Name    string
	Options registry.Options
}

// Chain is a declarative pipeline (§3): name, stages, storages, ingress
// queues, egress queues, per-stage timeout, enabled flag.
type Chain struct {
	Name           string
	Stages         []StageRef
	Storages       []StorageRef
	IngressQueues  []string
	EgressQueues   []string
	StageTimeout   time.Duration // default 30s (§4.4)
	FanOut         FanOutMode
	Enabled        bool
}

// DefaultStageTimeout is §4.4's documented default.
const DefaultStageTimeout = 30 * time.Second

// Outcome classifies how execute() ended, for metrics and logging.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFiltered Outcome = "filtered"
	OutcomeFailed   Outcome = "failed"
)

// FailureClass distinguishes recoverable from permanent stage failures
// (§4.4, §7).
type FailureClass string

const (
	FailureNone      FailureClass = ""
	FailureRecover   FailureClass = "recoverable"
	FailurePermanent FailureClass = "permanent"
)

// Result is what execute() returns: the outcome, the final UUID (which may
// differ from the input if a stage transferred processing), and, on
// failure, the classification for DLQ bookkeeping.
type Result struct {
	Outcome      Outcome
	FinalUUID    string
	FailedStage  string
	FailureClass FailureClass
	Err          error
}

// queueClient is the narrow slice of *queue.Client the executor needs for
// egress and DLQ placement, kept as an interface so tests can exercise the
// executor's chain-level semantics without a real Redis.
type queueClient interface {
	PushRight(ctx context.Context, queue, value string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Executor runs chains against a Stage Registry, a Queue Client (for
// egress/DLQ placement), and a TTL extender for the DLQ-placement TTL bump
// (§3's "DLQ entries carry TTL extended to the DLQ retention value").
type Executor struct {
	registry *registry.Registry
	q        queueClient
	dlqTTL   time.Duration
}

// New constructs an Executor over a real Queue Client.
func New(reg *registry.Registry, q *queue.Client, dlqTTL time.Duration) *Executor {
	return &Executor{registry: reg, q: q, dlqTTL: dlqTTL}
}

// Execute runs one vCon through chain end to end: sequential stages, then
// (on a non-filtered, non-failed completion) storage fan-out, then egress
// or DLQ placement.
func (e *Executor) Execute(ctx context.Context, chain Chain, uuid string) Result {
	start := time.Now()
	defer func() {
		metrics.ChainDuration.WithLabelValues(chain.Name).Observe(time.Since(start).Seconds())
	}()

	current := uuid
	timeout := chain.StageTimeout
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}

	for _, ref := range chain.Stages {
		link, err := e.registry.ResolveLink(ref.Name)
		if err != nil {
			res := Result{Outcome: OutcomeFailed, FinalUUID: current, FailedStage: ref.Name, FailureClass: FailurePermanent, Err: err}
			e.onFailure(ctx, chain, res)
			return res
		}

		opts := registry.Merge(e.registry.DefaultsFor(ref.Name), ref.Options)

		stageStart := time.Now()
		next, err := e.runStage(ctx, link, current, ref.Name, opts, timeout)
		metrics.StageDuration.WithLabelValues(chain.Name, ref.Name).Observe(time.Since(stageStart).Seconds())

		if err != nil {
			if errors.Is(err, registry.ErrFiltered) {
				res := Result{Outcome: OutcomeFiltered, FinalUUID: current}
				metrics.ObserveOutcome(chain.Name, string(OutcomeFiltered))
				return res
			}
			res := Result{
				Outcome:      OutcomeFailed,
				FinalUUID:    current,
				FailedStage:  ref.Name,
				FailureClass: classify(err),
				Err:          err,
			}
			e.onFailure(ctx, chain, res)
			return res
		}
		current = next
	}

	// All stages ran. Storage fan-out.
	anySucceeded, allFailed := e.fanOut(ctx, chain, current, timeout)
	if !anySucceeded && len(chain.Storages) > 0 {
		res := Result{
			Outcome:      OutcomeFailed,
			FinalUUID:    current,
			FailureClass: FailureRecover,
			Err:          fmt.Errorf("chain: all %d storages failed for %s", len(chain.Storages), current),
		}
		_ = allFailed
		e.onFailure(ctx, chain, res)
		return res
	}

	// Success: egress.
	for _, q := range chain.EgressQueues {
		if err := e.q.PushRight(ctx, q, current); err != nil {
			fmt.Printf("[chain] egress push failed chain=%s queue=%s uuid=%s err=%v\n", chain.Name, q, current, err)
		}
	}
	metrics.ObserveOutcome(chain.Name, string(OutcomeSuccess))
	return Result{Outcome: OutcomeSuccess, FinalUUID: current}
}

// runStage invokes link under a per-stage time bound. A timeout that lands
// exactly at the bound is treated as failure (§8's boundary behavior).
func (e *Executor) runStage(ctx context.Context, link registry.Link, uuid, name string, opts registry.Options, timeout time.Duration) (string, error) {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		uuid string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		u, err := link.Run(stageCtx, uuid, name, opts)
		done <- result{uuid: u, err: err}
	}()

	select {
	case r := <-done:
		return r.uuid, r.err
	case <-stageCtx.Done():
		return "", fmt.Errorf("chain: stage %s timed out after %s: %w", name, timeout, stageCtx.Err())
	}
}

// fanOut dispatches a save to every configured storage, parallel or
// sequential per chain.FanOut. A storage failure does not cancel siblings
// (§4.4). Returns whether at least one succeeded and whether all failed.
func (e *Executor) fanOut(ctx context.Context, chain Chain, uuid string, timeout time.Duration) (anySucceeded, allFailed bool) {
	if len(chain.Storages) == 0 {
		return true, false
	}

	type outcome struct {
		name string
		err  error
	}
	outcomes := make([]outcome, len(chain.Storages))

	save := func(i int) {
		ref := chain.Storages[i]
		storage, err := e.registry.ResolveStorage(ref.Name)
		if err != nil {
			outcomes[i] = outcome{name: ref.Name, err: err}
			return
		}
		opts := registry.Merge(e.registry.DefaultsFor(ref.Name), ref.Options)
		storageCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		saveErr := storage.Save(storageCtx, uuid, opts)
		metrics.StorageDuration.WithLabelValues(chain.Name, ref.Name).Observe(time.Since(start).Seconds())
		outcomes[i] = outcome{name: ref.Name, err: saveErr}
	}

	if chain.FanOut == FanOutSequential {
		for i := range chain.Storages {
			save(i)
		}
	} else {
		var wg sync.WaitGroup
		wg.Add(len(chain.Storages))
		for i := range chain.Storages {
			i := i
			go func() {
				defer wg.Done()
				save(i)
			}()
		}
		wg.Wait()
	}

	allFailed = true
	for _, o := range outcomes {
		if o.err == nil {
			anySucceeded = true
			allFailed = false
		} else {
			fmt.Printf("[chain] storage save failed chain=%s storage=%s err=%v\n", chain.Name, o.name, o.err)
		}
	}
	return anySucceeded, allFailed
}

// onFailure places the current (post-stage-transfer) UUID on the chain's
// DLQ and extends its document TTL to the DLQ retention value, per §3 and
// §4.4. The DLQ name is DLQ:<first-ingress-queue-of-this-chain>.
func (e *Executor) onFailure(ctx context.Context, chain Chain, res Result) {
	metrics.ObserveOutcome(chain.Name, string(OutcomeFailed))
	if len(chain.IngressQueues) == 0 {
		fmt.Printf("[chain] cannot place %s on DLQ: chain %s has no ingress queues\n", res.FinalUUID, chain.Name)
		return
	}
	dlqName := "DLQ:" + chain.IngressQueues[0]
	if err := e.q.PushRight(ctx, dlqName, res.FinalUUID); err != nil {
		fmt.Printf("[chain] DLQ push failed chain=%s queue=%s uuid=%s err=%v\n", chain.Name, dlqName, res.FinalUUID, err)
		return
	}
	if e.dlqTTL > 0 {
		if err := e.q.Expire(ctx, "vcon:"+res.FinalUUID, e.dlqTTL); err != nil {
			fmt.Printf("[chain] DLQ TTL extend failed uuid=%s err=%v\n", res.FinalUUID, err)
		}
	}
}

// classify maps an error to a failure classification. A stages.Retryable
// error (or one wrapping it) is recoverable; everything else — malformed
// vCons, unresolvable references, "do not retry" signals — is permanent,
// per §7's taxonomy.
func classify(err error) FailureClass {
	var retryable stages.Retryable
	if errors.As(err, &retryable) {
		return FailureRecover
	}
	return FailurePermanent
}
