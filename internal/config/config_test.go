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

package config

import (
	"testing"
	"time"

	"github.com/vcon-dev/vcon-server/internal/chain"
	"github.com/vcon-dev/vcon-server/internal/registry"
)

const validDoc = `
ingress_auth:
  q1: ["secret-1"]
stages:
  tag:
    module: tag
storages:
  mem:
    module: memstore
chains:
  demo:
    stages:
      - name: tag
    storages:
      - name: mem
    ingress_queues: ["q1"]
    egress_queues: ["eq1"]
    timeout_seconds: 30
    fan_out: parallel
    enabled: true
`

func TestLoadBytesValidDocument(t *testing.T) {
	reg := registry.New()
	model, err := LoadBytes([]byte(validDoc), reg)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if len(model.Chains) != 1 {
		t.Fatalf("expected 1 chain, got %d", len(model.Chains))
	}
	c := model.Chains[0]
	if !c.Enabled {
		t.Errorf("chain demo should be enabled")
	}
	if c.StageTimeout != 30*time.Second {
		t.Errorf("StageTimeout = %v, want 30s", c.StageTimeout)
	}
	if c.FanOut != chain.FanOutParallel {
		t.Errorf("FanOut = %v, want parallel", c.FanOut)
	}
	if got, want := model.IngressAuth["q1"], []string{"secret-1"}; len(got) != 1 || got[0] != want[0] {
		t.Errorf("IngressAuth[q1] = %v, want %v", got, want)
	}
	if _, ok := model.QueuesByChain["demo"]; !ok {
		t.Errorf("expected demo in QueuesByChain")
	}
}

func TestChainWithoutIngressQueueIsRejected(t *testing.T) {
	doc := `
stages:
  tag:
    module: tag
chains:
  demo:
    stages: [{name: tag}]
    ingress_queues: []
    enabled: true
`
	reg := registry.New()
	if _, err := LoadBytes([]byte(doc), reg); err == nil {
		t.Fatalf("expected error for chain with no ingress queues")
	}
}

func TestChainReferencingUnregisteredStageIsDemoted(t *testing.T) {
	doc := `
stages:
  tag:
    module: tag
chains:
  demo:
    stages:
      - name: tag
      - name: nonexistent
    ingress_queues: ["q1"]
    enabled: true
`
	reg := registry.New()
	model, err := LoadBytes([]byte(doc), reg)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	c := model.Chains[0]
	if c.Enabled {
		t.Fatalf("chain referencing an unregistered stage should be demoted to disabled")
	}
	if _, ok := model.DisabledReasons["demo"]; !ok {
		t.Errorf("expected a DisabledReasons entry for demo")
	}
	if _, ok := model.QueuesByChain["demo"]; ok {
		t.Errorf("disabled chain should not appear in QueuesByChain")
	}
}

func TestSequentialFanOutParsed(t *testing.T) {
	doc := `
stages:
  tag:
    module: tag
chains:
  demo:
    stages: [{name: tag}]
    ingress_queues: ["q1"]
    fan_out: sequential
    enabled: true
`
	reg := registry.New()
	model, err := LoadBytes([]byte(doc), reg)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if model.Chains[0].FanOut != chain.FanOutSequential {
		t.Errorf("FanOut = %v, want sequential", model.Chains[0].FanOut)
	}
}

func TestDemoteUnresolvableDisablesChainAfterResolutionFails(t *testing.T) {
	doc := `
stages:
  ghost:
    module: ghost
chains:
  demo:
    stages: [{name: ghost}]
    ingress_queues: ["q1"]
    enabled: true
`
	reg := registry.New() // no sources: every resolution fails
	model, err := LoadBytes([]byte(doc), reg)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if !model.Chains[0].Enabled {
		t.Fatalf("chain should still be enabled before resolution is attempted")
	}

	if _, err := reg.ResolveLink("ghost"); err == nil {
		t.Fatalf("expected resolution of ghost to fail with no sources")
	}

	DemoteUnresolvable(model, reg)
	if model.Chains[0].Enabled {
		t.Errorf("chain should be demoted after its stage proved permanently unresolvable")
	}
}
