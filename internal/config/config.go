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

// Package config parses the declarative chains/stages/storages/queues
// document (§6.3) into a validated in-memory model. It is the Config
// Loader (C7), grounded on the OpenIM server's YAML-based config loading
// (pkg/common/config/parse.go: os.ReadFile + yaml.Unmarshal into a typed
// struct).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/vcon-dev/vcon-server/internal/chain"
	"github.com/vcon-dev/vcon-server/internal/registry"
	"gopkg.in/yaml.v3"
)

// StageDef / StorageDef are the raw YAML shapes for `stages:`/`storages:`
// entries: a name -> {module, options, optional package source}.
type StageDef struct {
	Module  string         `yaml:"module"`
	Options map[string]any `yaml:"options"`
	Source  string         `yaml:"source,omitempty"` // external RPC endpoint, if any
}

type ChainDef struct {
	Stages        []StageDefRef `yaml:"stages"`
	Storages      []StageDefRef `yaml:"storages"`
	IngressQueues []string      `yaml:"ingress_queues"`
	EgressQueues  []string      `yaml:"egress_queues"`
	TimeoutSec    int           `yaml:"timeout_seconds"`
	FanOut        string        `yaml:"fan_out"` // "parallel" (default) | "sequential"
	Enabled       bool          `yaml:"enabled"`
}

// StageDefRef is a reference to a named stage/storage plus per-chain option
// overrides, the YAML shape of §3's "stage reference".
type StageDefRef struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options"`
}

// Document is the top-level YAML shape (§6.3).
type Document struct {
	IngressAuth map[string][]string `yaml:"ingress_auth"`
	Stages      map[string]StageDef `yaml:"stages"`
	Storages    map[string]StageDef `yaml:"storages"`
	Chains      map[string]ChainDef `yaml:"chains"`
}

// Model is the validated, resolved in-memory configuration (§4.7).
type Model struct {
	Chains          []chain.Chain
	IngressAuth     map[string][]string
	QueuesByChain   map[string][]string // chain name -> ingress queues, for worker wiring
	DisabledReasons map[string]string   // chain name -> why it was demoted, if any
}

// Load reads and parses the YAML document at path, records its stage and
// storage defaults in reg, and validates each chain's references against
// the document's own stages/storages sections, demoting (not aborting on)
// chains with unregistered references, per §4.7. A chain with no ingress
// queues is a load error.
func Load(path string, reg *registry.Registry) (*Model, error) {
	doc, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return build(doc, reg)
}

// LoadBytes is Load without a filesystem dependency, used by tests.
func LoadBytes(data []byte, reg *registry.Registry) (*Model, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return build(doc, reg)
}

// ParseFile reads and unmarshals path into a raw Document, without
// validating it against a registry. Callers that need to inspect
// doc.Stages/doc.Storages' module names before the registry can be
// populated (e.g. cmd/vcon-worker wiring builtins by module name) use this
// instead of Load, then call BuildModel once the registry is ready.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals raw YAML bytes into a Document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &doc, nil
}

// BuildModel validates a pre-parsed Document (as Load describes, recording
// defaults in reg) and produces the in-memory Model, per §4.7. Load and
// LoadBytes are thin wrappers around
// Parse/ParseFile + BuildModel for callers that don't need the intermediate
// Document.
func BuildModel(doc *Document, reg *registry.Registry) (*Model, error) {
	return build(doc, reg)
}

func build(doc *Document, reg *registry.Registry) (*Model, error) {
	for name, def := range doc.Stages {
		reg.SetDefaults(name, registry.Options(def.Options))
	}
	for name, def := range doc.Storages {
		reg.SetDefaults(name, registry.Options(def.Options))
	}

	model := &Model{
		IngressAuth:     doc.IngressAuth,
		QueuesByChain:   map[string][]string{},
		DisabledReasons: map[string]string{},
	}

	for name, cd := range doc.Chains {
		if len(cd.IngressQueues) == 0 {
			return nil, fmt.Errorf("config: chain %q has no ingress queues (§4.7 requires at least one)", name)
		}

		c := chain.Chain{
			Name:          name,
			IngressQueues: cd.IngressQueues,
			EgressQueues:  cd.EgressQueues,
			Enabled:       cd.Enabled,
			FanOut:        fanOutFromString(cd.FanOut),
		}
		if cd.TimeoutSec > 0 {
			c.StageTimeout = time.Duration(cd.TimeoutSec) * time.Second
		}

		for _, s := range cd.Stages {
			if _, ok := doc.Stages[s.Name]; !ok {
				model.DisabledReasons[name] = fmt.Sprintf("references unregistered stage %q", s.Name)
				c.Enabled = false
			}
			c.Stages = append(c.Stages, chain.StageRef{Name: s.Name, Options: registry.Options(s.Options)})
		}
		for _, s := range cd.Storages {
			if _, ok := doc.Storages[s.Name]; !ok {
				model.DisabledReasons[name] = fmt.Sprintf("references unregistered storage %q", s.Name)
				c.Enabled = false
			}
			c.Storages = append(c.Storages, chain.StorageRef{Name: s.Name, Options: registry.Options(s.Options)})
		}

		if c.Enabled {
			model.QueuesByChain[name] = cd.IngressQueues
		}
		model.Chains = append(model.Chains, c)
	}

	return model, nil
}

// DemoteUnresolvable walks chains a second time, after stage/storage
// resolution has actually been attempted at least once, disabling any
// enabled chain one of whose stages turned out permanently unresolvable
// (package-install failure, per §4.3/§4.7). Storage references are not
// checked here. Call this after
// warming the registry (e.g. during worker startup) rather than at parse
// time, since resolution is lazy.
func DemoteUnresolvable(model *Model, reg *registry.Registry) {
	for i := range model.Chains {
		c := &model.Chains[i]
		if !c.Enabled {
			continue
		}
		for _, s := range c.Stages {
			if reg.IsUnresolvable(s.Name) {
				model.DisabledReasons[c.Name] = fmt.Sprintf("stage %q is permanently unresolvable", s.Name)
				c.Enabled = false
				delete(model.QueuesByChain, c.Name)
				fmt.Printf("[config] chain %s disabled: %s\n", c.Name, model.DisabledReasons[c.Name])
				break
			}
		}
	}
}

func fanOutFromString(s string) chain.FanOutMode {
	if s == "sequential" {
		return chain.FanOutSequential
	}
	return chain.FanOutParallel
}

