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

// Package main is the process entry point for the vCon worker fleet: load
// the declarative chain configuration, resolve its stages and storages
// against the builtin registry, spin up N supervised workers, and block
// until a termination signal asks them to wind down gracefully.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vcon-dev/vcon-server/internal/cache"
	"github.com/vcon-dev/vcon-server/internal/chain"
	"github.com/vcon-dev/vcon-server/internal/config"
	"github.com/vcon-dev/vcon-server/internal/metrics"
	"github.com/vcon-dev/vcon-server/internal/queue"
	"github.com/vcon-dev/vcon-server/internal/registry"
	"github.com/vcon-dev/vcon-server/internal/stages"
	"github.com/vcon-dev/vcon-server/internal/storages"
	"github.com/vcon-dev/vcon-server/internal/supervisor"
	"github.com/vcon-dev/vcon-server/internal/worker"
)

func main() {
	// Process-level knobs (per §6.4's enumerated runtime inputs). The
	// declarative chain/stage/storage document is separate (-config);
	// these flags cover everything that's naturally per-invocation.
	redisAddr := flag.String("redis_addr", "redis://127.0.0.1:6379/0", "Redis endpoint URL")
	configPath := flag.String("config", "vcon.yaml", "Path to the declarative chain/stage/storage YAML document")
	numWorkers := flag.Int("workers", 1, "Number of worker goroutines to supervise")
	popTimeout := flag.Duration("pop_timeout", worker.DefaultPopTimeout, "Blocking-pop wait bound per cycle")
	gracePeriod := flag.Duration("grace_period", worker.DefaultGracePeriod, "How long a worker waits for its in-flight chain to finish before reclaiming the item and exiting")
	cacheTTL := flag.Int64("cache_ttl_seconds", cache.DefaultTTLPolicy().Document, "Document cache TTL")
	indexTTL := flag.Int64("index_ttl_seconds", cache.DefaultTTLPolicy().SecondaryIdx, "Party secondary-index TTL")
	dlqTTL := flag.Int64("dlq_ttl_seconds", cache.DefaultTTLPolicy().DLQ, "DLQ-resident document TTL; 0 skips the DLQ TTL extension, leaving the document at its cache TTL")
	storageDir := flag.String("storage_dir", "./vcon-data", "Root directory for any configured filestore backend")
	metricsAddr := flag.String("metrics_addr", "", "If non-empty, expose Prometheus /metrics on this address (e.g. :9090)")
	flag.Parse()

	doc, err := config.ParseFile(*configPath)
	if err != nil {
		log.Fatalf("vcon-worker: %v", err)
	}

	q, err := queue.New(*redisAddr, queue.DefaultOptions())
	if err != nil {
		log.Fatalf("vcon-worker: connecting to redis %s: %v", *redisAddr, err)
	}
	defer q.Close()
	if err := q.Ping(context.Background()); err != nil {
		log.Fatalf("vcon-worker: redis %s unreachable: %v", *redisAddr, err)
	}

	ttl := cache.TTLPolicy{Document: *cacheTTL, SecondaryIdx: *indexTTL, DLQ: *dlqTTL}

	backends := map[string]storages.Backend{}
	var probes []cache.StorageProbe
	for name, def := range doc.Storages {
		backend, err := buildBackend(name, def, *storageDir)
		if err != nil {
			log.Fatalf("vcon-worker: storage %s: %v", name, err)
		}
		backends[name] = backend
		probes = append(probes, backend)
	}
	vconCache := cache.New(q, ttl, probes...)

	builtin := registry.BuiltinSource{Links: map[string]registry.Link{}, Storages: map[string]registry.Storage{}}
	externalEndpoints := map[string]string{}
	for name, def := range doc.Stages {
		if def.Source != "" {
			externalEndpoints[name] = def.Source
			continue
		}
		link, err := buildLink(def.Module, vconCache)
		if err != nil {
			log.Fatalf("vcon-worker: stage %s: %v", name, err)
		}
		builtin.Links[name] = link
	}
	for name, backend := range backends {
		builtin.Storages[name] = storages.NewRegistryAdapter(backend, vconCache)
	}

	sources := []registry.Source{builtin}
	if len(externalEndpoints) > 0 {
		sources = append(sources, stages.NewExternalSource(externalEndpoints))
	}
	reg := registry.New(sources...)

	model, err := config.BuildModel(doc, reg)
	if err != nil {
		log.Fatalf("vcon-worker: %v", err)
	}
	config.DemoteUnresolvable(model, reg)
	for name, reason := range model.DisabledReasons {
		fmt.Printf("[vcon-worker] chain %s disabled: %s\n", name, reason)
	}

	metrics.ServeHTTP(*metricsAddr)

	executor := chain.New(reg, q, time.Duration(*dlqTTL)*time.Second)

	factory := func(slot int) supervisor.Runnable {
		return worker.New(q, executor, model.Chains, *popTimeout, *gracePeriod)
	}
	super := supervisor.New(factory, *numWorkers, supervisor.DefaultRestartPolicy())

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		fmt.Println("\n[vcon-worker] shutdown signal received, draining workers...")
		cancel()
	}()

	go func() {
		<-super.Fatal
		fmt.Println("[vcon-worker] a worker slot exceeded its restart cap; exiting")
		cancel()
		os.Exit(1)
	}()

	fmt.Printf("[vcon-worker] %d worker(s) online, config=%s\n", *numWorkers, *configPath)
	super.Run(ctx)
	fmt.Println("[vcon-worker] all workers stopped, exiting")
}

// buildBackend constructs the concrete Backend for a storage definition by
// module name, the two reference implementations this repo ships (§9's
// "ship a fixed stage registry compiled in").
func buildBackend(name string, def config.StageDef, defaultDir string) (storages.Backend, error) {
	switch def.Module {
	case "memstore", "":
		return storages.NewMemStore(name), nil
	case "filestore":
		dir := defaultDir
		if d, ok := def.Options["dir"].(string); ok && d != "" {
			dir = d
		}
		return storages.NewFileStore(name, filepath.Join(dir, name))
	default:
		return nil, fmt.Errorf("unknown storage module %q", def.Module)
	}
}

// buildLink constructs the compiled-in Link for a stage definition by
// module name.
func buildLink(module string, c stages.CacheWriter) (registry.Link, error) {
	switch module {
	case "tag":
		return stages.NewTagStage(c), nil
	case "sampler":
		return stages.NewSamplerStage(), nil
	case "flaky":
		return stages.NewFlakyStage(), nil
	default:
		return nil, fmt.Errorf("unknown builtin stage module %q", module)
	}
}
