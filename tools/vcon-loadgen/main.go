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

// vcon-loadgen is a tiny, dependency-light vCon submission generator,
// adapted from tools/http-loadgen's concurrent load-generation harness: it
// builds synthetic vCon documents with real UUID identities and pushes them
// through the Queue Client the way a producer would, for exercising a
// running worker fleet end to end without the (out-of-scope) HTTP API.
//
// Usage example:
//
//	vcon-loadgen -redis_addr=redis://127.0.0.1:6379/0 -queue=q1 -n=2000 -c=16
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vcon-dev/vcon-server/internal/cache"
	"github.com/vcon-dev/vcon-server/internal/ingress"
	"github.com/vcon-dev/vcon-server/internal/queue"
	"github.com/vcon-dev/vcon-server/internal/vcon"
)

func main() {
	var (
		redisAddr = flag.String("redis_addr", "redis://127.0.0.1:6379/0", "Redis endpoint URL")
		queueName = flag.String("queue", "q1", "Ingress queue to push submitted UUIDs onto")
		n         = flag.Int("n", 2000, "Total vCons to submit")
		conc      = flag.Int("c", 8, "Number of concurrent submitters")
		telPrefix = flag.String("tel_prefix", "+1555", "Prefix for generated party phone numbers")
		timeout   = flag.Duration("timeout", 60*time.Second, "Overall timeout for the loadgen run")
	)
	flag.Parse()

	if *n <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-n and -c must be > 0")
		os.Exit(2)
	}

	q, err := queue.New(*redisAddr, queue.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "vcon-loadgen: %v\n", err)
		os.Exit(1)
	}
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := q.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vcon-loadgen: redis %s unreachable: %v\n", *redisAddr, err)
		os.Exit(1)
	}

	c := cache.New(q, cache.DefaultTTLPolicy())
	svc := ingress.New(c, q, nil, nil)

	start := time.Now()
	var done, failed int64

	worker := func(workerID, count int) {
		for i := 0; i < count; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			id := uuid.New().String()
			doc := syntheticDoc(id, *telPrefix, workerID*count+i)
			if err := svc.Submit(ctx, id, doc, []string{*queueName}); err != nil {
				atomic.AddInt64(&failed, 1)
				continue
			}
			atomic.AddInt64(&done, 1)
		}
	}

	per := *n / *conc
	rem := *n - per**conc
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(id, c int) {
			defer wg.Done()
			worker(id, c)
		}(w, count)
	}
	wg.Wait()

	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	ops := float64(done) / elapsed.Seconds()
	fmt.Printf("LoadGen: queue=%s n=%d c=%d go=%d ok=%d failed=%d Duration=%s Throughput=%.0f submits/s\n",
		*queueName, *n, *conc, runtime.GOMAXPROCS(0), done, failed, elapsed.Truncate(time.Millisecond), ops)
}

// syntheticDoc builds a minimal, valid vCon document: one party with a
// generated phone number, no dialog/analysis, an empty tags attachment.
func syntheticDoc(id, telPrefix string, seq int) *vcon.Document {
	tagsBody, _ := json.Marshal([]string{})
	return &vcon.Document{
		UUID:      id,
		Version:   "0.0.1",
		CreatedAt: time.Now().UTC(),
		Parties: []vcon.Party{
			{Tel: fmt.Sprintf("%s%07d", telPrefix, seq)},
		},
		Attachments: []vcon.Attachment{
			{Type: vcon.TagsAttachmentType, Body: tagsBody},
		},
	}
}
