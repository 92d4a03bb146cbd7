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

// Command vcon-dlqctl is a small operator CLI exercising the DLQ Manager's
// list/reprocess/purge operations (§4.8, §6.2) directly against Redis. The
// HTTP boundary that would normally front these is out of scope (§1); this
// is the natural operator-facing stand-in for it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/vcon-dev/vcon-server/internal/dlq"
	"github.com/vcon-dev/vcon-server/internal/queue"
)

func main() {
	redisAddr := flag.String("redis_addr", "redis://127.0.0.1:6379/0", "Redis endpoint URL")
	timeout := flag.Duration("timeout", 10*time.Second, "Overall timeout for the requested operation")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <list|reprocess|purge> <queue> [uuid]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		os.Exit(2)
	}
	op, queueName := args[0], args[1]

	q, err := queue.New(*redisAddr, queue.DefaultOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "vcon-dlqctl: %v\n", err)
		os.Exit(1)
	}
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := q.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vcon-dlqctl: redis %s unreachable: %v\n", *redisAddr, err)
		os.Exit(1)
	}

	mgr := dlq.New(q)

	switch op {
	case "list":
		uuids, err := mgr.List(ctx, queueName, 1000)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vcon-dlqctl: list %s: %v\n", queueName, err)
			os.Exit(1)
		}
		for _, u := range uuids {
			fmt.Println(u)
		}
		fmt.Fprintf(os.Stderr, "%d entries on DLQ:%s\n", len(uuids), queueName)

	case "reprocess":
		if len(args) == 3 {
			if err := mgr.Reprocess(ctx, queueName, args[2]); err != nil {
				fmt.Fprintf(os.Stderr, "vcon-dlqctl: reprocess %s: %v\n", args[2], err)
				os.Exit(1)
			}
			fmt.Printf("moved %s back to %s\n", args[2], queueName)
			return
		}
		n, err := mgr.ReprocessAll(ctx, queueName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "vcon-dlqctl: reprocess %s: %v\n", queueName, err)
			os.Exit(1)
		}
		fmt.Printf("moved %d item(s) from DLQ:%s back to %s\n", n, queueName, queueName)

	case "purge":
		if len(args) != 3 {
			flag.Usage()
			os.Exit(2)
		}
		if err := mgr.Purge(ctx, queueName, args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "vcon-dlqctl: purge %s: %v\n", args[2], err)
			os.Exit(1)
		}
		fmt.Printf("purged %s from DLQ:%s\n", args[2], queueName)

	default:
		flag.Usage()
		os.Exit(2)
	}
}
