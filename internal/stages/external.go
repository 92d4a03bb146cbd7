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

// Package stages holds reference Link implementations and the
// out-of-process stage source recommended by the Design Notes: tagged
// variant resolution where an unresolvable local name falls through to an
// HTTP RPC endpoint.
package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vcon-dev/vcon-server/internal/registry"
)

// ExternalSource resolves any stage name to an out-of-process RPC call
// against a per-name endpoint map, the "external(endpoint)" half of the
// Design Notes' {builtin(handle) | external(endpoint)} tagged variant.
// ResolveStorage never matches: storages stay in-process because the save
// contract reads from the shared cache, which an out-of-process stage has
// no access to.
type ExternalSource struct {
	Endpoints map[string]string
	Client    *http.Client
}

func NewExternalSource(endpoints map[string]string) *ExternalSource {
	return &ExternalSource{Endpoints: endpoints, Client: &http.Client{Timeout: 30 * time.Second}}
}

func (e *ExternalSource) ResolveLink(name string) (registry.Link, bool, error) {
	endpoint, ok := e.Endpoints[name]
	if !ok {
		return nil, false, nil
	}
	return &rpcLink{endpoint: endpoint, client: e.Client}, true, nil
}

func (e *ExternalSource) ResolveStorage(string) (registry.Storage, bool, error) { return nil, false, nil }

// rpcRequest/rpcResponse are the wire shapes of the out-of-process stage
// contract: input is UUID + options, output is UUID/filtered/error per
// §4.3's run contract.
type rpcRequest struct {
	UUID      string            `json:"uuid"`
	StageName string            `json:"stage_name"`
	Options   registry.Options  `json:"options"`
}

type rpcResponse struct {
	UUID     string `json:"uuid,omitempty"`
	Filtered bool   `json:"filtered,omitempty"`
	Error    string `json:"error,omitempty"`
	Retry    bool   `json:"retry,omitempty"` // true marks a recoverable/transient failure
}

type rpcLink struct {
	endpoint string
	client   *http.Client
}

func (l *rpcLink) Run(ctx context.Context, uuid, stageName string, opts registry.Options) (string, error) {
	body, err := json.Marshal(rpcRequest{UUID: uuid, StageName: stageName, Options: opts})
	if err != nil {
		return "", fmt.Errorf("stages: marshal rpc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("stages: build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("stages: rpc call to %s: %w", stageName, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("stages: read rpc response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return "", Retryable{Err: fmt.Errorf("stages: rpc %s returned %d: %s", stageName, resp.StatusCode, data)}
	}
	var rr rpcResponse
	if err := json.Unmarshal(data, &rr); err != nil {
		return "", fmt.Errorf("stages: decode rpc response: %w", err)
	}
	if rr.Filtered {
		return "", registry.ErrFiltered
	}
	if rr.Error != "" {
		err := fmt.Errorf("stages: %s: %s", stageName, rr.Error)
		if rr.Retry {
			return "", Retryable{Err: err}
		}
		return "", err
	}
	if rr.UUID == "" {
		return uuid, nil
	}
	return rr.UUID, nil
}
