// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/tools"
)

// maxFetchBytes bounds how much of a fetched body a node result carries.
const maxFetchBytes = 64 * 1024

// builtinRegistry registers the tools shipped with the CLI.
//
// These are deliberately small utilities for wiring and smoke-testing
// plans; real deployments register their own tools before serving.
func builtinRegistry() *tools.Registry {
	registry := tools.NewRegistry()

	registry.Register(tools.NewFuncTool(
		"echo",
		"Returns its arguments unchanged",
		func(ctx context.Context, args map[string]any) (map[string]any, error) {
			out := make(map[string]any, len(args))
			for k, v := range args {
				out[k] = v
			}
			return out, nil
		},
	))

	registry.Register(tools.NewFuncTool(
		"sleep",
		"Waits for duration_ms milliseconds, respecting cancellation",
		func(ctx context.Context, args map[string]any) (map[string]any, error) {
			ms, _ := args["duration_ms"].(float64)
			if ms <= 0 {
				ms = 100
			}
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
				return map[string]any{"slept_ms": ms}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	))

	registry.Register(tools.NewFuncTool(
		"http_get",
		"Fetches a URL and returns status plus a truncated body",
		func(ctx context.Context, args map[string]any) (map[string]any, error) {
			url, _ := args["url"].(string)
			if url == "" {
				return nil, fmt.Errorf("http_get requires a url argument")
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, fmt.Errorf("building request: %w", err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetching %s: %w", url, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
			if err != nil {
				return nil, fmt.Errorf("reading body: %w", err)
			}
			return map[string]any{
				"status": resp.StatusCode,
				"body":   string(body),
			}, nil
		},
	))

	return registry
}
