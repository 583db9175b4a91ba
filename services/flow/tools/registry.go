// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools provides the named tool registry the scheduler dispatches
// against.
//
// Tools are capabilities behind an interface with a lookup table of named
// implementations; the engine never knows concrete tool types.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Sentinel errors for tool dispatch.
var (
	// ErrToolNotFound indicates no tool is registered under the name.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates the tool exceeded its invocation deadline.
	ErrToolTimeout = errors.New("tool invocation timed out")
)

// Tool is one invocable capability.
type Tool interface {
	// Name returns the unique tool identifier.
	Name() string

	// Description returns a short human-readable summary.
	Description() string

	// Invoke executes the tool with resolved arguments.
	Invoke(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Invoker is the narrow interface the scheduler consumes.
type Invoker interface {
	// Invoke executes the named tool with a bounded timeout.
	Invoke(ctx context.Context, toolName string, args map[string]any, timeout time.Duration) (map[string]any, error)
}

// Registry holds named tools and implements Invoker.
//
// Thread Safety:
//
//	Safe for concurrent use. Registration normally happens at startup but
//	is allowed at any time.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	limiter *rate.Limiter
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRateLimit caps tool invocations per second across the registry.
// Zero or negative disables limiting.
func WithRateLimit(perSecond float64, burst int) RegistryOption {
	return func(r *Registry) {
		if perSecond > 0 {
			r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// NewRegistry creates an empty tool registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. A tool registered twice under the same name is
// replaced; callers own name uniqueness.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke executes the named tool with a bounded timeout.
//
// Description:
//
//	Applies the registry-wide rate limit, then runs the tool under a
//	deadline. A deadline overrun surfaces as ErrToolTimeout so the
//	classifier can map it to the Timeout category.
func (r *Registry) Invoke(ctx context.Context, toolName string, args map[string]any, timeout time.Duration) (map[string]any, error) {
	tool, ok := r.Get(toolName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, toolName)
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	invokeCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		invokeCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := tool.Invoke(invokeCtx, args)
	if err != nil {
		if invokeCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s after %s", ErrToolTimeout, toolName, timeout)
		}
		return nil, err
	}
	return out, nil
}

// FuncTool wraps a function as a Tool for simple cases.
type FuncTool struct {
	name        string
	description string
	fn          func(context.Context, map[string]any) (map[string]any, error)
}

// NewFuncTool creates a tool from a function.
func NewFuncTool(name, description string, fn func(context.Context, map[string]any) (map[string]any, error)) *FuncTool {
	return &FuncTool{name: name, description: description, fn: fn}
}

// Name returns the tool identifier.
func (t *FuncTool) Name() string { return t.name }

// Description returns the tool summary.
func (t *FuncTool) Description() string { return t.description }

// Invoke runs the wrapped function.
func (t *FuncTool) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	if t.fn == nil {
		return nil, fmt.Errorf("%w: %s has no implementation", ErrToolNotFound, t.name)
	}
	return t.fn(ctx, args)
}
