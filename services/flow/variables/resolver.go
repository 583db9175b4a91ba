// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package variables resolves symbolic references in node inputs against the
// recorded outputs of completed tasks.
//
// A reference like "$scan_ip" is looked up first in the global-variable
// table, then through the plan's variable mappings, which map the reference
// to a "nodeId.section.key" path into a completed task's result. Paths with
// fewer than three dot-separated segments, unknown sections, or absent keys
// resolve to nothing rather than failing.
package variables

import (
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
)

// Resolver resolves variable references from completed task results.
//
// Thread Safety:
//
//	Safe for concurrent use. The scheduler adds results from its
//	coordinator goroutine while API handlers may read concurrently.
type Resolver struct {
	mu        sync.RWMutex
	completed map[string]plan.ExecutionResult
	mappings  map[string]string
	globals   map[string]any
}

// NewResolver creates a resolver for one plan run.
//
// Inputs:
//
//	mappings - Reference name to "nodeId.section.key" path. May be nil.
//	globals - Constants injected at plan start. May be nil.
func NewResolver(mappings map[string]string, globals map[string]any) *Resolver {
	if mappings == nil {
		mappings = make(map[string]string)
	}
	if globals == nil {
		globals = make(map[string]any)
	}
	return &Resolver{
		completed: make(map[string]plan.ExecutionResult),
		mappings:  mappings,
		globals:   globals,
	}
}

// AddResult records a completed task result for later resolution.
func (r *Resolver) AddResult(result plan.ExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed[result.TaskID] = result
}

// Resolve resolves a symbolic reference.
//
// Description:
//
//	Globals win over mappings. A mapping path must have at least three
//	dot-separated segments [nodeId, section, key] with section "outputs"
//	or "metadata"; anything else is unresolved. The resolver never
//	panics on malformed input.
//
// Outputs:
//
//	any - The resolved value, nil when unresolved.
//	bool - Whether the reference resolved.
func (r *Resolver) Resolve(ref string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if v, ok := r.globals[ref]; ok {
		return v, true
	}

	path, ok := r.mappings[ref]
	if !ok {
		return nil, false
	}
	return r.resolvePath(path)
}

// MappingTarget returns the node id a mapped reference points at.
//
// Used by the scheduler to decide between "wait for the referenced task"
// and "fail with a missing variable": when the target task is already
// terminal and the reference still does not resolve, the output will never
// appear.
func (r *Resolver) MappingTarget(ref string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, global := r.globals[ref]; global {
		return "", false
	}
	path, ok := r.mappings[ref]
	if !ok {
		return "", false
	}
	parts := strings.Split(path, ".")
	if len(parts) < 3 {
		return "", false
	}
	return parts[0], true
}

// ResolveInputs returns a copy of the node's inputs with every resolvable
// '$'-prefixed string value substituted. Unresolvable references are left
// in place; the caller decides whether that blocks dispatch.
func (r *Resolver) ResolveInputs(node *plan.TaskNode) map[string]any {
	resolved := make(map[string]any, len(node.Inputs))
	for k, v := range node.Inputs {
		s, isString := v.(string)
		if !isString || !strings.HasPrefix(s, "$") {
			resolved[k] = v
			continue
		}
		if value, ok := r.Resolve(s); ok {
			resolved[k] = value
		} else {
			resolved[k] = v
		}
	}
	return resolved
}

// Unresolved returns the node's variable references that do not currently
// resolve.
func (r *Resolver) Unresolved(node *plan.TaskNode) []string {
	pending := make([]string, 0)
	for _, ref := range node.VariableRefs {
		if _, ok := r.Resolve(ref); !ok {
			pending = append(pending, ref)
		}
	}
	return pending
}

func (r *Resolver) resolvePath(path string) (any, bool) {
	parts := strings.Split(path, ".")
	if len(parts) < 3 {
		return nil, false
	}

	taskID, section, key := parts[0], parts[1], parts[2]
	result, ok := r.completed[taskID]
	if !ok {
		return nil, false
	}

	switch section {
	case "outputs":
		v, ok := result.Outputs[key]
		return v, ok
	case "metadata":
		v, ok := result.Metadata[key]
		return v, ok
	default:
		return nil, false
	}
}
