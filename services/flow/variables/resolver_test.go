// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package variables

import (
	"testing"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
)

func TestResolve_FromCompletedOutputs(t *testing.T) {
	r := NewResolver(map[string]string{"$target_ip": "task_1.outputs.ip"}, nil)
	r.AddResult(plan.SuccessResult("task_1", map[string]any{"ip": "10.0.0.5"}, time.Millisecond))

	v, ok := r.Resolve("$target_ip")
	if !ok {
		t.Fatal("reference did not resolve")
	}
	if v != "10.0.0.5" {
		t.Errorf("expected 10.0.0.5, got %v", v)
	}
}

func TestResolve_FromMetadata(t *testing.T) {
	r := NewResolver(map[string]string{"$elapsed": "task_1.metadata.elapsed"}, nil)
	result := plan.SuccessResult("task_1", nil, time.Millisecond)
	result.Metadata["elapsed"] = 42
	r.AddResult(result)

	v, ok := r.Resolve("$elapsed")
	if !ok || v != 42 {
		t.Errorf("expected 42, got %v (resolved=%v)", v, ok)
	}
}

func TestResolve_GlobalsWinOverMappings(t *testing.T) {
	r := NewResolver(
		map[string]string{"$mode": "task_1.outputs.mode"},
		map[string]any{"$mode": "global"},
	)
	r.AddResult(plan.SuccessResult("task_1", map[string]any{"mode": "mapped"}, 0))

	v, ok := r.Resolve("$mode")
	if !ok || v != "global" {
		t.Errorf("expected global value to win, got %v", v)
	}
}

func TestResolve_MalformedPaths(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"too few segments", "task_1.outputs"},
		{"single segment", "task_1"},
		{"unknown section", "task_1.inputs.ip"},
		{"empty path", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(map[string]string{"$ref": tt.path}, nil)
			r.AddResult(plan.SuccessResult("task_1", map[string]any{"ip": "x"}, 0))
			if _, ok := r.Resolve("$ref"); ok {
				t.Errorf("path %q should not resolve", tt.path)
			}
		})
	}
}

func TestResolve_UnknownReference(t *testing.T) {
	r := NewResolver(nil, nil)
	if _, ok := r.Resolve("$missing"); ok {
		t.Error("unknown reference should not resolve")
	}
}

func TestResolve_TaskNotCompleted(t *testing.T) {
	r := NewResolver(map[string]string{"$ip": "task_1.outputs.ip"}, nil)
	if _, ok := r.Resolve("$ip"); ok {
		t.Error("reference should not resolve before the task completes")
	}
}

func TestMappingTarget(t *testing.T) {
	r := NewResolver(
		map[string]string{
			"$ip":  "task_1.outputs.ip",
			"$bad": "task_1",
		},
		map[string]any{"$mode": "fast"},
	)

	target, ok := r.MappingTarget("$ip")
	if !ok || target != "task_1" {
		t.Errorf("expected target task_1, got %q (ok=%v)", target, ok)
	}
	if _, ok := r.MappingTarget("$bad"); ok {
		t.Error("malformed path should have no target")
	}
	if _, ok := r.MappingTarget("$mode"); ok {
		t.Error("globals have no mapping target")
	}
	if _, ok := r.MappingTarget("$unknown"); ok {
		t.Error("unknown reference has no mapping target")
	}
}

func TestResolveInputs(t *testing.T) {
	r := NewResolver(map[string]string{"$ip": "task_1.outputs.ip"}, nil)
	r.AddResult(plan.SuccessResult("task_1", map[string]any{"ip": "10.0.0.5"}, 0))

	node := plan.NewTaskNode("task_2", "probe", "prober", map[string]any{
		"host":    "$ip",
		"port":    443,
		"comment": "plain string",
		"missing": "$unknown",
	})

	resolved := r.ResolveInputs(&node)
	if resolved["host"] != "10.0.0.5" {
		t.Errorf("expected host substituted, got %v", resolved["host"])
	}
	if resolved["port"] != 443 {
		t.Errorf("non-string input changed: %v", resolved["port"])
	}
	if resolved["comment"] != "plain string" {
		t.Errorf("non-reference string changed: %v", resolved["comment"])
	}
	// Unresolvable references stay in place for the caller to judge.
	if resolved["missing"] != "$unknown" {
		t.Errorf("unresolved reference should be left as-is, got %v", resolved["missing"])
	}
}

func TestUnresolved(t *testing.T) {
	r := NewResolver(map[string]string{"$ip": "task_1.outputs.ip"}, nil)

	node := plan.NewTaskNode("task_2", "probe", "prober", nil)
	node.VariableRefs = []string{"$ip", "$other"}

	pending := r.Unresolved(&node)
	if len(pending) != 2 {
		t.Fatalf("expected 2 unresolved refs, got %v", pending)
	}

	r.AddResult(plan.SuccessResult("task_1", map[string]any{"ip": "10.0.0.5"}, 0))
	pending = r.Unresolved(&node)
	if len(pending) != 1 || pending[0] != "$other" {
		t.Errorf("expected only $other unresolved, got %v", pending)
	}
}
