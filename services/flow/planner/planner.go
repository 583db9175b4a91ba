// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner defines the external plan-synthesis collaborators and an
// OpenAI-compatible implementation.
//
// The engine never depends on how a plan is produced; it consumes the
// Planner interface only. A deployment without an LLM backend simply runs
// with rule-based replanning.
package planner

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
)

// ErrNoPlanner indicates an operation that needs a planner ran without one.
var ErrNoPlanner = errors.New("no planner configured")

// TaskRequest describes the task a plan should accomplish.
type TaskRequest struct {
	// Name is the short task statement.
	Name string `json:"name"`

	// Description elaborates the task.
	Description string `json:"description,omitempty"`

	// Parameters carries free-form planning context.
	Parameters map[string]any `json:"parameters,omitempty"`

	// AllowedTools restricts which tools the plan may use. An empty,
	// non-nil list means no tools are permitted (strict mode).
	AllowedTools []string `json:"allowed_tools,omitempty"`
}

// Planner synthesizes execution plans from task descriptions.
type Planner interface {
	// CreatePlan produces a candidate plan for the request. The caller
	// validates and gates the result; implementations need not.
	CreatePlan(ctx context.Context, req TaskRequest) (*plan.ExecutionPlan, error)
}

// Solver phrases the final natural-language answer from run output. It is
// optional and never required for scheduling correctness.
type Solver interface {
	// Solve turns aggregated results into a final answer.
	Solve(ctx context.Context, task string, results map[string]plan.ExecutionResult) (string, error)
}
