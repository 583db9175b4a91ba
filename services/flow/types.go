// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flow

import (
	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
	"github.com/AleutianAI/AleutianFlow/services/flow/scheduler"
)

// ServiceVersion is the flow service version.
const ServiceVersion = "0.1.0"

// SubmitPlanRequest is the body of POST /v1/flow/plans.
type SubmitPlanRequest struct {
	// Task is the task statement the plan answers. Used by the joiner and
	// the planner-assisted replanner.
	Task string `json:"task" binding:"required"`

	// Plan is the execution plan to run.
	Plan plan.ExecutionPlan `json:"plan" binding:"required"`
}

// SubmitPlanResponse acknowledges an admitted plan.
type SubmitPlanResponse struct {
	// RunID identifies the started run.
	RunID string `json:"run_id"`

	// PlanID is the admitted plan's id.
	PlanID string `json:"plan_id"`
}

// RunStatusResponse is the body of GET /v1/flow/runs/:id.
type RunStatusResponse struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// PlanID is the currently active plan.
	PlanID string `json:"plan_id"`

	// State is running, completed, failed, stalled, or cancelled.
	State string `json:"state"`

	// Progress is terminal nodes over total nodes, in [0, 1].
	Progress float64 `json:"progress"`

	// NodeStatuses maps node id to lifecycle state.
	NodeStatuses map[string]plan.NodeStatus `json:"node_statuses"`

	// ReplanRounds counts accepted replans so far.
	ReplanRounds int `json:"replan_rounds"`

	// FinalAnswer is the joiner's answer once the run completes.
	FinalAnswer string `json:"final_answer,omitempty"`

	// Stats summarizes the most recent scheduling round.
	Stats scheduler.ExecutionStats `json:"stats"`
}

// ErrorResponse is the error body for all endpoints.
type ErrorResponse struct {
	// Error is the human-readable message.
	Error string `json:"error"`

	// Code is the machine-readable error code.
	Code string `json:"code"`
}
