// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events provides the run event stream.
//
// Events let external systems observe scheduling behavior, collect
// metrics, and drive UIs without coupling to the scheduler. Every event is
// timestamped and carries a typed data payload.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package events

import (
	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeRunStarted is emitted when a plan run begins.
	TypeRunStarted Type = "run_started"

	// TypeRunCompleted is emitted when a plan run reaches a terminal state.
	TypeRunCompleted Type = "run_completed"

	// TypeTaskStarted is emitted when a node is dispatched to a worker.
	TypeTaskStarted Type = "task_started"

	// TypeTaskCompleted is emitted when a node completes successfully.
	TypeTaskCompleted Type = "task_completed"

	// TypeTaskFailed is emitted on every failed attempt, including ones
	// that will be retried.
	TypeTaskFailed Type = "task_failed"

	// TypeDependencySatisfied is emitted when a node's last outstanding
	// dependency completes.
	TypeDependencySatisfied Type = "dependency_satisfied"

	// TypePlanReplanned is emitted when an accepted replan supersedes the
	// active plan.
	TypePlanReplanned Type = "plan_replanned"
)

// Event is one timestamped observation of the engine.
//
// Thread Safety:
//
//	Events are immutable after creation.
type Event struct {
	// ID is a unique identifier for this event.
	ID string `json:"id"`

	// Type identifies the kind of event.
	Type Type `json:"type"`

	// RunID links the event to a run.
	RunID string `json:"run_id"`

	// Timestamp is when the event occurred (Unix milliseconds UTC).
	Timestamp int64 `json:"timestamp"`

	// Data is the typed payload: one of TaskStartedData, TaskCompletedData,
	// TaskFailedData, DependencySatisfiedData, PlanReplannedData,
	// RunStartedData, or RunCompletedData.
	Data any `json:"data,omitempty"`
}

// RunStartedData is the payload for run start events.
type RunStartedData struct {
	// PlanID is the plan being executed.
	PlanID string `json:"plan_id"`

	// PlanVersion is the plan's version number.
	PlanVersion int `json:"plan_version"`

	// NodeCount is how many nodes the plan has.
	NodeCount int `json:"node_count"`
}

// RunCompletedData is the payload for run completion events.
type RunCompletedData struct {
	// PlanID is the plan that was executed.
	PlanID string `json:"plan_id"`

	// Succeeded is the count of completed nodes.
	Succeeded int `json:"succeeded"`

	// Failed is the count of permanently failed nodes.
	Failed int `json:"failed"`

	// Cancelled is the count of cancelled nodes.
	Cancelled int `json:"cancelled"`

	// Stalled reports whether the run ended on the iteration cap.
	Stalled bool `json:"stalled"`
}

// TaskStartedData is the payload for task dispatch events.
type TaskStartedData struct {
	// TaskID is the dispatched node.
	TaskID string `json:"task_id"`

	// Attempt is 0 for the first attempt, then the retry ordinal.
	Attempt int `json:"attempt"`
}

// TaskCompletedData is the payload for task success events.
type TaskCompletedData struct {
	// Result is the node's terminal result.
	Result plan.ExecutionResult `json:"result"`
}

// TaskFailedData is the payload for task failure events.
type TaskFailedData struct {
	// TaskID is the failed node.
	TaskID string `json:"task_id"`

	// Error is the failure message.
	Error string `json:"error"`

	// RetryCount is the retries consumed so far.
	RetryCount int `json:"retry_count"`

	// WillRetry reports whether the scheduler will re-queue the node.
	WillRetry bool `json:"will_retry"`
}

// DependencySatisfiedData is the payload for readiness events.
type DependencySatisfiedData struct {
	// TaskID is the node that became ready.
	TaskID string `json:"task_id"`

	// DependencyID is the dependency whose completion unblocked it.
	DependencyID string `json:"dependency_id"`
}

// PlanReplannedData is the payload for replan events.
type PlanReplannedData struct {
	// OldPlanID is the superseded plan.
	OldPlanID string `json:"old_plan_id"`

	// NewPlanID is the accepted replacement plan.
	NewPlanID string `json:"new_plan_id"`

	// Reason explains why the replan happened.
	Reason string `json:"reason"`
}
