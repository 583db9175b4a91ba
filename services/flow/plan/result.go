// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plan

import (
	"time"
)

// ExecutionResult is the terminal outcome of one node attempt.
//
// Description:
//
//	Created once per attempt that reaches a terminal outcome and immutable
//	afterwards. The scheduler keeps the latest result per node id.
type ExecutionResult struct {
	// TaskID is the node this result belongs to.
	TaskID string `json:"task_id"`

	// Status is the terminal status of the attempt.
	Status NodeStatus `json:"status"`

	// Outputs is the node's output map. Empty on failure.
	Outputs map[string]any `json:"outputs,omitempty"`

	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`

	// Duration is how long the attempt ran.
	Duration time.Duration `json:"duration"`

	// StartedAt is when the attempt started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the attempt reached its terminal outcome.
	CompletedAt time.Time `json:"completed_at"`

	// RetryCount is how many retries had been consumed at this attempt.
	RetryCount int `json:"retry_count"`

	// Metadata carries arbitrary per-attempt details.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SuccessResult builds a completed result for a node.
func SuccessResult(taskID string, outputs map[string]any, duration time.Duration) ExecutionResult {
	if outputs == nil {
		outputs = make(map[string]any)
	}
	now := time.Now().UTC()
	return ExecutionResult{
		TaskID:      taskID,
		Status:      StatusCompleted,
		Outputs:     outputs,
		Duration:    duration,
		StartedAt:   now.Add(-duration),
		CompletedAt: now,
		Metadata:    make(map[string]any),
	}
}

// FailureResult builds a failed result for a node.
func FailureResult(taskID string, errMsg string, duration time.Duration, retryCount int) ExecutionResult {
	now := time.Now().UTC()
	return ExecutionResult{
		TaskID:      taskID,
		Status:      StatusFailed,
		Outputs:     make(map[string]any),
		Error:       errMsg,
		Duration:    duration,
		StartedAt:   now.Add(-duration),
		CompletedAt: now,
		RetryCount:  retryCount,
		Metadata:    make(map[string]any),
	}
}

// CancelResult builds a cancelled result carrying the reason.
func CancelResult(taskID, reason string) ExecutionResult {
	now := time.Now().UTC()
	return ExecutionResult{
		TaskID:      taskID,
		Status:      StatusCancelled,
		Outputs:     make(map[string]any),
		Error:       reason,
		StartedAt:   now,
		CompletedAt: now,
		Metadata:    make(map[string]any),
	}
}

// IsSuccess reports whether the result is a completed outcome.
func (r *ExecutionResult) IsSuccess() bool {
	return r.Status == StatusCompleted
}

// Output returns the named output value.
func (r *ExecutionResult) Output(key string) (any, bool) {
	v, ok := r.Outputs[key]
	return v, ok
}
