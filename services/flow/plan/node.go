// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plan defines the DAG execution plan model: task nodes, dependency
// edges, variable-reference mappings, and admission validation.
//
// A plan is treated as read-only once Validate has accepted it. The
// scheduler keeps its own status and retry tables; nothing in this package
// mutates a node after construction.
package plan

import (
	"time"
)

// NodeStatus is the lifecycle state of a task node.
type NodeStatus string

const (
	// StatusPending means the node is waiting on dependencies.
	StatusPending NodeStatus = "pending"

	// StatusReady means every dependency is completed and the node may be
	// dispatched.
	StatusReady NodeStatus = "ready"

	// StatusRunning means the node has been dispatched to a worker.
	StatusRunning NodeStatus = "running"

	// StatusCompleted means the node finished successfully. Terminal.
	StatusCompleted NodeStatus = "completed"

	// StatusFailed means the node failed with no retries left. Terminal.
	StatusFailed NodeStatus = "failed"

	// StatusCancelled means the node was cancelled, either because the plan
	// was superseded or an upstream dependency failed. Terminal.
	StatusCancelled NodeStatus = "cancelled"

	// StatusRetrying means the node failed and is waiting out a computed
	// delay before re-entering the ready set.
	StatusRetrying NodeStatus = "retrying"
)

// IsTerminal reports whether the status is a terminal state.
func (s NodeStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsSuccessful reports whether the status is a successful terminal state.
func (s NodeStatus) IsSuccessful() bool {
	return s == StatusCompleted
}

// NodeKind distinguishes tool invocations from reasoning-only steps.
type NodeKind string

const (
	// KindTool is a node that invokes a registered tool.
	KindTool NodeKind = "tool"

	// KindReasoning is a reasoning/summary step with no tool. Replanned
	// plans always end with one.
	KindReasoning NodeKind = "reasoning"
)

// TaskNode is one schedulable unit of work within a plan.
//
// Description:
//
//	A node either invokes a named tool with resolved inputs or performs a
//	reasoning step. Its id must be unique within the plan; dependency ids
//	refer to other nodes of the same plan. Nodes start in StatusPending.
type TaskNode struct {
	// ID uniquely identifies the node within its plan.
	ID string `json:"id" binding:"required"`

	// Name is a short human-readable label.
	Name string `json:"name" binding:"required"`

	// Description explains what the node does.
	Description string `json:"description"`

	// Kind is tool or reasoning. Defaults to tool when a Tool is set.
	Kind NodeKind `json:"kind,omitempty"`

	// Tool is the registered tool identifier. Empty for reasoning nodes.
	Tool string `json:"tool,omitempty"`

	// Inputs are the node's input parameters. String values beginning with
	// '$' are variable references resolved before dispatch.
	Inputs map[string]any `json:"inputs,omitempty"`

	// Dependencies are ids of nodes that must complete first.
	Dependencies []string `json:"dependencies,omitempty"`

	// VariableRefs lists the unresolved symbolic references this node uses.
	VariableRefs []string `json:"variable_refs,omitempty"`

	// Status is the current lifecycle state. New nodes are pending.
	Status NodeStatus `json:"status,omitempty"`

	// Priority is a dispatch hint; lower values dispatch first.
	Priority int `json:"priority,omitempty"`

	// EstimatedDuration is the planner's duration estimate.
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty"`

	// MaxRetries caps how often a classified-retryable failure is retried.
	MaxRetries int `json:"max_retries,omitempty"`

	// RetryCount is the number of retries consumed so far.
	RetryCount int `json:"retry_count,omitempty"`

	// Postconditions are machine-checkable conditions appended by the
	// replanner, e.g. "non_empty_output(scan hosts)".
	Postconditions []string `json:"postconditions,omitempty"`

	// Tags are free-form labels for classification and filtering.
	Tags []string `json:"tags,omitempty"`
}

// NewTaskNode creates a tool node with defaults applied.
//
// Inputs:
//
//	id - Unique node id within the plan.
//	name - Human-readable label.
//	tool - Registered tool identifier.
//	inputs - Input parameter map. May be nil.
//
// Outputs:
//
//	TaskNode - Pending node with priority 1 and 3 max retries.
func NewTaskNode(id, name, tool string, inputs map[string]any) TaskNode {
	if inputs == nil {
		inputs = make(map[string]any)
	}
	return TaskNode{
		ID:         id,
		Name:       name,
		Kind:       KindTool,
		Tool:       tool,
		Inputs:     inputs,
		Status:     StatusPending,
		Priority:   1,
		MaxRetries: 3,
	}
}

// NewReasoningNode creates a reasoning-only node with defaults applied.
func NewReasoningNode(id, name, description string) TaskNode {
	return TaskNode{
		ID:          id,
		Name:        name,
		Description: description,
		Kind:        KindReasoning,
		Inputs:      make(map[string]any),
		Status:      StatusPending,
		Priority:    1,
		MaxRetries:  0,
	}
}

// IsReasoning reports whether the node is a reasoning-only step.
func (n *TaskNode) IsReasoning() bool {
	return n.Kind == KindReasoning || (n.Kind == "" && n.Tool == "")
}

// HasTag reports whether the node carries the given tag.
func (n *TaskNode) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
