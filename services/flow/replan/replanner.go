// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package replan builds and gates replacement plans after failed runs.
//
// Two construction modes exist: rule-based, which salvages the surviving
// nodes of the failed plan locally, and planner-assisted, which delegates to
// the external Planner with the failure context embedded in the request.
// Every candidate, whatever its source, must pass the same acceptance gate
// before it may replace the active plan.
package replan

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
	"github.com/AleutianAI/AleutianFlow/services/flow/planner"
)

// Config bounds replan acceptance.
type Config struct {
	// MaxNodes is the hard cap on candidate plan size.
	MaxNodes int

	// ReplanThreshold is the maximum allowed similarity between a candidate
	// and the plan it replaces. Higher similarity means the candidate is
	// basically the same plan and gets rejected.
	ReplanThreshold float64
}

// DefaultConfig returns the standard acceptance bounds.
func DefaultConfig() Config {
	return Config{
		MaxNodes:        20,
		ReplanThreshold: 0.7,
	}
}

// Result is the outcome of a replan attempt.
//
// A rejected candidate is not an error: Accepted is false and Reason says
// why. Errors are reserved for collaborator failures.
type Result struct {
	// Accepted reports whether the candidate passed the gate.
	Accepted bool `json:"accepted"`

	// Reason explains acceptance or rejection.
	Reason string `json:"reason"`

	// NewPlan is the accepted candidate, nil when rejected.
	NewPlan *plan.ExecutionPlan `json:"new_plan,omitempty"`
}

// Replanner constructs and gates replacement plans.
//
// Thread Safety:
//
//	Replanner is stateless apart from its immutable configuration and is
//	safe for concurrent use.
type Replanner struct {
	planner planner.Planner
	config  Config
	logger  *slog.Logger
}

// New creates a replanner.
//
// Inputs:
//
//	p - External planner for planner-assisted mode. May be nil; rule-based
//	    replanning works without one.
//	config - Acceptance bounds. Zero values take defaults.
//	logger - Logger for gate decisions. If nil, uses slog.Default().
func New(p planner.Planner, config Config, logger *slog.Logger) *Replanner {
	if config.MaxNodes <= 0 {
		config.MaxNodes = DefaultConfig().MaxNodes
	}
	if config.ReplanThreshold <= 0 {
		config.ReplanThreshold = DefaultConfig().ReplanThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Replanner{planner: p, config: config, logger: logger}
}

// RuleBased builds a replacement plan locally, without a planner call.
//
// Description:
//
//	Removes every failed node from the original's node list and appends
//	one synthetic recovery reasoning node that produces a best-effort
//	final answer from whatever completed. When every node failed, the
//	candidate is a minimal one-node plan holding only the recovery node.
//	The candidate then passes through the same acceptance gate as a
//	planner-produced plan.
//
// Inputs:
//
//	original - The failed plan.
//	failedIDs - Ids of permanently failed nodes.
//
// Outputs:
//
//	Result - Accepted candidate or the rejection reason.
func (r *Replanner) RuleBased(original *plan.ExecutionPlan, failedIDs []string) Result {
	failed := make(map[string]bool, len(failedIDs))
	for _, id := range failedIDs {
		failed[id] = true
	}

	kept := make([]plan.TaskNode, 0, len(original.Nodes))
	for _, n := range original.Nodes {
		if failed[n.ID] {
			continue
		}
		n.Status = plan.StatusPending
		n.RetryCount = 0
		kept = append(kept, n)
	}

	var candidate *plan.ExecutionPlan
	var reason string
	if len(kept) == 0 {
		recovery := plan.NewReasoningNode("node_1_recovery", "Recovery reasoning",
			"Produce a minimal viable outcome")
		candidate = r.derive(original, []plan.TaskNode{recovery})
		reason = "all nodes failed; created minimal recovery plan"
	} else {
		recovery := plan.NewReasoningNode(
			fmt.Sprintf("node_%d_recovery", len(kept)+1),
			"Recovery reasoning",
			"Analyze previous results and produce a concise recovery summary")
		candidate = r.derive(original, append(kept, recovery))
		reason = fmt.Sprintf("removed %d failed nodes and appended a recovery node", len(failedIDs))
	}

	if ok, why := r.accept(original, candidate); !ok {
		r.logger.Warn("rule-based replan rejected",
			slog.String("plan_id", original.ID),
			slog.String("reason", why),
		)
		return Result{Reason: why}
	}

	r.augmentPostconditions(candidate)
	return Result{Accepted: true, Reason: reason, NewPlan: candidate}
}

// WithPlanner delegates candidate construction to the external planner.
//
// Description:
//
//	Builds an augmented task request embedding the failed node names and
//	an explicit tool allow-list (an empty list means no tools permitted),
//	asks the planner for a candidate, and gates the result. The accepted
//	plan's version and parent id point back at the original.
//
// Outputs:
//
//	Result - Accepted candidate or the rejection reason.
//	error - Non-nil when no planner is configured or the planner call
//	        fails.
func (r *Replanner) WithPlanner(ctx context.Context, original *plan.ExecutionPlan, req planner.TaskRequest, failedIDs []string) (Result, error) {
	if r.planner == nil {
		return Result{}, planner.ErrNoPlanner
	}

	failedNames := make([]string, 0, len(failedIDs))
	for _, id := range failedIDs {
		if n, ok := original.Node(id); ok {
			failedNames = append(failedNames, n.Name)
		}
	}
	failedList := "none"
	if len(failedNames) > 0 {
		failedList = strings.Join(failedNames, ", ")
	}

	augmented := req
	augmented.Name = fmt.Sprintf(
		"REPLAN: %s | failed_nodes: [%s] | requirements: generate a revised plan that avoids the previous failures, uses allowed tools only, and includes verification",
		original.Name, failedList)
	params := make(map[string]any, len(req.Parameters)+1)
	for k, v := range req.Parameters {
		params[k] = v
	}
	params["replan_failed_node_names"] = failedNames
	augmented.Parameters = params
	if augmented.AllowedTools == nil {
		// Strict mode: no allow-list means no tools permitted.
		augmented.AllowedTools = []string{}
	}

	candidate, err := r.planner.CreatePlan(ctx, augmented)
	if err != nil {
		return Result{}, fmt.Errorf("planner-assisted replan: %w", err)
	}

	if candidate.ID == "" {
		candidate.ID = uuid.NewString()
	}
	candidate.Version = original.Version + 1
	candidate.ParentPlanID = original.ID
	if candidate.CreatedAt.IsZero() {
		candidate.CreatedAt = time.Now().UTC()
	}

	if ok, why := r.accept(original, candidate); !ok {
		r.logger.Warn("planner-assisted replan rejected",
			slog.String("plan_id", original.ID),
			slog.String("reason", why),
		)
		return Result{Reason: why}, nil
	}

	r.augmentPostconditions(candidate)
	return Result{Accepted: true, Reason: "planner produced a validated new plan", NewPlan: candidate}, nil
}

// derive builds the candidate shell around a node list. The dependency and
// metadata maps are carried over from the original unmodified; edges that
// point at removed nodes count as satisfied downstream.
func (r *Replanner) derive(original *plan.ExecutionPlan, nodes []plan.TaskNode) *plan.ExecutionPlan {
	return &plan.ExecutionPlan{
		ID:               uuid.NewString(),
		Name:             original.Name + " (replanned)",
		Nodes:            nodes,
		DependencyGraph:  original.DependencyGraph,
		VariableMappings: original.VariableMappings,
		GlobalConfig:     original.GlobalConfig,
		CreatedAt:        time.Now().UTC(),
		Version:          original.Version + 1,
		ParentPlanID:     original.ID,
	}
}

// accept runs the acceptance gate. Every candidate goes through it, rule-
// based and planner-assisted alike.
func (r *Replanner) accept(original, candidate *plan.ExecutionPlan) (bool, string) {
	if len(candidate.Nodes) == 0 {
		return false, "candidate has no nodes"
	}
	if len(candidate.Nodes) > r.config.MaxNodes {
		return false, fmt.Sprintf("candidate exceeds %d nodes", r.config.MaxNodes)
	}

	last := candidate.Nodes[len(candidate.Nodes)-1]
	if !last.IsReasoning() {
		return false, "last node is not a reasoning step"
	}

	for _, n := range candidate.Nodes {
		if strings.TrimSpace(n.Name) == "" || strings.TrimSpace(n.Description) == "" {
			return false, fmt.Sprintf("node %s missing name or description", n.ID)
		}
	}

	if sim := planSimilarity(original, candidate); sim > r.config.ReplanThreshold {
		return false, fmt.Sprintf("similarity %.2f exceeds threshold %.2f", sim, r.config.ReplanThreshold)
	}

	return true, ""
}

// augmentPostconditions appends a non_empty_output postcondition to every
// tool node that lacks one, so each accepted replan carries at least one
// machine-checkable verification per tool step.
func (r *Replanner) augmentPostconditions(p *plan.ExecutionPlan) {
	for i := range p.Nodes {
		n := &p.Nodes[i]
		if n.IsReasoning() {
			continue
		}
		cond := fmt.Sprintf("non_empty_output(%s)", n.Name)
		exists := false
		for _, c := range n.Postconditions {
			if c == cond {
				exists = true
				break
			}
		}
		if !exists {
			n.Postconditions = append(n.Postconditions, cond)
		}
	}
}
