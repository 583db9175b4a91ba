// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package replan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
	"github.com/AleutianAI/AleutianFlow/services/flow/planner"
	"github.com/AleutianAI/AleutianFlow/services/flow/scheduler"
)

// DecisionKind selects between continuing and completing a task.
type DecisionKind string

const (
	// DecisionContinue asks for another planning round.
	DecisionContinue DecisionKind = "continue"

	// DecisionComplete ends the task with a final answer.
	DecisionComplete DecisionKind = "complete"
)

// EfficiencyMetrics summarizes how well a run used its resources.
type EfficiencyMetrics struct {
	// AvgConcurrency is the mean sampled count of concurrently running
	// nodes.
	AvgConcurrency float64 `json:"avg_concurrency"`

	// SuccessRate is completed over (completed + failed).
	SuccessRate float64 `json:"success_rate"`

	// AvgNodeDuration is the mean duration of completed nodes.
	AvgNodeDuration time.Duration `json:"avg_node_duration"`
}

// ExecutionSummary aggregates a run for the joiner decision and the final
// answer.
type ExecutionSummary struct {
	// TotalNodes is the plan's node count.
	TotalNodes int `json:"total_nodes"`

	// Succeeded is the count of completed nodes.
	Succeeded int `json:"succeeded"`

	// Failed is the count of permanently failed nodes.
	Failed int `json:"failed"`

	// Duration is the wall-clock run time.
	Duration time.Duration `json:"duration"`

	// ReplanRounds is how many replanning rounds ran so far.
	ReplanRounds int `json:"replan_rounds"`

	// Efficiency holds the run's efficiency metrics.
	Efficiency EfficiencyMetrics `json:"efficiency"`
}

// Decision is the joiner's verdict after a run in which every node is
// terminal.
type Decision struct {
	// Kind is continue or complete.
	Kind DecisionKind `json:"kind"`

	// Feedback explains what another round should improve. Continue only.
	Feedback string `json:"feedback,omitempty"`

	// SuggestedNodes names follow-up work for the next round. Continue
	// only.
	SuggestedNodes []string `json:"suggested_nodes,omitempty"`

	// FinalAnswer is the task's answer. Complete only.
	FinalAnswer string `json:"final_answer,omitempty"`

	// Confidence is the decision confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Summary aggregates the run.
	Summary ExecutionSummary `json:"summary"`
}

// Joiner decides whether a finished run answers the task.
//
// Description:
//
//	The decision is heuristic: high success rates complete, very low ones
//	complete with a best-effort answer (more rounds will not help), the
//	middle ground continues. An optional Solver phrases the final answer;
//	without one the answer is synthesized from the summary.
//
// Thread Safety:
//
//	Joiner is stateless and safe for concurrent use.
type Joiner struct {
	solver planner.Solver
	logger *slog.Logger

	maxRounds int
}

// NewJoiner creates a joiner.
//
// Inputs:
//
//	solver - Optional final-answer phrasing. May be nil.
//	maxRounds - Replanning rounds after which the joiner always completes.
//	logger - Logger for decisions. If nil, uses slog.Default().
func NewJoiner(solver planner.Solver, maxRounds int, logger *slog.Logger) *Joiner {
	if maxRounds <= 0 {
		maxRounds = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Joiner{solver: solver, maxRounds: maxRounds, logger: logger}
}

// Summarize aggregates a run result into an execution summary.
func Summarize(run *scheduler.RunResult, replanRounds int) ExecutionSummary {
	stats := run.Stats
	rate := 0.0
	if stats.Succeeded+stats.Failed > 0 {
		rate = float64(stats.Succeeded) / float64(stats.Succeeded+stats.Failed)
	}
	return ExecutionSummary{
		TotalNodes:   stats.TotalNodes,
		Succeeded:    stats.Succeeded,
		Failed:       stats.Failed,
		Duration:     stats.Duration,
		ReplanRounds: replanRounds,
		Efficiency: EfficiencyMetrics{
			AvgConcurrency:  stats.AvgConcurrency,
			SuccessRate:     rate,
			AvgNodeDuration: stats.AvgNodeDuration,
		},
	}
}

// Decide produces the joiner decision for a finished run.
//
// Inputs:
//
//	ctx - Bounds the optional solver call.
//	task - The original task statement, for the final answer.
//	run - The finished run. Every node is terminal.
//	replanRounds - Replanning rounds consumed so far.
//
// Outputs:
//
//	Decision - Continue or Complete with confidence and summary.
func (j *Joiner) Decide(ctx context.Context, task string, run *scheduler.RunResult, replanRounds int) Decision {
	summary := Summarize(run, replanRounds)
	rate := summary.Efficiency.SuccessRate

	complete := rate >= 0.8 ||
		rate < 0.3 ||
		replanRounds >= j.maxRounds ||
		run.Status == scheduler.RunCancelled

	confidence := j.confidence(rate)

	if !complete {
		decision := Decision{
			Kind:       DecisionContinue,
			Feedback:   fmt.Sprintf("%d of %d nodes failed; another round may recover the missing outputs", summary.Failed, summary.TotalNodes),
			Confidence: confidence,
			Summary:    summary,
		}
		for id, res := range run.Results {
			if res.Status == plan.StatusFailed {
				decision.SuggestedNodes = append(decision.SuggestedNodes, id)
			}
		}
		j.logger.Info("joiner decided to continue",
			slog.String("plan_id", run.PlanID),
			slog.Float64("success_rate", rate),
			slog.Float64("confidence", confidence),
		)
		return decision
	}

	decision := Decision{
		Kind:        DecisionComplete,
		FinalAnswer: j.finalAnswer(ctx, task, run, summary),
		Confidence:  confidence,
		Summary:     summary,
	}
	j.logger.Info("joiner decided to complete",
		slog.String("plan_id", run.PlanID),
		slog.Float64("success_rate", rate),
		slog.Float64("confidence", confidence),
	)
	return decision
}

// confidence scores how certain the heuristic is, base 0.5, capped at 1.
// Extreme success rates in either direction add certainty.
func (j *Joiner) confidence(rate float64) float64 {
	confidence := 0.5
	if rate > 0.8 {
		confidence += 0.3
	} else if rate < 0.3 {
		confidence += 0.2
	}
	if rate > 0.8 || rate < 0.2 {
		confidence += 0.2
	}
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

// finalAnswer phrases the completion answer, preferring the solver.
func (j *Joiner) finalAnswer(ctx context.Context, task string, run *scheduler.RunResult, summary ExecutionSummary) string {
	if j.solver != nil {
		answer, err := j.solver.Solve(ctx, task, run.Results)
		if err == nil && answer != "" {
			return answer
		}
		if err != nil {
			j.logger.Warn("solver failed, falling back to summary answer",
				slog.String("error", err.Error()),
			)
		}
	}
	return fmt.Sprintf("Executed %d of %d nodes successfully in %s (%d failed, %d replanning rounds).",
		summary.Succeeded, summary.TotalNodes, summary.Duration.Round(time.Millisecond),
		summary.Failed, summary.ReplanRounds)
}
