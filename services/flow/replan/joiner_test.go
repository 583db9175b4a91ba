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
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
	"github.com/AleutianAI/AleutianFlow/services/flow/scheduler"
)

// runWith builds a finished run with the given success/failure split.
func runWith(succeeded, failed int, status scheduler.RunStatus) *scheduler.RunResult {
	results := make(map[string]plan.ExecutionResult)
	for i := 0; i < succeeded; i++ {
		id := "ok_" + string(rune('a'+i))
		results[id] = plan.SuccessResult(id, nil, 10*time.Millisecond)
	}
	for i := 0; i < failed; i++ {
		id := "bad_" + string(rune('a'+i))
		results[id] = plan.FailureResult(id, "boom", 10*time.Millisecond, 0)
	}
	return &scheduler.RunResult{
		PlanID:  "plan-1",
		Status:  status,
		Results: results,
		Stats: scheduler.ExecutionStats{
			TotalNodes: succeeded + failed,
			Succeeded:  succeeded,
			Failed:     failed,
			Duration:   time.Second,
		},
	}
}

func TestDecide_HighSuccessRateCompletes(t *testing.T) {
	j := NewJoiner(nil, 5, nil)
	run := runWith(9, 1, scheduler.RunFailed)

	decision := j.Decide(context.Background(), "survey the fleet", run, 0)
	if decision.Kind != DecisionComplete {
		t.Fatalf("kind = %s, want complete", decision.Kind)
	}
	if decision.FinalAnswer == "" {
		t.Error("complete decision should carry a final answer")
	}
	if decision.Confidence != 1.0 {
		t.Errorf("confidence = %f, want 1.0", decision.Confidence)
	}
}

func TestDecide_VeryLowSuccessRateCompletes(t *testing.T) {
	j := NewJoiner(nil, 5, nil)
	run := runWith(1, 9, scheduler.RunFailed)

	decision := j.Decide(context.Background(), "survey the fleet", run, 0)
	if decision.Kind != DecisionComplete {
		t.Fatalf("kind = %s, want complete (more rounds will not help)", decision.Kind)
	}
	// 0.1 success rate: 0.5 + 0.2 (low) + 0.2 (extreme) = 0.9
	if decision.Confidence != 0.9 {
		t.Errorf("confidence = %f, want 0.9", decision.Confidence)
	}
}

func TestDecide_MiddleGroundContinues(t *testing.T) {
	j := NewJoiner(nil, 5, nil)
	run := runWith(1, 1, scheduler.RunFailed)

	decision := j.Decide(context.Background(), "survey the fleet", run, 0)
	if decision.Kind != DecisionContinue {
		t.Fatalf("kind = %s, want continue", decision.Kind)
	}
	if decision.Feedback == "" {
		t.Error("continue decision should explain itself")
	}
	if len(decision.SuggestedNodes) != 1 || decision.SuggestedNodes[0] != "bad_a" {
		t.Errorf("suggested nodes = %v", decision.SuggestedNodes)
	}
	if decision.Confidence != 0.5 {
		t.Errorf("confidence = %f, want 0.5", decision.Confidence)
	}
}

func TestDecide_MaxRoundsForcesCompletion(t *testing.T) {
	j := NewJoiner(nil, 3, nil)
	run := runWith(1, 1, scheduler.RunFailed)

	decision := j.Decide(context.Background(), "survey the fleet", run, 3)
	if decision.Kind != DecisionComplete {
		t.Errorf("kind = %s, want complete at the round cap", decision.Kind)
	}
}

func TestDecide_CancelledRunCompletes(t *testing.T) {
	j := NewJoiner(nil, 5, nil)
	run := runWith(1, 1, scheduler.RunCancelled)

	decision := j.Decide(context.Background(), "survey the fleet", run, 0)
	if decision.Kind != DecisionComplete {
		t.Errorf("kind = %s, want complete for a cancelled run", decision.Kind)
	}
}

// fixedSolver returns a canned answer or error.
type fixedSolver struct {
	answer string
	err    error
}

func (s *fixedSolver) Solve(context.Context, string, map[string]plan.ExecutionResult) (string, error) {
	return s.answer, s.err
}

func TestDecide_SolverAnswerPreferred(t *testing.T) {
	j := NewJoiner(&fixedSolver{answer: "All hosts are reachable."}, 5, nil)
	run := runWith(10, 0, scheduler.RunCompleted)

	decision := j.Decide(context.Background(), "survey the fleet", run, 0)
	if decision.FinalAnswer != "All hosts are reachable." {
		t.Errorf("final answer = %q", decision.FinalAnswer)
	}
}

func TestDecide_SolverFailureFallsBack(t *testing.T) {
	j := NewJoiner(&fixedSolver{err: errors.New("llm down")}, 5, nil)
	run := runWith(10, 0, scheduler.RunCompleted)

	decision := j.Decide(context.Background(), "survey the fleet", run, 2)
	if !strings.Contains(decision.FinalAnswer, "Executed 10 of 10 nodes successfully") {
		t.Errorf("fallback answer = %q", decision.FinalAnswer)
	}
	if !strings.Contains(decision.FinalAnswer, "2 replanning rounds") {
		t.Errorf("fallback answer should mention rounds: %q", decision.FinalAnswer)
	}
}

func TestSummarize(t *testing.T) {
	run := runWith(3, 1, scheduler.RunFailed)
	run.Stats.AvgConcurrency = 2.5
	run.Stats.AvgNodeDuration = 20 * time.Millisecond

	summary := Summarize(run, 1)
	if summary.TotalNodes != 4 || summary.Succeeded != 3 || summary.Failed != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
	if summary.Efficiency.SuccessRate != 0.75 {
		t.Errorf("success rate = %f, want 0.75", summary.Efficiency.SuccessRate)
	}
	if summary.ReplanRounds != 1 {
		t.Errorf("replan rounds = %d, want 1", summary.ReplanRounds)
	}
	if summary.Efficiency.AvgConcurrency != 2.5 {
		t.Errorf("avg concurrency not carried: %f", summary.Efficiency.AvgConcurrency)
	}
}

func TestSummarize_NoTerminalNodes(t *testing.T) {
	run := &scheduler.RunResult{Results: map[string]plan.ExecutionResult{}}
	summary := Summarize(run, 0)
	if summary.Efficiency.SuccessRate != 0 {
		t.Errorf("empty run success rate = %f, want 0", summary.Efficiency.SuccessRate)
	}
}
