// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
	"github.com/AleutianAI/AleutianFlow/services/flow/recovery"
	"github.com/AleutianAI/AleutianFlow/services/flow/variables"
)

// RunStatus is the terminal state of a plan run.
type RunStatus string

const (
	// RunCompleted means every node completed successfully.
	RunCompleted RunStatus = "completed"

	// RunFailed means at least one node failed or was cancelled.
	RunFailed RunStatus = "failed"

	// RunStalled means the run exhausted its scheduling rounds, or no node
	// could make progress. Surfaced to the replanner as failure-equivalent.
	RunStalled RunStatus = "stalled"

	// RunCancelled means the run's context was cancelled.
	RunCancelled RunStatus = "cancelled"
)

// RunResult is the outcome of one plan run.
type RunResult struct {
	// PlanID is the executed plan.
	PlanID string `json:"plan_id"`

	// Status is the run's terminal state.
	Status RunStatus `json:"status"`

	// Results holds the latest terminal result per node id.
	Results map[string]plan.ExecutionResult `json:"results"`

	// Stats summarizes the run.
	Stats ExecutionStats `json:"stats"`
}

// FailedNodes returns the ids of permanently failed nodes.
func (r *RunResult) FailedNodes() []string {
	failed := make([]string, 0)
	for id, res := range r.Results {
		if res.Status == plan.StatusFailed {
			failed = append(failed, id)
		}
	}
	return failed
}

// outcome is a worker's report for one node attempt.
type outcome struct {
	id     string
	result plan.ExecutionResult
}

// Run executes a plan to a terminal state.
//
// Description:
//
//	Validates the plan, then runs the coordinator loop: promote pending
//	nodes whose dependencies completed, dispatch the ready set in priority
//	order under the concurrency cap, and react to worker outcomes.
//	Classified-retryable failures re-enter the ready set after their
//	computed delay; permanent failures cancel all transitive dependents.
//	A scheduling round is one dispatch wave of up to MaxConcurrency node
//	starts; the run stalls once its launches exhaust MaxIterations rounds
//	or no node can make progress.
//
// Inputs:
//
//	ctx - Cancels the run. Remaining nodes are marked cancelled.
//	p - The plan. Must pass Validate.
//	emitter - Event sink. If nil a private emitter is used.
//
// Outputs:
//
//	*RunResult - Terminal per-node results and run statistics.
//	error - Non-nil only for admission failures (nil or invalid plan).
func (s *Scheduler) Run(ctx context.Context, p *plan.ExecutionPlan, emitter *events.Emitter) (*RunResult, error) {
	if p == nil {
		return nil, ErrNilPlan
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("plan rejected: %w", err)
	}
	s.initMetrics()

	if emitter == nil {
		emitter = events.NewEmitter(p.ID)
	}

	ctx, span := tracer.Start(ctx, "scheduler.Run",
		trace.WithAttributes(
			attribute.String("plan.id", p.ID),
			attribute.Int("plan.nodes", p.NodeCount()),
			attribute.Int("plan.version", p.Version),
		),
	)
	defer span.End()

	st := newRunState(p)
	st.maxLaunches = s.config.MaxIterations * s.config.MaxConcurrency
	sem := semaphore.NewWeighted(int64(s.config.MaxConcurrency))
	outcomeCh := make(chan outcome, p.NodeCount())
	retryCh := make(chan string, p.NodeCount())
	done := make(chan struct{})
	defer close(done)
	defer st.stopTimers()

	resolver := variables.NewResolver(p.VariableMappings, p.GlobalConfig)

	start := time.Now()
	emitter.Emit(events.TypeRunStarted, events.RunStartedData{
		PlanID:      p.ID,
		PlanVersion: p.Version,
		NodeCount:   p.NodeCount(),
	})
	s.logger.Info("plan run started",
		slog.String("plan_id", p.ID),
		slog.Int("nodes", p.NodeCount()),
		slog.Int("max_concurrency", s.config.MaxConcurrency),
	)

	var (
		stalled   bool
		cancelled bool
	)

loop:
	for {
		st.promoteReady()
		s.dispatch(ctx, st, resolver, sem, outcomeCh, done, emitter)

		if st.allTerminal() {
			break
		}
		if st.running == 0 && st.retryWait == 0 {
			// Nothing in flight and nothing scheduled to wake: the
			// remaining nodes can never run, either because the launch
			// budget ran out or because they are held on variables that
			// will never appear.
			stalled = true
			break
		}

		st.sampleConcurrency()

		select {
		case <-ctx.Done():
			cancelled = true
			break loop
		case out := <-outcomeCh:
			s.handleOutcome(ctx, st, resolver, out, retryCh, done, emitter)
			for drained := false; !drained; {
				select {
				case out := <-outcomeCh:
					s.handleOutcome(ctx, st, resolver, out, retryCh, done, emitter)
				default:
					drained = true
				}
			}
		case id := <-retryCh:
			if st.status[id] == plan.StatusRetrying {
				st.retryWait--
				st.status[id] = plan.StatusReady
			}
		}
	}

	status := RunCompleted
	switch {
	case cancelled:
		st.cancelRemaining("run cancelled")
		status = RunCancelled
	case stalled:
		st.cancelRemaining("run stalled")
		status = RunStalled
		if s.planStalls != nil {
			s.planStalls.Add(ctx, 1)
		}
	default:
		if _, failed, cancelledNodes := st.counts(); failed > 0 || cancelledNodes > 0 {
			status = RunFailed
		}
	}

	duration := time.Since(start)
	stats := buildStats(st, st.rounds(s.config.MaxConcurrency), duration)
	if s.planLatency != nil {
		s.planLatency.Record(ctx, duration.Seconds())
	}
	if status != RunCompleted {
		span.SetStatus(codes.Error, string(status))
	}

	emitter.Emit(events.TypeRunCompleted, events.RunCompletedData{
		PlanID:    p.ID,
		Succeeded: stats.Succeeded,
		Failed:    stats.Failed,
		Cancelled: stats.Cancelled,
		Stalled:   status == RunStalled,
	})
	s.logger.Info("plan run finished",
		slog.String("plan_id", p.ID),
		slog.String("status", string(status)),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
		slog.Int("cancelled", stats.Cancelled),
		slog.Int("retries", stats.Retries),
		slog.Duration("duration", duration),
	)

	return &RunResult{
		PlanID:  p.ID,
		Status:  status,
		Results: st.results,
		Stats:   stats,
	}, nil
}

// dispatch launches every ready node a semaphore slot is available for,
// within the run's launch budget.
//
// A ready node with unresolved variable references is held back while the
// referenced task may still produce the output, and failed permanently once
// it cannot.
func (s *Scheduler) dispatch(ctx context.Context, st *runState, resolver *variables.Resolver, sem *semaphore.Weighted, outcomeCh chan<- outcome, done <-chan struct{}, emitter *events.Emitter) {
	for _, node := range st.readyNodes() {
		if st.launches >= st.maxLaunches {
			// Launch budget exhausted. The remaining ready nodes are
			// left in place; once in-flight work drains the coordinator
			// declares the run stalled.
			return
		}

		if ref, terminal := s.blockedVariable(st, resolver, node); ref != "" {
			if !terminal {
				continue
			}
			msg := fmt.Sprintf("%s: %s will never resolve", ErrMissingVariable, ref)
			s.failPermanently(ctx, st, node, plan.FailureResult(node.ID, msg, 0, st.retries[node.ID]), emitter)
			continue
		}

		if !sem.TryAcquire(1) {
			// Cap reached; the node stays ready and is retried on the
			// next coordinator pass, after an outcome frees a slot.
			return
		}

		attempt := st.retries[node.ID]
		inputs := resolver.ResolveInputs(node)
		st.status[node.ID] = plan.StatusRunning
		st.running++
		st.launches++

		emitter.Emit(events.TypeTaskStarted, events.TaskStartedData{
			TaskID:  node.ID,
			Attempt: attempt,
		})
		s.logger.Debug("node dispatched",
			slog.String("task_id", node.ID),
			slog.String("tool", node.Tool),
			slog.Int("attempt", attempt),
		)

		go s.work(ctx, *node, inputs, attempt, sem, outcomeCh, done)
	}
}

// blockedVariable returns the first variable reference that blocks dispatch.
//
// Outputs:
//
//	string - The blocking reference, empty when the node may dispatch.
//	bool - True when the reference can never resolve (the mapped task is
//	       terminal or unknown), false when it may still appear.
func (s *Scheduler) blockedVariable(st *runState, resolver *variables.Resolver, node *plan.TaskNode) (string, bool) {
	for _, ref := range resolver.Unresolved(node) {
		target, mapped := resolver.MappingTarget(ref)
		if !mapped {
			return ref, true
		}
		targetStatus, known := st.status[target]
		if !known || targetStatus.IsTerminal() {
			return ref, true
		}
		return ref, false
	}
	return "", false
}

// work is the worker goroutine body. It owns no shared state: it invokes
// the tool, releases its semaphore slot, and reports the outcome.
func (s *Scheduler) work(ctx context.Context, node plan.TaskNode, inputs map[string]any, attempt int, sem *semaphore.Weighted, outcomeCh chan<- outcome, done <-chan struct{}) {
	ctx, span := tracer.Start(ctx, "scheduler.node",
		trace.WithAttributes(
			attribute.String("node.id", node.ID),
			attribute.String("node.tool", node.Tool),
			attribute.Int("node.attempt", attempt),
		),
	)
	defer span.End()

	if s.activeNodes != nil {
		s.activeNodes.Add(ctx, 1)
		defer s.activeNodes.Add(ctx, -1)
	}

	start := time.Now()
	var result plan.ExecutionResult
	if node.IsReasoning() {
		result = plan.SuccessResult(node.ID, map[string]any{
			"reasoning": node.Description,
			"name":      node.Name,
		}, time.Since(start))
	} else {
		out, err := s.invoker.Invoke(ctx, node.Tool, inputs, s.config.TaskTimeout)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			result = plan.FailureResult(node.ID, err.Error(), time.Since(start), attempt)
		} else {
			result = plan.SuccessResult(node.ID, out, time.Since(start))
		}
	}
	result.RetryCount = attempt

	if s.nodeLatency != nil {
		s.nodeLatency.Record(ctx, result.Duration.Seconds(),
			metricAttrs(node.Tool, result.IsSuccess()),
		)
	}

	sem.Release(1)
	select {
	case outcomeCh <- outcome{id: node.ID, result: result}:
	case <-done:
	}
}

// handleOutcome applies one worker report to the run state.
func (s *Scheduler) handleOutcome(ctx context.Context, st *runState, resolver *variables.Resolver, out outcome, retryCh chan<- string, done <-chan struct{}, emitter *events.Emitter) {
	st.running--
	node, ok := st.plan.Node(out.id)
	if !ok {
		return
	}

	if out.result.IsSuccess() {
		st.status[out.id] = plan.StatusCompleted
		st.results[out.id] = out.result
		resolver.AddResult(out.result)
		if s.nodeSuccess != nil {
			s.nodeSuccess.Add(ctx, 1)
		}
		emitter.Emit(events.TypeTaskCompleted, events.TaskCompletedData{Result: out.result})

		for _, dep := range st.plan.DependentsOf(out.id) {
			if st.status[dep] == plan.StatusPending && st.dependenciesCompleted(dep) {
				emitter.Emit(events.TypeDependencySatisfied, events.DependencySatisfiedData{
					TaskID:       dep,
					DependencyID: out.id,
				})
			}
		}
		return
	}

	retryCount := st.retries[out.id]
	category, strategy := s.classifier.Classify(recovery.FailureContext{
		Message:    out.result.Error,
		Tool:       node.Tool,
		RetryCount: retryCount,
	})

	if recovery.ShouldRetry(strategy, retryCount, node.MaxRetries) {
		if delay, retryable := strategy.RetryDelay(retryCount); retryable {
			st.retries[out.id]++
			st.totalRetries++
			st.retryWait++
			st.status[out.id] = plan.StatusRetrying
			if s.nodeRetries != nil {
				s.nodeRetries.Add(ctx, 1)
			}
			emitter.Emit(events.TypeTaskFailed, events.TaskFailedData{
				TaskID:     out.id,
				Error:      out.result.Error,
				RetryCount: st.retries[out.id],
				WillRetry:  true,
			})
			s.logger.Warn("node failed, retrying",
				slog.String("task_id", out.id),
				slog.String("category", string(category)),
				slog.Int("retry", st.retries[out.id]),
				slog.Duration("delay", delay),
			)

			id := out.id
			timer := time.AfterFunc(delay, func() {
				select {
				case retryCh <- id:
				case <-done:
				}
			})
			st.timers = append(st.timers, timer)
			return
		}
	}

	s.logger.Warn("node failed permanently",
		slog.String("task_id", out.id),
		slog.String("category", string(category)),
		slog.String("error", out.result.Error),
		slog.Int("retries", retryCount),
	)
	s.failPermanently(ctx, st, node, out.result, emitter)
}

// failPermanently records a terminal failure and cancels dependents.
func (s *Scheduler) failPermanently(ctx context.Context, st *runState, node *plan.TaskNode, result plan.ExecutionResult, emitter *events.Emitter) {
	st.status[node.ID] = plan.StatusFailed
	st.results[node.ID] = result
	if s.nodeFailure != nil {
		s.nodeFailure.Add(ctx, 1)
	}
	emitter.Emit(events.TypeTaskFailed, events.TaskFailedData{
		TaskID:     node.ID,
		Error:      result.Error,
		RetryCount: result.RetryCount,
		WillRetry:  false,
	})

	reason := "upstream dependency failed: " + node.ID
	for _, id := range st.cascadeCancel(node.ID, reason) {
		s.logger.Debug("node cancelled",
			slog.String("task_id", id),
			slog.String("reason", reason),
		)
	}
}
