// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package flow is the task orchestration service: it admits plans, runs
// them through the scheduler, loops through replanning when runs fail, and
// exposes the HTTP and websocket surface.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
	"github.com/AleutianAI/AleutianFlow/services/flow/planner"
	"github.com/AleutianAI/AleutianFlow/services/flow/recovery"
	"github.com/AleutianAI/AleutianFlow/services/flow/replan"
	"github.com/AleutianAI/AleutianFlow/services/flow/scheduler"
	storage "github.com/AleutianAI/AleutianFlow/services/flow/storage/badger"
	"github.com/AleutianAI/AleutianFlow/services/flow/tools"
)

var tracer = otel.Tracer("aleutian.flow")

// Service orchestrates plan runs end to end.
//
// Description:
//
//	Service owns the long-lived shared resources: the tool registry, the
//	failure classifier with its compiled-pattern cache, the replanner,
//	and the repository. Each submitted plan gets its own run handle,
//	event emitter, and cancellation scope.
//
// Thread Safety:
//
//	Service is safe for concurrent use. The run table is guarded by a
//	RWMutex; per-run state is guarded by the handle's own lock.
type Service struct {
	config     Config
	registry   *tools.Registry
	classifier *recovery.Classifier
	scheduler  *scheduler.Scheduler
	replanner  *replan.Replanner
	joiner     *replan.Joiner
	planner    planner.Planner
	repo       storage.Repository
	logger     *slog.Logger

	stopRulesWatch func()

	mu   sync.RWMutex
	runs map[string]*runHandle
}

// Option configures a Service.
type Option func(*Service)

// WithPlanner sets the external planner for planner-assisted replanning.
func WithPlanner(p planner.Planner) Option {
	return func(s *Service) { s.planner = p }
}

// WithRepository sets the persistence backend.
func WithRepository(repo storage.Repository) Option {
	return func(s *Service) { s.repo = repo }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates the orchestration service.
//
// Inputs:
//
//	cfg - Validated configuration.
//	registry - Tool registry the scheduler dispatches against.
//	solver - Optional final-answer phrasing. May be nil.
//	opts - Optional collaborators.
//
// Outputs:
//
//	*Service - The configured service.
//	error - Non-nil if a component cannot be built.
func NewService(cfg Config, registry *tools.Registry, solver planner.Solver, opts ...Option) (*Service, error) {
	s := &Service{
		config:   cfg,
		registry: registry,
		logger:   slog.Default(),
		runs:     make(map[string]*runHandle),
	}
	for _, opt := range opts {
		opt(s)
	}

	rules := recovery.DefaultRules()
	if cfg.RulesFile != "" {
		loaded, err := recovery.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("loading classifier rules: %w", err)
		}
		rules = loaded
	}
	s.classifier = recovery.NewClassifierWithRules(rules, s.logger)
	if cfg.RulesFile != "" {
		stop, err := recovery.WatchRules(cfg.RulesFile, s.classifier, s.logger)
		if err != nil {
			s.logger.Warn("classifier rules not hot-reloadable",
				slog.String("path", cfg.RulesFile),
				slog.String("error", err.Error()),
			)
		} else {
			s.stopRulesWatch = stop
		}
	}

	sched, err := scheduler.New(registry, s.classifier, scheduler.Config{
		MaxConcurrency: cfg.MaxConcurrency,
		TaskTimeout:    cfg.TaskTimeout,
		MaxIterations:  cfg.MaxIterations,
	}, s.logger)
	if err != nil {
		return nil, err
	}
	s.scheduler = sched

	s.replanner = replan.New(s.planner, replan.Config{
		ReplanThreshold: cfg.ReplanThreshold,
	}, s.logger)
	s.joiner = replan.NewJoiner(solver, cfg.MaxReplanningIterations, s.logger)

	return s, nil
}

// Close stops background work and releases the repository.
func (s *Service) Close() error {
	if s.stopRulesWatch != nil {
		s.stopRulesWatch()
	}
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// SubmitPlan admits a plan and starts a run.
//
// Description:
//
//	Validation happens synchronously: a cyclic or malformed plan is
//	rejected here, before any node runs. The run itself proceeds in the
//	background; its lifetime is detached from the submitting request.
//
// Outputs:
//
//	string - The run id.
//	error - Non-nil if the plan fails admission.
func (s *Service) SubmitPlan(ctx context.Context, task string, p plan.ExecutionPlan) (string, error) {
	ctx, span := tracer.Start(ctx, "flow.SubmitPlan")
	defer span.End()

	s.admitDefaults(&p)
	if err := p.Validate(); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidPlan, err)
	}

	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	handle := newRunHandle(runID, cancel, events.NewEmitter(runID))
	handle.setPlan(&p)

	s.mu.Lock()
	s.runs[runID] = handle
	s.mu.Unlock()

	s.savePlan(runCtx, &p)
	s.logger.Info("plan submitted",
		slog.String("run_id", runID),
		slog.String("plan_id", p.ID),
		slog.Int("nodes", p.NodeCount()),
	)

	go s.orchestrate(runCtx, handle, &p, task)
	return runID, nil
}

// GetStatus reports a run's current state.
func (s *Service) GetStatus(runID string) (RunStatusResponse, error) {
	handle, ok := s.run(runID)
	if !ok {
		return RunStatusResponse{}, ErrRunNotFound
	}
	return handle.snapshot(), nil
}

// ListRuns reports every known run, newest first not guaranteed.
func (s *Service) ListRuns() []RunStatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunStatusResponse, 0, len(s.runs))
	for _, h := range s.runs {
		out = append(out, h.snapshot())
	}
	return out
}

// Cancel stops a running run. Remaining nodes are marked cancelled.
func (s *Service) Cancel(runID string) error {
	handle, ok := s.run(runID)
	if !ok {
		return ErrRunNotFound
	}
	if handle.finished() {
		return ErrRunFinished
	}
	handle.cancel()
	s.logger.Info("run cancelled", slog.String("run_id", runID))
	return nil
}

// Events returns a run's event emitter for subscription and replay.
func (s *Service) Events(runID string) (*events.Emitter, error) {
	handle, ok := s.run(runID)
	if !ok {
		return nil, ErrRunNotFound
	}
	return handle.emitter, nil
}

func (s *Service) run(runID string) (*runHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.runs[runID]
	return h, ok
}

// admitDefaults fills the submitted plan's optional fields.
func (s *Service) admitDefaults(p *plan.ExecutionPlan) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Version == 0 {
		p.Version = 1
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.DependencyGraph == nil {
		p.DependencyGraph = make(map[string][]string, len(p.Nodes))
		for _, n := range p.Nodes {
			p.DependencyGraph[n.ID] = append([]string(nil), n.Dependencies...)
		}
	}
	for i := range p.Nodes {
		n := &p.Nodes[i]
		if n.Status == "" {
			n.Status = plan.StatusPending
		}
		if n.MaxRetries == 0 && !n.IsReasoning() {
			n.MaxRetries = s.config.MaxTaskRetries
		}
	}
}

// orchestrate is the per-run loop: execute, join, maybe replan, repeat.
func (s *Service) orchestrate(ctx context.Context, handle *runHandle, p *plan.ExecutionPlan, task string) {
	current := p
	rounds := 0

	for {
		run, err := s.scheduler.Run(ctx, current, handle.emitter)
		if err != nil {
			// Admission failures cannot happen here for the submitted
			// plan, only for an accepted replan with carried-over state.
			s.logger.Error("run aborted",
				slog.String("run_id", handle.id),
				slog.String("error", err.Error()),
			)
			handle.finish("failed", "", scheduler.ExecutionStats{})
			s.persistRun(ctx, handle, nil)
			return
		}

		handle.syncRun(run)
		s.persistRun(ctx, handle, run)

		decision := s.joiner.Decide(ctx, task, run, rounds)

		if run.Status == scheduler.RunCancelled {
			handle.finish("cancelled", "", run.Stats)
			s.persistRun(ctx, handle, run)
			return
		}

		failedOrStalled := run.Status == scheduler.RunFailed || run.Status == scheduler.RunStalled
		trigger := (failedOrStalled && s.config.AutoReplanEnabled) ||
			(decision.Kind == replan.DecisionContinue && decision.Confidence < s.config.JoinerThreshold)

		if !s.config.EnableReplanning || !trigger || rounds >= s.config.MaxReplanningIterations {
			handle.finish(finalState(run.Status), answerOf(decision), run.Stats)
			s.persistRun(ctx, handle, run)
			return
		}

		result := s.buildReplacement(ctx, current, task, run.FailedNodes())
		if !result.Accepted {
			s.logger.Warn("replan rejected, finishing run",
				slog.String("run_id", handle.id),
				slog.String("reason", result.Reason),
			)
			handle.finish(finalState(run.Status), answerOf(decision), run.Stats)
			s.persistRun(ctx, handle, run)
			return
		}

		handle.emitter.Emit(events.TypePlanReplanned, events.PlanReplannedData{
			OldPlanID: current.ID,
			NewPlanID: result.NewPlan.ID,
			Reason:    result.Reason,
		})
		s.logger.Info("plan replanned",
			slog.String("run_id", handle.id),
			slog.String("old_plan_id", current.ID),
			slog.String("new_plan_id", result.NewPlan.ID),
			slog.String("reason", result.Reason),
		)

		rounds++
		current = result.NewPlan
		handle.advancePlan(current, rounds)
		s.savePlan(ctx, current)
	}
}

// buildReplacement prefers the planner-assisted mode, falling back to
// rule-based when no planner is configured or the call fails.
func (s *Service) buildReplacement(ctx context.Context, current *plan.ExecutionPlan, task string, failedIDs []string) replan.Result {
	if s.planner != nil {
		result, err := s.replanner.WithPlanner(ctx, current, planner.TaskRequest{
			Name:         task,
			AllowedTools: s.registry.Names(),
		}, failedIDs)
		if err == nil {
			return result
		}
		s.logger.Warn("planner-assisted replan failed, falling back to rule-based",
			slog.String("error", err.Error()),
		)
	}
	return s.replanner.RuleBased(current, failedIDs)
}

// savePlan persists a plan best-effort. A repository failure never affects
// the in-memory run.
func (s *Service) savePlan(ctx context.Context, p *plan.ExecutionPlan) {
	if s.repo == nil {
		return
	}
	if err := s.repo.SavePlan(ctx, p); err != nil {
		s.logger.Warn("plan not persisted",
			slog.String("plan_id", p.ID),
			slog.String("error", err.Error()),
		)
	}
}

// persistRun persists the run record best-effort.
func (s *Service) persistRun(ctx context.Context, handle *runHandle, run *scheduler.RunResult) {
	if s.repo == nil {
		return
	}
	rec := handle.record(run)
	if err := s.repo.SaveRun(ctx, rec); err != nil {
		s.logger.Warn("run not persisted",
			slog.String("run_id", handle.id),
			slog.String("error", err.Error()),
		)
	}
}

func finalState(status scheduler.RunStatus) string {
	switch status {
	case scheduler.RunCompleted:
		return "completed"
	case scheduler.RunStalled:
		return "stalled"
	case scheduler.RunCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

func answerOf(decision replan.Decision) string {
	if decision.FinalAnswer != "" {
		return decision.FinalAnswer
	}
	return decision.Feedback
}
