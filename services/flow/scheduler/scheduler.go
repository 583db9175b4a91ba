// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler executes validated plans with bounded parallelism,
// classified retries, and failure propagation.
//
// The design is coordinator/worker: a single coordinator goroutine owns all
// mutable run state (status tables, retry counters, results) and workers
// report outcomes over a channel. Workers never touch shared state, so the
// run state needs no locks.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianFlow/services/flow/recovery"
	"github.com/AleutianAI/AleutianFlow/services/flow/tools"
)

var (
	tracer = otel.Tracer("aleutian.flow.scheduler")
	meter  = otel.Meter("aleutian.flow.scheduler")
)

// Config bounds a plan run.
type Config struct {
	// MaxConcurrency caps how many nodes run at once.
	MaxConcurrency int

	// TaskTimeout bounds a single node attempt.
	TaskTimeout time.Duration

	// MaxIterations caps scheduling rounds before the run is declared
	// stalled. One round is a dispatch wave of up to MaxConcurrency node
	// starts, so the cap bounds total launches (retries included) at
	// MaxIterations * MaxConcurrency, not the number of coordinator
	// wakeups.
	MaxIterations int
}

// DefaultConfig returns the standard run bounds.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		TaskTimeout:    300 * time.Second,
		MaxIterations:  10,
	}
}

// normalize fills zero values with defaults.
func (c Config) normalize() Config {
	def := DefaultConfig()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = def.MaxConcurrency
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = def.TaskTimeout
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = def.MaxIterations
	}
	return c
}

// Scheduler runs execution plans.
//
// Description:
//
//	Scheduler is the engine's core: it walks a plan's dependency graph,
//	dispatches ready nodes to workers under a concurrency cap, retries
//	classified-retryable failures with computed delays, and cancels the
//	transitive dependents of permanent failures.
//
// Thread Safety:
//
//	Scheduler is safe for concurrent use. Multiple plan runs can execute
//	concurrently on the same Scheduler; each run owns its own state.
type Scheduler struct {
	invoker    tools.Invoker
	classifier *recovery.Classifier
	config     Config
	logger     *slog.Logger

	// Metrics (initialized lazily)
	metricsOnce  sync.Once
	nodeLatency  metric.Float64Histogram
	nodeSuccess  metric.Int64Counter
	nodeFailure  metric.Int64Counter
	nodeRetries  metric.Int64Counter
	activeNodes  metric.Int64UpDownCounter
	planLatency  metric.Float64Histogram
	planStalls   metric.Int64Counter
}

// New creates a scheduler.
//
// Inputs:
//
//	invoker - Tool dispatch. Must not be nil.
//	classifier - Failure classifier. If nil, uses the default rule set.
//	config - Run bounds. Zero values take defaults.
//	logger - Logger for run logs. If nil, uses slog.Default().
//
// Outputs:
//
//	*Scheduler - The configured scheduler.
//	error - Non-nil if invoker is nil.
func New(invoker tools.Invoker, classifier *recovery.Classifier, config Config, logger *slog.Logger) (*Scheduler, error) {
	if invoker == nil {
		return nil, ErrNilInvoker
	}
	if logger == nil {
		logger = slog.Default()
	}
	if classifier == nil {
		classifier = recovery.NewClassifier(logger)
	}

	return &Scheduler{
		invoker:    invoker,
		classifier: classifier,
		config:     config.normalize(),
		logger:     logger,
	}, nil
}

// initMetrics lazily initializes metrics.
// Logs errors if metric creation fails but continues execution (graceful degradation).
func (s *Scheduler) initMetrics() {
	s.metricsOnce.Do(func() {
		var initErrors []string

		var err error
		s.nodeLatency, err = meter.Float64Histogram("flow_node_duration_seconds",
			metric.WithDescription("Time spent executing each plan node"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_latency: "+err.Error())
		}

		s.nodeSuccess, err = meter.Int64Counter("flow_node_success_total",
			metric.WithDescription("Number of successful node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_success: "+err.Error())
		}

		s.nodeFailure, err = meter.Int64Counter("flow_node_failure_total",
			metric.WithDescription("Number of permanently failed node executions"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_failure: "+err.Error())
		}

		s.nodeRetries, err = meter.Int64Counter("flow_node_retry_total",
			metric.WithDescription("Number of node retry attempts"),
		)
		if err != nil {
			initErrors = append(initErrors, "node_retries: "+err.Error())
		}

		s.activeNodes, err = meter.Int64UpDownCounter("flow_active_nodes",
			metric.WithDescription("Number of currently executing nodes"),
		)
		if err != nil {
			initErrors = append(initErrors, "active_nodes: "+err.Error())
		}

		s.planLatency, err = meter.Float64Histogram("flow_plan_duration_seconds",
			metric.WithDescription("Total plan execution time"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "plan_latency: "+err.Error())
		}

		s.planStalls, err = meter.Int64Counter("flow_plan_stall_total",
			metric.WithDescription("Number of runs ended by the iteration cap or a scheduling deadlock"),
		)
		if err != nil {
			initErrors = append(initErrors, "plan_stalls: "+err.Error())
		}

		if len(initErrors) > 0 {
			s.logger.Error("failed to initialize some scheduler metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// metricAttrs labels per-node measurements.
func metricAttrs(tool string, success bool) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("success", success),
	)
}
