// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianFlow/services/flow"
	"github.com/AleutianAI/AleutianFlow/services/flow/planner"
	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
)

// runPlanFile executes a plan file against the built-in tools and prints
// the final status as JSON.
func runPlanFile(cmd *cobra.Command, args []string) error {
	cfg, err := flow.LoadConfig(configPath)
	if err != nil {
		return err
	}

	p, err := decodePlanFile(args[0])
	if err != nil {
		return err
	}

	task := runTask
	if task == "" {
		task = p.Name
	}

	var opts []flow.Option
	var solver planner.Solver
	if pl, err := planner.NewOpenAIPlanner(slog.Default()); err == nil {
		solver = pl
		opts = append(opts, flow.WithPlanner(pl))
	}

	svc, err := flow.NewService(cfg, builtinRegistry(), solver, opts...)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	defer svc.Close()

	runID, err := svc.SubmitPlan(context.Background(), task, *p)
	if err != nil {
		return fmt.Errorf("plan rejected: %w", err)
	}
	slog.Info("Run started", "run_id", runID, "plan_id", p.ID, "nodes", len(p.Nodes))

	status := waitForRun(svc, runID)

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	fmt.Println(string(out))

	if status.State != "completed" {
		return fmt.Errorf("run finished with state %q", status.State)
	}
	return nil
}

// waitForRun polls until the run reaches a terminal state.
func waitForRun(svc *flow.Service, runID string) flow.RunStatusResponse {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		status, err := svc.GetStatus(runID)
		if err != nil {
			slog.Error("Run vanished while polling", "run_id", runID, "error", err)
			return flow.RunStatusResponse{RunID: runID, State: "failed"}
		}
		if status.State != "running" {
			return status
		}
	}
	return flow.RunStatusResponse{RunID: runID, State: "failed"}
}

// decodePlanFile reads a plan from a YAML or JSON file.
//
// YAML goes through a JSON round trip so both formats share the plan
// struct's json tags.
func decodePlanFile(path string) (*plan.ExecutionPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing plan yaml: %w", err)
		}
		data, err = json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("converting plan yaml: %w", err)
		}
	}

	var p plan.ExecutionPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	return &p, nil
}
