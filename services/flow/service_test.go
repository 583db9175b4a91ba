// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package flow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
	storage "github.com/AleutianAI/AleutianFlow/services/flow/storage/badger"
	"github.com/AleutianAI/AleutianFlow/services/flow/tools"
)

// testRegistry returns a registry with an echo tool, a failing tool, and a
// tool that blocks until its context is cancelled.
func testRegistry() *tools.Registry {
	r := tools.NewRegistry()
	r.Register(tools.NewFuncTool("echo", "returns its arguments", func(_ context.Context, args map[string]any) (map[string]any, error) {
		out := make(map[string]any, len(args))
		for k, v := range args {
			out[k] = v
		}
		return out, nil
	}))
	r.Register(tools.NewFuncTool("broken", "always fails", func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("tool exploded")
	}))
	r.Register(tools.NewFuncTool("hang", "blocks until cancelled", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	return r
}

func testService(t *testing.T, cfg Config, opts ...Option) *Service {
	t.Helper()
	svc, err := NewService(cfg, testRegistry(), nil, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	t.Cleanup(func() {
		if err := svc.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return svc
}

// waitFinished polls until the run leaves the running state.
func waitFinished(t *testing.T, svc *Service, runID string) RunStatusResponse {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := svc.GetStatus(runID)
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if status.State != "running" {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
	return RunStatusResponse{}
}

func chainPlan(tool string) plan.ExecutionPlan {
	p := plan.New("collect and report")
	a := plan.NewTaskNode("a", "collect data", tool, map[string]any{"k": "v"})
	a.Description = "collects the data"
	b := plan.NewTaskNode("b", "report results", tool, nil)
	b.Description = "reports on the collected data"
	b.Dependencies = []string{"a"}
	p.AddNode(a).AddNode(b)
	return *p
}

func TestSubmitPlan_RunsToCompletion(t *testing.T) {
	svc := testService(t, DefaultConfig())

	runID, err := svc.SubmitPlan(context.Background(), "collect and report", chainPlan("echo"))
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}

	status := waitFinished(t, svc, runID)
	if status.State != "completed" {
		t.Fatalf("state = %s, want completed", status.State)
	}
	if status.Progress != 1.0 {
		t.Errorf("progress = %f, want 1.0", status.Progress)
	}
	for id, st := range status.NodeStatuses {
		if st != plan.StatusCompleted {
			t.Errorf("node %s = %s, want completed", id, st)
		}
	}
	if status.Stats.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", status.Stats.Succeeded)
	}
	if status.FinalAnswer == "" {
		t.Error("completed run should carry a final answer")
	}
}

func TestSubmitPlan_RejectsCyclicPlan(t *testing.T) {
	svc := testService(t, DefaultConfig())

	p := chainPlan("echo")
	p.Nodes[0].Dependencies = []string{"b"}
	p.DependencyGraph = nil

	_, err := svc.SubmitPlan(context.Background(), "task", p)
	if !errors.Is(err, ErrInvalidPlan) {
		t.Errorf("expected ErrInvalidPlan, got: %v", err)
	}
}

func TestAdmitDefaults(t *testing.T) {
	svc := testService(t, DefaultConfig())

	p := plan.ExecutionPlan{
		Nodes: []plan.TaskNode{
			{ID: "a", Name: "work", Tool: "echo"},
			{ID: "r", Name: "reason", Description: "Summarize"},
		},
	}
	svc.admitDefaults(&p)

	if p.ID == "" {
		t.Error("plan id not assigned")
	}
	if p.Version != 1 {
		t.Errorf("version = %d, want 1", p.Version)
	}
	if p.CreatedAt.IsZero() {
		t.Error("created_at not stamped")
	}
	if p.DependencyGraph == nil {
		t.Error("dependency graph not derived")
	}
	if p.Nodes[0].Status != plan.StatusPending {
		t.Errorf("node status = %s, want pending", p.Nodes[0].Status)
	}
	if p.Nodes[0].MaxRetries != svc.config.MaxTaskRetries {
		t.Errorf("tool node max retries = %d, want %d", p.Nodes[0].MaxRetries, svc.config.MaxTaskRetries)
	}
	if p.Nodes[1].MaxRetries != 0 {
		t.Error("reasoning node should not get a retry budget")
	}
}

func TestGetStatus_UnknownRun(t *testing.T) {
	svc := testService(t, DefaultConfig())

	if _, err := svc.GetStatus("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got: %v", err)
	}
}

func TestCancelRun(t *testing.T) {
	svc := testService(t, DefaultConfig())

	runID, err := svc.SubmitPlan(context.Background(), "task", chainPlan("hang"))
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}

	// Give the scheduler a moment to dispatch before cancelling.
	time.Sleep(50 * time.Millisecond)
	if err := svc.Cancel(runID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	status := waitFinished(t, svc, runID)
	if status.State != "cancelled" {
		t.Errorf("state = %s, want cancelled", status.State)
	}

	if err := svc.Cancel(runID); !errors.Is(err, ErrRunFinished) {
		t.Errorf("second cancel: expected ErrRunFinished, got: %v", err)
	}
}

func TestCancel_UnknownRun(t *testing.T) {
	svc := testService(t, DefaultConfig())

	if err := svc.Cancel("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got: %v", err)
	}
}

func TestReplanning_RecoversFromFailedRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTaskRetries = 0
	svc := testService(t, cfg)

	p := plan.New("fragile work")
	n := plan.NewTaskNode("a", "do fragile work", "broken", nil)
	n.Description = "the step that always fails"
	p.AddNode(n)

	runID, err := svc.SubmitPlan(context.Background(), "fragile work", *p)
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}

	status := waitFinished(t, svc, runID)
	if status.State != "completed" {
		t.Fatalf("state = %s, want completed via the recovery plan", status.State)
	}
	if status.ReplanRounds != 1 {
		t.Errorf("replan rounds = %d, want 1", status.ReplanRounds)
	}
	if status.PlanID == p.ID {
		t.Error("status should report the replacement plan")
	}
}

func TestReplanning_Disabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnableReplanning = false
	cfg.MaxTaskRetries = 0
	svc := testService(t, cfg)

	p := plan.New("fragile work")
	n := plan.NewTaskNode("a", "do fragile work", "broken", nil)
	n.Description = "the step that always fails"
	p.AddNode(n)

	runID, err := svc.SubmitPlan(context.Background(), "fragile work", *p)
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}

	status := waitFinished(t, svc, runID)
	if status.State != "failed" {
		t.Errorf("state = %s, want failed with replanning off", status.State)
	}
	if status.ReplanRounds != 0 {
		t.Errorf("replan rounds = %d, want 0", status.ReplanRounds)
	}
}

func TestListRuns(t *testing.T) {
	svc := testService(t, DefaultConfig())

	for i := 0; i < 2; i++ {
		if _, err := svc.SubmitPlan(context.Background(), "task", chainPlan("echo")); err != nil {
			t.Fatalf("SubmitPlan: %v", err)
		}
	}

	if got := len(svc.ListRuns()); got != 2 {
		t.Errorf("listed %d runs, want 2", got)
	}
}

func TestEvents_ReplayAfterCompletion(t *testing.T) {
	svc := testService(t, DefaultConfig())

	runID, err := svc.SubmitPlan(context.Background(), "task", chainPlan("echo"))
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}
	waitFinished(t, svc, runID)

	emitter, err := svc.Events(runID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(emitter.Recent()) == 0 {
		t.Error("finished run should have a replayable event history")
	}

	if _, err := svc.Events("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got: %v", err)
	}
}

func TestPersistence_RunRecordSaved(t *testing.T) {
	store, err := storage.NewStore(storage.InMemoryConfig())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	svc := testService(t, DefaultConfig(), WithRepository(store))

	submitted := chainPlan("echo")
	runID, err := svc.SubmitPlan(context.Background(), "task", submitted)
	if err != nil {
		t.Fatalf("SubmitPlan: %v", err)
	}
	waitFinished(t, svc, runID)

	// The terminal persist happens right before orchestrate returns.
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, err := store.LoadRun(context.Background(), runID)
		if err == nil && rec.Status == "completed" {
			if rec.Stats.Succeeded != 2 {
				t.Errorf("persisted succeeded = %d, want 2", rec.Stats.Succeeded)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run record not persisted: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	loaded, err := store.LoadPlan(context.Background(), submitted.ID)
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if loaded.Name != submitted.Name {
		t.Errorf("persisted plan name = %q", loaded.Name)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MaxConcurrency != 10 || cfg.TaskTimeout != 300*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if !cfg.EnableReplanning || !cfg.AutoReplanEnabled {
		t.Error("replanning should default on")
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	content := "max_concurrency: 4\ntask_timeout: 45s\nenable_replanning: false\ndata_dir: /tmp/flow-data\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.MaxConcurrency != 4 {
		t.Errorf("max_concurrency = %d, want 4", cfg.MaxConcurrency)
	}
	if cfg.TaskTimeout != 45*time.Second {
		t.Errorf("task_timeout = %s, want 45s", cfg.TaskTimeout)
	}
	if cfg.EnableReplanning {
		t.Error("enable_replanning should be overridden to false")
	}
	if cfg.DataDir != "/tmp/flow-data" {
		t.Errorf("data_dir = %s", cfg.DataDir)
	}
	// Untouched fields keep their defaults.
	if cfg.MaxTaskRetries != 3 || cfg.ListenAddr != ":8084" {
		t.Errorf("defaults not preserved: %+v", cfg)
	}
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.yaml")
	if err := os.WriteFile(path, []byte("task_timeout: soon\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil || !strings.Contains(err.Error(), "task_timeout") {
		t.Errorf("expected a task_timeout parse error, got: %v", err)
	}
}

func TestConfig_ValidateBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrency = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("unexpected error: %v", err)
	}
}
