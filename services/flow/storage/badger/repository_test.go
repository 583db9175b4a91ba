// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
	"github.com/AleutianAI/AleutianFlow/services/flow/scheduler"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(InMemoryConfig())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestStore_PlanRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	p := plan.New("survey")
	p.AddNode(plan.NewTaskNode("a", "scan hosts", "scanner", map[string]any{"subnet": "10.0.0.0/24"}))
	p.VariableMappings["$hosts"] = "a.outputs.hosts"

	if err := store.SavePlan(ctx, p); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}

	loaded, err := store.LoadPlan(ctx, p.ID)
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if loaded.ID != p.ID || loaded.Name != "survey" {
		t.Errorf("loaded plan = %s/%s", loaded.ID, loaded.Name)
	}
	if len(loaded.Nodes) != 1 || loaded.Nodes[0].Inputs["subnet"] != "10.0.0.0/24" {
		t.Errorf("node inputs not preserved: %+v", loaded.Nodes)
	}
	if loaded.VariableMappings["$hosts"] != "a.outputs.hosts" {
		t.Error("variable mappings not preserved")
	}
}

func TestStore_LoadPlanNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.LoadPlan(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestStore_RunRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	rec := &RunRecord{
		ID:     "run-1",
		PlanID: "plan-1",
		Status: "completed",
		Results: map[string]plan.ExecutionResult{
			"a": plan.SuccessResult("a", map[string]any{"out": "v"}, 10*time.Millisecond),
		},
		Stats:        scheduler.ExecutionStats{TotalNodes: 1, Succeeded: 1},
		ReplanRounds: 2,
		FinalAnswer:  "done",
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("SaveRun should stamp UpdatedAt")
	}

	loaded, err := store.LoadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if loaded.Status != "completed" || loaded.ReplanRounds != 2 || loaded.FinalAnswer != "done" {
		t.Errorf("loaded record = %+v", loaded)
	}
	if loaded.Results["a"].Outputs["out"] != "v" {
		t.Error("node results not preserved")
	}
}

func TestStore_LoadRunNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.LoadRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestStore_ListRuns(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"run-1", "run-2", "run-3"} {
		if err := store.SaveRun(ctx, &RunRecord{ID: id, Status: "running"}); err != nil {
			t.Fatalf("SaveRun %s: %v", id, err)
		}
	}
	// A plan under the other prefix must not leak into the listing.
	if err := store.SavePlan(ctx, plan.New("noise")); err != nil {
		t.Fatalf("SavePlan: %v", err)
	}

	records, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("listed %d records, want 3", len(records))
	}
}

func TestStore_SaveRunOverwrites(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.SaveRun(ctx, &RunRecord{ID: "run-1", Status: "running"}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if err := store.SaveRun(ctx, &RunRecord{ID: "run-1", Status: "completed"}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	loaded, err := store.LoadRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if loaded.Status != "completed" {
		t.Errorf("status = %s, want completed", loaded.Status)
	}
}

func TestStore_CancelledContext(t *testing.T) {
	store := testStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.SavePlan(ctx, plan.New("p")); err == nil {
		t.Error("expected an error for a cancelled context")
	}
	if _, err := store.ListRuns(ctx); err == nil {
		t.Error("expected an error for a cancelled context")
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Error("expected an error for a persistent config without a path")
	}
}

func TestOpen_Persistent(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(Config{Path: dir, SyncWrites: false})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
