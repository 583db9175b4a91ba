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
	"sync"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/events"
	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
	"github.com/AleutianAI/AleutianFlow/services/flow/scheduler"
	storage "github.com/AleutianAI/AleutianFlow/services/flow/storage/badger"
)

// runHandle is the service-side view of one run.
//
// Description:
//
//	The handle mirrors scheduler state through the run's event stream:
//	it subscribes to its own emitter and folds task events into a node
//	status table for the status endpoint. After each scheduling round the
//	table is reconciled against the round's terminal results, which also
//	covers cascade-cancelled nodes that emit no events.
//
// Thread Safety: runHandle is safe for concurrent use.
type runHandle struct {
	id      string
	cancel  context.CancelFunc
	emitter *events.Emitter

	mu           sync.RWMutex
	planID       string
	state        string
	nodeStatuses map[string]plan.NodeStatus
	replanRounds int
	finalAnswer  string
	stats        scheduler.ExecutionStats
	createdAt    time.Time
}

func newRunHandle(id string, cancel context.CancelFunc, emitter *events.Emitter) *runHandle {
	h := &runHandle{
		id:           id,
		cancel:       cancel,
		emitter:      emitter,
		state:        "running",
		nodeStatuses: make(map[string]plan.NodeStatus),
		createdAt:    time.Now().UTC(),
	}
	emitter.Subscribe(h.applyEvent,
		events.TypeTaskStarted,
		events.TypeTaskCompleted,
		events.TypeTaskFailed,
	)
	return h
}

// applyEvent folds a task event into the node status table.
func (h *runHandle) applyEvent(event events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch data := event.Data.(type) {
	case events.TaskStartedData:
		h.nodeStatuses[data.TaskID] = plan.StatusRunning
	case events.TaskCompletedData:
		h.nodeStatuses[data.Result.TaskID] = plan.StatusCompleted
	case events.TaskFailedData:
		if data.WillRetry {
			h.nodeStatuses[data.TaskID] = plan.StatusRetrying
		} else {
			h.nodeStatuses[data.TaskID] = plan.StatusFailed
		}
	}
}

// setPlan initializes the status table for a plan's nodes.
func (h *runHandle) setPlan(p *plan.ExecutionPlan) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.planID = p.ID
	h.nodeStatuses = make(map[string]plan.NodeStatus, len(p.Nodes))
	for _, n := range p.Nodes {
		h.nodeStatuses[n.ID] = plan.StatusPending
	}
}

// advancePlan swaps in an accepted replan.
func (h *runHandle) advancePlan(p *plan.ExecutionPlan, rounds int) {
	h.setPlan(p)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replanRounds = rounds
}

// syncRun reconciles the status table with a finished scheduling round.
func (h *runHandle) syncRun(run *scheduler.RunResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, res := range run.Results {
		h.nodeStatuses[id] = res.Status
	}
	h.stats = run.Stats
}

// finish records the run's terminal state.
func (h *runHandle) finish(state, finalAnswer string, stats scheduler.ExecutionStats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
	h.finalAnswer = finalAnswer
	if stats.TotalNodes > 0 {
		h.stats = stats
	}
}

// finished reports whether the run reached a terminal state.
func (h *runHandle) finished() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state != "running"
}

// snapshot builds the status response.
func (h *runHandle) snapshot() RunStatusResponse {
	h.mu.RLock()
	defer h.mu.RUnlock()

	statuses := make(map[string]plan.NodeStatus, len(h.nodeStatuses))
	terminal := 0
	for id, st := range h.nodeStatuses {
		statuses[id] = st
		if st.IsTerminal() {
			terminal++
		}
	}
	progress := 0.0
	if len(statuses) > 0 {
		progress = float64(terminal) / float64(len(statuses))
	}

	return RunStatusResponse{
		RunID:        h.id,
		PlanID:       h.planID,
		State:        h.state,
		Progress:     progress,
		NodeStatuses: statuses,
		ReplanRounds: h.replanRounds,
		FinalAnswer:  h.finalAnswer,
		Stats:        h.stats,
	}
}

// record builds the persisted run record.
func (h *runHandle) record(run *scheduler.RunResult) *storage.RunRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rec := &storage.RunRecord{
		ID:           h.id,
		PlanID:       h.planID,
		Status:       h.state,
		Stats:        h.stats,
		ReplanRounds: h.replanRounds,
		FinalAnswer:  h.finalAnswer,
		CreatedAt:    h.createdAt,
	}
	if run != nil {
		rec.Results = run.Results
	}
	return rec
}
