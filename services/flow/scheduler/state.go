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
	"sort"
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
)

// runState is the mutable state of one plan run.
//
// Thread Safety:
//
//	Owned exclusively by the coordinator goroutine. Never locked, never
//	shared. Workers report through the outcome channel only.
type runState struct {
	plan    *plan.ExecutionPlan
	status  map[string]plan.NodeStatus
	retries map[string]int
	results map[string]plan.ExecutionResult

	running   int
	retryWait int

	// launches counts node starts, retries included. maxLaunches is the
	// run's launch budget: MaxIterations rounds of MaxConcurrency starts.
	launches    int
	maxLaunches int

	timers       []*time.Timer
	samples      []int
	totalRetries int
}

func newRunState(p *plan.ExecutionPlan) *runState {
	st := &runState{
		plan:    p,
		status:  make(map[string]plan.NodeStatus, len(p.Nodes)),
		retries: make(map[string]int, len(p.Nodes)),
		results: make(map[string]plan.ExecutionResult, len(p.Nodes)),
	}
	for _, n := range p.Nodes {
		st.status[n.ID] = plan.StatusPending
	}
	return st
}

// promoteReady marks pending nodes whose dependencies are all completed as
// ready.
func (st *runState) promoteReady() {
	for _, n := range st.plan.Nodes {
		if st.status[n.ID] != plan.StatusPending {
			continue
		}
		if st.dependenciesCompleted(n.ID) {
			st.status[n.ID] = plan.StatusReady
		}
	}
}

// dependenciesCompleted reports whether every effective dependency of the
// node finished successfully. Dangling dependency ids count as satisfied.
func (st *runState) dependenciesCompleted(id string) bool {
	for _, dep := range st.plan.DependenciesOf(id) {
		if st.status[dep] != plan.StatusCompleted {
			return false
		}
	}
	return true
}

// readyNodes returns the ready set ordered for dispatch: priority ascending,
// then id for determinism.
func (st *runState) readyNodes() []*plan.TaskNode {
	ready := make([]*plan.TaskNode, 0)
	for i := range st.plan.Nodes {
		n := &st.plan.Nodes[i]
		if st.status[n.ID] == plan.StatusReady {
			ready = append(ready, n)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority < ready[j].Priority
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// rounds converts node launches into scheduling rounds: one round is a
// dispatch wave of up to cap concurrent node starts, so a flat plan of 14
// nodes under cap 3 consumes 5 rounds, not 14.
func (st *runState) rounds(cap int) int {
	if cap <= 0 {
		return st.launches
	}
	return (st.launches + cap - 1) / cap
}

// allTerminal reports whether every node reached a terminal state.
func (st *runState) allTerminal() bool {
	for _, n := range st.plan.Nodes {
		if !st.status[n.ID].IsTerminal() {
			return false
		}
	}
	return true
}

// counts tallies terminal outcomes.
func (st *runState) counts() (succeeded, failed, cancelled int) {
	for _, n := range st.plan.Nodes {
		switch st.status[n.ID] {
		case plan.StatusCompleted:
			succeeded++
		case plan.StatusFailed:
			failed++
		case plan.StatusCancelled:
			cancelled++
		}
	}
	return succeeded, failed, cancelled
}

// cascadeCancel cancels every non-terminal transitive dependent of the
// failed node. Returns the cancelled ids.
func (st *runState) cascadeCancel(failedID, reason string) []string {
	cancelled := make([]string, 0)
	queue := append([]string(nil), st.plan.DependentsOf(failedID)...)
	seen := map[string]bool{failedID: true}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if !st.status[id].IsTerminal() {
			st.status[id] = plan.StatusCancelled
			st.results[id] = plan.CancelResult(id, reason)
			cancelled = append(cancelled, id)
		}
		queue = append(queue, st.plan.DependentsOf(id)...)
	}
	return cancelled
}

// cancelRemaining cancels every node that has not reached a terminal state.
func (st *runState) cancelRemaining(reason string) {
	for _, n := range st.plan.Nodes {
		if !st.status[n.ID].IsTerminal() {
			st.status[n.ID] = plan.StatusCancelled
			st.results[n.ID] = plan.CancelResult(n.ID, reason)
		}
	}
}

// sampleConcurrency records the running-worker count for the efficiency
// metrics.
func (st *runState) sampleConcurrency() {
	st.samples = append(st.samples, st.running)
}

// stopTimers stops outstanding retry timers.
func (st *runState) stopTimers() {
	for _, t := range st.timers {
		t.Stop()
	}
}
