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
	"time"

	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
)

// ExecutionStats summarizes one plan run for the joiner and the API.
type ExecutionStats struct {
	// TotalNodes is the plan's node count.
	TotalNodes int `json:"total_nodes"`

	// Succeeded is the count of completed nodes.
	Succeeded int `json:"succeeded"`

	// Failed is the count of permanently failed nodes.
	Failed int `json:"failed"`

	// Cancelled is the count of cancelled nodes.
	Cancelled int `json:"cancelled"`

	// Retries is the total retry attempts across all nodes.
	Retries int `json:"retries"`

	// Iterations is the scheduling rounds the run consumed.
	Iterations int `json:"iterations"`

	// Duration is the wall-clock run time.
	Duration time.Duration `json:"duration"`

	// AvgConcurrency is the mean running-worker count over the run.
	AvgConcurrency float64 `json:"avg_concurrency"`

	// SuccessRate is Succeeded over TotalNodes, 0 for an empty plan.
	SuccessRate float64 `json:"success_rate"`

	// AvgNodeDuration is the mean duration of completed nodes.
	AvgNodeDuration time.Duration `json:"avg_node_duration"`
}

// buildStats computes the run summary from terminal state.
func buildStats(st *runState, rounds int, duration time.Duration) ExecutionStats {
	succeeded, failed, cancelled := st.counts()

	stats := ExecutionStats{
		TotalNodes: st.plan.NodeCount(),
		Succeeded:  succeeded,
		Failed:     failed,
		Cancelled:  cancelled,
		Retries:    st.totalRetries,
		Iterations: rounds,
		Duration:   duration,
	}

	if stats.TotalNodes > 0 {
		stats.SuccessRate = float64(succeeded) / float64(stats.TotalNodes)
	}

	if len(st.samples) > 0 {
		sum := 0
		for _, s := range st.samples {
			sum += s
		}
		stats.AvgConcurrency = float64(sum) / float64(len(st.samples))
	}

	var completed time.Duration
	count := 0
	for _, r := range st.results {
		if r.Status == plan.StatusCompleted {
			completed += r.Duration
			count++
		}
	}
	if count > 0 {
		stats.AvgNodeDuration = completed / time.Duration(count)
	}

	return stats
}
