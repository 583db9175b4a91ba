// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plan

import (
	"fmt"
	"sort"
)

// Validate checks the plan for admission to the scheduler.
//
// Description:
//
//	Rejects empty plans and duplicate node ids, then runs Kahn's algorithm
//	over the effective dependency edges. Any node with residual in-degree
//	after all resolvable nodes are removed is part of a cycle, and the
//	plan is rejected with a CycleError. An invalid plan is never partially
//	executed: the scheduler refuses plans that have not passed Validate.
//
// Outputs:
//
//	error - Nil if the plan is admissible. ErrEmptyPlan, a NodeError
//	wrapping ErrDuplicateNode, or a *CycleError otherwise.
func (p *ExecutionPlan) Validate() error {
	if len(p.Nodes) == 0 {
		return ErrEmptyPlan
	}

	seen := make(map[string]struct{}, len(p.Nodes))
	for _, n := range p.Nodes {
		if n.ID == "" {
			return &NodeError{NodeID: n.Name, Err: fmt.Errorf("%w: empty id", ErrInvalidInput)}
		}
		if _, dup := seen[n.ID]; dup {
			return &NodeError{NodeID: n.ID, Err: ErrDuplicateNode}
		}
		seen[n.ID] = struct{}{}
	}

	// Materialize the position index here so post-admission reads never
	// race on a lazy build.
	p.rebuildIndex()

	return p.topologicalCheck()
}

// TopologicalOrder returns the node ids in a valid execution order.
//
// Outputs:
//
//	[]string - Ids ordered so every dependency precedes its dependents.
//	error - *CycleError if the graph is cyclic.
func (p *ExecutionPlan) TopologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(p.Nodes))
	dependents := make(map[string][]string, len(p.Nodes))

	for _, n := range p.Nodes {
		inDegree[n.ID] = 0
	}
	for _, n := range p.Nodes {
		for _, dep := range p.DependenciesOf(n.ID) {
			inDegree[n.ID]++
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	queue := make([]string, 0, len(p.Nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(p.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, next := range dependents[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(p.Nodes) {
		residual := make([]string, 0)
		for id, deg := range inDegree {
			if deg > 0 {
				residual = append(residual, id)
			}
		}
		sort.Strings(residual)
		return nil, &CycleError{Nodes: residual}
	}

	return order, nil
}

func (p *ExecutionPlan) topologicalCheck() error {
	_, err := p.TopologicalOrder()
	return err
}
