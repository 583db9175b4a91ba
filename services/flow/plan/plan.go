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
	"time"

	"github.com/google/uuid"
)

// ExecutionPlan is an immutable-once-validated DAG of task nodes.
//
// Description:
//
//	The plan keeps a flat node list plus an id-keyed dependency index
//	(DependencyGraph) for O(1) lookups. The index is derivable from the
//	nodes but is carried explicitly; a replanned plan inherits the
//	original's index unmodified, which may leave entries pointing at
//	removed nodes. Dependency ids that do not resolve to a node in the
//	plan are treated as already satisfied everywhere in this package.
//
// Thread Safety:
//
//	Safe for concurrent reads after Validate, which also materializes the
//	node position index. Never mutated by the engine.
type ExecutionPlan struct {
	// ID uniquely identifies the plan.
	ID string `json:"id"`

	// Name is a human-readable plan name.
	Name string `json:"name" binding:"required"`

	// Nodes is the ordered node list.
	Nodes []TaskNode `json:"nodes" binding:"required,dive"`

	// DependencyGraph maps node id to its dependency ids.
	DependencyGraph map[string][]string `json:"dependency_graph,omitempty"`

	// VariableMappings maps a reference name to a "nodeId.section.key"
	// output path.
	VariableMappings map[string]string `json:"variable_mappings,omitempty"`

	// GlobalConfig holds plan-wide constants injected as global variables.
	GlobalConfig map[string]any `json:"global_config,omitempty"`

	// CreatedAt is the plan creation time.
	CreatedAt time.Time `json:"created_at"`

	// Version increases monotonically across replans of the same task.
	Version int `json:"version"`

	// ParentPlanID points at the plan this one replaced, if any.
	ParentPlanID string `json:"parent_plan_id,omitempty"`

	// idx maps node id to its position in Nodes. Built lazily because
	// plans decoded from JSON bypass New and AddNode.
	idx map[string]int
}

// New creates an empty plan with a fresh id and version 1.
func New(name string) *ExecutionPlan {
	return &ExecutionPlan{
		ID:               uuid.NewString(),
		Name:             name,
		Nodes:            make([]TaskNode, 0),
		DependencyGraph:  make(map[string][]string),
		VariableMappings: make(map[string]string),
		GlobalConfig:     make(map[string]any),
		CreatedAt:        time.Now().UTC(),
		Version:          1,
	}
}

// AddNode appends a node and records its dependencies in the index.
func (p *ExecutionPlan) AddNode(node TaskNode) *ExecutionPlan {
	p.Nodes = append(p.Nodes, node)
	if p.DependencyGraph == nil {
		p.DependencyGraph = make(map[string][]string)
	}
	p.DependencyGraph[node.ID] = append([]string(nil), node.Dependencies...)
	if p.idx == nil {
		p.rebuildIndex()
	} else {
		p.idx[node.ID] = len(p.Nodes) - 1
	}
	return p
}

// Node returns the node with the given id.
//
// Lookups go through the position index so the readiness and dangling-edge
// checks cost O(1) per dependency instead of a scan of the node list.
func (p *ExecutionPlan) Node(id string) (*TaskNode, bool) {
	i, ok := p.nodeIndex(id)
	if !ok {
		return nil, false
	}
	return &p.Nodes[i], true
}

// nodeIndex resolves an id to its position, rebuilding the index when the
// node list changed behind it.
func (p *ExecutionPlan) nodeIndex(id string) (int, bool) {
	if len(p.idx) != len(p.Nodes) {
		p.rebuildIndex()
	}
	i, ok := p.idx[id]
	if ok && p.Nodes[i].ID != id {
		p.rebuildIndex()
		i, ok = p.idx[id]
	}
	return i, ok
}

func (p *ExecutionPlan) rebuildIndex() {
	p.idx = make(map[string]int, len(p.Nodes))
	for i := range p.Nodes {
		p.idx[p.Nodes[i].ID] = i
	}
}

// Roots returns the nodes with no effective dependencies.
func (p *ExecutionPlan) Roots() []TaskNode {
	roots := make([]TaskNode, 0)
	for _, n := range p.Nodes {
		if len(p.DependenciesOf(n.ID)) == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// DependenciesOf returns the direct predecessors of a node.
//
// Dependency ids absent from the node set are filtered out: a replanned
// plan carries the original dependency index, so an edge may point at a
// removed node. Such edges count as satisfied.
func (p *ExecutionPlan) DependenciesOf(id string) []string {
	declared := p.declaredDependencies(id)
	if len(declared) == 0 {
		return nil
	}
	present := make([]string, 0, len(declared))
	for _, dep := range declared {
		if _, ok := p.Node(dep); ok {
			present = append(present, dep)
		}
	}
	return present
}

// DependentsOf returns the direct successors of a node.
func (p *ExecutionPlan) DependentsOf(id string) []string {
	dependents := make([]string, 0)
	for _, n := range p.Nodes {
		for _, dep := range p.declaredDependencies(n.ID) {
			if dep == id {
				dependents = append(dependents, n.ID)
				break
			}
		}
	}
	return dependents
}

// NodeCount returns the number of nodes.
func (p *ExecutionPlan) NodeCount() int {
	return len(p.Nodes)
}

// EdgeCount returns the number of effective dependency edges.
func (p *ExecutionPlan) EdgeCount() int {
	count := 0
	for _, n := range p.Nodes {
		count += len(p.DependenciesOf(n.ID))
	}
	return count
}

// declaredDependencies prefers the index, falling back to the node's own
// dependency list when the index has no entry.
func (p *ExecutionPlan) declaredDependencies(id string) []string {
	if deps, ok := p.DependencyGraph[id]; ok {
		return deps
	}
	if n, ok := p.Node(id); ok {
		return n.Dependencies
	}
	return nil
}
