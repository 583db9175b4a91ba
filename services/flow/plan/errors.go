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
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for plan construction and validation.
var (
	// ErrEmptyPlan indicates a plan with no nodes.
	ErrEmptyPlan = errors.New("plan has no nodes")

	// ErrDuplicateNode indicates two nodes share an id.
	ErrDuplicateNode = errors.New("duplicate node id")

	// ErrNodeNotFound indicates a lookup for an id not in the plan.
	ErrNodeNotFound = errors.New("node not found")

	// ErrInvalidInput indicates a nil or malformed argument.
	ErrInvalidInput = errors.New("invalid input")
)

// CycleError reports a dependency cycle found during validation.
//
// Description:
//
//	Produced by Validate when Kahn's algorithm cannot order every node.
//	Nodes lists the ids with residual in-degree, i.e. the members of at
//	least one cycle.
type CycleError struct {
	// Nodes are the node ids that could not be topologically ordered.
	Nodes []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cyclic plan: unorderable nodes [%s]", strings.Join(e.Nodes, ", "))
}

// NodeError wraps an error with the node id it concerns.
type NodeError struct {
	// NodeID is the id of the node the error concerns.
	NodeID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.NodeID, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}
