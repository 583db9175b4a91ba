// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package replan

import (
	"math"
	"testing"

	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
)

func TestTextEmbedding_L2Normalized(t *testing.T) {
	vec := textEmbedding("scan the target network")

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("embedding norm = %f, want 1.0", norm)
	}
}

func TestTextEmbedding_CaseInsensitive(t *testing.T) {
	a := textEmbedding("Scan Hosts")
	b := textEmbedding("scan hosts")
	if sim := cosineSimilarity(a, b); math.Abs(float64(sim)-1.0) > 1e-5 {
		t.Errorf("case variants should embed identically, similarity = %f", sim)
	}
}

func TestTextEmbedding_ShortText(t *testing.T) {
	// Fewer than 3 runes yields the zero vector, not a panic.
	for _, text := range []string{"", "a", "ab"} {
		vec := textEmbedding(text)
		for i, v := range vec {
			if v != 0 {
				t.Errorf("text %q: bucket %d = %f, want 0", text, i, v)
			}
		}
	}
}

func TestCosineSimilarity_Degenerate(t *testing.T) {
	zero := make([]float32, embeddingDim)
	some := textEmbedding("analyze")

	if sim := cosineSimilarity(zero, some); sim != 0 {
		t.Errorf("zero vector similarity = %f, want 0", sim)
	}
	if sim := cosineSimilarity(some, some[:4]); sim != 0 {
		t.Errorf("length mismatch similarity = %f, want 0", sim)
	}
}

func TestPlanSimilarity_IdenticalPlans(t *testing.T) {
	p := plan.New("same")
	p.AddNode(plan.NewTaskNode("a", "scan ports", "scanner", nil))
	p.AddNode(plan.NewTaskNode("b", "summarize findings", "", nil))

	if sim := planSimilarity(p, p); math.Abs(sim-1.0) > 1e-5 {
		t.Errorf("identical plans similarity = %f, want 1.0", sim)
	}
}

func TestPlanSimilarity_DisjointNames(t *testing.T) {
	a := plan.New("a")
	a.AddNode(plan.NewTaskNode("1", "zzzzzz", "tool", nil))
	b := plan.New("b")
	b.AddNode(plan.NewTaskNode("1", "qqqqqq", "tool", nil))

	if sim := planSimilarity(a, b); sim > 0.1 {
		t.Errorf("disjoint names similarity = %f, want near 0", sim)
	}
}

func TestPlanSimilarity_EmptyPlans(t *testing.T) {
	empty := plan.New("empty")
	other := plan.New("other")
	other.AddNode(plan.NewTaskNode("a", "scan", "tool", nil))

	if sim := planSimilarity(empty, plan.New("also empty")); sim != 1.0 {
		t.Errorf("both-empty similarity = %f, want 1.0", sim)
	}
	if sim := planSimilarity(empty, other); sim != 0.0 {
		t.Errorf("one-empty similarity = %f, want 0.0", sim)
	}
}
