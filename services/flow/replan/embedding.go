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
	"strings"

	"github.com/AleutianAI/AleutianFlow/services/flow/plan"
)

// embeddingDim is the fixed embedding width. Trigram hashes bucket into it.
const embeddingDim = 64

// FNV-1a parameters, hashed per trigram.
const (
	fnvOffset uint64 = 1469598103934665603
	fnvPrime  uint64 = 1099511628211
)

// textEmbedding builds a lightweight structural embedding of a node name.
//
// Description:
//
//	Every 3-rune window of the lower-cased text is hashed with FNV-1a into
//	one of 64 buckets; the bucket counts are then L2-normalized. This is a
//	structural-similarity proxy, not a semantic model: it catches "the
//	replan is basically the same plan", nothing deeper.
func textEmbedding(text string) []float32 {
	vec := make([]float32, embeddingDim)
	runes := []rune(strings.ToLower(text))
	for i := 0; i+2 < len(runes); i++ {
		h := fnvOffset
		for _, r := range runes[i : i+3] {
			h ^= uint64(r)
			h *= fnvPrime
		}
		vec[h%embeddingDim]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

// cosineSimilarity computes the cosine of two vectors, 0 for degenerate
// input.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(na))) * float32(math.Sqrt(float64(nb))))
}

// planSimilarity scores how alike two plans are, in [0, 1].
//
// The score is the mean cosine similarity of positionally paired node-name
// embeddings over the first min(len) positions. Two empty plans are
// identical (1); one empty plan shares nothing (0).
func planSimilarity(a, b *plan.ExecutionPlan) float64 {
	if len(a.Nodes) == 0 && len(b.Nodes) == 0 {
		return 1.0
	}
	if len(a.Nodes) == 0 || len(b.Nodes) == 0 {
		return 0.0
	}

	n := len(a.Nodes)
	if len(b.Nodes) < n {
		n = len(b.Nodes)
	}

	var sum float32
	for i := 0; i < n; i++ {
		sum += cosineSimilarity(textEmbedding(a.Nodes[i].Name), textEmbedding(b.Nodes[i].Name))
	}
	return float64(sum / float32(n))
}
