// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stylenet

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// Scorer turns a query/key pair into an attention matrix.
//
// Queries are shaped [batch, tokensQ, dim] and keys [batch, tokensK, dim]; the
// result is shaped [batch, tokensQ, tokensK] with each row summing to 1.
type Scorer interface {
	Score(query, key *Node) *Node
}

// SoftmaxScorer scores with raw dot products passed through a softmax along
// the key axis. Rows are stochastic: non-negative and summing to 1.
type SoftmaxScorer struct{}

// Score implements Scorer.
func (SoftmaxScorer) Score(query, key *Node) *Node {
	return Softmax(Einsum("bqd,bkd->bqk", query, key), -1)
}

// CosineScorer scores with cosine similarity shifted by +1 — cosine similarity
// can be negative, and the shift moves it into a non-negative range — and then
// re-normalized by the row sum.
type CosineScorer struct{}

// Score implements Scorer.
func (CosineScorer) Score(query, key *Node) *Node {
	qNorm := Sqrt(ReduceAndKeep(Square(query), ReduceSum, -1)) // [b, tq, 1]
	kNorm := Sqrt(ReduceAndKeep(Square(key), ReduceSum, -1))   // [b, tk, 1]
	sim := Div(
		Einsum("bqd,bkd->bqk", query, key),
		Einsum("bqi,bki->bqk", qNorm, kNorm))
	sim = OnePlus(sim)
	return Div(sim, ReduceAndKeep(sim, ReduceSum, -1))
}

// Names of the supported scorers, accepted by ScorerFromName.
const (
	ScorerSoftmax = "softmax"
	ScorerCosine  = "cosine"
)

// ScorerFromName converts a scorer name to its implementation.
// It panics with a helpful message if the name is unknown.
func ScorerFromName(name string) Scorer {
	switch name {
	case ScorerSoftmax:
		return SoftmaxScorer{}
	case ScorerCosine:
		return CosineScorer{}
	default:
		Panicf("stylenet: unknown scorer %q: options are %q or %q", name, ScorerSoftmax, ScorerCosine)
	}
	return nil
}
