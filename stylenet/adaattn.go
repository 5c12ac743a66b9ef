// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stylenet

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
)

const (
	// varianceFloor is the minimum attention-weighted variance before the
	// square root: floating-point cancellation in E[V²]−M² can produce small
	// negative values, which are clamped instead of propagating NaNs.
	varianceFloor = 1e-6

	// normEpsilon is added to the variance in InstanceNorm.
	normEpsilon = 1e-5
)

// Projection selects how an AdaAttN layer projects features to queries, keys
// and values.
type Projection int

const (
	// TokenProjection uses dense projections over token sequences shaped
	// [batch, tokens, dim]; normalization is per token, over the feature axis.
	TokenProjection Projection = iota

	// SpatialProjection uses 1×1 convolutions over spatial feature maps shaped
	// [batch, height, width, channels]; normalization is per channel, over the
	// spatial axes.
	SpatialProjection
)

// String returns the name of the projection variant.
func (p Projection) String() string {
	switch p {
	case TokenProjection:
		return "token"
	case SpatialProjection:
		return "spatial"
	default:
		return "unknown"
	}
}

// InstanceNorm normalizes x to zero mean and unit variance over the given
// axes, independently for every remaining index. There are no learned affine
// parameters.
func InstanceNorm(x *Node, axes ...int) *Node {
	mean := ReduceAndKeep(x, ReduceMean, axes...)
	centered := Sub(x, mean)
	variance := ReduceAndKeep(Square(centered), ReduceMean, axes...)
	return Div(centered, Sqrt(AddScalar(variance, normEpsilon)))
}

// AdaAttN is the attention-weighted statistical transfer layer: it attends
// from content queries to style keys and recolors the target features with the
// attention-weighted mean and standard deviation of the style values.
//
// Create it with NewAdaAttN, optionally configure with the With* methods, and
// apply it to features with Apply.
type AdaAttN struct {
	dim      int
	numHeads int
	proj     Projection
	scorer   Scorer
}

// NewAdaAttN creates an AdaAttN layer projecting to dim channels with the
// given projection variant. It defaults to the softmax scorer and a single
// attention head.
func NewAdaAttN(dim int, proj Projection) *AdaAttN {
	if dim <= 0 {
		Panicf("stylenet.NewAdaAttN: dim must be positive, got %d", dim)
	}
	return &AdaAttN{
		dim:      dim,
		numHeads: 1,
		proj:     proj,
		scorer:   SoftmaxScorer{},
	}
}

// WithScorer selects the similarity scorer by name ("softmax" or "cosine").
// It panics on unknown names — a configuration error, raised at construction
// rather than during the forward pass.
func (l *AdaAttN) WithScorer(name string) *AdaAttN {
	l.scorer = ScorerFromName(name)
	return l
}

// WithHeads sets the number of attention heads. The projection dimension must
// be divisible by the number of heads.
func (l *AdaAttN) WithHeads(numHeads int) *AdaAttN {
	if numHeads <= 0 || l.dim%numHeads != 0 {
		Panicf("stylenet.AdaAttN: dim %d must be divisible by the number of heads %d", l.dim, numHeads)
	}
	l.numHeads = numHeads
	return l
}

// Apply computes the statistical transfer.
//
//   - fc is the content feature map, the source of attention queries.
//   - fs is the style feature map, the source of keys and values.
//   - fcs is the target to be modulated: the content itself on the first
//     layer, the previous layer's output afterwards. Its channel count must
//     equal the layer dim; in the spatial variant its spatial shape may differ
//     from fc's, in which case the style statistics are bilinearly resized.
//
// The output has the same shape as fcs.
func (l *AdaAttN) Apply(ctx *context.Context, fc, fs, fcs *Node) *Node {
	switch l.proj {
	case TokenProjection:
		return l.applyTokens(ctx, fc, fs, fcs)
	case SpatialProjection:
		return l.applySpatial(ctx, fc, fs, fcs)
	default:
		Panicf("stylenet.AdaAttN: invalid projection variant %d", l.proj)
	}
	return nil
}

func (l *AdaAttN) applyTokens(ctx *context.Context, fc, fs, fcs *Node) *Node {
	fc.AssertRank(3)
	fs.AssertRank(3)
	fcs.AssertDims(fc.Shape().Dimensions[0], fc.Shape().Dimensions[1], l.dim)

	query := layers.Dense(ctx.In("query"), InstanceNorm(fc, -1), true, l.dim)
	key := layers.Dense(ctx.In("key"), InstanceNorm(fs, -1), true, l.dim)
	value := layers.Dense(ctx.In("value"), fs, true, l.dim)

	mean, std := l.attentionStats(query, key, value)
	return Add(Mul(std, InstanceNorm(fcs, -1)), mean)
}

func (l *AdaAttN) applySpatial(ctx *context.Context, fc, fs, fcs *Node) *Node {
	fc.AssertRank(4)
	fs.AssertRank(4)
	fcs.AssertRank(4)
	if fcs.Shape().Dimensions[3] != l.dim {
		Panicf("stylenet.AdaAttN: target fcs has %d channels, want layer dim %d",
			fcs.Shape().Dimensions[3], l.dim)
	}

	query := l.conv1x1(ctx.In("query"), InstanceNorm(fc, 1, 2))
	key := l.conv1x1(ctx.In("key"), InstanceNorm(fs, 1, 2))
	value := l.conv1x1(ctx.In("value"), fs)

	mean, std := l.attentionStats(flattenSpatial(query), flattenSpatial(key), flattenSpatial(value))

	// Style statistics back to the content spatial shape, then resized to the
	// target shape when the cascade mixes resolutions.
	batch := fc.Shape().Dimensions[0]
	h, w := fc.Shape().Dimensions[1], fc.Shape().Dimensions[2]
	mean = Reshape(mean, batch, h, w, l.dim)
	std = Reshape(std, batch, h, w, l.dim)
	targetH, targetW := fcs.Shape().Dimensions[1], fcs.Shape().Dimensions[2]
	if h != targetH || w != targetW {
		mean = Interpolate(mean, NoInterpolation, targetH, targetW, NoInterpolation).Bilinear().AlignCorner(false).Done()
		std = Interpolate(std, NoInterpolation, targetH, targetW, NoInterpolation).Bilinear().AlignCorner(false).Done()
	}
	return Add(Mul(std, InstanceNorm(fcs, 1, 2)), mean)
}

func (l *AdaAttN) conv1x1(ctx *context.Context, x *Node) *Node {
	return layers.Convolution(ctx, x).Filters(l.dim).KernelSize(1).Done()
}

// attentionStats computes the attention-weighted first and second moments of
// the values: M = A·V and Var = A·V² − M², with the variance clamped before
// the square root. All inputs are in token form [batch, tokens, dim].
func (l *AdaAttN) attentionStats(query, key, value *Node) (mean, std *Node) {
	if l.numHeads > 1 {
		query = splitHeads(query, l.numHeads)
		key = splitHeads(key, l.numHeads)
		value = splitHeads(value, l.numHeads)
	}
	attn := l.scorer.Score(query, key)
	mean = Einsum("bqk,bkd->bqd", attn, value)
	second := Einsum("bqk,bkd->bqd", attn, Square(value))
	variance := Sub(second, Square(mean))
	std = Sqrt(MaxScalar(variance, varianceFloor))
	if l.numHeads > 1 {
		mean = mergeHeads(mean, l.numHeads)
		std = mergeHeads(std, l.numHeads)
	}
	return
}

// splitHeads reshapes [batch, tokens, dim] to [batch*heads, tokens, dim/heads]
// so scorers and moment contractions run per head as plain batch entries.
func splitHeads(x *Node, numHeads int) *Node {
	batch, tokens, dim := x.Shape().Dimensions[0], x.Shape().Dimensions[1], x.Shape().Dimensions[2]
	x = Reshape(x, batch, tokens, numHeads, dim/numHeads)
	x = Transpose(x, 1, 2)
	return Reshape(x, batch*numHeads, tokens, dim/numHeads)
}

// mergeHeads is the inverse of splitHeads.
func mergeHeads(x *Node, numHeads int) *Node {
	batchHeads, tokens, headDim := x.Shape().Dimensions[0], x.Shape().Dimensions[1], x.Shape().Dimensions[2]
	batch := batchHeads / numHeads
	x = Reshape(x, batch, numHeads, tokens, headDim)
	x = Transpose(x, 1, 2)
	return Reshape(x, batch, tokens, numHeads*headDim)
}

// flattenSpatial reshapes [batch, h, w, c] to token form [batch, h*w, c].
func flattenSpatial(x *Node) *Node {
	dims := x.Shape().Dimensions
	return Reshape(x, dims[0], dims[1]*dims[2], dims[3])
}
