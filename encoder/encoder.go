// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package encoder provides the feature-encoder boundary of the style-transfer
// model: hierarchical feature extractors whose per-level outputs feed the
// AdaAttN cascade in package stylenet.
//
// Production deployments load a pre-trained backbone through this boundary;
// the implementations here define the architecture and its variables, they do
// not ship trained weights.
package encoder

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/attention"
)

// Encoder extracts one feature map per hierarchical level from an image.
//
// The image is shaped [batch, height, width, 3] with intensities in [0, 255].
// FeatureLevels returns exactly Levels() feature maps, in the encoder's native
// order — the order consumed by stylenet.Network, level 0 first.
type Encoder interface {
	Levels() int
	FeatureLevels(ctx *context.Context, image *Node) []*Node
}

// ViT is a vision-transformer feature encoder producing token sequences: the
// image is cut into patches by a strided convolution, optionally combined with
// a learned positional embedding, and passed through one self-attention block
// per level. Each block's output is one feature level, shaped
// [batch, (h/patch)·(w/patch), dim].
//
// The content encoder carries the positional embedding, the style encoder does
// not: style statistics are position-free.
type ViT struct {
	NumLevels    int
	PatchSize    int
	Dim          int
	NumHeads     int
	PosEmbedding bool
}

// NewViT creates a ViT encoder with the default configuration: 3 levels,
// 8×8 patches, 512 dimensions, 8 heads.
func NewViT(posEmbedding bool) *ViT {
	return &ViT{
		NumLevels:    3,
		PatchSize:    8,
		Dim:          512,
		NumHeads:     8,
		PosEmbedding: posEmbedding,
	}
}

// Levels implements Encoder.
func (v *ViT) Levels() int { return v.NumLevels }

// FeatureLevels implements Encoder.
func (v *ViT) FeatureLevels(ctx *context.Context, image *Node) []*Node {
	image.AssertRank(4)
	if v.Dim%v.NumHeads != 0 {
		Panicf("encoder.ViT: dim %d must be divisible by the number of heads %d", v.Dim, v.NumHeads)
	}
	h, w := image.Shape().Dimensions[1], image.Shape().Dimensions[2]
	if h%v.PatchSize != 0 || w%v.PatchSize != 0 {
		Panicf("encoder.ViT: image spatial size %dx%d must be a multiple of the patch size %d",
			h, w, v.PatchSize)
	}

	x := DivScalar(image, 255.0)
	x = layers.Convolution(ctx.In("patch_embed"), x).
		Filters(v.Dim).
		KernelSize(v.PatchSize).
		Strides(v.PatchSize).
		Done()
	batch := x.Shape().Dimensions[0]
	tokens := (h / v.PatchSize) * (w / v.PatchSize)
	x = Reshape(x, batch, tokens, v.Dim)

	if v.PosEmbedding {
		posEmbed := ctx.In("pos_embed").VariableWithShape("embeddings",
			shapes.Make(x.DType(), tokens, v.Dim)).ValueGraph(x.Graph())
		x = Add(x, ExpandDims(posEmbed, 0))
	}

	levels := make([]*Node, v.NumLevels)
	for i := range levels {
		x = v.block(ctx.Inf("block_%d", i), x)
		levels[i] = x
	}
	return levels
}

// block is a standard post-norm transformer encoder block.
func (v *ViT) block(ctx *context.Context, x *Node) *Node {
	residual := x
	attn := attention.SelfAttention(ctx.In("attn"), x, v.NumHeads, v.Dim/v.NumHeads).Done()
	x = layers.LayerNormalization(ctx.In("norm1"), Add(residual, attn), -1).Done()

	residual = x
	ff := layers.Dense(ctx.In("ff1"), x, true, v.Dim*4)
	ff = activations.Gelu(ff)
	ff = layers.Dense(ctx.In("ff2"), ff, true, v.Dim)
	return layers.LayerNormalization(ctx.In("norm2"), Add(residual, ff), -1).Done()
}

// Pyramid is a strided-convolution feature encoder for the multi-scale
// variant. Level 0 is the coarsest and deepest map; each following level
// doubles the spatial resolution and halves the channel count, so the
// multi-scale cascade consumes progressively finer features.
//
// With the default configuration and a 256×256 input the levels are
// [b, 32, 32, 512], [b, 64, 64, 256] and [b, 128, 128, 128].
type Pyramid struct {
	NumLevels int
	BaseDim   int // channels of level 0
}

// NewPyramid creates a Pyramid encoder with the default configuration:
// 3 levels starting at 512 channels.
func NewPyramid() *Pyramid {
	return &Pyramid{NumLevels: 3, BaseDim: 512}
}

// Levels implements Encoder.
func (p *Pyramid) Levels() int { return p.NumLevels }

// FeatureLevels implements Encoder.
func (p *Pyramid) FeatureLevels(ctx *context.Context, image *Node) []*Node {
	image.AssertRank(4)

	x := DivScalar(image, 255.0)
	// Shared stem: progressively strided features, finest first. Taps are
	// collected finest-to-coarsest and reversed so level 0 is the coarsest.
	taps := make([]*Node, p.NumLevels)
	channels := p.BaseDim >> (p.NumLevels - 1)
	for i := 0; i < p.NumLevels; i++ {
		scopedCtx := ctx.Inf("stage_%d", i)
		x = activations.Relu(layers.Convolution(scopedCtx.In("conv_a"), x).
			Filters(channels).KernelSize(3).Strides(2).PadSame().Done())
		x = activations.Relu(layers.Convolution(scopedCtx.In("conv_b"), x).
			Filters(channels).KernelSize(3).PadSame().Done())
		taps[p.NumLevels-1-i] = x
		channels *= 2
	}
	return taps
}
