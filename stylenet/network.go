// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stylenet

import (
	"math"

	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// Hyperparameter keys for context configuration.
const (
	ParamNumLevels       = "adaattn_num_levels"
	ParamDim             = "adaattn_dim"
	ParamNumHeads        = "adaattn_num_heads"
	ParamScorer          = "adaattn_scorer"
	ParamFinalActivation = "adaattn_final_activation"
)

// Network is a stylizing cascade: one AdaAttN layer per encoder level, each
// consuming the next level of content and style features and the previous
// layer's fused output, followed by the Decoder.
//
// The projection variant selects the topology: TokenProjection is the
// single-scale cascade over token sequences (the final fused map is reshaped
// to a square spatial map before decoding); SpatialProjection is the
// multi-scale cascade over spatial maps of varying resolution, resized
// per-layer inside AdaAttN.
type Network struct {
	NumLevels  int
	Dim        int
	NumHeads   int
	ScorerName string
	Proj       Projection
	Final      FinalActivation

	attn    []*AdaAttN
	decoder *Decoder
}

// NewSingleScale creates a single-scale (token) stylizing network with
// numLevels AdaAttN layers of the given dim. It defaults to the softmax
// scorer, one attention head and the ConvRelu final decoder stage.
func NewSingleScale(numLevels, dim int) *Network {
	return newNetwork(numLevels, dim, TokenProjection)
}

// NewMultiScale creates a multi-scale (spatial) stylizing network with
// numLevels AdaAttN layers of the given dim.
func NewMultiScale(numLevels, dim int) *Network {
	return newNetwork(numLevels, dim, SpatialProjection)
}

func newNetwork(numLevels, dim int, proj Projection) *Network {
	if numLevels <= 0 {
		Panicf("stylenet.Network: number of levels must be positive, got %d", numLevels)
	}
	n := &Network{
		NumLevels:  numLevels,
		Dim:        dim,
		NumHeads:   1,
		ScorerName: ScorerSoftmax,
		Proj:       proj,
		Final:      FinalRelu,
	}
	return n
}

// NewFromContext creates a stylizing network configured from context
// hyperparameters, with the defaults:
// adaattn_num_levels (3), adaattn_dim (512), adaattn_num_heads (1),
// adaattn_scorer ("softmax") and adaattn_final_activation ("relu").
func NewFromContext(ctx *context.Context, proj Projection) *Network {
	n := newNetwork(
		context.GetParamOr(ctx, ParamNumLevels, 3),
		context.GetParamOr(ctx, ParamDim, 512),
		proj)
	n.WithHeads(context.GetParamOr(ctx, ParamNumHeads, n.NumHeads))
	n.WithScorer(context.GetParamOr(ctx, ParamScorer, n.ScorerName))
	n.Final = FinalActivationFromName(
		context.GetParamOr(ctx, ParamFinalActivation, n.Final.String()))
	return n
}

// WithScorer selects the similarity scorer by name for every AdaAttN layer.
// Unknown names panic immediately, a configuration error.
func (n *Network) WithScorer(name string) *Network {
	_ = ScorerFromName(name)
	n.ScorerName = name
	return n
}

// WithHeads sets the number of attention heads per AdaAttN layer. The layer
// dim must be divisible by the number of heads.
func (n *Network) WithHeads(numHeads int) *Network {
	if numHeads <= 0 || n.Dim%numHeads != 0 {
		Panicf("stylenet.Network: dim %d must be divisible by the number of heads %d", n.Dim, numHeads)
	}
	n.NumHeads = numHeads
	return n
}

// WithFinalActivation selects the decoder's last stage.
func (n *Network) WithFinalActivation(final FinalActivation) *Network {
	n.Final = final
	return n
}

// build instantiates the layers. Configuration errors (bad scorer name, dim
// not divisible by heads) surface here, before any forward pass.
func (n *Network) build() {
	if n.attn != nil {
		return
	}
	n.attn = make([]*AdaAttN, n.NumLevels)
	for i := range n.attn {
		n.attn[i] = NewAdaAttN(n.Dim, n.Proj).
			WithScorer(n.ScorerName).
			WithHeads(n.NumHeads)
	}
	n.decoder = &Decoder{
		FirstStageUpsample: n.Proj == TokenProjection,
		Final:              n.Final,
	}
}

// Apply runs the full stylizing forward pass: content and style feature
// levels in, stylized image out.
//
// fc and fs must each hold exactly NumLevels feature maps — token form
// [batch, tokens, dim] for the single-scale variant, spatial form
// [batch, h, w, c] for the multi-scale variant. Levels are consumed in the
// encoder's native order, layer 0 first, with fcs₀ = fc₀.
func (n *Network) Apply(ctx *context.Context, fc, fs []*Node) *Node {
	if len(fc) != n.NumLevels || len(fs) != n.NumLevels {
		Panicf("stylenet.Network: got %d content and %d style levels, want %d each",
			len(fc), len(fs), n.NumLevels)
	}
	n.build()

	fcs := n.attn[0].Apply(ctx.In("adaattn_0"), fc[0], fs[0], fc[0])
	for i := 1; i < n.NumLevels; i++ {
		fcs = n.attn[i].Apply(ctx.Inf("adaattn_%d", i), fc[i], fs[i], fcs)
	}

	if n.Proj == TokenProjection {
		fcs = tokensToSquare(fcs)
	}
	return n.decoder.Apply(ctx.In("decoder"), fcs)
}

// tokensToSquare reshapes a fused token sequence [batch, tokens, dim] to a
// square spatial map [batch, side, side, dim]. The token count must be a
// perfect square.
func tokensToSquare(fcs *Node) *Node {
	dims := fcs.Shape().Dimensions
	batch, tokens, dim := dims[0], dims[1], dims[2]
	side := int(math.Sqrt(float64(tokens)))
	if side*side != tokens {
		Panicf("stylenet.Network: token count %d is not a perfect square, cannot reshape for decoding", tokens)
	}
	return Reshape(fcs, batch, side, side, dim)
}
