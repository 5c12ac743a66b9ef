// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stylenet

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// FinalActivation selects the decoder's last convolution block.
type FinalActivation int

const (
	// FinalRelu ends the decoder with a ConvRelu: non-negative, unbounded.
	FinalRelu FinalActivation = iota

	// FinalPlain ends the decoder with a plain convolution: unclamped.
	FinalPlain

	// FinalTanh255 ends the decoder with a Tanh rescaled to [0, 255].
	FinalTanh255
)

// String returns the name of the final activation.
func (f FinalActivation) String() string {
	switch f {
	case FinalRelu:
		return "relu"
	case FinalPlain:
		return "plain"
	case FinalTanh255:
		return "tanh"
	default:
		return "unknown"
	}
}

// FinalActivationFromName converts a name ("relu", "plain" or "tanh") to its
// FinalActivation. It panics on unknown names.
func FinalActivationFromName(name string) FinalActivation {
	for _, f := range []FinalActivation{FinalRelu, FinalPlain, FinalTanh255} {
		if f.String() == name {
			return f
		}
	}
	Panicf("stylenet: unknown final activation %q: options are \"relu\", \"plain\" or \"tanh\"", name)
	return FinalRelu
}

// Decoder turns a fused 512-channel feature map back into a 3-channel image
// through the fixed 512→256→128→64→3 cascade with two bilinear ×2 up-sampling
// stages in the middle.
//
// FirstStageUpsample selects whether the first block also up-samples ×2 (the
// token/single-scale cascade) or is a plain ConvRelu (the multi-scale
// cascade): the two variants intentionally differ in total up-sampling factor,
// ×8 versus ×4.
type Decoder struct {
	FirstStageUpsample bool
	Final              FinalActivation
}

// Apply decodes fcs, shaped [batch, height, width, 512], into an image shaped
// [batch, height*f, width*f, 3] where f is 8 with FirstStageUpsample and 4
// without.
func (d *Decoder) Apply(ctx *context.Context, fcs *Node) *Node {
	fcs.AssertRank(4)

	x := fcs
	if d.FirstStageUpsample {
		x = ConvReluUpsample(ctx.In("conv1"), x, 256, 3, 1, 2)
	} else {
		x = ConvRelu(ctx.In("conv1"), x, 256, 3, 1)
	}

	ctx2 := ctx.In("conv2")
	x = ConvRelu(ctx2.In("b0"), x, 256, 3, 1)
	x = ConvRelu(ctx2.In("b1"), x, 256, 3, 1)
	x = ConvRelu(ctx2.In("b2"), x, 256, 3, 1)
	x = ConvReluUpsample(ctx2.In("b3"), x, 128, 3, 1, 2)

	ctx3 := ctx.In("conv3")
	x = ConvRelu(ctx3.In("b0"), x, 128, 3, 1)
	x = ConvReluUpsample(ctx3.In("b1"), x, 64, 3, 1, 2)

	ctx4 := ctx.In("conv4")
	x = ConvRelu(ctx4.In("b0"), x, 64, 3, 1)
	switch d.Final {
	case FinalRelu:
		x = ConvRelu(ctx4.In("b1"), x, 3, 3, 1)
	case FinalPlain:
		x = Conv(ctx4.In("b1"), x, 3, 3, 1)
	case FinalTanh255:
		x = ConvTanh255(ctx4.In("b1"), x, 3, 3, 1)
	default:
		Panicf("stylenet.Decoder: invalid final activation %d", d.Final)
	}
	return x
}
