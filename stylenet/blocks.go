// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package stylenet implements the AdaAttN style-transfer architecture:
// reflection-padded convolution blocks, attention scorers, the AdaAttN
// attention-weighted statistical transfer layer, the image decoder and the
// stylizing network cascades that tie them together.
//
// All feature maps use the GoMLX channels-last convention, shaped
// [batch, height, width, channels], or [batch, tokens, dim] in token form.
package stylenet

import (
	. "github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
)

// ReflectionPad2D pads the two spatial axes of x (shaped [batch, height, width,
// channels]) by pad pixels on each side, mirroring the interior without
// repeating the border pixel itself.
func ReflectionPad2D(x *Node, pad int) *Node {
	if pad == 0 {
		return x
	}
	x.AssertRank(4)
	for _, axis := range images.GetSpatialAxes(x, images.ChannelsLast) {
		dim := x.Shape().Dimensions[axis]
		if pad >= dim {
			Panicf("stylenet.ReflectionPad2D: padding %d must be smaller than spatial dimension %d of axis %d",
				pad, dim, axis)
		}
		before := Reverse(SliceAxis(x, axis, AxisRange(1, 1+pad)), axis)
		after := Reverse(SliceAxis(x, axis, AxisRange(dim-1-pad, dim-1)), axis)
		x = Concatenate([]*Node{before, x, after}, axis)
	}
	return x
}

// Conv is a reflection-padded convolution: the input is padded by
// floor(kernelSize/2) on each spatial side and then convolved without any
// further padding, so a stride of 1 preserves the spatial shape.
func Conv(ctx *context.Context, x *Node, channels, kernelSize, stride int) *Node {
	x = ReflectionPad2D(x, kernelSize/2)
	return layers.Convolution(ctx, x).
		Filters(channels).
		KernelSize(kernelSize).
		Strides(stride).
		NoPadding().
		Done()
}

// ConvRelu is Conv followed by a ReLU.
func ConvRelu(ctx *context.Context, x *Node, channels, kernelSize, stride int) *Node {
	return activations.Relu(Conv(ctx, x, channels, kernelSize, stride))
}

// ConvTanh255 is Conv followed by a Tanh rescaled to pixel intensities:
// (tanh(x)+1)/2*255, so the output lies in [0, 255].
func ConvTanh255(ctx *context.Context, x *Node, channels, kernelSize, stride int) *Node {
	x = Tanh(Conv(ctx, x, channels, kernelSize, stride))
	return MulScalar(OnePlus(x), 255.0/2.0)
}

// ConvReluUpsample is ConvRelu followed by bilinear up-sampling of the spatial
// axes by the given integer factor. Interpolation uses half-pixel centers and
// no corner alignment.
func ConvReluUpsample(ctx *context.Context, x *Node, channels, kernelSize, stride, scale int) *Node {
	x = ConvRelu(ctx, x, channels, kernelSize, stride)
	return Interpolate(x, images.GetUpSampledSizes(x, images.ChannelsLast, scale)...).
		Bilinear().
		AlignCorner(false).
		Done()
}
