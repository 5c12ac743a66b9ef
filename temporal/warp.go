// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package temporal scores the temporal consistency of stylized video: it
// provides optical-flow-based bilinear warping, round-trip occlusion masking
// and an evaluator that accumulates an occlusion-aware warped-pixel metric
// over a stream of frames.
//
// Optical flow itself is produced externally (e.g. by a RAFT-class network)
// and consumed here through the FlowEstimator boundary.
package temporal

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
)

// Occlusion mask thresholds: a pixel is trusted when the squared round-trip
// flow error stays below occlusionAlpha·(|f|²+|w(b)|²) + occlusionBeta.
const (
	occlusionAlpha = 0.01
	occlusionBeta  = 0.5
)

// Warp pulls pixel values from x along flow: output[., y, x, .] is sampled
// bilinearly from x at (y+dy, x+dx). Samples are clamped to the image border.
//
// x is shaped [batch, height, width, channels] and flow
// [batch, height, width, 2] carrying (dx, dy) per pixel.
func Warp(x, flow *Node) *Node {
	x.AssertRank(4)
	flow.AssertDims(x.Shape().Dimensions[0], x.Shape().Dimensions[1], x.Shape().Dimensions[2], 2)
	g := x.Graph()
	dims := x.Shape().Dimensions
	batch, height, width := dims[0], dims[1], dims[2]
	dtype := flow.DType()

	gridShape := shapes.Make(dtype, batch, height, width)
	sampleX := Add(Iota(g, gridShape, 2), Squeeze(SliceAxis(flow, -1, AxisElem(0)), -1))
	sampleY := Add(Iota(g, gridShape, 1), Squeeze(SliceAxis(flow, -1, AxisElem(1)), -1))

	x0 := Floor(sampleX)
	y0 := Floor(sampleY)
	weightX := Sub(sampleX, x0) // [batch, height, width]
	weightY := Sub(sampleY, y0)

	batchIdx := ConvertDType(Iota(g, gridShape, 0), dtypes.Int32)
	corner := func(xIdx, yIdx *Node) *Node {
		xIdx = ConvertDType(ClipScalar(xIdx, 0, float64(width-1)), dtypes.Int32)
		yIdx = ConvertDType(ClipScalar(yIdx, 0, float64(height-1)), dtypes.Int32)
		indices := Stack([]*Node{batchIdx, yIdx, xIdx}, -1) // [batch, height, width, 3]
		return Gather(x, indices)
	}

	topLeft := corner(x0, y0)
	topRight := corner(OnePlus(x0), y0)
	bottomLeft := corner(x0, OnePlus(y0))
	bottomRight := corner(OnePlus(x0), OnePlus(y0))

	weightX = ExpandDims(weightX, -1)
	weightY = ExpandDims(weightY, -1)
	top := Add(Mul(OneMinus(weightX), topLeft), Mul(weightX, topRight))
	bottom := Add(Mul(OneMinus(weightX), bottomLeft), Mul(weightX, bottomRight))
	return Add(Mul(OneMinus(weightY), top), Mul(weightY, bottom))
}

// OcclusionMask derives a per-pixel trust mask from forward (t→t+1) and
// backward (t+1→t) flow: the backward flow is warped by the forward flow and
// the round-trip displacement is checked for consistency. Pixels whose
// round-trip error exceeds the tolerance are occluded or disoccluded and
// masked out as 0; consistent pixels are 1.
//
// Both flows are shaped [batch, height, width, 2]; the mask is
// [batch, height, width] in the flow's dtype.
func OcclusionMask(forward, backward *Node) *Node {
	warpedBackward := Warp(backward, forward)
	roundTrip := ReduceSum(Square(Add(forward, warpedBackward)), -1)
	magnitude := Add(
		ReduceSum(Square(forward), -1),
		ReduceSum(Square(warpedBackward), -1))
	tolerance := AddScalar(MulScalar(magnitude, occlusionAlpha), occlusionBeta)
	return ConvertDType(LessOrEqual(roundTrip, tolerance), forward.DType())
}

// ConsistencyLoss is the occlusion-aware warped-pixel score for one frame
// pair: the stylized frame at t is warped along the backward flow onto frame
// t+1's grid, and the masked squared error to the stylized frame at t+1 is
// summed and normalized by channels·height·width.
//
// The same formula serves as a differentiable loss term during training; the
// Evaluator uses it as a diagnostic metric.
func ConsistencyLoss(stylized1, stylized2, forward, backward *Node) *Node {
	stylized1.AssertRank(4)
	dims := stylized1.Shape().Dimensions
	height, width, channels := dims[1], dims[2], dims[3]

	mask := ExpandDims(OcclusionMask(forward, backward), -1)
	warped := Warp(stylized1, backward)
	masked := Mul(mask, Square(Sub(stylized2, warped)))
	return DivScalar(ReduceAllSum(masked), float64(channels*height*width))
}
