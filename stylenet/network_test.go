// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package stylenet

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/require"
)

func TestDecoderShapes(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, test := range []struct {
		name     string
		upsample bool
		wantSide int
	}{
		{"first stage upsamples, x8 total", true, 32},
		{"first stage plain, x4 total", false, 16},
	} {
		t.Run(test.name, func(t *testing.T) {
			ctx := context.New()
			decoder := &Decoder{FirstStageUpsample: test.upsample}
			exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, fcs *Node) *Node {
				return decoder.Apply(ctx, fcs)
			})
			outputs := exec.MustExec(tensors.FromShape(MakeShape(F32, 1, 4, 4, 512)))
			require.Equal(t, []int{1, test.wantSide, test.wantSide, 3}, outputs[0].Shape().Dimensions)
		})
	}
}

func TestDecoderFinalActivations(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, final := range []FinalActivation{FinalRelu, FinalPlain, FinalTanh255} {
		t.Run(final.String(), func(t *testing.T) {
			ctx := context.New()
			decoder := &Decoder{Final: final}
			exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, fcs *Node) []*Node {
				out := decoder.Apply(ctx, fcs)
				return []*Node{ReduceAllMin(out), ReduceAllMax(out)}
			})
			outputs := exec.MustExec(tensors.FromShape(MakeShape(F32, 1, 2, 2, 512)))
			minOut := tensors.ToScalar[float32](outputs[0])
			maxOut := tensors.ToScalar[float32](outputs[1])
			switch final {
			case FinalRelu:
				require.GreaterOrEqual(t, minOut, float32(0))
			case FinalTanh255:
				require.GreaterOrEqual(t, minOut, float32(0))
				require.LessOrEqual(t, maxOut, float32(255))
			}
		})
	}
}

func TestFinalActivationFromName(t *testing.T) {
	for _, final := range []FinalActivation{FinalRelu, FinalPlain, FinalTanh255} {
		require.Equal(t, final, FinalActivationFromName(final.String()))
	}
	require.Panics(t, func() { FinalActivationFromName("bogus") })
}

func TestNetworkSingleScale(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	for _, scorerName := range []string{ScorerSoftmax, ScorerCosine} {
		t.Run(scorerName, func(t *testing.T) {
			ctx := context.New()
			network := NewSingleScale(3, 32).WithScorer(scorerName).WithHeads(4)
			exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, img *Node) *Node {
				// Stand-in encoder levels, deterministic per level.
				fc := make([]*Node, 3)
				fs := make([]*Node, 3)
				for i := range fc {
					fc[i] = MulScalar(img, float64(i+1))
					fs[i] = AddScalar(img, float64(i))
				}
				return network.Apply(ctx, fc, fs)
			})
			// 16 tokens reshape to a 4x4 map; the decoder up-samples x8.
			outputs := exec.MustExec(tensors.FromShape(MakeShape(F32, 1, 16, 32)))
			require.Equal(t, []int{1, 32, 32, 3}, outputs[0].Shape().Dimensions)
		})
	}
}

func TestNetworkMultiScale(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	network := NewMultiScale(3, 32)
	exec := context.MustNewExec(backend, ctx, func(ctx *context.Context, f0, f1, f2 *Node) *Node {
		fc := []*Node{f0, f1, f2}
		fs := []*Node{MulScalar(f0, 2), MulScalar(f1, 2), MulScalar(f2, 2)}
		return network.Apply(ctx, fc, fs)
	})
	// Coarsest level first; the fused map keeps its 8x8 resolution and the
	// decoder up-samples x4.
	outputs := exec.MustExec(
		tensors.FromShape(MakeShape(F32, 1, 8, 8, 32)),
		tensors.FromShape(MakeShape(F32, 1, 16, 16, 16)),
		tensors.FromShape(MakeShape(F32, 1, 32, 32, 8)))
	require.Equal(t, []int{1, 32, 32, 3}, outputs[0].Shape().Dimensions)
}

func TestNetworkConfigErrors(t *testing.T) {
	require.Panics(t, func() { NewSingleScale(0, 32) })
	require.Panics(t, func() { NewSingleScale(3, 10).WithHeads(3) })
	require.Panics(t, func() { NewSingleScale(3, 32).WithScorer("bogus") })
}

func TestNetworkLevelMismatch(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	network := NewSingleScale(3, 32)
	g := NewGraph(backend, "TestNetworkLevelMismatch")
	x := IotaFull(g, MakeShape(F32, 1, 16, 32))
	levels := []*Node{x, x, x}
	require.Panics(t, func() { network.Apply(ctx, levels[:2], levels) })
}

func TestTokensToSquare(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "TestTokensToSquare")
	square := IotaFull(g, MakeShape(F32, 1, 16, 8))
	require.Equal(t, []int{1, 4, 4, 8}, tokensToSquare(square).Shape().Dimensions)
	notSquare := IotaFull(g, MakeShape(F32, 1, 15, 8))
	require.Panics(t, func() { tokensToSquare(notSquare) })
}

func TestNewFromContext(t *testing.T) {
	ctx := context.New()
	ctx.SetParam(ParamNumLevels, 2)
	ctx.SetParam(ParamDim, 64)
	ctx.SetParam(ParamNumHeads, 4)
	ctx.SetParam(ParamScorer, ScorerCosine)
	ctx.SetParam(ParamFinalActivation, "tanh")
	network := NewFromContext(ctx, TokenProjection)
	require.Equal(t, 2, network.NumLevels)
	require.Equal(t, 64, network.Dim)
	require.Equal(t, 4, network.NumHeads)
	require.Equal(t, ScorerCosine, network.ScorerName)
	require.Equal(t, FinalTanh255, network.Final)

	defaults := NewFromContext(context.New(), SpatialProjection)
	require.Equal(t, 3, defaults.NumLevels)
	require.Equal(t, 512, defaults.Dim)
	require.Equal(t, ScorerSoftmax, defaults.ScorerName)
}
